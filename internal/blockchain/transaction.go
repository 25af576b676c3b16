package blockchain

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// SystemProgramID is the native system program
const SystemProgramID = "11111111111111111111111111111111"

// SignSerializedTransaction signs a base64-encoded unsigned transaction returned
// by a venue builder and fills the first signature slot.
//
// Solana wire format: [compact-u16 signature count] [signatures...] [message].
// Builders pre-finalize the message, so signing is prepend-or-fill.
func SignSerializedTransaction(signer *Signer, serializedTxBase64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(serializedTxBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if len(txBytes) < 2 {
		return "", fmt.Errorf("transaction too short: %d bytes", len(txBytes))
	}

	sigCount := int(txBytes[0])
	if sigCount == 0 {
		// Message starts at byte 1; build [1][signature][message]
		message := txBytes[1:]
		signature := signer.Sign(message)

		signedTx := make([]byte, 1+64+len(message))
		signedTx[0] = 1
		copy(signedTx[1:65], signature)
		copy(signedTx[65:], message)

		return base64.StdEncoding.EncodeToString(signedTx), nil
	}

	messageOffset := 1 + sigCount*64
	if len(txBytes) <= messageOffset {
		return "", fmt.Errorf("malformed transaction: no message after %d signatures", sigCount)
	}

	message := txBytes[messageOffset:]
	signature := signer.Sign(message)
	copy(txBytes[1:65], signature)

	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// BuildTransferTransaction builds and signs a legacy system-program transfer
// of lamports from the signer to a destination address. Used for bundle tips
// and pool fund management.
func BuildTransferTransaction(signer *Signer, toAddress, recentBlockhash string, lamports uint64) (string, error) {
	toKey, err := base58.Decode(toAddress)
	if err != nil || len(toKey) != 32 {
		return "", fmt.Errorf("invalid destination address %q", toAddress)
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return "", fmt.Errorf("invalid blockhash %q", recentBlockhash)
	}
	systemKey, _ := base58.Decode(SystemProgramID)

	// Transfer instruction data: u32 LE instruction index (2) + u64 LE lamports
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	// Message: header, account keys [from, to, system], blockhash, instructions
	var msg []byte
	msg = append(msg, 1, 0, 1)          // 1 required signature, 0 readonly signed, 1 readonly unsigned
	msg = append(msg, 3)                // account count
	msg = append(msg, signer.PublicKey()...)
	msg = append(msg, toKey...)
	msg = append(msg, systemKey...)
	msg = append(msg, blockhash...)
	msg = append(msg, 1)                // instruction count
	msg = append(msg, 2)                // program id index (system program)
	msg = append(msg, 2, 0, 1)          // account indexes: from, to
	msg = append(msg, byte(len(data)))
	msg = append(msg, data...)

	signature := signer.Sign(msg)

	tx := make([]byte, 0, 1+64+len(msg))
	tx = append(tx, 1)
	tx = append(tx, signature...)
	tx = append(tx, msg...)

	return base64.StdEncoding.EncodeToString(tx), nil
}

// BuildTokenTransferTransaction builds and signs a legacy SPL-token transfer
// between two existing token accounts owned by known wallets. The signer must
// own the source token account. Used for token consolidation.
func BuildTokenTransferTransaction(signer *Signer, sourceTokenAccount, destTokenAccount, tokenProgram, recentBlockhash string, amount uint64) (string, error) {
	srcKey, err := base58.Decode(sourceTokenAccount)
	if err != nil || len(srcKey) != 32 {
		return "", fmt.Errorf("invalid source token account %q", sourceTokenAccount)
	}
	dstKey, err := base58.Decode(destTokenAccount)
	if err != nil || len(dstKey) != 32 {
		return "", fmt.Errorf("invalid destination token account %q", destTokenAccount)
	}
	programKey, err := base58.Decode(tokenProgram)
	if err != nil || len(programKey) != 32 {
		return "", fmt.Errorf("invalid token program %q", tokenProgram)
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return "", fmt.Errorf("invalid blockhash %q", recentBlockhash)
	}

	// Transfer instruction data: u8 instruction index (3) + u64 LE amount
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], amount)

	// Message: header, account keys [owner, source, dest, token program]
	var msg []byte
	msg = append(msg, 1, 0, 1)
	msg = append(msg, 4)
	msg = append(msg, signer.PublicKey()...)
	msg = append(msg, srcKey...)
	msg = append(msg, dstKey...)
	msg = append(msg, programKey...)
	msg = append(msg, blockhash...)
	msg = append(msg, 1)       // instruction count
	msg = append(msg, 3)       // program id index
	msg = append(msg, 3, 1, 2, 0) // account indexes: source, dest, owner
	msg = append(msg, byte(len(data)))
	msg = append(msg, data...)

	signature := signer.Sign(msg)

	tx := make([]byte, 0, 1+64+len(msg))
	tx = append(tx, 1)
	tx = append(tx, signature...)
	tx = append(tx, msg...)

	return base64.StdEncoding.EncodeToString(tx), nil
}
