package blockchain

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ParseSigner(base58.Encode(priv))
	if err != nil {
		t.Fatalf("ParseSigner: %v", err)
	}
	return signer
}

func TestSignSerializedTransactionPrepends(t *testing.T) {
	signer := testSigner(t)

	// Unsigned transaction: sig count 0, then the message
	message := []byte("serialized message bytes")
	unsigned := append([]byte{0}, message...)

	signed, err := SignSerializedTransaction(signer, base64.StdEncoding.EncodeToString(unsigned))
	if err != nil {
		t.Fatalf("SignSerializedTransaction: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}

	if raw[0] != 1 {
		t.Errorf("signature count = %d, want 1", raw[0])
	}
	if len(raw) != 1+64+len(message) {
		t.Errorf("signed length = %d, want %d", len(raw), 1+64+len(message))
	}
	if !ed25519.Verify(signer.publicKey, raw[65:], raw[1:65]) {
		t.Error("signature does not verify against message")
	}
}

func TestSignSerializedTransactionFillsSlot(t *testing.T) {
	signer := testSigner(t)

	message := []byte("pre-finalized message")
	unsigned := make([]byte, 1+64+len(message))
	unsigned[0] = 1
	copy(unsigned[65:], message)

	signed, err := SignSerializedTransaction(signer, base64.StdEncoding.EncodeToString(unsigned))
	if err != nil {
		t.Fatalf("SignSerializedTransaction: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(signed)
	if len(raw) != len(unsigned) {
		t.Fatalf("length changed: %d -> %d", len(unsigned), len(raw))
	}
	if !ed25519.Verify(signer.publicKey, raw[65:], raw[1:65]) {
		t.Error("signature does not verify")
	}
}

func TestSignSerializedTransactionRejectsJunk(t *testing.T) {
	signer := testSigner(t)

	if _, err := SignSerializedTransaction(signer, "!!not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := SignSerializedTransaction(signer, base64.StdEncoding.EncodeToString([]byte{1})); err == nil {
		t.Error("expected error for truncated transaction")
	}
}

func TestBuildTransferTransaction(t *testing.T) {
	signer := testSigner(t)
	dest := testSigner(t).Address()
	blockhash := base58.Encode(make([]byte, 32))

	signed, err := BuildTransferTransaction(signer, dest, blockhash, 123_456)
	if err != nil {
		t.Fatalf("BuildTransferTransaction: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		t.Fatalf("decode tx: %v", err)
	}

	if raw[0] != 1 {
		t.Fatalf("signature count = %d, want 1", raw[0])
	}
	msg := raw[65:]
	if !ed25519.Verify(signer.publicKey, msg, raw[1:65]) {
		t.Fatal("signature does not verify")
	}

	// Header + account count
	if msg[0] != 1 || msg[1] != 0 || msg[2] != 1 {
		t.Errorf("header = %v, want [1 0 1]", msg[:3])
	}
	if msg[3] != 3 {
		t.Errorf("account count = %d, want 3", msg[3])
	}

	// Instruction data sits at the tail: [len][u32 index][u64 lamports]
	data := msg[len(msg)-12:]
	if got := binary.LittleEndian.Uint32(data[0:4]); got != 2 {
		t.Errorf("instruction index = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint64(data[4:12]); got != 123_456 {
		t.Errorf("lamports = %d, want 123456", got)
	}
}

func TestBuildTransferTransactionRejectsBadAddress(t *testing.T) {
	signer := testSigner(t)
	blockhash := base58.Encode(make([]byte, 32))

	if _, err := BuildTransferTransaction(signer, "short", blockhash, 1); err == nil {
		t.Error("expected error for invalid destination")
	}
	if _, err := BuildTransferTransaction(signer, signer.Address(), "bad", 1); err == nil {
		t.Error("expected error for invalid blockhash")
	}
}

func TestBuildTokenTransferTransaction(t *testing.T) {
	signer := testSigner(t)
	src := testSigner(t).Address()
	dst := testSigner(t).Address()
	blockhash := base58.Encode(make([]byte, 32))

	signed, err := BuildTokenTransferTransaction(signer, src, dst, TokenProgramID, blockhash, 9_999)
	if err != nil {
		t.Fatalf("BuildTokenTransferTransaction: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(signed)
	msg := raw[65:]
	if !ed25519.Verify(signer.publicKey, msg, raw[1:65]) {
		t.Fatal("signature does not verify")
	}
	if msg[3] != 4 {
		t.Errorf("account count = %d, want 4", msg[3])
	}

	// Tail: [len=9][u8 index 3][u64 amount]
	data := msg[len(msg)-9:]
	if data[0] != 3 {
		t.Errorf("instruction index = %d, want 3", data[0])
	}
	if got := binary.LittleEndian.Uint64(data[1:9]); got != 9_999 {
		t.Errorf("amount = %d, want 9999", got)
	}
}
