package blockchain

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Signer holds an ed25519 keypair for signing transactions
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// ParseSigner builds a signer from a private key string. The encoding is
// auto-detected: base58, a JSON byte array ("[1,2,...]"), or hex. The decoded
// secret must be exactly 64 bytes (32-byte seed + 32-byte public key).
func ParseSigner(raw string) (*Signer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty private key")
	}

	keyBytes, err := decodeKey(raw)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d (expected 64)", len(keyBytes))
	}

	privateKey := ed25519.PrivateKey(keyBytes)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    base58.Encode(publicKey),
	}, nil
}

func decodeKey(raw string) ([]byte, error) {
	// JSON byte array form: "[12, 34, ...]"
	if strings.HasPrefix(raw, "[") {
		var arr []byte
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return nil, fmt.Errorf("decode JSON key array: %w", err)
		}
		return arr, nil
	}

	// Hex form: 128 hex chars for a 64-byte secret
	if len(raw) == 128 {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}

	b, err := base58.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base58 key: %w", err)
	}
	return b, nil
}

// Address returns the signer's public key as a base58 string
func (s *Signer) Address() string {
	return s.address
}

// PublicKey returns the signer's public key bytes
func (s *Signer) PublicKey() []byte {
	return s.publicKey
}

// Sign signs a message with the signer's private key
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.privateKey, message)
}
