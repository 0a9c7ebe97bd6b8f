package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer holds the sender's private key for the lifetime of the process. It
// is constructed once at startup and passed explicitly; the raw key material
// never lives in package-level state and is never logged.
type Signer struct {
	key solana.PrivateKey
}

// NewSigner builds a signer from a raw ed25519 secret key (64 bytes).
func NewSigner(raw []byte) (*Signer, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("signer key must be 64 bytes, got %d", len(raw))
	}
	key := solana.PrivateKey(raw)
	return &Signer{key: key}, nil
}

// NewSignerFromJSON parses the keygen-file format: a JSON array of byte
// values, the same material @solana-style tooling exports.
func NewSignerFromJSON(material []byte) (*Signer, error) {
	var bytes []byte
	if err := json.Unmarshal(material, &bytes); err != nil {
		return nil, fmt.Errorf("parse signer key material: %w", err)
	}
	return NewSigner(bytes)
}

// PublicKey returns the signer's public identity.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// Sign signs every required signature slot owned by this key.
func (s *Signer) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}

// String intentionally hides the key material.
func (s *Signer) String() string {
	return "ledger signer " + s.PublicKey().String()
}
