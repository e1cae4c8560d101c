package emitter

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSigningKey = errors.New("signing key must be 0x-prefixed 32-byte hex")

// Signer produces the signature attached to a submitted record. Key material
// handling stays behind this interface; the pipeline only needs the signing
// primitive and the sender identity.
type Signer interface {
	SignRecord(payload []byte) ([]byte, error)
	Address() string
}

// Ed25519Signer signs records with an in-memory ed25519 key.
type Ed25519Signer struct {
	private ed25519.PrivateKey
	address string
}

// NewEd25519Signer derives a signer from a 0x-prefixed 32-byte hex seed.
func NewEd25519Signer(seedHex string) (*Ed25519Signer, error) {
	raw, ok := strings.CutPrefix(seedHex, "0x")
	if !ok {
		return nil, ErrInvalidSigningKey
	}

	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidSigningKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Join(ErrInvalidSigningKey, fmt.Errorf("seed is %d bytes", len(seed)))
	}

	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)

	return &Ed25519Signer{
		private: private,
		address: "0x" + hex.EncodeToString(public),
	}, nil
}

func (s *Ed25519Signer) SignRecord(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.private, payload), nil
}

func (s *Ed25519Signer) Address() string {
	return s.address
}
