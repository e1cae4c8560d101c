package emitter

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEd25519Signer(t *testing.T) {
	// given
	seed := "0x" + strings.Repeat("ab", 32)

	// when
	signer, err := NewEd25519Signer(seed)

	// then
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signer.Address(), "0x"))
	require.Len(t, signer.Address(), 2+2*ed25519.PublicKeySize)
}

func TestSignRecordVerifies(t *testing.T) {
	// given
	signer, err := NewEd25519Signer("0x" + strings.Repeat("01", 32))
	require.NoError(t, err)

	payload := []byte("ORD:v1;period=1000;tip=4;digest=ab")

	// when
	sig, err := signer.SignRecord(payload)
	require.NoError(t, err)

	// then
	pub, err := hex.DecodeString(strings.TrimPrefix(signer.Address(), "0x"))
	require.NoError(t, err)
	require.True(t, ed25519.Verify(ed25519.PublicKey(pub), payload, sig))
}

func TestNewEd25519SignerRejectsBadKeys(t *testing.T) {
	for _, seed := range []string{
		"",
		"abcd",
		"0x1234",
		"0x" + strings.Repeat("zz", 32),
	} {
		_, err := NewEd25519Signer(seed)
		require.ErrorIs(t, err, ErrInvalidSigningKey, "seed %q", seed)
	}
}
