package retention

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("correct horse battery staple", []byte("salt"), TierStandard)
	plaintext := []byte("super secret database bytes")

	blob, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	require.Len(t, blob, 16+16+len(plaintext), "IV(16) || TAG(16) || CIPHERTEXT")

	got, err := Decrypt(key, blob)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plaintext, got))
}

func TestDecryptFailsOnTamperedBlob(t *testing.T) {
	key := DeriveKey("password", []byte("salt"), TierConstrained)
	blob, err := Encrypt(key, []byte("data"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xFF
	_, err = Decrypt(key, blob)
	require.Error(t, err)
}

func TestConstrainedTierIsDeterministic(t *testing.T) {
	k1 := DeriveKey("pw", []byte("salt"), TierConstrained)
	k2 := DeriveKey("pw", []byte("salt"), TierConstrained)
	require.True(t, bytes.Equal(k1, k2))
	require.Len(t, k1, 32)
}

func TestDifferentTiersProduceDifferentKeys(t *testing.T) {
	standard := DeriveKey("pw", []byte("salt"), TierStandard)
	constrained := DeriveKey("pw", []byte("salt"), TierConstrained)
	require.False(t, bytes.Equal(standard, constrained))
}
