package retention

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// DeviceTier selects the key-derivation function applied to a user password.
// Standard tier spends Argon2id's memory-hard cost; constrained tier (e.g.
// a low-memory device) falls back to a single SHA-256 pass per spec §6.
type DeviceTier string

const (
	TierStandard    DeviceTier = "standard"
	TierConstrained DeviceTier = "constrained"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	keyLen       = 32 // AES-256
)

// DeriveKey turns password and a per-installation salt into a 32-byte AES
// key, using Argon2id on TierStandard and a single SHA-256 pass on
// TierConstrained.
func DeriveKey(password string, salt []byte, tier DeviceTier) []byte {
	switch tier {
	case TierConstrained:
		sum := sha256.Sum256(append([]byte(password), salt...))
		return sum[:]
	default:
		return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keyLen)
	}
}

// Encrypt seals plaintext under key with AES-256-GCM, producing the wire
// format IV(16) || AUTH_TAG(16) || CIPHERTEXT(n). The standard library's
// cipher.AEAD.Seal appends the tag to the ciphertext; Encrypt re-slices the
// result so the tag sits directly after the IV rather than at the tail of
// the combined blob.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, len(iv)+len(tag)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt, rejecting blobs shorter than IV+TAG or whose tag
// fails to authenticate.
func Decrypt(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	ivLen := gcm.NonceSize()
	tagLen := gcm.Overhead()
	if len(blob) < ivLen+tagLen {
		return nil, fmt.Errorf("backup blob too short: %d bytes", len(blob))
	}
	iv := blob[:ivLen]
	tag := blob[ivLen : ivLen+tagLen]
	ciphertext := blob[ivLen+tagLen:]

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
