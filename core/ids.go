package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// NewID returns a new random identifier (UUIDv4). Used for job IDs, step
// execution records, audit entries and anything else that needs a globally
// unique, non-sequential handle.
func NewID() string {
	return uuid.NewString()
}

// NewNonce returns a cryptographically random 32-byte hex-encoded token for
// approval-gate nonces.
func NewNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ExecutionID derives the deterministic idempotency key for a step
// execution: SHA-256(jobID || "::" || stepID), hex-encoded. Deterministic
// derivation (rather than a stored random ID) is what lets a crash-recovered
// worker re-derive the same key and find its own prior attempt.
func ExecutionID(jobID, stepID string) string {
	h := sha256.New()
	h.Write([]byte(jobID))
	h.Write([]byte("::"))
	h.Write([]byte(stepID))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON marshals v with map keys sorted and no extraneous
// whitespace, so that two semantically identical values always produce the
// same byte sequence — required for the audit hash chain, where
// hash = SHA256(prevHash || CanonicalJSON(entry)).
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return canonicalEncode(generic)
}

func canonicalEncode(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalEncode(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []interface{}:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := canonicalEncode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}

// HashEntry computes the audit chain hash for an entry given the previous
// entry's hash (empty string for the first entry).
func HashEntry(prevHash string, entry interface{}) (string, error) {
	canon, err := CanonicalJSON(entry)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}
