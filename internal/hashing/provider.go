// Package hashing provides the keyed-hash primitive and canonical
// serialization used by the evidence ledger and the decision engine.
// Every hash the system persists goes through a Provider so that the
// algorithm can be swapped without touching ledger code.
package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Provider computes a keyed hash over data. Implementations must be
// deterministic: identical (key, data) pairs always produce identical output.
type Provider interface {
	KeyedHash(key, data []byte) []byte
}

// HMACSHA256 is the default Provider.
type HMACSHA256 struct{}

// KeyedHash returns HMAC-SHA256(key, data).
func (HMACSHA256) KeyedHash(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// MinSecretLength is the minimum acceptable length of the master secret.
// Anything shorter is rejected at startup in production.
const MinSecretLength = 32

// KeyRing holds purpose-specific keys derived from the single server-held
// master secret. Deriving per-purpose keys means a hash computed for one
// field can never be replayed as another field's hash.
type KeyRing struct {
	Content      []byte
	Timestamp    []byte
	Fingerprint  []byte
	Chain        []byte
	Verification []byte
	Decision     []byte
}

// NewKeyRing derives the purpose keys from secret via HKDF-SHA256.
func NewKeyRing(secret []byte) (*KeyRing, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hashing secret is empty")
	}

	ring := &KeyRing{}
	purposes := []struct {
		label string
		dst   *[]byte
	}{
		{"zabvenie/evidence/content", &ring.Content},
		{"zabvenie/evidence/timestamp", &ring.Timestamp},
		{"zabvenie/evidence/fingerprint", &ring.Fingerprint},
		{"zabvenie/evidence/chain", &ring.Chain},
		{"zabvenie/evidence/verification", &ring.Verification},
		{"zabvenie/decision/idempotency", &ring.Decision},
	}

	for _, p := range purposes {
		key := make([]byte, sha256.Size)
		r := hkdf.New(sha256.New, secret, nil, []byte(p.label))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", p.label, err)
		}
		*p.dst = key
	}

	return ring, nil
}

// Hex is a convenience wrapper returning the hash as a hex string, which is
// the representation persisted in evidence records.
func Hex(p Provider, key, data []byte) string {
	return hex.EncodeToString(p.KeyedHash(key, data))
}
