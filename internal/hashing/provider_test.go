package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRingDerivation(t *testing.T) {
	secret := []byte("a-sufficiently-long-master-secret-for-tests")

	ring, err := NewKeyRing(secret)
	require.NoError(t, err)

	keys := [][]byte{
		ring.Content, ring.Timestamp, ring.Fingerprint,
		ring.Chain, ring.Verification, ring.Decision,
	}
	for _, k := range keys {
		assert.Len(t, k, 32)
	}

	// Every purpose key must differ from every other.
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			assert.NotEqual(t, keys[i], keys[j], "purpose keys %d and %d collide", i, j)
		}
	}

	// Same secret, same keys.
	ring2, err := NewKeyRing(secret)
	require.NoError(t, err)
	assert.Equal(t, ring.Content, ring2.Content)
	assert.Equal(t, ring.Decision, ring2.Decision)

	// Different secret, different keys.
	ring3, err := NewKeyRing([]byte("another-master-secret-entirely-different"))
	require.NoError(t, err)
	assert.NotEqual(t, ring.Content, ring3.Content)
}

func TestKeyRingRejectsEmptySecret(t *testing.T) {
	_, err := NewKeyRing(nil)
	assert.Error(t, err)
}

func TestKeyedHashDeterministic(t *testing.T) {
	p := HMACSHA256{}
	key := []byte("key")

	h1 := p.KeyedHash(key, []byte("payload"))
	h2 := p.KeyedHash(key, []byte("payload"))
	assert.Equal(t, h1, h2)

	h3 := p.KeyedHash(key, []byte("payload!"))
	assert.NotEqual(t, h1, h3)

	h4 := p.KeyedHash([]byte("other-key"), []byte("payload"))
	assert.NotEqual(t, h1, h4)
}

func TestCanonicalizeOrdersKeys(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{
		"b": 1, "a": "x", "c": []string{"y", "z"},
	})
	require.NoError(t, err)

	b, err := Canonicalize(map[string]interface{}{
		"c": []string{"y", "z"}, "a": "x", "b": 1,
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.JSONEq(t, `{"a":"x","b":1,"c":["y","z"]}`, string(a))
}

func TestCanonicalizeNestedMaps(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{
		"outer": map[string]interface{}{"z": 1, "a": 2},
	})
	require.NoError(t, err)

	b, err := Canonicalize(map[string]interface{}{
		"outer": map[string]interface{}{"a": 2, "z": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
