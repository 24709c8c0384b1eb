package hashing

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes v to JSON with deterministic key ordering at every
// nesting level, so semantically identical payloads always hash identically
// regardless of how the object was constructed.
//
// The value is round-tripped through encoding/json: maps come back as
// map[string]interface{}, which encoding/json marshals with sorted keys.
// json.Number preserves the original textual form of numbers so that
// re-encoding cannot change their representation.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: re-marshal: %w", err)
	}
	return out, nil
}
