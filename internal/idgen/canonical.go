// Package idgen provides the single canonicalization and hashing scheme
// shared by every stage boundary, cache key, and generated identifier in
// the pipeline. One hash function, rendered as hex, used everywhere — so
// that a given input always produces the same hash regardless of which
// package computed it.
package idgen

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// CanonicalJSON recursively sorts object keys and re-encodes v into a stable
// byte representation: identical logical values, regardless of map
// iteration order or field ordering, always canonicalize to the same
// bytes. Array order is preserved — arrays are semantically ordered.
// NaN/Infinity float values are rejected (they cannot round-trip through
// JSON); nulls are represented explicitly.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicaljson: decode: %w", err)
	}
	sorted, err := sortValue(generic)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: re-marshal: %w", err)
	}
	return out, nil
}

// sortValue walks a decoded JSON value and returns an equivalent value
// whose map keys will marshal in sorted order (encoding/json already
// sorts map[string]any keys, so this mainly validates float finiteness
// and recurses into nested structures).
func sortValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := sortValue(val[k])
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			sv, err := sortValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case json.Number:
		f, err := val.Float64()
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, fmt.Errorf("canonicaljson: non-finite number %q is not representable", val.String())
		}
		return val, nil
	default:
		return val, nil
	}
}

// HashHex returns the hex-encoded SHA-256 digest of data. This is the one
// hash function the whole codebase shares for input/output hashes,
// fingerprints, and stable identifiers — every stage, cache key, and
// canonical paper_id uses it rather than mixing hash families.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonicalizes v and returns its hex hash in one step. Returns an
// error if v is not canonicalizable (e.g. contains NaN/Infinity).
func HashJSON(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashHex(b), nil
}

// HashString hashes a UTF-8 string directly, for keys built from
// already-normalized text (e.g. a normalized DOI or fingerprint seed)
// rather than a JSON value.
func HashString(s string) string {
	return HashHex([]byte(s))
}
