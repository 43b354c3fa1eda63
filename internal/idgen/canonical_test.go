package idgen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONKeyOrderStable(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 2, "b": 1}

	ab, err := CanonicalJSON(a)
	require.NoError(t, err)
	bb, err := CanonicalJSON(b)
	require.NoError(t, err)
	require.Equal(t, string(ab), string(bb))
}

func TestCanonicalJSONPreservesArrayOrder(t *testing.T) {
	a := []any{1, 2, 3}
	b := []any{3, 2, 1}

	ab, err := CanonicalJSON(a)
	require.NoError(t, err)
	bb, err := CanonicalJSON(b)
	require.NoError(t, err)
	require.NotEqual(t, string(ab), string(bb))
}

func TestCanonicalJSONRejectsNonFinite(t *testing.T) {
	type payload struct {
		V float64 `json:"v"`
	}
	// encoding/json itself refuses to Marshal NaN/Inf float64 values, so
	// CanonicalJSON must surface that as an error rather than panic.
	_, err := CanonicalJSON(payload{V: math.NaN()})
	require.Error(t, err)
}

func TestHashJSONDeterministic(t *testing.T) {
	v := map[string]any{"query": "aspirin AND stroke", "filters": map[string]any{"from_year": 2010}}
	h1, err := HashJSON(v)
	require.NoError(t, err)
	h2, err := HashJSON(v)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64) // hex-encoded sha256
}

func TestPaperIDStableAndPrefixed(t *testing.T) {
	seed := "10.1000/abc|2020|smith|jones"
	id1 := PaperID(seed)
	id2 := PaperID(seed)
	require.Equal(t, id1, id2)
	require.Contains(t, id1, "paper_")
}
