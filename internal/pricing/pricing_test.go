package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestResolveTiered(t *testing.T) {
	tiers := Tiers{Base: 100, A: ptr(80), B: ptr(90), E: ptr(95)}

	require.Equal(t, 80.0, Resolve(tiers, CategoryA))
	require.Equal(t, 90.0, Resolve(tiers, CategoryB))
	require.Equal(t, 100.0, Resolve(tiers, CategoryC))
	// D has no tier configured, falls back to base.
	require.Equal(t, 100.0, Resolve(tiers, CategoryD))
	require.Equal(t, 95.0, Resolve(tiers, CategoryE))
}

func TestResolveNoTiers(t *testing.T) {
	tiers := Tiers{Base: 42.5}
	for _, cat := range []Category{CategoryA, CategoryB, CategoryC, CategoryD, CategoryE} {
		require.Equal(t, 42.5, Resolve(tiers, cat))
	}
}

func TestParseCategory(t *testing.T) {
	require.Equal(t, CategoryA, ParseCategory("a"))
	require.Equal(t, CategoryE, ParseCategory(" E "))
	require.Equal(t, CategoryC, ParseCategory(""))
	require.Equal(t, CategoryC, ParseCategory("Z"))
	require.Equal(t, CategoryC, ParseCategory("c"))
}
