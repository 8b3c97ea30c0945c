package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "gaia-async", NormalizeName("  Gaia-Async\n"))
	require.Equal(t, "simbad", NormalizeName("SIM BAD"))
	require.Equal(t, "", NormalizeName(" \t "))
}
