package query

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEquality(t *testing.T) {
	a, err := Build("simbad", []Param{P("object", "M31"), P("radius", 2)}, FormatVOTable)
	require.NoError(t, err)
	b, err := Build("simbad", []Param{P("radius", int64(2)), P("object", "M31")}, FormatVOTable)
	require.NoError(t, err)

	require.True(t, a.Equal(b))
	require.Equal(t, a.Key(), b.Key())

	// order of params is kept for the wire
	require.Equal(t, "object", a.Params()[0].Name)
	require.Equal(t, "radius", b.Params()[0].Name)

	m, err := BuildMap("simbad", map[string]any{"radius": uint8(2), "object": "M31"}, FormatVOTable)
	require.NoError(t, err)
	require.True(t, a.Equal(m))
}

func TestNegativeZeroKeysLikeZero(t *testing.T) {
	negative, err := Build("vizier", []Param{P("radius", math.Copysign(0, -1))}, FormatVOTable)
	require.NoError(t, err)
	positive, err := Build("vizier", []Param{P("radius", 0.0)}, FormatVOTable)
	require.NoError(t, err)
	require.Equal(t, positive.Key(), negative.Key())
	require.True(t, positive.Equal(negative))
}

func TestBuildInequality(t *testing.T) {
	base, err := Build("simbad", []Param{P("object", "M31")}, FormatVOTable)
	require.NoError(t, err)

	testCases := []struct {
		service string
		params  []Param
		format  Format
	}{
		{service: "vizier", params: []Param{P("object", "M31")}, format: FormatVOTable},
		{service: "simbad", params: []Param{P("object", "M32")}, format: FormatVOTable},
		{service: "simbad", params: []Param{P("object", "M31")}, format: FormatJSON},
		{service: "simbad", params: []Param{P("object", "M31"), P("radius", 1)}, format: FormatVOTable},
		{service: "simbad", params: []Param{P("Object", "M31")}, format: FormatVOTable},
	}

	for _, test := range testCases {
		d, err := Build(test.service, test.params, test.format)
		require.NoError(t, err)
		require.False(t, base.Equal(d), d.String())
	}

	// an int and a float with the same magnitude are different values
	i, err := Build("svc", []Param{P("n", 1)}, FormatJSON)
	require.NoError(t, err)
	f, err := Build("svc", []Param{P("n", 1.0)}, FormatJSON)
	require.NoError(t, err)
	require.False(t, i.Equal(f))
}

func TestBuildInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		service string
		params  []Param
		format  Format
	}{
		{name: "empty service", service: " ", format: FormatJSON},
		{name: "bad format", service: "svc", format: Format(42)},
		{name: "zero format", service: "svc"},
		{name: "empty name", service: "svc", params: []Param{P("", "x")}, format: FormatJSON},
		{name: "reserved", service: "svc", params: []Param{P("__job", "x")}, format: FormatJSON},
		{name: "duplicate", service: "svc", params: []Param{P("a", 1), P("a", 2)}, format: FormatJSON},
		{name: "bool value", service: "svc", params: []Param{P("a", true)}, format: FormatJSON},
		{name: "nil value", service: "svc", params: []Param{P("a", nil)}, format: FormatJSON},
		{name: "slice value", service: "svc", params: []Param{P("a", []string{"x"})}, format: FormatJSON},
		{name: "nan value", service: "svc", params: []Param{P("a", math.NaN())}, format: FormatJSON},
		{name: "uint overflow", service: "svc", params: []Param{P("a", uint64(math.MaxUint64))}, format: FormatJSON},
	}

	for _, test := range testCases {
		_, err := Build(test.service, test.params, test.format)
		require.Error(t, err, test.name)
		require.True(t, errors.Is(err, ErrInvalidQuery), test.name)
	}
}

func TestParamsAreCopied(t *testing.T) {
	params := []Param{P("object", "M31")}
	d, err := Build("simbad", params, FormatVOTable)
	require.NoError(t, err)

	params[0].Value = "M32"
	got := d.Params()
	got[0].Value = "M33"

	value, ok := d.Param("object")
	require.True(t, ok)
	require.Equal(t, "M31", value)
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "M31", FormatValue("M31"))
	require.Equal(t, "-4", FormatValue(int64(-4)))
	require.Equal(t, "0.25", FormatValue(0.25))
	require.Equal(t, "1e+21", FormatValue(1e21))
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats() {
		parsed, err := ParseFormat(f.String())
		require.NoError(t, err)
		require.Equal(t, f, parsed)
	}

	parsed, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	require.Equal(t, FormatText, parsed)

	_, err = ParseFormat("parquet")
	require.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, "unknown", Kind(errors.New("x")))
	_, err := Build("", nil, FormatJSON)
	require.Equal(t, "invalid_query", Kind(err))
	require.Equal(t, "empty_result", Kind(ErrEmptyResult))
}
