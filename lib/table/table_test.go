package table

import (
	"bytes"
	"encoding/gob"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func sample(t testing.TB) Table {
	tbl, err := New(
		Column{Name: "main_id", Values: []any{"M 31", "M 32", nil}},
		Column{Name: "ra", Values: []any{10.6847, 10.6742, math.NaN()}},
		Column{Name: "nbref", Values: []any{int64(12000), int64(3000), int64(0)}},
		Column{Name: "galaxy", Values: []any{true, true, false}},
	)
	require.NoError(t, err)
	return tbl
}

func TestNewValidates(t *testing.T) {
	_, err := New(
		Column{Name: "a", Values: []any{int64(1), int64(2)}},
		Column{Name: "b", Values: []any{int64(1)}},
	)
	require.Error(t, err)

	_, err = New(
		Column{Name: "a", Values: []any{int64(1)}},
		Column{Name: "a", Values: []any{int64(1)}},
	)
	require.Error(t, err)

	_, err = New(Column{Name: "", Values: []any{}})
	require.Error(t, err)

	_, err = New(Column{Name: "a", Values: []any{1}})
	require.Error(t, err, "plain int is not a scalar cell")

	empty, err := New()
	require.NoError(t, err)
	require.Equal(t, 0, empty.NumRows())
	require.Equal(t, 0, empty.NumColumns())
}

func TestFromRows(t *testing.T) {
	tbl, err := FromRows([]string{"a", "b"}, [][]any{
		{"x", int64(1)},
		{"y", int64(2)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.NumRows())
	require.Empty(t, cmp.Diff([]any{"y", int64(2)}, tbl.Row(1)))

	_, err = FromRows([]string{"a", "b"}, [][]any{{"x"}})
	require.Error(t, err)
}

func TestImmutable(t *testing.T) {
	values := []any{"M 31"}
	tbl, err := New(Column{Name: "main_id", Values: values})
	require.NoError(t, err)

	values[0] = "changed"
	col, ok := tbl.Column("main_id")
	require.True(t, ok)
	col[0] = "changed again"

	require.Equal(t, []any{"M 31"}, tbl.Row(0))

	_, ok = tbl.Column("missing")
	require.False(t, ok)
}

func TestEqual(t *testing.T) {
	a := sample(t)
	b := sample(t)
	require.True(t, a.Equal(b), "NaN cells compare equal")

	c, err := New(Column{Name: "main_id", Values: []any{"M 31", "M 32", nil}})
	require.NoError(t, err)
	require.False(t, a.Equal(c))
}

func TestGobRoundTrip(t *testing.T) {
	original := sample(t)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(original))

	var decoded Table
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))
	require.True(t, original.Equal(decoded))
}

func TestRender(t *testing.T) {
	tbl := sample(t)

	var out bytes.Buffer
	require.NoError(t, tbl.Render(&out, StyleCSV))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "main_id,ra,nbref,galaxy", lines[0])
	require.Equal(t, "M 31,10.6847,12000,true", lines[1])

	out.Reset()
	require.NoError(t, tbl.Render(&out, StyleJSON))
	require.Equal(
		t,
		`{"columns":["main_id","ra","nbref","galaxy"],"rows":[["M 31",10.6847,12000,true],["M 32",10.6742,3000,true],[null,null,0,false]]}`+"\n",
		out.String(),
	)

	require.Error(t, tbl.Render(&out, Style("xlsx")))
	require.Contains(t, tbl.String(), "M 32")
}
