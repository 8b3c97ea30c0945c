package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"astroquery/lib/query"
	"astroquery/lib/table"

	"github.com/stretchr/testify/require"
)

const simbadVOTable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.4" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
 <RESOURCE type="results">
  <INFO name="QUERY_STATUS" value="OK"/>
  <TABLE>
   <FIELD name="main_id" datatype="char" arraysize="*"/>
   <FIELD name="ra" datatype="double" unit="deg"/>
   <FIELD name="nbref" datatype="int"/>
   <FIELD name="galaxy" datatype="boolean"/>
   <DATA>
    <TABLEDATA>
     <TR><TD>M  31</TD><TD>10.684708</TD><TD>4210</TD><TD>T</TD></TR>
     <TR><TD>M  33</TD><TD>23.462042</TD><TD>2433</TD><TD>T</TD></TR>
     <TR><TD>Vega</TD><TD>279.234735</TD><TD></TD><TD>F</TD></TR>
    </TABLEDATA>
   </DATA>
  </TABLE>
 </RESOURCE>
</VOTABLE>`

func mustTable(t *testing.T, names []string, rows [][]any) table.Table {
	t.Helper()
	result, err := table.FromRows(names, rows)
	require.NoError(t, err)
	return result
}

func requireTable(t *testing.T, expected, actual table.Table) {
	t.Helper()
	require.Equal(t, expected.Names(), actual.Names())
	require.True(t, expected.Equal(actual), "expected\n%s\ngot\n%s", expected, actual)
}

func TestVOTable(t *testing.T) {
	result, err := NewRegistry().Decode([]byte(simbadVOTable), query.FormatVOTable)
	require.NoError(t, err)

	expected := mustTable(t, []string{"main_id", "ra", "nbref", "galaxy"}, [][]any{
		{"M  31", 10.684708, int64(4210), true},
		{"M  33", 23.462042, int64(2433), true},
		{"Vega", 279.234735, nil, false},
	})
	requireTable(t, expected, result)
}

func TestDecodeIsDeterministic(t *testing.T) {
	registry := NewRegistry()
	first, err := registry.Decode([]byte(simbadVOTable), query.FormatVOTable)
	require.NoError(t, err)
	second, err := registry.Decode([]byte(simbadVOTable), query.FormatVOTable)
	require.NoError(t, err)
	require.True(t, first.Equal(second))
}

func TestVOTableErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not xml", "hello world"},
		{"wrong root", "<html><body>no</body></html>"},
		{"no table", `<VOTABLE><RESOURCE/></VOTABLE>`},
		{
			"service error",
			`<VOTABLE><RESOURCE><INFO name="QUERY_STATUS" value="ERROR">bad ADQL</INFO></RESOURCE></VOTABLE>`,
		},
		{
			"binary serialization",
			`<VOTABLE><RESOURCE><TABLE><FIELD name="a" datatype="int"/><DATA><BINARY><STREAM>AAAA</STREAM></BINARY></DATA></TABLE></RESOURCE></VOTABLE>`,
		},
		{
			"cell count",
			`<VOTABLE><RESOURCE><TABLE><FIELD name="a" datatype="int"/><DATA><TABLEDATA><TR><TD>1</TD><TD>2</TD></TR></TABLEDATA></DATA></TABLE></RESOURCE></VOTABLE>`,
		},
		{
			"bad integer",
			`<VOTABLE><RESOURCE><TABLE><FIELD name="a" datatype="int"/><DATA><TABLEDATA><TR><TD>x</TD></TR></TABLEDATA></DATA></TABLE></RESOURCE></VOTABLE>`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := VOTable([]byte(c.raw))
			require.ErrorIs(t, err, query.ErrParse)
		})
	}

	_, err := VOTable([]byte(`<VOTABLE><RESOURCE><INFO name="QUERY_STATUS" value="ERROR">bad ADQL</INFO></RESOURCE></VOTABLE>`))
	require.ErrorContains(t, err, "bad ADQL")
}

func TestVOTableSpecialValues(t *testing.T) {
	raw := `<VOTABLE><RESOURCE><TABLE>
<FIELD name="flux" datatype="float"/>
<FIELD name="flags" datatype="short" arraysize="3"/>
<FIELD name="mask" datatype="long"/>
<DATA><TABLEDATA>
<TR><TD>NaN</TD><TD>1 2 3</TD><TD>0x1F</TD></TR>
<TR><TD>-Inf</TD><TD></TD><TD>7</TD></TR>
</TABLEDATA></DATA></TABLE></RESOURCE></VOTABLE>`
	result, err := VOTable([]byte(raw))
	require.NoError(t, err)

	expected := mustTable(t, []string{"flux", "flags", "mask"}, [][]any{
		{math.NaN(), "1 2 3", int64(31)},
		{math.Inf(-1), nil, int64(7)},
	})
	requireTable(t, expected, result)
}

func TestEmptyResult(t *testing.T) {
	raw := `<VOTABLE><RESOURCE><TABLE><FIELD name="a" datatype="int"/><DATA><TABLEDATA></TABLEDATA></DATA></TABLE></RESOURCE></VOTABLE>`
	_, err := NewRegistry().Decode([]byte(raw), query.FormatVOTable)
	require.ErrorIs(t, err, query.ErrEmptyResult)
	require.NotErrorIs(t, err, query.ErrParse)

	_, err = NewRegistry().Decode([]byte("  \n\t\n"), query.FormatText)
	require.ErrorIs(t, err, query.ErrEmptyResult)

	_, err = NewRegistry().Decode([]byte(`[]`), query.FormatJSON)
	require.ErrorIs(t, err, query.ErrEmptyResult)
}

func TestFormatMismatchIsParseError(t *testing.T) {
	html := []byte("<!DOCTYPE html><html><body><h1>Service unavailable</h1></body></html>")

	_, err := NewRegistry().Decode(html, query.FormatJSON)
	require.ErrorIs(t, err, query.ErrParse)

	_, err = NewRegistry().Decode(html, query.FormatVOTable)
	require.ErrorIs(t, err, query.ErrParse)

	_, err = NewRegistry().Decode(html, query.FormatHTML)
	require.ErrorIs(t, err, query.ErrParse)

	_, err = NewRegistry().Decode(html, query.FormatFITS)
	require.ErrorIs(t, err, query.ErrParse)
}

func TestUnregisteredFormat(t *testing.T) {
	_, err := Registry{}.Decode([]byte("a\n1"), query.FormatText)
	require.ErrorIs(t, err, query.ErrParse)
}

func TestRegistryWith(t *testing.T) {
	base := NewRegistry()
	stub := mustTable(t, []string{"x"}, [][]any{{int64(1)}})
	custom := base.With(query.FormatText, func([]byte) (table.Table, error) {
		return stub, nil
	})

	result, err := custom.Decode([]byte("ignored"), query.FormatText)
	require.NoError(t, err)
	require.True(t, stub.Equal(result))

	result, err = base.Decode([]byte("y\n2"), query.FormatText)
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, result.Names())
}

func TestJSON(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected table.Table
	}{
		{
			name: "records",
			raw:  `[{"name":"M31","z":-0.001,"n":3},{"name":"M33","extra":{"a":[1,2]}}]`,
			expected: mustTable(t, []string{"name", "z", "n", "extra"}, [][]any{
				{"M31", -0.001, int64(3), nil},
				{"M33", nil, nil, `{"a":[1,2]}`},
			}),
		},
		{
			name: "tap metadata",
			raw:  `{"metadata":[{"name":"source_id"},{"name":"parallax"}],"data":[[4295806720,1.5],[38655544960,null]]}`,
			expected: mustTable(t, []string{"source_id", "parallax"}, [][]any{
				{int64(4295806720), 1.5},
				{int64(38655544960), nil},
			}),
		},
		{
			name: "column names",
			raw:  `{"columns":["a","a"],"data":[[true,"x"]]}`,
			expected: mustTable(t, []string{"a", "a_1"}, [][]any{
				{true, "x"},
			}),
		},
		{
			name: "wrapped records",
			raw:  `{"total":1,"results":[{"objname":"NGC 224"}]}`,
			expected: mustTable(t, []string{"objname"}, [][]any{
				{"NGC 224"},
			}),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result, err := JSON([]byte(c.raw))
			require.NoError(t, err)
			requireTable(t, c.expected, result)
		})
	}
}

func TestJSONErrors(t *testing.T) {
	for _, raw := range []string{
		`{"a":`,
		`"just a string"`,
		`[1,2,3]`,
		`{"nothing":"here"}`,
		`{"metadata":["a"],"data":[[1,2]]}`,
		`[{"a":1}] trailing`,
	} {
		_, err := JSON([]byte(raw))
		require.ErrorIs(t, err, query.ErrParse, raw)
	}
}

func TestHTML(t *testing.T) {
	raw := `<html><body>
<table>
 <thead><tr><th>Object</th><th>RA</th><th>Refs</th></tr></thead>
 <tbody>
  <tr><td>M&nbsp;31</td><td>10.68</td><td>4210</td></tr>
  <tr><td><a href="#">M 33</a></td><td>23.46</td><td></td></tr>
  <tr><td>Vega <table><tr><td>nested</td></tr></table></td><td>279.23</td><td>12</td></tr>
 </tbody>
</table>
<table><tr><td>second</td></tr></table>
</body></html>`
	result, err := HTML([]byte(raw))
	require.NoError(t, err)

	expected := mustTable(t, []string{"Object", "RA", "Refs"}, [][]any{
		{"M 31", 10.68, int64(4210)},
		{"M 33", 23.46, nil},
		{"Vega nested", 279.23, int64(12)},
	})
	requireTable(t, expected, result)
}

func TestHTMLErrors(t *testing.T) {
	_, err := HTML([]byte("<html><body><p>no rows</p></body></html>"))
	require.ErrorIs(t, err, query.ErrParse)

	_, err = HTML([]byte("<table><tr><th>a</th></tr><tr><td>1</td><td>2</td></tr></table>"))
	require.ErrorIs(t, err, query.ErrParse)

	_, err = HTML([]byte{0xff, 0xfe, 0x00})
	require.ErrorIs(t, err, query.ErrParse)
}

func TestText(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected table.Table
	}{
		{
			name: "csv",
			raw:  "# simbad\nmain_id,ra,otype\n\"M 31\",10.68,G\nM 33,23.46,\n",
			expected: mustTable(t, []string{"main_id", "ra", "otype"}, [][]any{
				{"M 31", 10.68, "G"},
				{"M 33", 23.46, nil},
			}),
		},
		{
			name: "whitespace",
			raw:  "name   n\n-----  --\nVega   1\nDeneb  2\n",
			expected: mustTable(t, []string{"name", "n"}, [][]any{
				{"Vega", int64(1)},
				{"Deneb", int64(2)},
			}),
		},
		{
			name: "tab",
			raw:  "a\tb\n1\t2.5\n",
			expected: mustTable(t, []string{"a", "b"}, [][]any{
				{int64(1), 2.5},
			}),
		},
		{
			name: "ipac",
			raw: "\\fixlen = T\n" +
				"|  ra      |  dec     | name  |\n" +
				"|  double  |  double  | char  |\n" +
				"   10.6847    41.2690   M31\n" +
				"   23.4621    30.6602   M33\n",
			expected: mustTable(t, []string{"ra", "dec", "name"}, [][]any{
				{10.6847, 41.269, "M31"},
				{23.4621, 30.6602, "M33"},
			}),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result, err := Text([]byte(c.raw))
			require.NoError(t, err)
			requireTable(t, c.expected, result)
		})
	}
}

func TestTextErrors(t *testing.T) {
	_, err := Text([]byte("a,b\n1,2,3\n"))
	require.ErrorIs(t, err, query.ErrParse)

	_, err = Text([]byte{'a', '\n', 0xff})
	require.ErrorIs(t, err, query.ErrParse)
}

func TestUniqueNames(t *testing.T) {
	require.Equal(t,
		[]string{"ra", "ra_1", "col3", "ra_2", "dec"},
		uniqueNames([]string{"ra", "ra", "", "ra", "dec"}),
	)
}

func fitsHDU(cards ...string) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.WriteString(fmt.Sprintf("%-80s", c))
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	for buf.Len()%fitsBlock != 0 {
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func card(key string, value any) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%-8s= %-20s", key, "'"+v+"'")
	case bool:
		if v {
			return fmt.Sprintf("%-8s= %20s", key, "T")
		}
		return fmt.Sprintf("%-8s= %20s", key, "F")
	default:
		return fmt.Sprintf("%-8s= %20v / comment", key, v)
	}
}

func padData(data []byte) []byte {
	for len(data)%fitsBlock != 0 {
		data = append(data, 0)
	}
	return data
}

func TestFITSBinTable(t *testing.T) {
	var data []byte
	appendRow := func(name string, ra float64, refs int32, flag byte) {
		data = append(data, []byte(fmt.Sprintf("%-8s", name))...)
		data = binary.BigEndian.AppendUint64(data, math.Float64bits(ra))
		data = binary.BigEndian.AppendUint32(data, uint32(refs))
		data = append(data, flag)
	}
	appendRow("M31", 10.684708, 4210, 'T')
	appendRow("M33", 23.462042, -1, 0)

	raw := fitsHDU(card("SIMPLE", true), card("BITPIX", 8), card("NAXIS", 0), card("EXTEND", true))
	raw = append(raw, fitsHDU(
		card("XTENSION", "BINTABLE"),
		card("BITPIX", 8),
		card("NAXIS", 2),
		card("NAXIS1", 21),
		card("NAXIS2", 2),
		card("PCOUNT", 0),
		card("GCOUNT", 1),
		card("TFIELDS", 4),
		card("TTYPE1", "main_id"),
		card("TFORM1", "8A"),
		card("TTYPE2", "ra"),
		card("TFORM2", "D"),
		card("TTYPE3", "nbref"),
		card("TFORM3", "J"),
		card("TNULL3", -1),
		card("TTYPE4", "galaxy"),
		card("TFORM4", "L"),
	)...)
	raw = append(raw, padData(data)...)

	result, err := NewRegistry().Decode(raw, query.FormatFITS)
	require.NoError(t, err)

	expected := mustTable(t, []string{"main_id", "ra", "nbref", "galaxy"}, [][]any{
		{"M31", 10.684708, int64(4210), true},
		{"M33", 23.462042, nil, nil},
	})
	requireTable(t, expected, result)
}

func TestFITSScaledAndVector(t *testing.T) {
	var data []byte
	data = binary.BigEndian.AppendUint16(data, 0x8000)
	data = binary.BigEndian.AppendUint16(data, 1)
	data = binary.BigEndian.AppendUint16(data, 2)

	raw := fitsHDU(card("SIMPLE", true), card("BITPIX", 8), card("NAXIS", 0))
	raw = append(raw, fitsHDU(
		card("XTENSION", "BINTABLE"),
		card("BITPIX", 8),
		card("NAXIS", 2),
		card("NAXIS1", 6),
		card("NAXIS2", 1),
		card("TFIELDS", 2),
		card("TTYPE1", "counter"),
		card("TFORM1", "I"),
		card("TZERO1", 32768),
		card("TTYPE2", "pair"),
		card("TFORM2", "2I"),
	)...)
	raw = append(raw, padData(data)...)

	result, err := FITS(raw)
	require.NoError(t, err)
	expected := mustTable(t, []string{"counter", "pair"}, [][]any{
		{int64(0), "[1, 2]"},
	})
	requireTable(t, expected, result)
}

func TestFITSASCIITable(t *testing.T) {
	rows := []byte("Vega     0.03\nDeneb    1.25\n")
	rows = bytes.ReplaceAll(rows, []byte("\n"), nil)

	raw := fitsHDU(card("SIMPLE", true), card("BITPIX", 8), card("NAXIS", 0))
	raw = append(raw, fitsHDU(
		card("XTENSION", "TABLE"),
		card("BITPIX", 8),
		card("NAXIS", 2),
		card("NAXIS1", 13),
		card("NAXIS2", 2),
		card("TFIELDS", 2),
		card("TTYPE1", "name"),
		card("TBCOL1", 1),
		card("TFORM1", "A8"),
		card("TTYPE2", "vmag"),
		card("TBCOL2", 9),
		card("TFORM2", "F5.2"),
	)...)
	raw = append(raw, padData(rows)...)

	result, err := FITS(raw)
	require.NoError(t, err)
	expected := mustTable(t, []string{"name", "vmag"}, [][]any{
		{"Vega", 0.03},
		{"Deneb", 1.25},
	})
	requireTable(t, expected, result)
}

func TestFITSErrors(t *testing.T) {
	primaryOnly := fitsHDU(card("SIMPLE", true), card("BITPIX", 8), card("NAXIS", 0))
	_, err := FITS(primaryOnly)
	require.ErrorIs(t, err, query.ErrParse)

	truncated := append([]byte{}, primaryOnly...)
	truncated = append(truncated, fitsHDU(
		card("XTENSION", "BINTABLE"),
		card("BITPIX", 8),
		card("NAXIS", 2),
		card("NAXIS1", 4),
		card("NAXIS2", 100),
		card("TFIELDS", 1),
		card("TFORM1", "J"),
	)...)
	_, err = FITS(truncated)
	require.ErrorIs(t, err, query.ErrParse)

	_, err = FITS(primaryOnly[:fitsCard*2])
	require.ErrorIs(t, err, query.ErrParse)
}

func TestFITSHostileHeaders(t *testing.T) {
	primary := fitsHDU(card("SIMPLE", true), card("BITPIX", 8), card("NAXIS", 0))
	extension := func(cards ...string) []byte {
		raw := append([]byte{}, primary...)
		return append(raw, fitsHDU(cards...)...)
	}

	cases := map[string][]byte{
		"overflowing data size": extension(
			card("XTENSION", "BINTABLE"),
			card("BITPIX", 8),
			card("NAXIS", 2),
			card("NAXIS1", int64(4294967296)),
			card("NAXIS2", int64(4294967296)),
			card("TFIELDS", 0),
		),
		"zero width rows": extension(
			card("XTENSION", "BINTABLE"),
			card("BITPIX", 8),
			card("NAXIS", 2),
			card("NAXIS1", 0),
			card("NAXIS2", int64(1000000000000)),
			card("TFIELDS", 1),
			card("TFORM1", "J"),
		),
		"too many fields": extension(
			card("XTENSION", "BINTABLE"),
			card("BITPIX", 8),
			card("NAXIS", 2),
			card("NAXIS1", 0),
			card("NAXIS2", 0),
			card("TFIELDS", int64(1000000000)),
		),
		"huge repeat count": extension(
			card("XTENSION", "BINTABLE"),
			card("BITPIX", 8),
			card("NAXIS", 2),
			card("NAXIS1", 0),
			card("NAXIS2", 0),
			card("TFIELDS", 1),
			card("TFORM1", "9223372036854775807J"),
		),
		"column start past row": extension(
			card("XTENSION", "TABLE"),
			card("BITPIX", 8),
			card("NAXIS", 2),
			card("NAXIS1", 0),
			card("NAXIS2", 0),
			card("TFIELDS", 1),
			card("TBCOL1", int64(9223372036854775807)),
			card("TFORM1", "A8"),
		),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, err := FITS(raw)
				require.ErrorIs(t, err, query.ErrParse)
			})
		})
	}
}
