package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
)

// Style selects how Render lays a table out.
type Style string

const (
	StyleBox      Style = "table"
	StyleCSV      Style = "csv"
	StyleMarkdown Style = "markdown"
	StyleHTML     Style = "html"
	StyleJSON     Style = "json"
)

// FormatCell renders a scalar for display, nil is rendered as an empty string.
func FormatCell(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}

func (t Table) writer() prettytable.Writer {
	tw := prettytable.NewWriter()
	tw.SetStyle(prettytable.StyleLight)

	header := make(prettytable.Row, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.Name
	}
	tw.AppendHeader(header)

	for r := 0; r < t.rows; r++ {
		row := make(prettytable.Row, len(t.columns))
		for c, col := range t.columns {
			row[c] = FormatCell(col.Values[r])
		}
		tw.AppendRow(row)
	}
	return tw
}

// Render writes the table to w in the given style.
func (t Table) Render(w io.Writer, style Style) error {
	var out string
	switch style {
	case StyleBox, "":
		out = t.writer().Render()
	case StyleCSV:
		out = t.writer().RenderCSV()
	case StyleMarkdown:
		out = t.writer().RenderMarkdown()
	case StyleHTML:
		out = t.writer().RenderHTML()
	case StyleJSON:
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		out = string(data)
	default:
		return fmt.Errorf("unknown render style %q", style)
	}
	_, err := io.WriteString(w, out+"\n")
	return err
}

func (t Table) String() string {
	return t.writer().Render()
}

type jsonTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [[...], ...]},
// non-finite floats become null.
func (t Table) MarshalJSON() ([]byte, error) {
	rows := t.Rows()
	for _, row := range rows {
		for i, v := range row {
			f, ok := v.(float64)
			if ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				row[i] = nil
			}
		}
	}
	out := jsonTable{Columns: t.Names(), Rows: rows}
	if out.Rows == nil {
		out.Rows = [][]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(out)
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
