package decode

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"astroquery/lib/query"
	"astroquery/lib/table"

	"golang.org/x/net/html/charset"
)

type voField struct {
	Name      string `xml:"name,attr"`
	ID        string `xml:"ID,attr"`
	Datatype  string `xml:"datatype,attr"`
	Arraysize string `xml:"arraysize,attr"`
}

type voCell struct {
	Value string `xml:",chardata"`
}

type voRow struct {
	Cells []voCell `xml:"TD"`
}

type voTable struct {
	Fields []voField `xml:"FIELD"`
	Data   struct {
		TableData *struct {
			Rows []voRow `xml:"TR"`
		} `xml:"TABLEDATA"`
		Binary  *struct{} `xml:"BINARY"`
		Binary2 *struct{} `xml:"BINARY2"`
		Fits    *struct{} `xml:"FITS"`
	} `xml:"DATA"`
}

type voInfo struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Text  string `xml:",chardata"`
}

// VOTable decodes the first TABLE of an IVOA VOTable document serialized as TABLEDATA.
// A QUERY_STATUS INFO with value ERROR and no table is reported as a parse error carrying
// the service's message.
func VOTable(raw []byte) (table.Table, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = true
	dec.CharsetReader = charset.NewReaderLabel

	sawRoot := false
	var status *voInfo
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table.Table{}, parseError(query.FormatVOTable, "%s", err.Error())
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if !sawRoot {
			if start.Name.Local != "VOTABLE" {
				return table.Table{}, parseError(query.FormatVOTable, "root element is <%s>, not <VOTABLE>", start.Name.Local)
			}
			sawRoot = true
			continue
		}

		switch start.Name.Local {
		case "INFO":
			var info voInfo
			err := dec.DecodeElement(&info, &start)
			if err != nil {
				return table.Table{}, parseError(query.FormatVOTable, "%s", err.Error())
			}
			if info.Name == "QUERY_STATUS" {
				status = &info
			}
		case "TABLE":
			var tbl voTable
			err := dec.DecodeElement(&tbl, &start)
			if err != nil {
				return table.Table{}, parseError(query.FormatVOTable, "%s", err.Error())
			}
			return tbl.toTable()
		}
	}

	if !sawRoot {
		return table.Table{}, parseError(query.FormatVOTable, "document is empty")
	}
	if status != nil && strings.EqualFold(status.Value, "ERROR") {
		return table.Table{}, parseError(query.FormatVOTable, "service reported an error: %s", strings.TrimSpace(status.Text))
	}
	return table.Table{}, parseError(query.FormatVOTable, "document has no TABLE")
}

func (t voTable) toTable() (table.Table, error) {
	if t.Data.Binary != nil || t.Data.Binary2 != nil || t.Data.Fits != nil {
		return table.Table{}, parseError(query.FormatVOTable, "only TABLEDATA serialization is supported")
	}

	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
		if names[i] == "" {
			names[i] = f.ID
		}
	}

	var rows [][]any
	if t.Data.TableData != nil {
		rows = make([][]any, len(t.Data.TableData.Rows))
		for r, tr := range t.Data.TableData.Rows {
			if len(tr.Cells) != len(t.Fields) {
				return table.Table{}, parseError(
					query.FormatVOTable,
					"row %d has %d cells, expected %d", r, len(tr.Cells), len(t.Fields),
				)
			}
			row := make([]any, len(tr.Cells))
			for c, td := range tr.Cells {
				v, err := t.Fields[c].convert(td.Value)
				if err != nil {
					return table.Table{}, parseError(
						query.FormatVOTable,
						"row %d field %q: %s", r, names[c], err.Error(),
					)
				}
				row[c] = v
			}
			rows[r] = row
		}
	}

	return build(query.FormatVOTable, names, rows)
}

// scalar reports whether the field holds one value per cell, character
// fields are always scalar since their arraysize is the string length.
func (f voField) scalar() bool {
	switch f.Datatype {
	case "char", "unicodeChar", "":
		return true
	}
	return f.Arraysize == "" || f.Arraysize == "1"
}

func (f voField) convert(raw string) (any, error) {
	if !f.scalar() {
		value := strings.TrimSpace(raw)
		if value == "" {
			return nil, nil
		}
		return value, nil
	}

	switch f.Datatype {
	case "boolean":
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "t", "true", "1":
			return true, nil
		case "f", "false", "0":
			return false, nil
		case "", "?", " ":
			return nil, nil
		}
		return nil, errors.New("invalid boolean " + strconv.Quote(raw))
	case "bit", "unsignedByte", "short", "int", "long":
		value := strings.TrimSpace(raw)
		if value == "" {
			return nil, nil
		}
		if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
			v, err := strconv.ParseInt(value[2:], 16, 64)
			return v, err
		}
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "float", "double":
		value := strings.TrimSpace(raw)
		if value == "" {
			return nil, nil
		}
		switch strings.ToLower(value) {
		case "nan":
			return math.NaN(), nil
		case "+inf", "inf", "infinity", "+infinity":
			return math.Inf(1), nil
		case "-inf", "-infinity":
			return math.Inf(-1), nil
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		value := strings.TrimSpace(raw)
		if value == "" {
			return nil, nil
		}
		return value, nil
	}
}
