package decode

import (
	"bytes"
	"unicode/utf8"

	"astroquery/lib/htmlutil"
	"astroquery/lib/query"
	"astroquery/lib/table"

	"github.com/PuerkitoBio/goquery"
)

// HTML decodes the first <table> of a document. The header comes from <th> cells (in <thead>
// or in the first row), rows are the <tr> elements holding <td> cells. Rows of nested tables
// are ignored, short rows are padded with nulls.
func HTML(raw []byte) (table.Table, error) {
	if !utf8.Valid(raw) {
		return table.Table{}, parseError(query.FormatHTML, "payload is not valid utf-8")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(raw))
	if err != nil {
		return table.Table{}, parseError(query.FormatHTML, "%s", err.Error())
	}

	tbl := doc.Find("table").First()
	if tbl.Length() == 0 {
		return table.Table{}, parseError(query.FormatHTML, "document has no <table>")
	}

	var header []string
	var cells [][]string
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(tbl) {
			return
		}

		headerCells := tr.ChildrenFiltered("th")
		dataCells := tr.ChildrenFiltered("td")
		if dataCells.Length() == 0 {
			if header == nil && headerCells.Length() > 0 {
				header = texts(headerCells)
			}
			return
		}
		cells = append(cells, texts(tr.ChildrenFiltered("td, th")))
	})

	width := len(header)
	for _, row := range cells {
		width = max(width, len(row))
	}
	if header == nil {
		header = make([]string, width)
	}
	if len(header) < width {
		return table.Table{}, parseError(
			query.FormatHTML,
			"a row has %d cells but the header only names %d columns", width, len(header),
		)
	}

	return build(query.FormatHTML, header, inferColumns(cells, width))
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	for _, node := range sel.Nodes {
		out = append(out, htmlutil.CleanText(node))
	}
	return out
}
