package decode

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"regexp"
	"strings"
	"unicode/utf8"

	"astroquery/lib/query"
	"astroquery/lib/table"
)

var separatorLine = regexp.MustCompile(`^[\s\-=+|:]+$`)

type delimiter int

const (
	delimWhitespace delimiter = iota
	delimTab
	delimComma
	delimPipe
)

func detectDelimiter(header string) delimiter {
	switch {
	case strings.Contains(header, "\t"):
		return delimTab
	case strings.Contains(header, "|"):
		return delimPipe
	case strings.Contains(header, ","):
		return delimComma
	}
	return delimWhitespace
}

func splitLine(line string, d delimiter) ([]string, error) {
	switch d {
	case delimTab, delimComma:
		reader := csv.NewReader(strings.NewReader(line))
		reader.Comma = ','
		if d == delimTab {
			reader.Comma = '\t'
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1
		return reader.Read()
	case delimPipe:
		if !strings.Contains(line, "|") {
			return strings.Fields(line), nil
		}
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "|")
		trimmed = strings.TrimSuffix(trimmed, "|")
		parts := strings.Split(trimmed, "|")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return parts, nil
	}
	return strings.Fields(line), nil
}

// Text decodes delimited plain text. Lines starting with # or \ are comments, rule lines made of
// dashes, equals signs or pipes are skipped. The first remaining line is the header and picks the
// delimiter: tab, pipe, comma or runs of whitespace, in that order of preference.
// Extra pipe lines right under a pipe header (types, units, nulls) are skipped.
func Text(raw []byte) (table.Table, error) {
	if !utf8.Valid(raw) {
		return table.Table{}, parseError(query.FormatText, "payload is not valid utf-8")
	}

	var header []string
	var d delimiter
	var rows [][]string
	inHeader := false

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, `\`) {
			continue
		}

		if header == nil {
			if separatorLine.MatchString(line) {
				continue
			}
			d = detectDelimiter(line)
			fields, err := splitLine(line, d)
			if err != nil {
				return table.Table{}, parseError(query.FormatText, "line %d: %s", lineNo, err.Error())
			}
			header = fields
			inHeader = d == delimPipe
			continue
		}
		if inHeader && strings.HasPrefix(trimmed, "|") {
			continue
		}
		inHeader = false
		if separatorLine.MatchString(line) {
			continue
		}

		fields, err := splitLine(line, d)
		if err != nil {
			return table.Table{}, parseError(query.FormatText, "line %d: %s", lineNo, err.Error())
		}
		if len(fields) > len(header) {
			return table.Table{}, parseError(
				query.FormatText, "line %d has %d fields but the header names %d columns",
				lineNo, len(fields), len(header),
			)
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return table.Table{}, parseError(query.FormatText, "%s", err.Error())
	}

	if header == nil {
		return table.Table{}, nil
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}
	return build(query.FormatText, header, inferColumns(rows, len(header)))
}
