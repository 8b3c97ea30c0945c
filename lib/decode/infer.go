package decode

import (
	"strconv"
	"strings"
)

type columnKind int

const (
	kindInt columnKind = iota
	kindFloat
	kindString
)

// inferColumns converts text cells in place, a column becomes int64 when every non-empty
// cell is an integer, float64 when every non-empty cell is a number, and stays string otherwise.
// Empty cells become nil.
func inferColumns(rows [][]string, width int) [][]any {
	kinds := make([]columnKind, width)
	for _, row := range rows {
		for c := 0; c < width && c < len(row); c++ {
			cell := strings.TrimSpace(row[c])
			if cell == "" || kinds[c] == kindString {
				continue
			}
			if kinds[c] == kindInt && isInt(cell) {
				continue
			}
			if isFloat(cell) {
				kinds[c] = kindFloat
				continue
			}
			kinds[c] = kindString
		}
	}

	out := make([][]any, len(rows))
	for r, row := range rows {
		values := make([]any, width)
		for c := 0; c < width; c++ {
			if c >= len(row) {
				continue
			}
			values[c] = convertCell(row[c], kinds[c])
		}
		out[r] = values
	}
	return out
}

func convertCell(raw string, kind columnKind) any {
	cell := strings.TrimSpace(raw)
	if cell == "" {
		return nil
	}
	switch kind {
	case kindInt:
		v, err := strconv.ParseInt(cell, 10, 64)
		if err == nil {
			return v
		}
	case kindFloat:
		v, err := strconv.ParseFloat(cell, 64)
		if err == nil {
			return v
		}
	}
	return cell
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// isFloat accepts decimal notation and nan, hex floats and infinities are left as text
// so that names like "Inf" do not turn into numbers.
func isFloat(s string) bool {
	lower := strings.ToLower(s)
	if strings.ContainsAny(lower, "xp_") || strings.Contains(lower, "inf") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
