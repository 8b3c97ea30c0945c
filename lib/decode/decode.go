// Package decode turns raw service payloads into tables. Decoding is pure: the same bytes and
// format always produce the same table.
package decode

import (
	"fmt"
	"strconv"

	"astroquery/lib/query"
	"astroquery/lib/table"
)

// Func decodes one payload format, it returns an error wrapping query.ErrParse
// when the payload does not match the format.
type Func func(raw []byte) (table.Table, error)

// Decoder is what clients decode with.
type Decoder interface {
	Decode(raw []byte, format query.Format) (table.Table, error)
}

// Registry dispatches on format, it is immutable, With returns a modified copy.
type Registry struct {
	decoders map[query.Format]Func
}

// NewRegistry returns a registry holding a decoder for every supported format.
func NewRegistry() Registry {
	return Registry{decoders: map[query.Format]Func{
		query.FormatVOTable: VOTable,
		query.FormatJSON:    JSON,
		query.FormatHTML:    HTML,
		query.FormatFITS:    FITS,
		query.FormatText:    Text,
	}}
}

// With returns a copy of r with fn registered for format.
func (r Registry) With(format query.Format, fn Func) Registry {
	decoders := make(map[query.Format]Func, len(r.decoders)+1)
	for f, d := range r.decoders {
		decoders[f] = d
	}
	decoders[format] = fn
	return Registry{decoders: decoders}
}

// Decode fails with query.ErrParse for malformed payloads and with query.ErrEmptyResult
// when the payload is well-formed but holds no rows.
func (r Registry) Decode(raw []byte, format query.Format) (table.Table, error) {
	fn, ok := r.decoders[format]
	if !ok {
		return table.Table{}, fmt.Errorf("%w: no decoder registered for %s", query.ErrParse, format)
	}
	result, err := fn(raw)
	if err != nil {
		return table.Table{}, err
	}
	if result.NumRows() == 0 {
		return table.Table{}, fmt.Errorf(
			"%w: %s payload has %d columns and no rows",
			query.ErrEmptyResult, format, result.NumColumns(),
		)
	}
	return result, nil
}

func parseError(format query.Format, msg string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", query.ErrParse, format, fmt.Sprintf(msg, args...))
}

// uniqueNames fills in blank names and suffixes duplicates with _1, _2, ...
func uniqueNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]struct{}, len(names))
	for i, n := range names {
		if n == "" {
			n = "col" + strconv.Itoa(i+1)
		}
		candidate := n
		for suffix := 1; ; suffix++ {
			if _, taken := used[candidate]; !taken {
				break
			}
			candidate = n + "_" + strconv.Itoa(suffix)
		}
		used[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

func build(format query.Format, names []string, rows [][]any) (table.Table, error) {
	result, err := table.FromRows(uniqueNames(names), rows)
	if err != nil {
		return table.Table{}, parseError(format, "%s", err.Error())
	}
	return result, nil
}
