package query

import (
	"fmt"
	"strings"
)

// Format is the output format requested from a service, it also selects the decoder.
type Format int

const (
	FormatVOTable Format = iota + 1
	FormatJSON
	FormatHTML
	FormatFITS
	FormatText
)

var formatNames = map[Format]string{
	FormatVOTable: "votable",
	FormatJSON:    "json",
	FormatHTML:    "html",
	FormatFITS:    "fits",
	FormatText:    "text",
}

// Formats lists every supported format in declaration order.
func Formats() []Format {
	return []Format{FormatVOTable, FormatJSON, FormatHTML, FormatFITS, FormatText}
}

func (f Format) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

func (f Format) String() string {
	name, ok := formatNames[f]
	if !ok {
		return fmt.Sprintf("format(%d)", int(f))
	}
	return name
}

// ParseFormat is the inverse of Format.String, it is case insensitive and also
// accepts a few common aliases ("xml", "vot", "csv", "txt", "ascii").
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "vot", "xml", "votable/td":
		return FormatVOTable, nil
	case "csv", "tsv", "txt", "ascii":
		return FormatText, nil
	case "fit", "fits/bintable":
		return FormatFITS, nil
	}
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown format %q", ErrInvalidQuery, s)
}
