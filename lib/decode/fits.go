package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"astroquery/lib/query"
	"astroquery/lib/table"
)

const (
	fitsBlock = 2880
	fitsCard  = 80
)

type fitsHeader struct {
	values map[string]string
	quoted map[string]bool
}

func (h fitsHeader) has(key string) bool {
	_, ok := h.values[key]
	return ok
}

func (h fitsHeader) str(key string) string {
	return h.values[key]
}

func (h fitsHeader) integer(key string, fallback int64) (int64, error) {
	raw, ok := h.values[key]
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("keyword %s: %q is not an integer", key, raw)
	}
	return v, nil
}

func (h fitsHeader) float(key string, fallback float64) (float64, error) {
	raw, ok := h.values[key]
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(strings.Replace(strings.ToUpper(raw), "D", "E", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("keyword %s: %q is not a number", key, raw)
	}
	return v, nil
}

// readFitsHeader parses the header starting at offset and returns it with the offset of the data.
func readFitsHeader(data []byte, offset int) (fitsHeader, int, error) {
	h := fitsHeader{values: map[string]string{}, quoted: map[string]bool{}}
	pos := offset
	for {
		if pos+fitsCard > len(data) {
			return h, 0, fmt.Errorf("header at byte %d is missing its END card", offset)
		}
		card := string(data[pos : pos+fitsCard])
		pos += fitsCard

		keyword := strings.TrimRight(card[:8], " ")
		if keyword == "END" {
			break
		}
		if card[8:10] != "= " {
			continue
		}
		value, quoted := parseCardValue(card[10:])
		if _, exists := h.values[keyword]; !exists {
			h.values[keyword] = value
			h.quoted[keyword] = quoted
		}
	}
	return h, offset + padBlock(pos-offset), nil
}

func parseCardValue(field string) (string, bool) {
	trimmed := strings.TrimLeft(field, " ")
	if strings.HasPrefix(trimmed, "'") {
		var out strings.Builder
		for i := 1; i < len(trimmed); i++ {
			if trimmed[i] == '\'' {
				if i+1 < len(trimmed) && trimmed[i+1] == '\'' {
					out.WriteByte('\'')
					i++
					continue
				}
				break
			}
			out.WriteByte(trimmed[i])
		}
		return strings.TrimRight(out.String(), " "), true
	}
	if slash := strings.IndexByte(trimmed, '/'); slash >= 0 {
		trimmed = trimmed[:slash]
	}
	return strings.TrimSpace(trimmed), false
}

func padBlock(n int) int {
	if n%fitsBlock == 0 {
		return n
	}
	return n + fitsBlock - n%fitsBlock
}

func hduDataSize(h fitsHeader) (int, error) {
	bitpix, err := h.integer("BITPIX", 8)
	if err != nil {
		return 0, err
	}
	naxis, err := h.integer("NAXIS", 0)
	if err != nil {
		return 0, err
	}
	if naxis == 0 {
		return 0, nil
	}
	count := int64(1)
	for i := int64(1); i <= naxis; i++ {
		n, err := h.integer("NAXIS"+strconv.FormatInt(i, 10), 0)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, fmt.Errorf("NAXIS%d is negative", i)
		}
		if count, err = mulSize(count, n); err != nil {
			return 0, err
		}
	}
	pcount, err := h.integer("PCOUNT", 0)
	if err != nil {
		return 0, err
	}
	gcount, err := h.integer("GCOUNT", 1)
	if err != nil {
		return 0, err
	}
	bytesPerValue := bitpix
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	if pcount < 0 || gcount < 0 || pcount > math.MaxInt32 {
		return 0, fmt.Errorf("PCOUNT %d or GCOUNT %d out of range", pcount, gcount)
	}
	size, err := mulSize(bytesPerValue/8, gcount)
	if err != nil {
		return 0, err
	}
	if size, err = mulSize(size, pcount+count); err != nil {
		return 0, err
	}
	return int(size), nil
}

// mulSize multiplies two non-negative header values and fails once the
// product leaves the range a data unit can occupy in memory.
func mulSize(a, b int64) (int64, error) {
	if a != 0 && b > math.MaxInt32/a {
		return 0, fmt.Errorf("data size %d x %d out of range", a, b)
	}
	return a * b, nil
}

// FITS decodes the first BINTABLE or ASCII TABLE extension of a FITS file.
func FITS(raw []byte) (table.Table, error) {
	if len(raw) < fitsBlock || !strings.HasPrefix(string(raw[:fitsCard]), "SIMPLE  =") {
		return table.Table{}, parseError(query.FormatFITS, "payload is not a FITS file")
	}

	offset := 0
	primary := true
	for offset < len(raw) {
		h, dataStart, err := readFitsHeader(raw, offset)
		if err != nil {
			return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
		}
		size, err := hduDataSize(h)
		if err != nil {
			return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
		}
		if dataStart+size > len(raw) {
			return table.Table{}, parseError(query.FormatFITS, "hdu data is truncated, need %d bytes, have %d", size, len(raw)-dataStart)
		}
		data := raw[dataStart : dataStart+size]

		if !primary {
			switch h.str("XTENSION") {
			case "BINTABLE":
				return fitsBinTable(h, data)
			case "TABLE":
				return fitsASCIITable(h, data)
			}
		}
		primary = false
		offset = dataStart + padBlock(size)
	}
	return table.Table{}, parseError(query.FormatFITS, "file has no table extension")
}

type fitsColumn struct {
	name   string
	repeat int
	code   byte
	width  int

	hasNull bool
	null    int64
	scaled  bool
	scale   float64
	zero    float64
}

var tformRegex = regexp.MustCompile(`^\s*(\d*)([LXBIJKAEDCMPQ])`)

// fitsMaxRepeat bounds a column repeat count so column widths cannot overflow.
const fitsMaxRepeat = math.MaxInt32 / 16

var binWidths = map[byte]int{
	'L': 1, 'B': 1, 'I': 2, 'J': 4, 'K': 8, 'A': 1, 'E': 4, 'D': 8,
}

// fitsMaxFields is the largest TFIELDS value the standard allows.
const fitsMaxFields = 999

// fitsTableShape reads the table dimensions and checks them against the
// bytes actually present in the data unit.
func fitsTableShape(h fitsHeader, data []byte) (fields, rowWidth, rows int, err error) {
	nfields, err := h.integer("TFIELDS", 0)
	if err != nil {
		return 0, 0, 0, err
	}
	width, err := h.integer("NAXIS1", 0)
	if err != nil {
		return 0, 0, 0, err
	}
	nrows, err := h.integer("NAXIS2", 0)
	if err != nil {
		return 0, 0, 0, err
	}
	if nfields < 0 || width < 0 || nrows < 0 {
		return 0, 0, 0, fmt.Errorf("negative table dimensions")
	}
	if nfields > fitsMaxFields {
		return 0, 0, 0, fmt.Errorf("TFIELDS %d exceeds %d", nfields, fitsMaxFields)
	}
	if nrows > 0 && width == 0 && nfields > 0 {
		return 0, 0, 0, fmt.Errorf("%d rows of zero width", nrows)
	}
	if width > int64(len(data)) || (width > 0 && nrows > int64(len(data))/width) {
		return 0, 0, 0, fmt.Errorf("table data is truncated, %d rows of %d bytes in %d bytes", nrows, width, len(data))
	}
	if width == 0 {
		nrows = 0
	}
	return int(nfields), int(width), int(nrows), nil
}

func fitsBinTable(h fitsHeader, data []byte) (table.Table, error) {
	nfields, rowWidth, nrows, err := fitsTableShape(h, data)
	if err != nil {
		return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
	}

	columns := make([]fitsColumn, nfields)
	names := make([]string, nfields)
	total := 0
	for i := range columns {
		n := strconv.Itoa(i + 1)
		tform := h.str("TFORM" + n)
		groups := tformRegex.FindStringSubmatch(tform)
		if groups == nil {
			return table.Table{}, parseError(query.FormatFITS, "column %d has bad TFORM %q", i+1, tform)
		}
		repeat := 1
		if groups[1] != "" {
			repeat, err = strconv.Atoi(groups[1])
			if err != nil {
				return table.Table{}, parseError(query.FormatFITS, "column %d: %s", i+1, err.Error())
			}
		}
		if repeat > fitsMaxRepeat {
			return table.Table{}, parseError(query.FormatFITS, "column %d repeat count %d out of range", i+1, repeat)
		}
		code := groups[2][0]
		col := fitsColumn{name: strings.TrimSpace(h.str("TTYPE" + n)), repeat: repeat, code: code}

		switch code {
		case 'X':
			col.width = (repeat + 7) / 8
		case 'C', 'M', 'P', 'Q':
			return table.Table{}, parseError(query.FormatFITS, "column %d: TFORM %q is not supported", i+1, tform)
		default:
			col.width = binWidths[code] * repeat
		}

		if h.has("TNULL" + n) {
			col.null, err = h.integer("TNULL"+n, 0)
			if err != nil {
				return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
			}
			col.hasNull = true
		}
		col.scale, err = h.float("TSCAL"+n, 1)
		if err != nil {
			return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
		}
		col.zero, err = h.float("TZERO"+n, 0)
		if err != nil {
			return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
		}
		col.scaled = col.scale != 1 || col.zero != 0

		columns[i] = col
		names[i] = col.name
		total += col.width
		if total > rowWidth {
			return table.Table{}, parseError(query.FormatFITS, "columns span more than NAXIS1 %d bytes", rowWidth)
		}
	}
	if total != rowWidth {
		return table.Table{}, parseError(query.FormatFITS, "columns span %d bytes but NAXIS1 is %d", total, rowWidth)
	}
	rows := make([][]any, nrows)
	for r := 0; r < nrows; r++ {
		rowData := data[r*rowWidth : (r+1)*rowWidth]
		row := make([]any, nfields)
		pos := 0
		for c, col := range columns {
			row[c] = col.decode(rowData[pos : pos+col.width])
			pos += col.width
		}
		rows[r] = row
	}
	return build(query.FormatFITS, names, rows)
}

func (col fitsColumn) decode(cell []byte) any {
	switch col.code {
	case 'A':
		s := strings.TrimRight(string(cell), " \x00")
		if s == "" {
			return nil
		}
		return s
	case 'X':
		var bits strings.Builder
		for i := 0; i < col.repeat; i++ {
			if cell[i/8]&(0x80>>(i%8)) != 0 {
				bits.WriteByte('1')
			} else {
				bits.WriteByte('0')
			}
		}
		return bits.String()
	}

	if col.repeat == 0 {
		return nil
	}
	size := binWidths[col.code]
	values := make([]any, col.repeat)
	for i := range values {
		values[i] = col.element(cell[i*size : (i+1)*size])
	}
	if col.repeat == 1 {
		return values[0]
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = table.FormatCell(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (col fitsColumn) element(b []byte) any {
	switch col.code {
	case 'L':
		switch b[0] {
		case 'T':
			return true
		case 'F':
			return false
		}
		return nil
	case 'B':
		return col.integer(int64(b[0]))
	case 'I':
		return col.integer(int64(int16(binary.BigEndian.Uint16(b))))
	case 'J':
		return col.integer(int64(int32(binary.BigEndian.Uint32(b))))
	case 'K':
		return col.integer(int64(binary.BigEndian.Uint64(b)))
	case 'E':
		return col.floating(float64(math.Float32frombits(binary.BigEndian.Uint32(b))))
	case 'D':
		return col.floating(math.Float64frombits(binary.BigEndian.Uint64(b)))
	}
	return nil
}

func (col fitsColumn) integer(v int64) any {
	if col.hasNull && v == col.null {
		return nil
	}
	if !col.scaled {
		return v
	}
	if col.scale == 1 && col.zero == math.Trunc(col.zero) && math.Abs(col.zero) < 1<<62 {
		return v + int64(col.zero)
	}
	return float64(v)*col.scale + col.zero
}

func (col fitsColumn) floating(v float64) any {
	if !col.scaled {
		return v
	}
	return v*col.scale + col.zero
}

var asciiFormRegex = regexp.MustCompile(`^\s*([AIFED])(\d+)(?:\.(\d+))?`)

func fitsASCIITable(h fitsHeader, data []byte) (table.Table, error) {
	nfields, rowWidth, nrows, err := fitsTableShape(h, data)
	if err != nil {
		return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
	}
	type asciiColumn struct {
		start, width int
		code         byte
	}
	columns := make([]asciiColumn, nfields)
	names := make([]string, nfields)
	for i := range columns {
		n := strconv.Itoa(i + 1)
		tform := h.str("TFORM" + n)
		groups := asciiFormRegex.FindStringSubmatch(tform)
		if groups == nil {
			return table.Table{}, parseError(query.FormatFITS, "column %d has bad TFORM %q", i+1, tform)
		}
		width, _ := strconv.Atoi(groups[2])
		start, err := h.integer("TBCOL"+n, 0)
		if err != nil {
			return table.Table{}, parseError(query.FormatFITS, "%s", err.Error())
		}
		if start < 1 || start > int64(rowWidth) || int(start)-1+width > rowWidth {
			return table.Table{}, parseError(query.FormatFITS, "column %d lies outside the row", i+1)
		}
		columns[i] = asciiColumn{start: int(start) - 1, width: width, code: groups[1][0]}
		names[i] = strings.TrimSpace(h.str("TTYPE" + n))
	}

	rows := make([][]any, nrows)
	for r := 0; r < nrows; r++ {
		rowData := data[r*rowWidth : (r+1)*rowWidth]
		row := make([]any, nfields)
		for c, col := range columns {
			text := strings.TrimSpace(string(rowData[col.start : col.start+col.width]))
			if text == "" {
				continue
			}
			switch col.code {
			case 'A':
				row[c] = text
			case 'I':
				v, err := strconv.ParseInt(text, 10, 64)
				if err != nil {
					return table.Table{}, parseError(query.FormatFITS, "row %d column %q: %s", r, names[c], err.Error())
				}
				row[c] = v
			default:
				v, err := strconv.ParseFloat(strings.Replace(strings.ToUpper(text), "D", "E", 1), 64)
				if err != nil {
					return table.Table{}, parseError(query.FormatFITS, "row %d column %q: %s", r, names[c], err.Error())
				}
				row[c] = v
			}
		}
		rows[r] = row
	}
	return build(query.FormatFITS, names, rows)
}
