package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ReservedPrefix marks parameter names used internally by clients and job protocols.
const ReservedPrefix = "__"

// Param is one named query parameter. Value is either a string, an int64 or a float64
// once it has gone through Build.
type Param struct {
	Name  string
	Value any
}

// P is shorthand for constructing a Param.
func P(name string, value any) Param {
	return Param{Name: name, Value: value}
}

// Descriptor is the immutable identity of one query, it doubles as the cache key.
type Descriptor struct {
	service string
	params  []Param
	format  Format
	key     string
}

// Build validates and normalizes a query. The order of params is kept for
// request encoding but does not take part in equality.
func Build(service string, params []Param, format Format) (Descriptor, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return Descriptor{}, fmt.Errorf("%w: service identifier is empty", ErrInvalidQuery)
	}
	if !format.Valid() {
		return Descriptor{}, fmt.Errorf("%w: unsupported output format %s", ErrInvalidQuery, format)
	}

	seen := make(map[string]struct{}, len(params))
	normalized := make([]Param, len(params))
	for i, p := range params {
		if p.Name == "" {
			return Descriptor{}, fmt.Errorf("%w: parameter %d has an empty name", ErrInvalidQuery, i)
		}
		if strings.HasPrefix(p.Name, ReservedPrefix) {
			return Descriptor{}, fmt.Errorf("%w: parameter %q uses the reserved prefix %q", ErrInvalidQuery, p.Name, ReservedPrefix)
		}
		if _, dup := seen[p.Name]; dup {
			return Descriptor{}, fmt.Errorf("%w: parameter %q given more than once", ErrInvalidQuery, p.Name)
		}
		seen[p.Name] = struct{}{}

		value, err := normalizeValue(p.Value)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: parameter %q: %s", ErrInvalidQuery, p.Name, err.Error())
		}
		normalized[i] = Param{Name: p.Name, Value: value}
	}

	d := Descriptor{
		service: service,
		params:  normalized,
		format:  format,
	}
	d.key = d.computeKey()
	return d, nil
}

// BuildMap is Build for callers that hold their parameters in a map,
// the parameters are ordered by name.
func BuildMap(service string, params map[string]any, format Format) (Descriptor, error) {
	list := make([]Param, 0, len(params))
	for name, value := range params {
		list = append(list, Param{Name: name, Value: value})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return Build(service, list, format)
}

func normalizeValue(v any) (any, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case int64:
		return value, nil
	case uint:
		return uintValue(uint64(value))
	case uint8:
		return int64(value), nil
	case uint16:
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case uint64:
		return uintValue(value)
	case float32:
		return checkFloat(float64(value))
	case float64:
		return checkFloat(value)
	case nil:
		return nil, fmt.Errorf("value is nil")
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func uintValue(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, fmt.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func checkFloat(v float64) (any, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("value %v is not a finite number", v)
	}
	return v, nil
}

// FormatValue renders a normalized parameter value the way it is sent over the wire.
func FormatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

func typedValue(v any) string {
	switch value := v.(type) {
	case string:
		return "s:" + FormatValue(v)
	case int64:
		return "i:" + FormatValue(v)
	case float64:
		// -0 and 0 compare equal and must key the same entry
		if value == 0 {
			value = 0
		}
		return "f:" + FormatValue(value)
	default:
		return "?:" + FormatValue(v)
	}
}

func (d Descriptor) computeKey() string {
	sorted := make([]Param, len(d.params))
	copy(sorted, d.params)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	h := sha256.New()
	h.Write([]byte(d.service))
	h.Write([]byte{0})
	h.Write([]byte(d.format.String()))
	for _, p := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Quote(p.Name)))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.Quote(typedValue(p.Value))))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (d Descriptor) Service() string {
	return d.service
}

func (d Descriptor) Format() Format {
	return d.format
}

// Params returns a copy of the parameters in the order they were given.
func (d Descriptor) Params() []Param {
	out := make([]Param, len(d.params))
	copy(out, d.params)
	return out
}

// Param returns the value of the named parameter.
func (d Descriptor) Param(name string) (any, bool) {
	for _, p := range d.params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Key is a stable hash of the descriptor, equal descriptors have equal keys.
func (d Descriptor) Key() string {
	return d.key
}

// IsZero reports whether d was not produced by Build.
func (d Descriptor) IsZero() bool {
	return d.key == ""
}

func (d Descriptor) Equal(other Descriptor) bool {
	return d.key == other.key
}

func (d Descriptor) String() string {
	var out strings.Builder
	out.WriteString(d.service)
	out.WriteString("[")
	out.WriteString(d.format.String())
	out.WriteString("]")
	for i, p := range d.params {
		if i == 0 {
			out.WriteString(" ")
		} else {
			out.WriteString("&")
		}
		out.WriteString(p.Name)
		out.WriteString("=")
		out.WriteString(FormatValue(p.Value))
	}
	return out.String()
}
