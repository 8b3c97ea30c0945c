package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"astroquery/lib/query"
	"astroquery/lib/table"
)

// object is a json object that remembers the order of its keys.
type object struct {
	keys   []string
	values map[string]any
}

func (o object) get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func decodeJSONValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := object{values: map[string]any{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", keyTok)
				}
				value, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				if _, exists := obj.values[key]; !exists {
					obj.keys = append(obj.keys, key)
				}
				obj.values[key] = value
			}
			_, err := dec.Token()
			return obj, err
		case '[':
			list := []any{}
			for dec.More() {
				value, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, value)
			}
			_, err := dec.Token()
			return list, err
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return t, nil
	}
}

// JSON decodes the shapes archives commonly answer with:
//
//   - an array of objects, columns follow the key order of first appearance
//   - {"metadata"|"columns"|"fields": [names or {"name": ...}], "data": [[...], ...]} (TAP json style)
//   - {"data"|"rows"|"results": [objects]}
//
// Nested objects and arrays inside cells are kept as compact json text.
func JSON(raw []byte) (table.Table, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	root, err := decodeJSONValue(dec)
	if err != nil {
		return table.Table{}, parseError(query.FormatJSON, "%s", err.Error())
	}
	_, err = dec.Token()
	if !errors.Is(err, io.EOF) {
		return table.Table{}, parseError(query.FormatJSON, "trailing data after top level value")
	}

	switch value := root.(type) {
	case []any:
		return jsonRecords(value)
	case object:
		return jsonObject(value)
	default:
		return table.Table{}, parseError(query.FormatJSON, "top level value is a %s, expected an array or object", jsonKind(root))
	}
}

func jsonObject(obj object) (table.Table, error) {
	for _, key := range []string{"metadata", "columns", "fields"} {
		header, ok := obj.get(key)
		if !ok {
			continue
		}
		data, _ := obj.get("data")
		return jsonColumnar(header, data)
	}
	for _, key := range []string{"data", "rows", "results"} {
		records, ok := obj.get(key)
		if !ok {
			continue
		}
		list, ok := records.([]any)
		if !ok {
			return table.Table{}, parseError(query.FormatJSON, "%q is a %s, expected an array", key, jsonKind(records))
		}
		return jsonRecords(list)
	}
	return table.Table{}, parseError(query.FormatJSON, "object holds no recognizable table")
}

func jsonColumnar(header, data any) (table.Table, error) {
	fields, ok := header.([]any)
	if !ok {
		return table.Table{}, parseError(query.FormatJSON, "column list is a %s, expected an array", jsonKind(header))
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		switch field := f.(type) {
		case string:
			names[i] = field
		case object:
			name, _ := field.get("name")
			names[i], _ = name.(string)
		default:
			return table.Table{}, parseError(query.FormatJSON, "column %d is a %s", i, jsonKind(f))
		}
	}

	var list []any
	if data != nil {
		list, ok = data.([]any)
		if !ok {
			return table.Table{}, parseError(query.FormatJSON, "data is a %s, expected an array", jsonKind(data))
		}
	}

	rows := make([][]any, len(list))
	for r, item := range list {
		cells, ok := item.([]any)
		if !ok {
			return table.Table{}, parseError(query.FormatJSON, "row %d is a %s, expected an array", r, jsonKind(item))
		}
		if len(cells) != len(names) {
			return table.Table{}, parseError(query.FormatJSON, "row %d has %d values, expected %d", r, len(cells), len(names))
		}
		row := make([]any, len(cells))
		for c, cell := range cells {
			v, err := jsonScalar(cell)
			if err != nil {
				return table.Table{}, parseError(query.FormatJSON, "row %d column %d: %s", r, c, err.Error())
			}
			row[c] = v
		}
		rows[r] = row
	}
	return build(query.FormatJSON, names, rows)
}

func jsonRecords(list []any) (table.Table, error) {
	var names []string
	index := map[string]int{}
	records := make([]object, len(list))
	for r, item := range list {
		obj, ok := item.(object)
		if !ok {
			return table.Table{}, parseError(query.FormatJSON, "record %d is a %s, expected an object", r, jsonKind(item))
		}
		for _, key := range obj.keys {
			if _, seen := index[key]; !seen {
				index[key] = len(names)
				names = append(names, key)
			}
		}
		records[r] = obj
	}

	rows := make([][]any, len(records))
	for r, obj := range records {
		row := make([]any, len(names))
		for _, key := range obj.keys {
			v, err := jsonScalar(obj.values[key])
			if err != nil {
				return table.Table{}, parseError(query.FormatJSON, "record %d key %q: %s", r, key, err.Error())
			}
			row[index[key]] = v
		}
		rows[r] = row
	}
	return build(query.FormatJSON, names, rows)
}

func jsonScalar(v any) (any, error) {
	switch value := v.(type) {
	case nil, string, bool:
		return value, nil
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i, nil
		}
		f, err := value.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case object, []any:
		var buf bytes.Buffer
		err := writeJSON(&buf, value)
		return buf.String(), err
	default:
		return nil, fmt.Errorf("unexpected value %T", v)
	}
}

// writeJSON re-encodes a decoded value compactly, keeping object key order.
func writeJSON(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case object:
		buf.WriteByte('{')
		for i, key := range value.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			err = writeJSON(buf, value.values[key])
			if err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			err := writeJSON(buf, item)
			if err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case object:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
