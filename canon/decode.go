package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Decode parses one JSON document into maps, slices, strings, booleans, nil
// and json.Number values. Duplicate object keys, invalid UTF-8 and trailing
// data are rejected.
func Decode(doc []byte) (any, error) {
	if !utf8.Valid(doc) {
		return nil, newError(KindDocument, "PCL-CANON-010", "document is not valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	v, err := decodeValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, newError(KindDocument, "PCL-CANON-013", "unexpected data after JSON document")
	}
	return v, nil
}

// DecodeObject is Decode restricted to a top-level JSON object.
func DecodeObject(doc []byte) (map[string]any, error) {
	v, err := Decode(doc)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, newError(KindDocument, "PCL-CANON-011", fmt.Sprintf("document is a %s, not an object", jsonKind(v)))
	}
	return m, nil
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	if depth > maxDepth {
		return nil, newError(KindDocument, "PCL-CANON-006", fmt.Sprintf("document nests deeper than %d levels", maxDepth))
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, wrapError(KindDocument, "PCL-CANON-010", "invalid JSON document", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := map[string]any{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, wrapError(KindDocument, "PCL-CANON-010", "invalid JSON document", err)
				}
				key, ok := kt.(string)
				if !ok {
					return nil, newError(KindDocument, "PCL-CANON-010", "object key is not a string")
				}
				if _, dup := obj[key]; dup {
					return nil, newError(KindDocument, "PCL-CANON-012", fmt.Sprintf("duplicate object key %q", key))
				}
				v, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				obj[key] = v
			}
			if _, err := dec.Token(); err != nil {
				return nil, wrapError(KindDocument, "PCL-CANON-010", "invalid JSON document", err)
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, wrapError(KindDocument, "PCL-CANON-010", "invalid JSON document", err)
			}
			return arr, nil
		default:
			return nil, newError(KindDocument, "PCL-CANON-010", fmt.Sprintf("unexpected delimiter %q", t))
		}
	default:
		return tok, nil
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number:
		return "number"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
