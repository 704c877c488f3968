package canon

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"
)

const maxDepth = 128

const hexDigits = "0123456789abcdef"

type encoder struct {
	buf []byte
}

func (e *encoder) value(v any, depth int) error {
	if depth > maxDepth {
		return newError(KindValue, "PCL-CANON-006", fmt.Sprintf("value nests deeper than %d levels", maxDepth))
	}
	var err error
	switch x := v.(type) {
	case nil:
		e.buf = append(e.buf, "null"...)
	case Valuer:
		cv, verr := x.CanonicalValue()
		if verr != nil {
			return wrapError(KindValue, "PCL-CANON-007", fmt.Sprintf("%T: canonical value", v), verr)
		}
		return e.value(cv, depth+1)
	case bool:
		if x {
			e.buf = append(e.buf, "true"...)
		} else {
			e.buf = append(e.buf, "false"...)
		}
	case string:
		return e.string(x)
	case json.Number:
		e.buf, err = appendNumber(e.buf, x)
	case float64:
		e.buf, err = appendFloat(e.buf, x)
	case float32:
		e.buf, err = appendFloat32(e.buf, x)
	case int:
		e.buf = strconv.AppendInt(e.buf, int64(x), 10)
	case int8:
		e.buf = strconv.AppendInt(e.buf, int64(x), 10)
	case int16:
		e.buf = strconv.AppendInt(e.buf, int64(x), 10)
	case int32:
		e.buf = strconv.AppendInt(e.buf, int64(x), 10)
	case int64:
		e.buf = strconv.AppendInt(e.buf, x, 10)
	case uint:
		e.buf = strconv.AppendUint(e.buf, uint64(x), 10)
	case uint8:
		e.buf = strconv.AppendUint(e.buf, uint64(x), 10)
	case uint16:
		e.buf = strconv.AppendUint(e.buf, uint64(x), 10)
	case uint32:
		e.buf = strconv.AppendUint(e.buf, uint64(x), 10)
	case uint64:
		e.buf = strconv.AppendUint(e.buf, x, 10)
	case map[string]any:
		return e.object(SortedKeys(x), func(k string) any { return x[k] }, depth)
	case map[string]string:
		return e.object(SortedKeys(x), func(k string) any { return x[k] }, depth)
	case []any:
		return e.array(len(x), func(i int) any { return x[i] }, depth)
	case []string:
		return e.array(len(x), func(i int) any { return x[i] }, depth)
	case []map[string]any:
		return e.array(len(x), func(i int) any { return x[i] }, depth)
	default:
		return e.reflectValue(reflect.ValueOf(v), depth)
	}
	return err
}

// reflectValue covers named types and containers the fast path does not list.
func (e *encoder) reflectValue(rv reflect.Value, depth int) error {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.buf = append(e.buf, "null"...)
			return nil
		}
		return e.value(rv.Elem().Interface(), depth+1)
	case reflect.String:
		return e.string(rv.String())
	case reflect.Bool:
		return e.value(rv.Bool(), depth)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf = strconv.AppendInt(e.buf, rv.Int(), 10)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf = strconv.AppendUint(e.buf, rv.Uint(), 10)
		return nil
	case reflect.Float32:
		var err error
		e.buf, err = appendFloat32(e.buf, float32(rv.Float()))
		return err
	case reflect.Float64:
		var err error
		e.buf, err = appendFloat(e.buf, rv.Float())
		return err
	case reflect.Slice, reflect.Array:
		return e.array(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, depth)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return newError(KindValue, "PCL-CANON-002", fmt.Sprintf("map key type %s is not a string", rv.Type().Key()))
		}
		byKey := make(map[string]reflect.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			byKey[iter.Key().String()] = iter.Value()
		}
		return e.object(SortedKeys(byKey), func(k string) any { return byKey[k].Interface() }, depth)
	default:
		return newError(KindValue, "PCL-CANON-002", fmt.Sprintf("unsupported value of type %s", rv.Type()))
	}
}

func (e *encoder) object(keys []string, get func(string) any, depth int) error {
	e.buf = append(e.buf, '{')
	for i, k := range keys {
		if i > 0 {
			e.buf = append(e.buf, ',')
		}
		if err := e.string(k); err != nil {
			return err
		}
		e.buf = append(e.buf, ':')
		if err := e.value(get(k), depth+1); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, '}')
	return nil
}

func (e *encoder) array(n int, get func(int) any, depth int) error {
	e.buf = append(e.buf, '[')
	for i := 0; i < n; i++ {
		if i > 0 {
			e.buf = append(e.buf, ',')
		}
		if err := e.value(get(i), depth+1); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, ']')
	return nil
}

// string escapes only what JSON requires. Non-ASCII text, '<', '>', '&',
// U+2028 and U+2029 are written unchanged.
func (e *encoder) string(s string) error {
	if !utf8.ValidString(s) {
		return newError(KindString, "PCL-CANON-004", "string is not valid UTF-8: "+strconv.QuoteToASCII(s))
	}
	e.buf = append(e.buf, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		e.buf = append(e.buf, s[start:i]...)
		switch c {
		case '"':
			e.buf = append(e.buf, '\\', '"')
		case '\\':
			e.buf = append(e.buf, '\\', '\\')
		case '\n':
			e.buf = append(e.buf, '\\', 'n')
		case '\r':
			e.buf = append(e.buf, '\\', 'r')
		case '\t':
			e.buf = append(e.buf, '\\', 't')
		case '\b':
			e.buf = append(e.buf, '\\', 'b')
		case '\f':
			e.buf = append(e.buf, '\\', 'f')
		default:
			e.buf = append(e.buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
		start = i + 1
	}
	e.buf = append(e.buf, s[start:]...)
	e.buf = append(e.buf, '"')
	return nil
}
