// Package canon maps envelope fields to the unique byte string that is signed.
//
// The encoding is JSON with object keys sorted by UTF-8 byte order at every
// level, no insignificant whitespace, ',' and ':' separators, and Unicode
// emitted as-is rather than escaped. The signature slot is removed before
// encoding, so a token can never cover itself.
//
// Numbers follow a fixed policy so that producers and consumers on different
// runtimes agree byte for byte:
//   - Go integer kinds, and JSON literals that parse as 64-bit integers, are
//     written as exact decimal integers.
//   - Everything else is treated as an IEEE-754 double and written with the
//     ECMAScript Number.prototype.toString rule (see FormatFloat).
//
// All functions in this package are pure and safe for concurrent use.
package canon

import "sort"

// SignatureSlot is the envelope key reserved for the signature token.
const SignatureSlot = "authz"

// Valuer is implemented by types that know their own JSON-like form.
//
// CanonicalValue must return a value the encoder accepts (maps, slices,
// strings, numbers, booleans or nil).
type Valuer interface {
	CanonicalValue() (any, error)
}

// Canonicalize is the single choke point for producing signed bytes.
//
// The signature slot is ignored whatever it holds; fields is not modified.
func Canonicalize(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return nil, newError(KindValue, "PCL-CANON-001", "fields must not be nil")
	}
	return Marshal(Strip(fields))
}

// CanonicalizeJSON parses a JSON object and canonicalizes it.
//
// Number literals are carried through without a float64 round-trip, and
// duplicate object keys are rejected.
func CanonicalizeJSON(doc []byte) ([]byte, error) {
	fields, err := DecodeObject(doc)
	if err != nil {
		return nil, err
	}
	return Canonicalize(fields)
}

// Marshal canonically encodes any accepted value without stripping anything.
func Marshal(v any) ([]byte, error) {
	e := encoder{buf: make([]byte, 0, 256)}
	if err := e.value(v, 0); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Strip returns a shallow copy of fields without the signature slot.
func Strip(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == SignatureSlot {
			continue
		}
		out[k] = v
	}
	return out
}

// SortedKeys returns the keys of m in canonical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Byte order of valid UTF-8 equals code point order.
	sort.Strings(keys)
	return keys
}
