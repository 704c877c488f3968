package canon

import (
	"encoding/json"
	"math"
	"strconv"
)

// FormatFloat renders f the way ECMAScript's Number.prototype.toString does:
// the shortest decimal that round-trips to the same double, in plain notation
// for 1e-6 <= |f| < 1e21 and exponent notation otherwise. Negative zero is
// written as "0". NaN and infinities have no JSON form and are rejected.
func FormatFloat(f float64) (string, error) {
	b, err := appendFloat(nil, f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, newError(KindNumber, "PCL-CANON-003", "non-finite number "+strconv.FormatFloat(f, 'g', -1, 64))
	}
	if f == 0 {
		return append(dst, '0'), nil
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs < 1e-6 || abs >= 1e21 {
		format = 'e'
	}
	start := len(dst)
	dst = strconv.AppendFloat(dst, f, format, -1, 64)
	if format == 'e' {
		// strconv pads the exponent to two digits; ECMAScript does not.
		n := len(dst)
		if n-start >= 4 && dst[n-4] == 'e' && dst[n-2] == '0' {
			dst[n-2] = dst[n-1]
			dst = dst[:n-1]
		}
	}
	return dst, nil
}

// appendNumber writes a JSON number literal under the integer/double policy.
func appendNumber(dst []byte, n json.Number) ([]byte, error) {
	s := string(n)
	if !validLiteral(s) {
		return dst, newError(KindNumber, "PCL-CANON-005", "invalid number literal "+strconv.Quote(s))
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.AppendInt(dst, i, 10), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.AppendUint(dst, u, 10), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return dst, wrapError(KindNumber, "PCL-CANON-003", "number out of range "+strconv.Quote(s), err)
	}
	return appendFloat(dst, f)
}

// appendFloat32 keeps the shortest float32 digits instead of the widened
// double, so float32(0.02) encodes as 0.02.
func appendFloat32(dst []byte, f float32) ([]byte, error) {
	wide, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return appendFloat(dst, float64(f))
	}
	return appendFloat(dst, wide)
}

// validLiteral reports whether s matches the JSON number grammar.
func validLiteral(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	if i >= len(s) {
		return false
	}
	switch {
	case s[i] == '0':
		i++
	case s[i] >= '1' && s[i] <= '9':
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	default:
		return false
	}
	if i < len(s) && s[i] == '.' {
		i++
		if i >= len(s) || !isDigit(s[i]) {
			return false
		}
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		if i >= len(s) || !isDigit(s[i]) {
			return false
		}
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	return i == len(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
