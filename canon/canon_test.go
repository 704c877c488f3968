package canon

import (
	"encoding/json"
	"math"
	"testing"
)

func envelopeFields() map[string]any {
	return map[string]any{
		"@id":          "#envelope",
		"@type":        "PCLActionEnvelope",
		"identifier":   "urn:uuid:6f1c7b7e-3c55-4a7a-9a0e-1c1f3f0f2d11",
		"dateCreated":  "2026-05-01T12:00:00.000000Z",
		"sender":       "https://ror.org/03yrm5c26",
		"receiver":     "https://ror.org/01bj3aw27",
		"action":       "request_measurement",
		"capabilities": []any{"xrd.powder.theta-2theta"},
		"project":      "doi:10.1234/placeholder",
		"sample":       "igsn:XYZ12345",
		"contentRef":   map[string]any{"@id": "#content"},
	}
}

func TestCanonicalizeSortsKeysWithoutWhitespace(t *testing.T) {
	got, err := Canonicalize(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": nil}, "c": []any{"x", 2}})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":{"y":null,"z":true},"b":1,"c":["x",2]}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalizeIgnoresInsertionOrder(t *testing.T) {
	a := envelopeFields()
	b := map[string]any{}
	keys := SortedKeys(a)
	for i := len(keys) - 1; i >= 0; i-- {
		b[keys[i]] = a[keys[i]]
	}
	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected identical bytes\n%s\n%s", ca, cb)
	}
	again, _ := Canonicalize(a)
	if string(again) != string(ca) {
		t.Fatalf("expected repeated calls to agree")
	}
}

func TestCanonicalizeStripsSignatureSlot(t *testing.T) {
	fields := envelopeFields()
	unsigned, err := Canonicalize(fields)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	fields[SignatureSlot] = map[string]any{"type": "DetachedJWS", "jws": "eyJhbGciOiJFZERTQSJ9..c2ln"}
	signed, err := Canonicalize(fields)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(unsigned) != string(signed) {
		t.Fatalf("signature slot leaked into canonical bytes")
	}
	if _, ok := fields[SignatureSlot]; !ok {
		t.Fatalf("Canonicalize must not mutate its input")
	}
}

func TestCanonicalizeIdempotentThroughParse(t *testing.T) {
	fields := envelopeFields()
	fields["parameter"] = []any{
		map[string]any{"name": "step", "value": 0.02, "unitText": "deg"},
		map[string]any{"name": "count", "value": int64(3)},
	}
	first, err := Canonicalize(fields)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	second, err := CanonicalizeJSON(first)
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("not idempotent\n%s\n%s", first, second)
	}
}

func TestCanonicalizeJSONIgnoresWhitespaceAndOrder(t *testing.T) {
	a, err := CanonicalizeJSON([]byte("{\n  \"b\" : [1, 2.50, 1e2],\n  \"a\" : \"x\"\n}"))
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}
	b, err := CanonicalizeJSON([]byte(`{"a":"x","b":[1,2.5,100]}`))
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}
	if string(a) != string(b) || string(a) != `{"a":"x","b":[1,2.5,100]}` {
		t.Fatalf("got %s and %s", a, b)
	}
}

func TestNumericStability(t *testing.T) {
	a, b := 0.1, 0.2
	cases := []struct {
		in   any
		want string
	}{
		{0.02, "0.02"},
		{float32(0.02), "0.02"},
		{json.Number("0.02"), "0.02"},
		{json.Number("2e-2"), "0.02"},
		{1.0, "1"},
		{json.Number("1.0"), "1"},
		{-0.0, "0"},
		{math.Copysign(0, -1), "0"},
		{100, "100"},
		{json.Number("9007199254740993"), "9007199254740993"},
		{uint64(math.MaxUint64), "18446744073709551615"},
		{1e21, "1e+21"},
		{1e20, "100000000000000000000"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{-1.5e-300, "-1.5e-300"},
		{123456.789, "123456.789"},
		{a + b, "0.30000000000000004"},
		{math.Nextafter(0.3, 1), "0.30000000000000004"},
	}
	for _, tc := range cases {
		got, err := Marshal(tc.in)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Fatalf("Marshal(%#v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNonFiniteNumbersRejected(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Canonicalize(map[string]any{"v": f})
		if err == nil {
			t.Fatalf("expected error for %v", f)
		}
		if !IsKind(err, KindNumber) || RuleID(err) != "PCL-CANON-003" {
			t.Fatalf("unexpected error classification: %v (%s)", err, RuleID(err))
		}
	}
	if _, err := Marshal(json.Number("+1")); RuleID(err) != "PCL-CANON-005" {
		t.Fatalf("expected invalid literal, got %v", err)
	}
	if _, err := Marshal(json.Number("1e400")); RuleID(err) != "PCL-CANON-003" {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestStringsPreserveUnicode(t *testing.T) {
	got, err := Marshal(map[string]any{
		"name":  "Zürich 測定 <&> \u2028\u2029",
		"ctl":   "a\"b\\c\n\t\x01\x7f",
		"émoji": "🔬",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := "{\"ctl\":\"a\\\"b\\\\c\\n\\t\\u0001\x7f\",\"name\":\"Zürich 測定 <&> \u2028\u2029\",\"émoji\":\"🔬\"}"
	if string(got) != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestKeysSortByCodePoint(t *testing.T) {
	got, err := Marshal(map[string]any{"é": 1, "z": 2, "A": 3, "\U0001F600": 4, "\ufffd": 5})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := "{\"A\":3,\"z\":2,\"é\":1,\"\ufffd\":5,\"\U0001F600\":4}"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestInvalidInputs(t *testing.T) {
	if _, err := Canonicalize(nil); RuleID(err) != "PCL-CANON-001" {
		t.Fatalf("expected nil fields error, got %v", err)
	}
	if _, err := Marshal("\xff"); !IsKind(err, KindString) {
		t.Fatalf("expected invalid UTF-8 error, got %v", err)
	}
	if _, err := Marshal(map[string]any{"ch": make(chan int)}); RuleID(err) != "PCL-CANON-002" {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
	if _, err := Marshal(map[int]string{1: "a"}); RuleID(err) != "PCL-CANON-002" {
		t.Fatalf("expected non-string key error, got %v", err)
	}
	if _, err := CanonicalizeJSON([]byte(`{"a":1,"a":2}`)); RuleID(err) != "PCL-CANON-012" {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if _, err := CanonicalizeJSON([]byte(`[1,2]`)); RuleID(err) != "PCL-CANON-011" {
		t.Fatalf("expected non-object error, got %v", err)
	}
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {}`)); RuleID(err) != "PCL-CANON-013" {
		t.Fatalf("expected trailing data error, got %v", err)
	}
	if _, err := CanonicalizeJSON([]byte(`{"a":`)); !IsKind(err, KindDocument) {
		t.Fatalf("expected document error, got %v", err)
	}
}

type action string

type pointer struct{ id string }

func (p pointer) CanonicalValue() (any, error) { return map[string]any{"@id": p.id}, nil }

func TestNamedTypesAndValuers(t *testing.T) {
	got, err := Marshal(map[string]any{
		"action": action("ack"),
		"ref":    pointer{id: "#content"},
		"list":   []pointer{{id: "#a"}},
		"ints":   []int{3, 1},
		"nil":    []any(nil),
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"action":"ack","ints":[3,1],"list":[{"@id":"#a"}],"nil":[],"ref":{"@id":"#content"}}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
