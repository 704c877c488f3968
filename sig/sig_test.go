package sig

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
)

var algorithms = []jwa.SignatureAlgorithm{keys.EdDSA(), keys.MLDSA65()}

func testKey(t *testing.T, alg jwa.SignatureAlgorithm, b byte) keys.PrivateKey {
	t.Helper()
	k, err := keys.FromSeed(alg, bytes.Repeat([]byte{b}, keys.SeedSize))
	require.NoError(t, err)
	return k
}

func testEnvelope() *pcl.Envelope {
	return &pcl.Envelope{
		ID:           pcl.EnvelopeID,
		Type:         pcl.EnvelopeType,
		Profile:      pcl.DefaultProfile,
		Schema:       pcl.DefaultSchema,
		Identifier:   "urn:uuid:6f1c7b7e-3c55-4a7a-9a0e-1c1f3f0f2d11",
		DateCreated:  pcl.NewTimestamp(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		Sender:       "https://ror.org/03yrm5c26",
		Receiver:     "https://ror.org/01bj3aw27",
		Action:       pcl.ActionRequestMeasurement,
		Capabilities: []string{"xrd.powder.theta-2theta"},
		Project:      pcl.DefaultProject,
		Sample:       "igsn:XYZ12345",
		ContentRef:   pcl.ContentID,
	}
}

func testContent() *pcl.Content {
	return pcl.NewContent(
		"urn:aimd:instrument:proto-xrd-01",
		"igsn:XYZ12345",
		"urn:aimd:method:xrd:powder:theta-2theta:v1",
		pcl.PropertyValue{Name: "scan_range", Value: "10 90", UnitText: "deg 2theta"},
		pcl.PropertyValue{Name: "step", Value: 0.02, UnitText: "deg"},
	)
}

// boundMessage returns a signed message whose envelope binds its content.
func boundMessage(t *testing.T, key keys.PrivateKey) *pcl.Message {
	t.Helper()
	env := testEnvelope()
	content := testContent()
	digest, err := content.Digest(cidutil.DefaultAlgorithm)
	require.NoError(t, err)
	env.ContentDigest = digest
	require.NoError(t, SignEnvelope(env, key))
	return pcl.NewMessage(env, content)
}

func TestEndToEndCapabilitiesTamper(t *testing.T) {
	for _, alg := range algorithms {
		t.Run(alg.String(), func(t *testing.T) {
			key := testKey(t, alg, 1)
			env := testEnvelope()
			require.NoError(t, SignEnvelope(env, key))

			res, err := Verify(env.Fields(), key.Public())
			require.NoError(t, err)
			assert.Equal(t, Verified, res.Outcome, res.String())
			assert.True(t, res.OK())

			env.Capabilities = []string{}
			res, err = Verify(env.Fields(), key.Public())
			require.NoError(t, err)
			assert.Equal(t, Mismatch, res.Outcome)
			assert.Equal(t, "PCL-VERIFY-011", res.RuleID)
		})
	}
}

func TestTokenIsDetachedCompactJWS(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 2)
	token, err := Sign(testEnvelope().Fields(), key)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	assert.Empty(t, parts[1])

	tok, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, keys.NameEdDSA, tok.Algorithm)
	assert.Equal(t, key.KeyID(), tok.KeyID)
	assert.Len(t, tok.Signature, 64)
}

func TestKeyCapabilityMatchesJWS(t *testing.T) {
	for i, alg := range algorithms {
		t.Run(alg.String(), func(t *testing.T) {
			key := testKey(t, alg, byte(0x20+i))
			fields := testEnvelope().Fields()
			token, err := Sign(fields, key)
			require.NoError(t, err)
			tok, err := ParseToken(token)
			require.NoError(t, err)

			payload, err := canon.Canonicalize(fields)
			require.NoError(t, err)
			protected := strings.SplitN(token, ".", 2)[0]
			input := []byte(protected + "." + base64.RawURLEncoding.EncodeToString(payload))
			assert.True(t, key.Public().Verify(input, tok.Signature))

			direct, err := key.Sign(input)
			require.NoError(t, err)
			res, err := Verify(Attach(fields, protected+".."+base64.RawURLEncoding.EncodeToString(direct)), key.Public())
			require.NoError(t, err)
			assert.Equal(t, Verified, res.Outcome, res.String())
		})
	}
}

func TestSignIgnoresExistingSlot(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 3)
	fields := testEnvelope().Fields()
	withSlot := Attach(fields, "garbage..token")

	// Ed25519 is deterministic, so equal payloads give equal tokens.
	a, err := Sign(fields, key)
	require.NoError(t, err)
	b, err := Sign(withSlot, key)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, hadSlot := fields[canon.SignatureSlot]
	assert.False(t, hadSlot, "Attach must not mutate its input")
}

func TestRoundTripThroughJSON(t *testing.T) {
	for _, alg := range algorithms {
		t.Run(alg.String(), func(t *testing.T) {
			key := testKey(t, alg, 4)
			msg := boundMessage(t, key)

			doc, err := json.MarshalIndent(msg, "", "    ")
			require.NoError(t, err)
			received, err := pcl.ParseMessage(doc)
			require.NoError(t, err)

			v, err := NewVerifier(key.Public())
			require.NoError(t, err)
			res, err := v.VerifyMessage(received)
			require.NoError(t, err)
			assert.Equal(t, Verified, res.Outcome, res.String())
		})
	}
}

func TestEveryFieldIsCovered(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 5)
	env := testEnvelope()
	env.ContentDigest = "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"
	env.Extra = map[string]any{"x-note": "kept"}
	require.NoError(t, SignEnvelope(env, key))
	signed := env.Fields()

	for k := range signed {
		if k == canon.SignatureSlot {
			continue
		}
		t.Run(k, func(t *testing.T) {
			tampered := make(map[string]any, len(signed))
			for kk, vv := range signed {
				tampered[kk] = vv
			}
			tampered[k] = "tampered"
			res, err := Verify(tampered, key.Public())
			require.NoError(t, err)
			assert.Equal(t, Mismatch, res.Outcome)
		})
	}

	t.Run("added key", func(t *testing.T) {
		added := Attach(signed, env.Authz.JWS)
		added["extra"] = true
		res, err := Verify(added, key.Public())
		require.NoError(t, err)
		assert.Equal(t, Mismatch, res.Outcome)
	})
}

func TestUnsigned(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 6)
	fields := testEnvelope().Fields()

	cases := map[string]map[string]any{
		"no slot":     fields,
		"nil slot":    withSlot(fields, nil),
		"no jws":      withSlot(fields, map[string]any{"type": pcl.AuthzDetachedJWS}),
		"null jws":    withSlot(fields, map[string]any{"type": pcl.AuthzDetachedJWS, "jws": nil}),
		"empty jws":   Attach(fields, ""),
		"blank jws":   Attach(fields, "  "),
		"empty both":  withSlot(fields, map[string]any{}),
		"nil map":     withSlot(fields, map[string]any(nil)),
		"nil authz":   withSlot(fields, (*pcl.Authz)(nil)),
		"empty authz": withSlot(fields, &pcl.Authz{Type: pcl.AuthzDetachedJWS}),
		"string map":  withSlot(fields, map[string]string{"type": pcl.AuthzDetachedJWS}),
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := Verify(f, key.Public())
			require.NoError(t, err)
			assert.Equal(t, Unsigned, res.Outcome)
			assert.Equal(t, "PCL-VERIFY-001", res.RuleID)
		})
	}
}

func TestSlotShapes(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 9)
	fields := testEnvelope().Fields()
	token, err := Sign(fields, key)
	require.NoError(t, err)

	cases := map[string]any{
		"object":     map[string]any{"type": pcl.AuthzDetachedJWS, "jws": token},
		"string map": map[string]string{"type": pcl.AuthzDetachedJWS, "jws": token},
		"authz ptr":  &pcl.Authz{Type: pcl.AuthzDetachedJWS, JWS: token},
		"authz":      pcl.Authz{Type: pcl.AuthzDetachedJWS, JWS: token},
	}
	for name, slot := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := Verify(withSlot(fields, slot), key.Public())
			require.NoError(t, err)
			assert.Equal(t, Verified, res.Outcome, res.String())
		})
	}
}

func withSlot(fields map[string]any, slot any) map[string]any {
	out := Attach(fields, "")
	out[canon.SignatureSlot] = slot
	return out
}

func b64(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func TestMalformed(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 7)
	fields := testEnvelope().Fields()
	sigSeg := b64(strings.Repeat("s", 64))

	cases := []struct {
		name   string
		fields map[string]any
		rule   string
	}{
		{"slot not object", withSlot(fields, "token"), "PCL-VERIFY-002"},
		{"jws not string", withSlot(fields, map[string]any{"type": pcl.AuthzDetachedJWS, "jws": 42}), "PCL-VERIFY-003"},
		{"wrong type", withSlot(fields, map[string]any{"type": "JWT", "jws": "a..b"}), "PCL-VERIFY-004"},
		{"wrong type in string map", withSlot(fields, map[string]string{"type": "JWT", "jws": "a..b"}), "PCL-VERIFY-004"},
		{"slot is a list", withSlot(fields, []any{"a..b"}), "PCL-VERIFY-002"},
		{"missing type", withSlot(fields, map[string]any{"jws": "a..b"}), "PCL-VERIFY-004"},
		{"two segments", Attach(fields, "abc.def"), "PCL-TOKEN-001"},
		{"four segments", Attach(fields, "a..b.c"), "PCL-TOKEN-001"},
		{"attached payload", Attach(fields, b64(`{"alg":"EdDSA"}`)+".cGF5bG9hZA."+sigSeg), "PCL-TOKEN-002"},
		{"empty signature", Attach(fields, b64(`{"alg":"EdDSA"}`)+".."), "PCL-TOKEN-003"},
		{"header not base64", Attach(fields, "!!!.."+sigSeg), "PCL-TOKEN-004"},
		{"signature not base64", Attach(fields, b64(`{"alg":"EdDSA"}`)+"..***"), "PCL-TOKEN-005"},
		{"header not json", Attach(fields, b64(`alg=EdDSA`)+".."+sigSeg), "PCL-TOKEN-006"},
		{"header no alg", Attach(fields, b64(`{"kid":"x"}`)+".."+sigSeg), "PCL-TOKEN-007"},
		{"alg none", Attach(fields, b64(`{"alg":"none"}`)+".."+sigSeg), "PCL-TOKEN-007"},
		{"kid not string", Attach(fields, b64(`{"alg":"EdDSA","kid":7}`)+".."+sigSeg), "PCL-TOKEN-008"},
		{"unencoded payload", Attach(fields, b64(`{"alg":"EdDSA","b64":false}`)+".."+sigSeg), "PCL-TOKEN-009"},
		{"crit", Attach(fields, b64(`{"alg":"EdDSA","crit":["exp"]}`)+".."+sigSeg), "PCL-TOKEN-010"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Verify(tc.fields, key.Public())
			require.NoError(t, err)
			assert.Equal(t, Malformed, res.Outcome, res.String())
			assert.Equal(t, tc.rule, res.RuleID)
		})
	}
}

func TestWrongKey(t *testing.T) {
	signer := testKey(t, keys.EdDSA(), 8)
	env := testEnvelope()
	require.NoError(t, SignEnvelope(env, signer))

	other := testKey(t, keys.EdDSA(), 9)
	res, err := Verify(env.Fields(), other.Public())
	require.NoError(t, err)
	assert.Equal(t, Mismatch, res.Outcome)
	assert.Equal(t, "PCL-VERIFY-011", res.RuleID)

	pq := testKey(t, keys.MLDSA65(), 8)
	res, err = Verify(env.Fields(), pq.Public())
	require.NoError(t, err)
	assert.Equal(t, Mismatch, res.Outcome)
	assert.Equal(t, "PCL-VERIFY-010", res.RuleID)
}

func TestTruncatedSignatureIsMismatch(t *testing.T) {
	for _, alg := range algorithms {
		t.Run(alg.String(), func(t *testing.T) {
			key := testKey(t, alg, 10)
			env := testEnvelope()
			require.NoError(t, SignEnvelope(env, key))
			tok, err := ParseToken(env.Authz.JWS)
			require.NoError(t, err)

			parts := strings.Split(env.Authz.JWS, ".")
			short := parts[0] + ".." + base64.RawURLEncoding.EncodeToString(tok.Signature[:len(tok.Signature)-4])
			res, err := Verify(Attach(env.UnsignedFields(), short), key.Public())
			require.NoError(t, err)
			assert.Equal(t, Mismatch, res.Outcome)
		})
	}
}

func TestSignErrors(t *testing.T) {
	_, err := Sign(testEnvelope().Fields(), nil)
	require.Error(t, err)
	assert.True(t, IsSigningError(err))

	key := testKey(t, keys.EdDSA(), 11)
	_, err = Sign(map[string]any{"bad": func() {}}, key)
	require.Error(t, err)
	assert.False(t, IsSigningError(err), "canonicalization errors surface unchanged")
	assert.True(t, canon.IsKind(err, canon.KindValue))

	_, err = NewVerifier(nil)
	require.Error(t, err)
	_, err = Verify(nil, key.Public())
	require.Error(t, err)
}

func TestScopeBoundary(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 12)
	msg := boundMessage(t, key)
	env, err := msg.Envelope()
	require.NoError(t, err)
	before, err := canon.Canonicalize(env.Fields())
	require.NoError(t, err)

	content, err := msg.Content()
	require.NoError(t, err)
	content.Parameters[1].Value = 0.03

	after, err := canon.Canonicalize(env.Fields())
	require.NoError(t, err)
	assert.Equal(t, before, after, "content edits must not reach the envelope's bytes")

	v, err := NewVerifier(key.Public())
	require.NoError(t, err)
	res, err := v.VerifyEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, Verified, res.Outcome)

	res, err = v.VerifyMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, ContentMismatch, res.Outcome)
	assert.Equal(t, "PCL-VERIFY-022", res.RuleID)
}

func TestScopePolicy(t *testing.T) {
	key := testKey(t, keys.MLDSA65(), 13)
	env := testEnvelope()
	require.NoError(t, SignEnvelope(env, key))
	msg := pcl.NewMessage(env, testContent())

	strict, err := NewVerifier(key.Public())
	require.NoError(t, err)
	res, err := strict.VerifyMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, ContentMismatch, res.Outcome)
	assert.Equal(t, "PCL-VERIFY-020", res.RuleID)

	loose, err := NewVerifier(key.Public(), WithScope(ScopeEnvelope))
	require.NoError(t, err)
	res, err = loose.VerifyMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, Verified, res.Outcome)
}

func TestUnresolvedContent(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 14)
	msg := boundMessage(t, key)
	msg.Graph = msg.Graph[:len(msg.Graph)-1]

	v, err := NewVerifier(key.Public(), WithScope(ScopeEnvelope))
	require.NoError(t, err)
	res, err := v.VerifyMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, ContentMismatch, res.Outcome)
	assert.Equal(t, "PCL-VERIFY-021", res.RuleID)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeContentBound, s)
	s, err = ParseScope("Envelope")
	require.NoError(t, err)
	assert.Equal(t, ScopeEnvelope, s)
	_, err = ParseScope("graph")
	assert.Error(t, err)
}

func TestVerifyConcurrent(t *testing.T) {
	key := testKey(t, keys.EdDSA(), 15)
	env := testEnvelope()
	require.NoError(t, SignEnvelope(env, key))
	v, err := NewVerifier(key.Public())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Outcome, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := v.VerifyEnvelope(env)
			if err != nil {
				results[i] = -1
				return
			}
			results[i] = res.Outcome
		}(i)
	}
	wg.Wait()
	for i, o := range results {
		assert.Equal(t, Verified, o, "goroutine %d", i)
	}
}
