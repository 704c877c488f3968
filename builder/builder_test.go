package builder

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
	"github.com/gb-murray/pcl-exchange/sig"
)

const (
	sender   = "https://ror.org/03yrm5c26"
	receiver = "https://ror.org/01bj3aw27"
)

var fixedTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestBuilder(opts ...Option) *Builder {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() string { return "urn:uuid:6f1c7b7e-3c55-4a7a-9a0e-1c1f3f0f2d11" }),
	}, opts...)
	return New(sender, receiver, opts...).
		SetContent(
			"urn:aimd:instrument:proto-xrd-01",
			"igsn:XYZ12345",
			"urn:aimd:method:xrd:powder:theta-2theta:v1",
			[]Param{
				{Name: "scan_range", Value: "10 90", Unit: "deg 2theta"},
				{Name: "step", Value: 0.02, Unit: "deg"},
			},
		).
		AddCapability("xrd.powder.theta-2theta")
}

func testKey(t *testing.T) keys.PrivateKey {
	t.Helper()
	k, err := keys.FromSeed(keys.EdDSA(), bytes.Repeat([]byte{0x11}, keys.SeedSize))
	require.NoError(t, err)
	return k
}

func TestBuildMinimalMessage(t *testing.T) {
	msg, err := newTestBuilder().Build()
	require.NoError(t, err)

	env, err := msg.Envelope()
	require.NoError(t, err)
	assert.Equal(t, sender, env.Sender)
	assert.Equal(t, receiver, env.Receiver)
	assert.Equal(t, pcl.ActionRequestMeasurement, env.Action)
	assert.Equal(t, []string{"xrd.powder.theta-2theta"}, env.Capabilities)
	assert.Equal(t, pcl.DefaultProject, env.Project)
	assert.Equal(t, "igsn:XYZ12345", env.Sample)
	assert.Equal(t, "2026-05-01T12:00:00.000000Z", env.DateCreated)
	assert.Nil(t, env.Authz)

	content, err := msg.Content()
	require.NoError(t, err)
	want, err := content.Digest(cidutil.DefaultAlgorithm)
	require.NoError(t, err)
	assert.Equal(t, want, env.ContentDigest)

	doc, err := json.Marshal(msg)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(doc, &m))
	assert.Contains(t, m, "@context")
	assert.Contains(t, m, "@graph")
}

func TestMissingContent(t *testing.T) {
	b := New(sender, receiver)
	_, err := b.Build()
	assert.True(t, errors.Is(err, ErrNoContent))
	assert.ErrorIs(t, b.Sign(testKey(t)), ErrNoContent)
}

func TestDefaultIdentifierIsUUIDURN(t *testing.T) {
	a := New(sender, receiver)
	b := New(sender, receiver)
	assert.True(t, strings.HasPrefix(a.Identifier(), "urn:uuid:"))
	assert.NotEqual(t, a.Identifier(), b.Identifier())
}

func TestSignedBuildVerifies(t *testing.T) {
	key := testKey(t)
	b := newTestBuilder()
	require.NoError(t, b.Sign(key))

	msg, err := b.Build()
	require.NoError(t, err)

	v, err := sig.NewVerifier(key.Public())
	require.NoError(t, err)
	res, err := v.VerifyMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, sig.Verified, res.Outcome, res.String())

	// Building twice yields the same signed message.
	again, err := b.Build()
	require.NoError(t, err)
	a, err := msg.Canonical()
	require.NoError(t, err)
	c, err := again.Canonical()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestChangeAfterSign(t *testing.T) {
	key := testKey(t)
	b := newTestBuilder()
	require.NoError(t, b.Sign(key))
	b.AddCapability("xrd.powder.rietveld")

	_, err := b.Build()
	assert.ErrorIs(t, err, ErrStaleSignature)

	require.NoError(t, b.Sign(key))
	_, err = b.Build()
	assert.NoError(t, err)
}

func TestOptions(t *testing.T) {
	b := newTestBuilder(
		WithProject("doi:10.5555/example"),
		WithAction(pcl.ActionRegisterData),
		WithDigestAlgorithm(cidutil.BLAKE3),
	)
	env, err := b.Envelope()
	require.NoError(t, err)
	assert.Equal(t, "doi:10.5555/example", env.Project)
	assert.Equal(t, pcl.ActionRegisterData, env.Action)
	alg, err := cidutil.AlgorithmOf(env.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, cidutil.BLAKE3, alg)
}

func TestBuildValidates(t *testing.T) {
	b := New("not-a-ror", receiver).SetContent("inst", "igsn:XYZ12345", "method", nil)
	_, err := b.Build()
	require.Error(t, err)
	assert.Equal(t, "PCL-VAL-106", pcl.RuleID(err))
}
