package sig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jws"
	"go.uber.org/zap"

	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
)

// Outcome classifies a verification.
type Outcome int

const (
	Verified Outcome = iota
	// Unsigned means the authz slot or its token is missing or empty.
	Unsigned
	// Malformed means a token is present but cannot be a detached JWS.
	Malformed
	// Mismatch means the token is well formed but does not verify under the
	// key, either because the envelope changed or the key is wrong.
	Mismatch
	// ContentMismatch means the envelope verified but the content block it
	// binds does not match its contentDigest.
	ContentMismatch
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Unsigned:
		return "unsigned"
	case Malformed:
		return "malformed"
	case Mismatch:
		return "mismatch"
	case ContentMismatch:
		return "content-mismatch"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the outcome of one verification with enough detail for a
// diagnostic.
type Result struct {
	Outcome   Outcome
	RuleID    string
	Reason    string
	KeyID     string
	Algorithm string
	Cause     error
}

// OK reports whether the outcome is Verified.
func (r Result) OK() bool { return r.Outcome == Verified }

func (r Result) String() string {
	if r.Outcome == Verified {
		return r.Outcome.String()
	}
	return fmt.Sprintf("%s (%s): %s", r.Outcome, r.RuleID, r.Reason)
}

// Scope selects how much of a message VerifyMessage requires to be bound.
type Scope int

const (
	// ScopeContentBound requires the envelope to carry a contentDigest that
	// matches the referenced content block.
	ScopeContentBound Scope = iota
	// ScopeEnvelope checks a contentDigest when present and otherwise accepts
	// an envelope-only signature.
	ScopeEnvelope
)

func (s Scope) String() string {
	switch s {
	case ScopeContentBound:
		return "content-bound"
	case ScopeEnvelope:
		return "envelope"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ParseScope accepts "content-bound" or "envelope". Empty selects content-bound.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "content-bound", "content":
		return ScopeContentBound, nil
	case "envelope":
		return ScopeEnvelope, nil
	default:
		return 0, fmt.Errorf("unknown verification scope %q", s)
	}
}

// Verifier checks envelopes against one public key. A Verifier holds no
// mutable state and is safe for concurrent use.
type Verifier struct {
	key    keys.PublicKey
	logger *zap.Logger
	scope  Scope
}

type Option func(*Verifier)

func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

func WithScope(s Scope) Option {
	return func(v *Verifier) { v.scope = s }
}

func NewVerifier(key keys.PublicKey, opts ...Option) (*Verifier, error) {
	if key == nil {
		return nil, errors.New("sig: verifier needs a public key")
	}
	v := &Verifier{key: key, logger: zap.NewNop(), scope: ScopeContentBound}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks an envelope mapping that includes its authz slot.
func Verify(fields map[string]any, key keys.PublicKey) (Result, error) {
	v, err := NewVerifier(key)
	if err != nil {
		return Result{}, err
	}
	return v.Verify(fields)
}

func (v *Verifier) result(o Outcome, ruleID, reason string, cause error) Result {
	r := Result{
		Outcome:   o,
		RuleID:    ruleID,
		Reason:    reason,
		KeyID:     v.key.KeyID(),
		Algorithm: v.key.Algorithm().String(),
		Cause:     cause,
	}
	if o != Verified {
		v.logger.Debug("verification failed",
			zap.String("outcome", o.String()),
			zap.String("rule", ruleID),
			zap.String("reason", reason),
			zap.String("kid", r.KeyID),
			zap.Error(cause),
		)
	}
	return r
}

// Verify checks the detached token in fields' authz slot against the
// canonical form of the remaining fields.
func (v *Verifier) Verify(fields map[string]any) (Result, error) {
	if fields == nil {
		return Result{}, errors.New("sig: fields must not be nil")
	}
	token, res, done := v.extractToken(fields[canon.SignatureSlot])
	if done {
		return res, nil
	}

	tok, err := ParseToken(token)
	if err != nil {
		var te *TokenError
		if errors.As(err, &te) {
			return v.result(Malformed, te.RuleID, te.Message, err), nil
		}
		return Result{}, err
	}
	if tok.Algorithm != v.key.Algorithm().String() {
		return v.result(Mismatch, "PCL-VERIFY-010",
			fmt.Sprintf("token alg %q does not match key alg %q", tok.Algorithm, v.key.Algorithm().String()), nil), nil
	}
	if tok.KeyID != "" && tok.KeyID != v.key.KeyID() {
		v.logger.Debug("token kid differs from verifying key",
			zap.String("token_kid", tok.KeyID),
			zap.String("key_kid", v.key.KeyID()),
		)
	}

	payload, err := canon.Canonicalize(fields)
	if err != nil {
		return Result{}, fmt.Errorf("sig: canonicalize envelope: %w", err)
	}
	_, err = jws.Verify([]byte(tok.Raw),
		jws.WithKey(v.key.Algorithm(), v.key.Raw()),
		jws.WithDetachedPayload(payload),
	)
	switch {
	case err == nil:
		return v.result(Verified, "", "", nil), nil
	case errors.Is(err, jws.VerificationError()):
		return v.result(Mismatch, "PCL-VERIFY-011", "signature does not match the canonical envelope", err), nil
	case errors.Is(err, jws.ParseError()):
		return v.result(Malformed, "PCL-VERIFY-012", "token rejected by the JWS parser", err), nil
	default:
		return Result{}, fmt.Errorf("sig: jws verify: %w", err)
	}
}

// extractToken reads the authz slot. done is true when the slot alone
// decides the outcome.
func (v *Verifier) extractToken(slot any) (token string, res Result, done bool) {
	m, ok := slotFields(slot)
	if !ok {
		return "", v.result(Malformed, "PCL-VERIFY-002", fmt.Sprintf("authz slot is %T, not an object", slot), nil), true
	}
	if m == nil {
		return "", v.result(Unsigned, "PCL-VERIFY-001", "envelope has no authz slot", nil), true
	}
	raw, present := m["jws"]
	if !present || raw == nil {
		return "", v.result(Unsigned, "PCL-VERIFY-001", "authz slot has no jws token", nil), true
	}
	token, ok = raw.(string)
	if !ok {
		return "", v.result(Malformed, "PCL-VERIFY-003", fmt.Sprintf("authz.jws is %T, not a string", raw), nil), true
	}
	if strings.TrimSpace(token) == "" {
		return "", v.result(Unsigned, "PCL-VERIFY-001", "authz.jws is empty", nil), true
	}
	if t, _ := m["type"].(string); t != pcl.AuthzDetachedJWS {
		return "", v.result(Malformed, "PCL-VERIFY-004", fmt.Sprintf("authz.type must be %q", pcl.AuthzDetachedJWS), nil), true
	}
	return token, Result{}, false
}

// slotFields normalizes the JSON-like shapes an authz slot may take. A nil
// result with ok set means the slot is absent.
func slotFields(slot any) (m map[string]any, ok bool) {
	switch s := slot.(type) {
	case nil:
		return nil, true
	case map[string]any:
		if s == nil {
			return nil, true
		}
		return s, true
	case map[string]string:
		if s == nil {
			return nil, true
		}
		m = make(map[string]any, len(s))
		for k, val := range s {
			m[k] = val
		}
		return m, true
	case *pcl.Authz:
		if s == nil {
			return nil, true
		}
		return s.Fields(), true
	case pcl.Authz:
		return s.Fields(), true
	default:
		return nil, false
	}
}

// VerifyEnvelope verifies env in its current state.
func (v *Verifier) VerifyEnvelope(env *pcl.Envelope) (Result, error) {
	if env == nil {
		return Result{}, errors.New("sig: envelope must not be nil")
	}
	return v.Verify(env.Fields())
}

// VerifyMessage verifies the message's envelope and then the content block
// it binds through contentDigest, according to the verifier's scope.
func (v *Verifier) VerifyMessage(msg *pcl.Message) (Result, error) {
	if msg == nil {
		return Result{}, errors.New("sig: message must not be nil")
	}
	env, err := msg.Envelope()
	if err != nil {
		return Result{}, err
	}
	res, err := v.VerifyEnvelope(env)
	if err != nil || !res.OK() {
		return res, err
	}

	if env.ContentDigest == "" {
		if v.scope == ScopeEnvelope {
			return res, nil
		}
		return v.result(ContentMismatch, "PCL-VERIFY-020", "envelope does not bind its content block", nil), nil
	}
	content, err := msg.Content()
	if err != nil {
		return v.result(ContentMismatch, "PCL-VERIFY-021", "content block is missing", err), nil
	}
	b, err := canon.Marshal(content)
	if err != nil {
		return Result{}, fmt.Errorf("sig: canonicalize content: %w", err)
	}
	if err := cidutil.Check(env.ContentDigest, b); err != nil {
		if errors.Is(err, cidutil.ErrDigestMismatch) {
			return v.result(ContentMismatch, "PCL-VERIFY-022", "content block does not match contentDigest", err), nil
		}
		return v.result(ContentMismatch, "PCL-VERIFY-023", "contentDigest cannot be checked", err), nil
	}
	return res, nil
}
