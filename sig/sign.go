package sig

import (
	"strings"

	"github.com/lestrrat-go/jwx/v3/jws"

	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
)

// Sign canonicalizes fields without their authz slot and returns a detached
// JWS over the result. The protected header carries alg and kid.
//
// Errors from canonicalization are returned unchanged; key and JWS failures
// are *SigningError.
func Sign(fields map[string]any, key keys.PrivateKey) (string, error) {
	if key == nil {
		return "", signingError("PCL-SIGN-001", "signing key is nil", nil)
	}
	if _, err := keys.ParseAlgorithm(key.Algorithm().String()); err != nil {
		return "", signingError("PCL-SIGN-002", "unsupported signing scheme", err)
	}
	payload, err := canon.Canonicalize(fields)
	if err != nil {
		return "", err
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, key.KeyID()); err != nil {
		return "", signingError("PCL-SIGN-003", "set kid header", err)
	}
	token, err := jws.Sign(nil,
		jws.WithKey(key.Algorithm(), key.Raw(), jws.WithProtectedHeaders(hdrs)),
		jws.WithDetachedPayload(payload),
	)
	if err != nil {
		return "", signingError("PCL-SIGN-004", "jws sign", err)
	}
	s := string(token)
	if parts := strings.Split(s, "."); len(parts) != 3 || parts[1] != "" {
		return "", signingError("PCL-SIGN-005", "jws library returned a token with an attached payload", nil)
	}
	return s, nil
}

// Attach returns a copy of fields with token written into the authz slot.
func Attach(fields map[string]any, token string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[canon.SignatureSlot] = (&pcl.Authz{Type: pcl.AuthzDetachedJWS, JWS: token}).Fields()
	return out
}

// SignEnvelope signs env and stores the token in its authz slot.
func SignEnvelope(env *pcl.Envelope, key keys.PrivateKey) error {
	token, err := Sign(env.Fields(), key)
	if err != nil {
		return err
	}
	env.SetAuthz(&pcl.Authz{Type: pcl.AuthzDetachedJWS, JWS: token})
	return nil
}
