package sig

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Token is a parsed detached compact JWS.
type Token struct {
	Algorithm string
	KeyID     string
	Header    map[string]any
	Signature []byte
	Raw       string
}

// ParseToken checks the wire form HEADER..SIGNATURE and decodes the
// protected header. Every failure is a *TokenError.
func ParseToken(s string) (*Token, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return nil, tokenError("PCL-TOKEN-001", "token must have three dot-separated segments", nil)
	}
	if parts[1] != "" {
		return nil, tokenError("PCL-TOKEN-002", "token payload segment must be empty", nil)
	}
	if parts[0] == "" || parts[2] == "" {
		return nil, tokenError("PCL-TOKEN-003", "token header and signature segments must not be empty", nil)
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, tokenError("PCL-TOKEN-004", "header is not base64url", err)
	}
	sb, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, tokenError("PCL-TOKEN-005", "signature is not base64url", err)
	}

	var header map[string]any
	if err := json.Unmarshal(hb, &header); err != nil || header == nil {
		return nil, tokenError("PCL-TOKEN-006", "header is not a JSON object", err)
	}
	alg, ok := header["alg"].(string)
	if !ok || alg == "" {
		return nil, tokenError("PCL-TOKEN-007", "header has no alg", nil)
	}
	if alg == "none" {
		return nil, tokenError("PCL-TOKEN-007", `header alg "none" is not a signature`, nil)
	}
	var kid string
	if v, present := header["kid"]; present {
		if kid, ok = v.(string); !ok {
			return nil, tokenError("PCL-TOKEN-008", "header kid must be a string", nil)
		}
	}
	if b64, present := header["b64"]; present && b64 != true {
		return nil, tokenError("PCL-TOKEN-009", "unencoded payload (b64:false) is not supported", nil)
	}
	if _, present := header["crit"]; present {
		return nil, tokenError("PCL-TOKEN-010", "critical header extensions are not supported", nil)
	}

	return &Token{
		Algorithm: alg,
		KeyID:     kid,
		Header:    header,
		Signature: sb,
		Raw:       s,
	}, nil
}
