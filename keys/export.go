package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// akpKey is the JWK form of an ML-DSA public key ("AKP" key type).
// Member order matches the RFC 7638 thumbprint input.
type akpKey struct {
	Alg string `json:"alg"`
	Kty string `json:"kty"`
	Pub string `json:"pub"`
	Kid string `json:"kid,omitempty"`
}

func okpThumbprint(pub ed25519.PublicKey) (string, error) {
	k, err := jwk.Import(pub)
	if err != nil {
		return "", fmt.Errorf("import ed25519 key: %w", err)
	}
	tp, err := k.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func akpThumbprint(alg string, pub []byte) (string, error) {
	b, err := json.Marshal(akpKey{Alg: alg, Kty: "AKP", Pub: base64.RawURLEncoding.EncodeToString(pub)})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// MarshalPublicJWK encodes pub as a JWK carrying its kid and alg.
func MarshalPublicJWK(pub PublicKey) ([]byte, error) {
	switch pub.Algorithm().String() {
	case NameEdDSA:
		k, err := jwk.Import(pub.Raw())
		if err != nil {
			return nil, fmt.Errorf("import ed25519 key: %w", err)
		}
		if err := k.Set(jwk.KeyIDKey, pub.KeyID()); err != nil {
			return nil, err
		}
		if err := k.Set(jwk.AlgorithmKey, jwa.EdDSA()); err != nil {
			return nil, err
		}
		return json.Marshal(k)
	case NameMLDSA65:
		return json.Marshal(akpKey{
			Alg: NameMLDSA65,
			Kty: "AKP",
			Pub: base64.RawURLEncoding.EncodeToString(pub.Bytes()),
			Kid: pub.KeyID(),
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, pub.Algorithm().String())
	}
}

// ParsePublicJWK decodes a public JWK produced by MarshalPublicJWK or any
// other RFC 8037 Ed25519 JWK. A kid, when present, must equal the thumbprint.
func ParsePublicJWK(data []byte) (PublicKey, error) {
	var probe struct {
		Kty string `json:"kty"`
		Alg string `json:"alg"`
		Pub string `json:"pub"`
		Kid string `json:"kid"`
		D   string `json:"d"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if probe.D != "" {
		return nil, fmt.Errorf("%w: JWK contains private key material", ErrInvalidKey)
	}
	var pub PublicKey
	switch probe.Kty {
	case "OKP":
		k, err := jwk.ParseKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		var raw any
		if err := jwk.Export(k, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		edPub, ok := raw.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: OKP key is %T, not Ed25519", ErrInvalidKey, raw)
		}
		if pub, err = NewEd25519PublicKey(edPub); err != nil {
			return nil, err
		}
	case "AKP":
		if probe.Alg != NameMLDSA65 {
			return nil, fmt.Errorf("%w: AKP alg %q", ErrUnsupportedAlgorithm, probe.Alg)
		}
		raw, err := base64.RawURLEncoding.DecodeString(probe.Pub)
		if err != nil {
			return nil, fmt.Errorf("%w: pub: %v", ErrInvalidKey, err)
		}
		if pub, err = NewMLDSA65PublicKey(raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: JWK kty %q", ErrUnsupportedAlgorithm, probe.Kty)
	}
	if probe.Kid != "" && probe.Kid != pub.KeyID() {
		return nil, fmt.Errorf("%w: kid %q does not match thumbprint %q", ErrInvalidKey, probe.Kid, pub.KeyID())
	}
	return pub, nil
}
