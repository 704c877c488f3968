package keys

import (
	"crypto"
	"crypto/ed25519"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
)

type ed25519PrivateKey struct {
	key ed25519.PrivateKey
	pub *ed25519PublicKey
}

type ed25519PublicKey struct {
	key ed25519.PublicKey
	kid string
}

func newEd25519PrivateKey(seed []byte) (*ed25519PrivateKey, error) {
	priv := ed25519.NewKeyFromSeed(seed)
	pub, err := NewEd25519PublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &ed25519PrivateKey{key: priv, pub: pub.(*ed25519PublicKey)}, nil
}

// NewEd25519PublicKey wraps a raw 32-byte Ed25519 public key.
func NewEd25519PublicKey(raw []byte) (PublicKey, error) {
	if l := len(raw); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, l)
	}
	pub := ed25519.PublicKey(append([]byte(nil), raw...))
	kid, err := okpThumbprint(pub)
	if err != nil {
		return nil, err
	}
	return &ed25519PublicKey{key: pub, kid: kid}, nil
}

func (k *ed25519PrivateKey) Algorithm() jwa.SignatureAlgorithm { return jwa.EdDSA() }
func (k *ed25519PrivateKey) KeyID() string                     { return k.pub.kid }
func (k *ed25519PrivateKey) Raw() crypto.PrivateKey            { return k.key }
func (k *ed25519PrivateKey) Public() PublicKey                 { return k.pub }
func (k *ed25519PrivateKey) Seed() []byte                      { return k.key.Seed() }

func (k *ed25519PrivateKey) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.key, msg), nil
}

func (k *ed25519PublicKey) Algorithm() jwa.SignatureAlgorithm { return jwa.EdDSA() }
func (k *ed25519PublicKey) KeyID() string                     { return k.kid }
func (k *ed25519PublicKey) Raw() crypto.PublicKey             { return k.key }
func (k *ed25519PublicKey) Bytes() []byte                     { return append([]byte(nil), k.key...) }

func (k *ed25519PublicKey) Verify(msg, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(k.key, msg, sig)
}
