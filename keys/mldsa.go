package keys

import (
	"crypto"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
)

var mldsa65Alg = jwa.NewSignatureAlgorithm(NameMLDSA65)

func init() {
	if err := jws.RegisterSigner(mldsa65Alg, mldsaSigner{}); err != nil {
		panic(fmt.Sprintf("keys: register %s signer: %v", NameMLDSA65, err))
	}
	if err := jws.RegisterVerifier(mldsa65Alg, mldsaVerifier{}); err != nil {
		panic(fmt.Sprintf("keys: register %s verifier: %v", NameMLDSA65, err))
	}
}

type mldsaPrivateKey struct {
	seed []byte
	key  *mldsa65.PrivateKey
	pub  *mldsaPublicKey
}

type mldsaPublicKey struct {
	key *mldsa65.PublicKey
	kid string
}

func newMLDSA65PrivateKey(seed []byte) (*mldsaPrivateKey, error) {
	var s [mldsa65.SeedSize]byte
	copy(s[:], seed)
	pk, sk := mldsa65.NewKeyFromSeed(&s)
	kid, err := akpThumbprint(NameMLDSA65, pk.Bytes())
	if err != nil {
		return nil, err
	}
	return &mldsaPrivateKey{
		seed: append([]byte(nil), seed...),
		key:  sk,
		pub:  &mldsaPublicKey{key: pk, kid: kid},
	}, nil
}

// NewMLDSA65PublicKey decodes a packed ML-DSA-65 public key.
func NewMLDSA65PublicKey(raw []byte) (PublicKey, error) {
	if l := len(raw); l != mldsa65.PublicKeySize {
		return nil, fmt.Errorf("%w: ml-dsa-65 public key must be %d bytes, got %d", ErrInvalidKey, mldsa65.PublicKeySize, l)
	}
	pk := new(mldsa65.PublicKey)
	if err := pk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	kid, err := akpThumbprint(NameMLDSA65, raw)
	if err != nil {
		return nil, err
	}
	return &mldsaPublicKey{key: pk, kid: kid}, nil
}

func (k *mldsaPrivateKey) Algorithm() jwa.SignatureAlgorithm { return mldsa65Alg }
func (k *mldsaPrivateKey) KeyID() string                     { return k.pub.kid }
func (k *mldsaPrivateKey) Raw() crypto.PrivateKey            { return k.key }
func (k *mldsaPrivateKey) Public() PublicKey                 { return k.pub }
func (k *mldsaPrivateKey) Seed() []byte                      { return append([]byte(nil), k.seed...) }

func (k *mldsaPrivateKey) Sign(msg []byte) ([]byte, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(k.key, msg, nil, true, sig); err != nil {
		return nil, fmt.Errorf("ml-dsa-65 sign: %w", err)
	}
	return sig, nil
}

func (k *mldsaPublicKey) Algorithm() jwa.SignatureAlgorithm { return mldsa65Alg }
func (k *mldsaPublicKey) KeyID() string                     { return k.kid }
func (k *mldsaPublicKey) Raw() crypto.PublicKey             { return k.key }
func (k *mldsaPublicKey) Bytes() []byte                     { return k.key.Bytes() }

func (k *mldsaPublicKey) Verify(msg, sig []byte) bool {
	return len(sig) == mldsa65.SignatureSize && mldsa65.Verify(k.key, msg, nil, sig)
}

// mldsaSigner and mldsaVerifier plug ML-DSA-65 into jws.Sign and jws.Verify.
type mldsaSigner struct{}

func (mldsaSigner) Algorithm() jwa.SignatureAlgorithm { return mldsa65Alg }

func (mldsaSigner) Sign(key any, payload []byte) ([]byte, error) {
	var sk *mldsaPrivateKey
	switch k := key.(type) {
	case *mldsaPrivateKey:
		sk = k
	case *mldsa65.PrivateKey:
		sk = &mldsaPrivateKey{key: k}
	default:
		return nil, fmt.Errorf("%w: %s needs an ML-DSA-65 private key, got %T", ErrInvalidKey, NameMLDSA65, key)
	}
	return sk.Sign(payload)
}

type mldsaVerifier struct{}

func (mldsaVerifier) Verify(key any, payload, sig []byte) error {
	var pk *mldsa65.PublicKey
	switch k := key.(type) {
	case *mldsaPublicKey:
		pk = k.key
	case *mldsa65.PublicKey:
		pk = k
	default:
		return fmt.Errorf("%w: %s needs an ML-DSA-65 public key, got %T", ErrInvalidKey, NameMLDSA65, key)
	}
	if len(sig) != mldsa65.SignatureSize || !mldsa65.Verify(pk, payload, nil, sig) {
		return errors.New("ml-dsa-65: signature does not verify")
	}
	return nil
}
