package keys

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
)

const (
	NameEdDSA   = "EdDSA"
	NameMLDSA65 = "ML-DSA-65"
)

// SeedSize is the seed length for every supported scheme.
const SeedSize = 32

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrInvalidKey           = errors.New("invalid key material")
)

// PublicKey verifies signatures for one scheme.
//
// The JWS layer verifies through Raw, which jwx accepts for every
// registered algorithm. Verify checks the same scheme over bare bytes; both
// paths accept exactly the same signatures.
type PublicKey interface {
	Algorithm() jwa.SignatureAlgorithm
	KeyID() string
	// Raw returns the underlying key in the form the JWS library expects.
	Raw() crypto.PublicKey
	Bytes() []byte
	Verify(msg, sig []byte) bool
}

// PrivateKey signs bytes for one scheme.
//
// Raw is the contract with the JWS layer. Sign produces the signature jwx
// would produce for the same signing input.
type PrivateKey interface {
	Algorithm() jwa.SignatureAlgorithm
	KeyID() string
	// Raw returns the underlying key in the form the JWS library expects.
	Raw() crypto.PrivateKey
	Public() PublicKey
	Sign(msg []byte) ([]byte, error)
}

// EdDSA is the default algorithm.
func EdDSA() jwa.SignatureAlgorithm { return jwa.EdDSA() }

// MLDSA65 is the post-quantum algorithm.
func MLDSA65() jwa.SignatureAlgorithm { return mldsa65Alg }

// SameAlgorithm compares algorithms by their registered name.
func SameAlgorithm(a, b jwa.SignatureAlgorithm) bool {
	return a.String() == b.String()
}

// ParseAlgorithm maps a configuration or header name to an algorithm.
// The empty string selects EdDSA.
func ParseAlgorithm(name string) (jwa.SignatureAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "eddsa", "ed25519":
		return jwa.EdDSA(), nil
	case "ml-dsa-65", "mldsa65":
		return mldsa65Alg, nil
	default:
		return jwa.EmptySignatureAlgorithm(), fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// Generate returns a new key drawn from rand.
func Generate(alg jwa.SignatureAlgorithm, rand io.Reader) (PrivateKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return FromSeed(alg, seed)
}

// FromSeed deterministically expands a SeedSize-byte seed.
func FromSeed(alg jwa.SignatureAlgorithm, seed []byte) (PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, SeedSize, len(seed))
	}
	switch alg.String() {
	case NameEdDSA:
		return newEd25519PrivateKey(seed)
	case NameMLDSA65:
		return newMLDSA65PrivateKey(seed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg.String())
	}
}

// PublicKeyFromBytes rebuilds a public key from its raw encoding.
func PublicKeyFromBytes(alg jwa.SignatureAlgorithm, raw []byte) (PublicKey, error) {
	switch alg.String() {
	case NameEdDSA:
		return NewEd25519PublicKey(raw)
	case NameMLDSA65:
		return NewMLDSA65PublicKey(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg.String())
	}
}
