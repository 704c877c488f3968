// Package cidutil derives and checks content identifiers (CIDv1, raw codec)
// for canonical byte strings.
//
// Envelopes bind their content block through such an identifier, and the
// message archive addresses stored documents with it.
package cidutil

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// DigestAlgorithm names a supported multihash function.
type DigestAlgorithm string

const (
	SHA2_256 DigestAlgorithm = "sha2-256"
	SHA3_256 DigestAlgorithm = "sha3-256"
	BLAKE3   DigestAlgorithm = "blake3"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = SHA2_256

var (
	ErrInvalidDigest     = errors.New("invalid content digest")
	ErrDigestMismatch    = errors.New("content digest mismatch")
	ErrUnsupportedDigest = errors.New("unsupported digest algorithm")
)

// ParseAlgorithm accepts the multihash name of a supported function.
func ParseAlgorithm(name string) (DigestAlgorithm, error) {
	switch a := DigestAlgorithm(name); a {
	case SHA2_256, SHA3_256, BLAKE3:
		return a, nil
	case "":
		return DefaultAlgorithm, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDigest, name)
	}
}

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	c, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return c.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	return Sum(SHA2_256, data)
}

// Sum returns the CIDv1 (raw codec) of data under alg.
func Sum(alg DigestAlgorithm, data []byte) (cid.Cid, error) {
	mh, err := multihashOf(alg, data)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Digest is Sum rendered as a string (base32, the CIDv1 default).
func Digest(alg DigestAlgorithm, data []byte) (string, error) {
	c, err := Sum(alg, data)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Check recomputes the digest of data with the hash function named inside id.
func Check(id string, data []byte) error {
	c, err := cid.Decode(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return CheckCID(c, data)
}

// CheckCID is Check for an already decoded identifier.
func CheckCID(c cid.Cid, data []byte) error {
	if !c.Defined() {
		return fmt.Errorf("%w: undefined cid", ErrInvalidDigest)
	}
	dm, err := multihash.Decode(c.Hash())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	alg, err := algorithmForCode(dm.Code)
	if err != nil {
		return err
	}
	want, err := multihashOf(alg, data)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, c.Hash()) {
		return ErrDigestMismatch
	}
	return nil
}

// AlgorithmOf reports which supported function produced id.
func AlgorithmOf(id string) (DigestAlgorithm, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return algorithmForCode(c.Prefix().MhType)
}

func algorithmForCode(code uint64) (DigestAlgorithm, error) {
	switch code {
	case multihash.SHA2_256:
		return SHA2_256, nil
	case multihash.SHA3_256:
		return SHA3_256, nil
	case multihash.BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("%w: multihash code 0x%x", ErrUnsupportedDigest, code)
	}
}

func multihashOf(alg DigestAlgorithm, data []byte) (multihash.Multihash, error) {
	switch alg {
	case SHA2_256:
		return multihash.Sum(data, multihash.SHA2_256, -1)
	case SHA3_256:
		return multihash.Sum(data, multihash.SHA3_256, -1)
	case BLAKE3:
		sum := blake3.Sum256(data)
		return multihash.Encode(sum[:], multihash.BLAKE3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDigest, alg)
	}
}
