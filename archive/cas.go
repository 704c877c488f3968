// Package archive keeps signed PCL Exchange messages in content-addressed
// storage and indexes them by envelope identifier.
//
// Message documents are stored as their canonical bytes, so the CID of a
// stored message depends only on its logical content.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/gb-murray/pcl-exchange/canon"
)

// CAS is a content-addressable store of message blocks.
//
// Contract:
//   - Put accepts only canonical JSON objects (see CheckDocument) and fails
//     with ErrNotCanonical otherwise.
//   - Put is idempotent and returns the CIDv1 (raw, sha2-256) of the bytes.
//   - Stored objects are immutable.
//   - Get returns ErrNotFound when the CID is absent and never returns bytes
//     that do not hash to the requested CID.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}

var (
	ErrNotFound     = errors.New("archive: not found")
	ErrInvalidCID   = errors.New("archive: invalid cid")
	ErrCIDMismatch  = errors.New("archive: cid mismatch")
	ErrImmutable    = errors.New("archive: immutable object mismatch")
	ErrNotCanonical = errors.New("archive: block is not a canonical JSON object")
)

// CheckDocument reports whether data is a canonical JSON object. Two
// serializations of one message must never land under different CIDs.
func CheckDocument(data []byte) error {
	doc, err := canon.DecodeObject(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	want, err := canon.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	if !bytes.Equal(want, data) {
		return ErrNotCanonical
	}
	return nil
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
