package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/gb-murray/pcl-exchange/cidutil"
)

// NamedCAS is a backend of a ReplicatingCAS. Name appears in errors.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// ReplicatingCAS mirrors message blocks across backends, typically the local
// block directory followed by the archive daemon.
//
// Writes go to every backend in order. Reads return the first copy found.
// With Repair set, a block found on a later backend is copied to the earlier
// backends that lacked it; a failed copy does not fail the read.
type ReplicatingCAS struct {
	Backends []NamedCAS
	Repair   bool
}

var _ CAS = ReplicatingCAS{}

// PutAll stores data on every backend and returns the CID each reported.
// The block is checked once up front, so a non-canonical document reaches
// no backend at all.
func (r ReplicatingCAS) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	if len(r.Backends) == 0 {
		return cid.Undef, nil, errors.New("archive: no replica backends")
	}
	if err := CheckDocument(data); err != nil {
		return cid.Undef, nil, err
	}
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, nil, err
	}

	got := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, got, fmt.Errorf("archive: replica %q has no store", b.Name)
		}
		id, err := b.CAS.Put(ctx, data)
		if err != nil {
			return cid.Undef, got, fmt.Errorf("archive: replica %q: %w", b.Name, err)
		}
		got[b.Name] = id
		if id != want {
			return cid.Undef, got, fmt.Errorf("archive: replica %q addressed the block as %s: %w", b.Name, id, ErrCIDMismatch)
		}
	}
	return want, got, nil
}

func (r ReplicatingCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r ReplicatingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	var lacking []NamedCAS
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		data, err := b.CAS.Get(ctx, id)
		switch {
		case err == nil:
			if r.Repair {
				for _, dst := range lacking {
					_, _ = dst.CAS.Put(ctx, data)
				}
			}
			return data, nil
		case IsNotFound(err):
			lacking = append(lacking, b)
		default:
			return nil, fmt.Errorf("archive: replica %q: %w", b.Name, err)
		}
	}
	return nil, ErrNotFound
}

func (r ReplicatingCAS) Has(ctx context.Context, id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.CAS != nil && b.CAS.Has(ctx, id) {
			return true
		}
	}
	return false
}
