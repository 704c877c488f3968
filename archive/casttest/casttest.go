// Package casttest checks that an archive.CAS keeps message blocks the way
// the archive relies on.
package casttest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/gb-murray/pcl-exchange/archive"
	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/cidutil"
)

// NewCAS returns an empty store private to t.
type NewCAS func(t *testing.T) archive.CAS

// Document returns the canonical bytes of a small message document whose
// envelope carries identifier.
func Document(t *testing.T, identifier string) []byte {
	t.Helper()
	b, err := canon.Marshal(map[string]any{
		"@context": "https://w3id.org/ro/crate/1.1/context",
		"@graph": []any{
			map[string]any{"@id": "#envelope", "identifier": identifier, "action": "ack"},
		},
	})
	if err != nil {
		t.Fatalf("canon.Marshal: %v", err)
	}
	return b
}

func Run(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("StoresUnderContentCID", func(t *testing.T) {
		cas := newCAS(t)
		doc := Document(t, "urn:uuid:00000000-0000-4000-8000-000000000001")

		id, err := cas.Put(ctx, doc)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := cidutil.CheckCID(id, doc); err != nil {
			t.Fatalf("Put returned %s, which does not address the block: %v", id, err)
		}
		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, doc) {
			t.Fatalf("Get returned %q, want %q", got, doc)
		}
	})

	t.Run("RestoringIsANoOp", func(t *testing.T) {
		cas := newCAS(t)
		doc := Document(t, "urn:uuid:00000000-0000-4000-8000-000000000002")
		first, err := cas.Put(ctx, doc)
		if err != nil {
			t.Fatalf("first Put: %v", err)
		}
		again, err := cas.Put(ctx, doc)
		if err != nil {
			t.Fatalf("second Put: %v", err)
		}
		if first != again {
			t.Fatalf("second Put returned %s, first %s", again, first)
		}
	})

	t.Run("MissingBlock", func(t *testing.T) {
		cas := newCAS(t)
		doc := Document(t, "urn:uuid:00000000-0000-4000-8000-000000000003")
		id, err := cidutil.CIDv1RawSHA256CID(doc)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID: %v", err)
		}
		if cas.Has(ctx, id) {
			t.Fatalf("Has reported a block that was never stored")
		}
		if _, err := cas.Get(ctx, id); !archive.IsNotFound(err) {
			t.Fatalf("Get missing block: got %v, want ErrNotFound", err)
		}
		if _, err := cas.Put(ctx, doc); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if !cas.Has(ctx, id) {
			t.Fatalf("Has missed a stored block")
		}
	})

	t.Run("RejectsNonCanonicalBlocks", func(t *testing.T) {
		cas := newCAS(t)
		doc := Document(t, "urn:uuid:00000000-0000-4000-8000-000000000004")
		for name, b := range map[string][]byte{
			"indented":       []byte("{\n  \"a\": 1\n}"),
			"unsorted keys":  []byte(`{"b":1,"a":2}`),
			"duplicate keys": []byte(`{"a":1,"a":1}`),
			"array":          []byte(`["a"]`),
			"not json":       []byte("plain bytes"),
			"trailing space": append(append([]byte(nil), doc...), '\n'),
		} {
			if _, err := cas.Put(ctx, b); !errors.Is(err, archive.ErrNotCanonical) {
				t.Errorf("%s: got %v, want ErrNotCanonical", name, err)
			}
		}
	})

	t.Run("UndefinedCID", func(t *testing.T) {
		cas := newCAS(t)
		if cas.Has(ctx, cid.Undef) {
			t.Fatalf("Has should be false for an undefined CID")
		}
		if _, err := cas.Get(ctx, cid.Undef); err == nil {
			t.Fatalf("Get should fail for an undefined CID")
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cas := newCAS(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := cas.Put(cctx, Document(t, "urn:uuid:00000000-0000-4000-8000-000000000005")); err == nil {
			t.Fatalf("Put should fail on a canceled context")
		}
	})
}
