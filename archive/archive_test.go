package archive_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gb-murray/pcl-exchange/archive"
	"github.com/gb-murray/pcl-exchange/archive/localfs"
	"github.com/gb-murray/pcl-exchange/builder"
	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
	"github.com/gb-murray/pcl-exchange/sig"
)

const testIdentifier = "urn:uuid:0d6c3a52-94a5-4b44-9d5c-6b4d3c2f1a10"

func buildMessage(t *testing.T, sample string, key keys.PrivateKey) *pcl.Message {
	t.Helper()
	b := builder.New("https://ror.org/03yrm5c26", "https://ror.org/01bj3aw27",
		builder.WithClock(func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }),
		builder.WithIDGenerator(func() string { return testIdentifier }),
	).SetContent(
		"urn:aimd:instrument:proto-xrd-01",
		sample,
		"urn:aimd:method:xrd:powder:theta-2theta:v1",
		[]builder.Param{{Name: "step", Value: 0.02, Unit: "deg"}},
	)
	if key != nil {
		if err := b.Sign(key); err != nil {
			t.Fatalf("Sign: %v", err)
		}
	}
	msg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return msg
}

func testKey(t *testing.T) keys.PrivateKey {
	t.Helper()
	k, err := keys.FromSeed(keys.EdDSA(), bytes.Repeat([]byte{0x42}, keys.SeedSize))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return k
}

func newArchive(t *testing.T, opts ...archive.Option) *archive.Archive {
	t.Helper()
	dir := t.TempDir()
	cas, err := localfs.New(dir + "/blocks")
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	idx, err := archive.NewDirIndex(dir + "/index")
	if err != nil {
		t.Fatalf("NewDirIndex: %v", err)
	}
	a, err := archive.New(cas, idx, opts...)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	return a
}

func TestStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	key := testKey(t)
	a := newArchive(t)
	msg := buildMessage(t, "igsn:XYZ12345", key)

	rec, err := a.Store(ctx, msg)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if rec.Identifier != testIdentifier {
		t.Fatalf("identifier = %q", rec.Identifier)
	}
	if rec.KeyID != key.KeyID() {
		t.Fatalf("key id = %q, want %q", rec.KeyID, key.KeyID())
	}
	if rec.Action != string(pcl.ActionRequestMeasurement) {
		t.Fatalf("action = %q", rec.Action)
	}

	got, err := a.Lookup(ctx, testIdentifier)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != rec {
		t.Fatalf("Lookup returned %+v, want %+v", got, rec)
	}

	loaded, err := a.Load(ctx, testIdentifier)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want, _ := msg.Canonical()
	have, err := loaded.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if !bytes.Equal(want, have) {
		t.Fatalf("loaded message differs from stored message")
	}

	v, err := sig.NewVerifier(key.Public())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	res, err := v.VerifyMessage(loaded)
	if err != nil {
		t.Fatalf("VerifyMessage: %v", err)
	}
	if !res.OK() {
		t.Fatalf("loaded message does not verify: %s", res)
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	msg := buildMessage(t, "igsn:XYZ12345", nil)

	first, err := a.Store(ctx, msg)
	if err != nil {
		t.Fatalf("Store(1): %v", err)
	}
	second, err := a.Store(ctx, msg)
	if err != nil {
		t.Fatalf("Store(2): %v", err)
	}
	if first != second {
		t.Fatalf("records differ: %+v vs %+v", first, second)
	}
	all, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List returned %d records", len(all))
	}
}

func TestStoreRejectsIdentifierReuse(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	if _, err := a.Store(ctx, buildMessage(t, "igsn:XYZ12345", nil)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	other := buildMessage(t, "igsn:XYZ99999", nil)
	_, err := a.Store(ctx, other)
	if !errors.Is(err, archive.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
}

func TestStoreConflictWritesNoBlock(t *testing.T) {
	ctx := context.Background()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	a, err := archive.New(cas, archive.NewMemIndex())
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	if _, err := a.Store(ctx, buildMessage(t, "igsn:XYZ12345", nil)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	other := buildMessage(t, "igsn:XYZ99999", nil)
	if _, err := a.Store(ctx, other); !errors.Is(err, archive.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
	doc, err := other.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	id, err := cidutil.CIDv1RawSHA256CID(doc)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}
	if cas.Has(ctx, id) {
		t.Fatalf("conflicting message left block %s in the store", id)
	}
}

func TestStoreWithVerifier(t *testing.T) {
	ctx := context.Background()
	key := testKey(t)
	v, err := sig.NewVerifier(key.Public())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	a := newArchive(t, archive.WithVerifier(v))

	_, err = a.Store(ctx, buildMessage(t, "igsn:XYZ12345", nil))
	if !errors.Is(err, archive.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var rejected *archive.RejectedError
	if !errors.As(err, &rejected) || rejected.Result.Outcome != sig.Unsigned {
		t.Fatalf("expected an unsigned rejection, got %v", err)
	}

	if _, err := a.Store(ctx, buildMessage(t, "igsn:XYZ12345", key)); err != nil {
		t.Fatalf("Store signed: %v", err)
	}
}

func TestLookupMissing(t *testing.T) {
	a := newArchive(t)
	if _, err := a.Lookup(context.Background(), "urn:uuid:missing"); !archive.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.Load(context.Background(), "urn:uuid:missing"); !archive.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordEncodingIsDeterministic(t *testing.T) {
	r := archive.Record{
		Identifier: testIdentifier,
		MessageCID: "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy",
		Sender:     "https://ror.org/03yrm5c26",
		Receiver:   "https://ror.org/01bj3aw27",
		KeyID:      "kid",
	}
	a, err := archive.MarshalRecord(r)
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}
	b, err := archive.MarshalRecord(r)
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding is not deterministic")
	}
	back, err := archive.UnmarshalRecord(a)
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}
	if back != r {
		t.Fatalf("decoded %+v, want %+v", back, r)
	}
	if _, err := archive.UnmarshalRecord([]byte{0xa0}); err == nil {
		t.Fatalf("expected empty record to be rejected")
	}
}

func TestMemIndexMatchesDirIndex(t *testing.T) {
	ctx := context.Background()
	dirIdx, err := archive.NewDirIndex(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirIndex: %v", err)
	}
	for name, idx := range map[string]archive.Index{"mem": archive.NewMemIndex(), "dir": dirIdx} {
		t.Run(name, func(t *testing.T) {
			r := archive.Record{Identifier: "urn:uuid:a", MessageCID: "cid-a"}
			if err := idx.Put(ctx, r); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := idx.Put(ctx, r); err != nil {
				t.Fatalf("Put same: %v", err)
			}
			r2 := r
			r2.MessageCID = "cid-b"
			if err := idx.Put(ctx, r2); !errors.Is(err, archive.ErrImmutable) {
				t.Fatalf("expected ErrImmutable, got %v", err)
			}
			if err := idx.Put(ctx, archive.Record{Identifier: "urn:uuid:0", MessageCID: "cid-0"}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			all, err := idx.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 2 || all[0].Identifier != "urn:uuid:0" || all[1].Identifier != "urn:uuid:a" {
				t.Fatalf("List = %+v", all)
			}
		})
	}
}
