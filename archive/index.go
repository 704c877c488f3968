package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Record is the index entry written for every archived message.
//
// Records are encoded as core deterministic CBOR, so equal records always
// produce equal bytes.
type Record struct {
	Identifier    string `cbor:"1,keyasint" json:"identifier"`
	MessageCID    string `cbor:"2,keyasint" json:"messageCid"`
	Sender        string `cbor:"3,keyasint" json:"sender"`
	Receiver      string `cbor:"4,keyasint" json:"receiver"`
	Action        string `cbor:"5,keyasint,omitempty" json:"action,omitempty"`
	Created       string `cbor:"6,keyasint,omitempty" json:"created,omitempty"`
	ContentDigest string `cbor:"7,keyasint,omitempty" json:"contentDigest,omitempty"`
	KeyID         string `cbor:"8,keyasint,omitempty" json:"keyId,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalRecord encodes r as deterministic CBOR.
func MarshalRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// UnmarshalRecord decodes a record written by MarshalRecord. Duplicate and
// unknown map keys are rejected.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("archive: decode record: %w", err)
	}
	if r.Identifier == "" || r.MessageCID == "" {
		return Record{}, fmt.Errorf("archive: record missing identifier or cid")
	}
	return r, nil
}

// Index maps envelope identifiers to records.
//
// Put is idempotent for an identical record and returns ErrImmutable when a
// different record already exists for the identifier.
type Index interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, identifier string) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// DirIndex stores one CBOR file per identifier in a directory. File names
// are the hex SHA-256 of the identifier.
type DirIndex struct {
	dir string
	mu  sync.Mutex
}

var _ Index = (*DirIndex)(nil)

func NewDirIndex(dir string) (*DirIndex, error) {
	if dir == "" {
		return nil, errors.New("archive: index directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirIndex{dir: dir}, nil
}

func (x *DirIndex) pathFor(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return filepath.Join(x.dir, hex.EncodeToString(sum[:])+".cbor")
}

func (x *DirIndex) Put(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := MarshalRecord(r)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	path := x.pathFor(r.Identifier)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				return rerr
			}
			if string(existing) == string(b) {
				return nil
			}
			return fmt.Errorf("%w: identifier %q", ErrImmutable, r.Identifier)
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (x *DirIndex) Get(ctx context.Context, identifier string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	b, err := os.ReadFile(x.pathFor(identifier))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	r, err := UnmarshalRecord(b)
	if err != nil {
		return Record{}, err
	}
	if r.Identifier != identifier {
		return Record{}, fmt.Errorf("archive: index entry for %q names %q", identifier, r.Identifier)
	}
	return r, nil
}

// List returns every record sorted by identifier.
func (x *DirIndex) List(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(x.dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cbor") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(x.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		r, err := UnmarshalRecord(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

// MemIndex is an in-memory Index.
type MemIndex struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Index = (*MemIndex)(nil)

func NewMemIndex() *MemIndex {
	return &MemIndex{records: map[string]Record{}}
}

func (x *MemIndex) Put(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if existing, ok := x.records[r.Identifier]; ok {
		if existing == r {
			return nil
		}
		return fmt.Errorf("%w: identifier %q", ErrImmutable, r.Identifier)
	}
	x.records[r.Identifier] = r
	return nil
}

func (x *MemIndex) Get(ctx context.Context, identifier string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.records[identifier]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (x *MemIndex) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	out := make([]Record, 0, len(x.records))
	for _, r := range x.records {
		out = append(out, r)
	}
	x.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Identifier < rs[j].Identifier })
}
