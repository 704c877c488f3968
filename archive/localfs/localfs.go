// Package localfs keeps message blocks as read-only files on local disk.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"github.com/gb-murray/pcl-exchange/archive"
	"github.com/gb-murray/pcl-exchange/cidutil"
)

// CAS stores each canonical message document in its own file named by CID,
// under a directory named after the CID's last two characters.
type CAS struct {
	root string
}

var _ archive.CAS = (*CAS)(nil)

// New opens the block directory at root, creating it when missing.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CAS{root: root}, nil
}

func (c *CAS) Root() string { return c.root }

// Put refuses anything but a canonical message document. A block already on
// disk must hold the same bytes; a damaged file is reported, never rewritten.
func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	if err := archive.CheckDocument(data); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}

	created, err := writeOnce(c.pathFor(id), data)
	if err != nil {
		return cid.Undef, err
	}
	if !created {
		stored, err := c.Get(ctx, id)
		if err != nil || !bytes.Equal(stored, data) {
			return cid.Undef, archive.ErrImmutable
		}
	}
	return id, nil
}

// Get reads the block and re-hashes it against id.
func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !id.Defined() {
		return nil, archive.ErrInvalidCID
	}
	b, err := os.ReadFile(c.pathFor(id))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, archive.ErrNotFound
	case err != nil:
		return nil, err
	case cidutil.CheckCID(id, b) != nil:
		return nil, archive.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) bool {
	if ctx.Err() != nil || !id.Defined() {
		return false
	}
	info, err := os.Stat(c.pathFor(id))
	return err == nil && info.Mode().IsRegular()
}

func (c *CAS) pathFor(id cid.Cid) string {
	name := id.String()
	if len(name) < 2 {
		return filepath.Join(c.root, name)
	}
	return filepath.Join(c.root, name[len(name)-2:], name)
}

// writeOnce creates path holding data with mode 0444. It reports false,
// without touching the file, when path already exists.
func writeOnce(path string, data []byte) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return false, err
	}
	return true, nil
}
