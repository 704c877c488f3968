// Package bundle moves archived messages between archives as a single
// deterministic TAR stream.
//
// Layout:
//
//	bundle.cbor               header (format version, message count)
//	messages/<cid>            canonical message document
//	records/<cid>.cbor        the exporting archive's index record
//
// Entries follow the identifier order of the exported records. TAR headers
// are normalized so equal inputs produce equal bytes.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"github.com/gb-murray/pcl-exchange/archive"
	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/pcl"
)

// FormatVersion is the current bundle layout version.
const FormatVersion = 1

const (
	headerEntry    = "bundle.cbor"
	messagesPrefix = "messages/"
	recordsPrefix  = "records/"
)

var epoch0 = time.Unix(0, 0).UTC()

type header struct {
	Version   int    `cbor:"1,keyasint"`
	Multihash string `cbor:"2,keyasint"`
	Messages  int    `cbor:"3,keyasint"`
}

var encMode, _ = cbor.CoreDetEncOptions().EncMode()

// Export writes the messages stored under identifiers. An empty list
// exports the whole archive.
func Export(ctx context.Context, w io.Writer, a *archive.Archive, identifiers []string) error {
	if a == nil {
		return errors.New("bundle: nil archive")
	}

	var records []archive.Record
	if len(identifiers) == 0 {
		all, err := a.List(ctx)
		if err != nil {
			return err
		}
		records = all
	} else {
		uniq := map[string]bool{}
		for _, id := range identifiers {
			if uniq[id] {
				continue
			}
			uniq[id] = true
			rec, err := a.Lookup(ctx, id)
			if err != nil {
				return fmt.Errorf("bundle: %s: %w", id, err)
			}
			records = append(records, rec)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Identifier < records[j].Identifier })
	}

	tw := tar.NewWriter(w)
	hb, err := encMode.Marshal(header{Version: FormatVersion, Multihash: "sha2-256", Messages: len(records)})
	if err != nil {
		return err
	}
	if err := writeFile(tw, headerEntry, hb); err != nil {
		_ = tw.Close()
		return err
	}

	for _, rec := range records {
		got, doc, err := a.Fetch(ctx, rec.Identifier)
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("bundle: %s: %w", rec.Identifier, err)
		}
		if err := cidutil.Check(got.MessageCID, doc); err != nil {
			_ = tw.Close()
			return archive.ErrCIDMismatch
		}
		rb, err := archive.MarshalRecord(got)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, messagesPrefix+got.MessageCID, doc); err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, recordsPrefix+got.MessageCID+".cbor", rb); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// Import stores every message of the bundle read from r in a and returns
// the records a wrote. Each message is stored through Archive.Store, so an
// archive with a verifier rejects messages that do not verify. A record
// that disagrees with the one a computes fails the import.
func Import(ctx context.Context, r io.Reader, a *archive.Archive) ([]archive.Record, error) {
	if a == nil {
		return nil, errors.New("bundle: nil archive")
	}

	tr := tar.NewReader(r)
	var (
		hdr       *header
		stored    []archive.Record
		byCID     = map[string]archive.Record{}
		bundled   = map[string]archive.Record{}
		seenEntry = map[string]bool{}
	)

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stored, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return stored, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			return stored, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}
		if seenEntry[name] {
			return stored, fmt.Errorf("bundle: duplicate entry: %s", name)
		}
		seenEntry[name] = true

		payload, err := io.ReadAll(tr)
		if err != nil {
			return stored, err
		}

		switch {
		case name == headerEntry:
			var hd header
			if err := cbor.Unmarshal(payload, &hd); err != nil {
				return stored, fmt.Errorf("bundle: header: %w", err)
			}
			if hd.Version != FormatVersion {
				return stored, fmt.Errorf("bundle: unsupported format version %d", hd.Version)
			}
			hdr = &hd

		case strings.HasPrefix(name, messagesPrefix):
			if hdr == nil {
				return stored, errors.New("bundle: message before header")
			}
			cidStr := strings.TrimPrefix(name, messagesPrefix)
			id, derr := cid.Decode(cidStr)
			if derr != nil || !id.Defined() {
				return stored, archive.ErrInvalidCID
			}
			if err := cidutil.CheckCID(id, payload); err != nil {
				return stored, archive.ErrCIDMismatch
			}
			msg, err := pcl.ParseMessage(payload)
			if err != nil {
				return stored, fmt.Errorf("bundle: %s: %w", cidStr, err)
			}
			rec, err := a.Store(ctx, msg)
			if err != nil {
				return stored, fmt.Errorf("bundle: %s: %w", cidStr, err)
			}
			if rec.MessageCID != id.String() {
				return stored, archive.ErrCIDMismatch
			}
			stored = append(stored, rec)
			byCID[rec.MessageCID] = rec

		case strings.HasPrefix(name, recordsPrefix) && strings.HasSuffix(name, ".cbor"):
			rec, err := archive.UnmarshalRecord(payload)
			if err != nil {
				return stored, fmt.Errorf("bundle: %s: %w", name, err)
			}
			if strings.TrimSuffix(strings.TrimPrefix(name, recordsPrefix), ".cbor") != rec.MessageCID {
				return stored, fmt.Errorf("bundle: %s names another message", name)
			}
			bundled[rec.MessageCID] = rec

		default:
			return stored, fmt.Errorf("bundle: unknown entry: %s", name)
		}
	}

	if hdr == nil {
		return stored, errors.New("bundle: missing header")
	}
	if hdr.Messages != len(stored) {
		return stored, fmt.Errorf("bundle: header lists %d messages, found %d", hdr.Messages, len(stored))
	}
	for c, want := range bundled {
		if got, ok := byCID[c]; !ok || got != want {
			return stored, fmt.Errorf("bundle: record for %s does not match its message", c)
		}
	}
	return stored, nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"), "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
