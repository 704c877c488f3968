package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/gb-murray/pcl-exchange/archive"
	"github.com/gb-murray/pcl-exchange/archive/bundle"
	"github.com/gb-murray/pcl-exchange/archive/grpccas"
	"github.com/gb-murray/pcl-exchange/archive/localfs"
	"github.com/gb-murray/pcl-exchange/config"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/sig"
)

func cmdArchive(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printArchiveUsage(errOut)
		return 2
	}
	switch args[0] {
	case "put":
		return cmdArchivePut(args[1:], out, errOut)
	case "get":
		return cmdArchiveGet(args[1:], out, errOut)
	case "list":
		return cmdArchiveList(args[1:], out, errOut)
	case "export":
		return cmdArchiveExport(args[1:], out, errOut)
	case "import":
		return cmdArchiveImport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printArchiveUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown archive subcommand: %s\n\n", args[0])
		printArchiveUsage(errOut)
		return 2
	}
}

func printArchiveUsage(w io.Writer) {
	fmt.Fprintln(w, "pclx archive: content-addressed message archive")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pclx archive put [--remote] [--key-file <jwk>] <message.json>")
	fmt.Fprintln(w, "  pclx archive get [--remote] <identifier>")
	fmt.Fprintln(w, "  pclx archive list")
	fmt.Fprintln(w, "  pclx archive export --out <bundle.tar> [identifier ...]")
	fmt.Fprintln(w, "  pclx archive import [--key-file <jwk>] <bundle.tar>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "With --remote, message blocks are also written to and read from the")
	fmt.Fprintln(w, "archive daemon at archive.address. Blocks fetched from the daemon are")
	fmt.Fprintln(w, "copied into the local block directory. The identifier index stays local.")
}

// openArchive opens the local archive, mirrored to the daemon when remote
// is set. The returned func releases the connection.
func openArchive(cfg *config.Config, logger *zap.Logger, remote bool, opts ...archive.Option) (*archive.Archive, func(), error) {
	local, err := localfs.New(filepath.Join(cfg.Archive.Directory, "blocks"))
	if err != nil {
		return nil, nil, err
	}
	index, err := archive.NewDirIndex(filepath.Join(cfg.Archive.Directory, "index"))
	if err != nil {
		return nil, nil, err
	}

	var cas archive.CAS = local
	closeFn := func() {}
	if remote {
		client, err := grpccas.Dial(cfg.Archive.Address, grpccas.DialOptions{
			Timeout:     cfg.ArchiveTimeout(),
			MaxMsgBytes: cfg.Archive.MaxMsgBytes,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = client.Close() }
		cas = archive.ReplicatingCAS{
			Backends: []archive.NamedCAS{
				{Name: "local", CAS: local},
				{Name: cfg.Archive.Address, CAS: client},
			},
			Repair: true,
		}
	}

	opts = append(opts, archive.WithLogger(logger))
	a, err := archive.New(cas, index, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return a, closeFn, nil
}

// verifierOption returns the archive option that verifies incoming
// messages against keyFile, or nothing when keyFile is empty.
func verifierOption(cfg *config.Config, logger *zap.Logger, keyFile string) ([]archive.Option, error) {
	if keyFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	pub, err := keys.ParsePublicJWK(b)
	if err != nil {
		return nil, err
	}
	scope, err := cfg.Scope()
	if err != nil {
		return nil, err
	}
	v, err := sig.NewVerifier(pub, sig.WithScope(scope), sig.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return []archive.Option{archive.WithVerifier(v)}, nil
}

func cmdArchivePut(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("archive put", out, errOut)
	var remote bool
	var keyFile string
	c.fs.BoolVar(&remote, "remote", false, "Also store the message block on the archive daemon")
	c.fs.StringVar(&keyFile, "key-file", "", "Only accept messages that verify under this public JWK")
	if !c.parse(args) {
		return 2
	}
	if c.fs.NArg() != 1 {
		return c.usageError("usage: pclx archive put [--remote] [--key-file <jwk>] <message.json>")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	opts, err := verifierOption(cfg, logger, keyFile)
	if err != nil {
		return c.fail("--key-file: %v", err)
	}

	msg, err := readMessage(c.fs.Arg(0))
	if err != nil {
		return c.fail("read message: %v", err)
	}
	a, closeFn, err := openArchive(cfg, logger, remote, opts...)
	if err != nil {
		return c.fail("open archive: %v", err)
	}
	defer closeFn()

	rec, err := a.Store(context.Background(), msg)
	if err != nil {
		return c.fail("store: %v", err)
	}
	fmt.Fprintf(out, "%s\t%s\n", rec.Identifier, rec.MessageCID)
	return 0
}

func cmdArchiveGet(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("archive get", out, errOut)
	var remote, canonical bool
	c.fs.BoolVar(&remote, "remote", false, "Fall back to the archive daemon for missing blocks")
	c.fs.BoolVar(&canonical, "canonical", false, "Write canonical bytes")
	if !c.parse(args) {
		return 2
	}
	if c.fs.NArg() != 1 {
		return c.usageError("usage: pclx archive get [--remote] <identifier>")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, closeFn, err := openArchive(cfg, logger, remote)
	if err != nil {
		return c.fail("open archive: %v", err)
	}
	defer closeFn()

	msg, err := a.Load(context.Background(), c.fs.Arg(0))
	if err != nil {
		if archive.IsNotFound(err) {
			return c.fail("not found: %s", c.fs.Arg(0))
		}
		return c.fail("load: %v", err)
	}
	if err := writeMessage(out, msg, canonical); err != nil {
		return c.fail("write: %v", err)
	}
	return 0
}

func cmdArchiveList(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("archive list", out, errOut)
	if !c.parse(args) {
		return 2
	}
	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	a, closeFn, err := openArchive(cfg, logger, false)
	if err != nil {
		return c.fail("open archive: %v", err)
	}
	defer closeFn()

	records, err := a.List(context.Background())
	if err != nil {
		return c.fail("list: %v", err)
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", r.Identifier, r.Action, r.Sender, r.Receiver, r.MessageCID)
	}
	return 0
}

func cmdArchiveExport(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("archive export", out, errOut)
	var outPath string
	c.fs.StringVar(&outPath, "out", "", "Bundle file to write")
	if !c.parse(args) {
		return 2
	}
	if outPath == "" {
		return c.usageError("missing --out")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	a, closeFn, err := openArchive(cfg, logger, false)
	if err != nil {
		return c.fail("open archive: %v", err)
	}
	defer closeFn()

	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return c.fail("create bundle: %v", err)
	}
	if err := bundle.Export(context.Background(), f, a, c.fs.Args()); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return c.fail("export: %v", err)
	}
	if err := f.Close(); err != nil {
		return c.fail("write bundle: %v", err)
	}
	return 0
}

func cmdArchiveImport(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("archive import", out, errOut)
	var keyFile string
	c.fs.StringVar(&keyFile, "key-file", "", "Only accept messages that verify under this public JWK")
	if !c.parse(args) {
		return 2
	}
	if c.fs.NArg() != 1 {
		return c.usageError("usage: pclx archive import [--key-file <jwk>] <bundle.tar>")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	opts, err := verifierOption(cfg, logger, keyFile)
	if err != nil {
		return c.fail("--key-file: %v", err)
	}
	a, closeFn, err := openArchive(cfg, logger, false, opts...)
	if err != nil {
		return c.fail("open archive: %v", err)
	}
	defer closeFn()

	f, err := os.Open(c.fs.Arg(0))
	if err != nil {
		return c.fail("open bundle: %v", err)
	}
	defer f.Close()

	records, err := bundle.Import(context.Background(), f, a)
	if err != nil {
		return c.fail("import: %v", err)
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s\t%s\n", r.Identifier, r.MessageCID)
	}
	return 0
}
