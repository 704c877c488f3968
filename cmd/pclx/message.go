package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/gb-murray/pcl-exchange/builder"
	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/config"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
	"github.com/gb-murray/pcl-exchange/sig"
)

// Exit codes for verify, one per outcome.
const (
	exitUnsigned        = 3
	exitMalformed       = 4
	exitMismatch        = 5
	exitContentMismatch = 6
)

// buildRequest is the JSONC file read by "pclx build".
type buildRequest struct {
	Identifier   string   `json:"identifier"`
	Sender       string   `json:"sender"`
	Receiver     string   `json:"receiver"`
	Action       string   `json:"action"`
	Project      string   `json:"project"`
	Capabilities []string `json:"capabilities"`
	Content      struct {
		Instrument string          `json:"instrument"`
		Sample     string          `json:"sample"`
		Method     string          `json:"method"`
		Parameters []builder.Param `json:"parameters"`
	} `json:"content"`
}

func readBuildRequest(path string) (*buildRequest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(b)))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var req buildRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if req.Sender == "" || req.Receiver == "" {
		return nil, errors.New("request needs sender and receiver")
	}
	return &req, nil
}

func loadSigningKey(cfg *config.Config, name, role string) (keys.PrivateKey, error) {
	ks, err := keyStore(cfg)
	if err != nil {
		return nil, err
	}
	return ks.Load(keyName(cfg, name), role)
}

func readMessage(path string) (*pcl.Message, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return pcl.ParseMessageJSONC(b)
}

// writeMessage prints canonical bytes, or an indented rendering of them.
func writeMessage(w io.Writer, msg *pcl.Message, canonical bool) error {
	b, err := msg.Canonical()
	if err != nil {
		return err
	}
	if canonical {
		_, err = w.Write(b)
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

func cmdBuild(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("build", out, errOut)
	var requestPath, name, role string
	var sign, canonical bool
	c.fs.StringVar(&requestPath, "request", "", "Build request (JSON with comments)")
	c.fs.BoolVar(&sign, "sign", false, "Sign the envelope")
	c.fs.StringVar(&name, "name", "", "Signing key name (default keys.name from config)")
	c.fs.StringVar(&role, "role", "", "Optional role key")
	c.fs.BoolVar(&canonical, "canonical", false, "Write canonical bytes")
	if !c.parse(args) {
		return 2
	}
	if requestPath == "" {
		return c.usageError("missing --request")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	req, err := readBuildRequest(requestPath)
	if err != nil {
		return c.fail("%v", err)
	}
	digestAlg, err := cfg.DigestAlgorithm()
	if err != nil {
		return c.fail("%v", err)
	}

	opts := []builder.Option{builder.WithDigestAlgorithm(digestAlg), builder.WithLogger(logger)}
	if req.Identifier != "" {
		id := req.Identifier
		opts = append(opts, builder.WithIDGenerator(func() string { return id }))
	}
	if req.Action != "" {
		opts = append(opts, builder.WithAction(pcl.Action(req.Action)))
	}
	if req.Project != "" {
		opts = append(opts, builder.WithProject(req.Project))
	}
	b := builder.New(req.Sender, req.Receiver, opts...).
		SetContent(req.Content.Instrument, req.Content.Sample, req.Content.Method, req.Content.Parameters)
	for _, capability := range req.Capabilities {
		b.AddCapability(capability)
	}

	if sign {
		key, err := loadSigningKey(cfg, name, role)
		if err != nil {
			return c.fail("load key: %v", err)
		}
		if err := b.Sign(key); err != nil {
			return c.fail("sign: %v", err)
		}
	}
	msg, err := b.Build()
	if err != nil {
		return c.fail("build: %v", err)
	}
	if err := writeMessage(out, msg, canonical); err != nil {
		return c.fail("write: %v", err)
	}
	return 0
}

func cmdSign(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("sign", out, errOut)
	var in, name, role string
	var bindContent, canonical bool
	c.fs.StringVar(&in, "in", "", "Message file")
	c.fs.StringVar(&name, "name", "", "Signing key name (default keys.name from config)")
	c.fs.StringVar(&role, "role", "", "Optional role key")
	c.fs.BoolVar(&bindContent, "bind-content", false, "Recompute contentDigest before signing")
	c.fs.BoolVar(&canonical, "canonical", false, "Write canonical bytes")
	if !c.parse(args) {
		return 2
	}
	if in == "" {
		return c.usageError("missing --in")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	msg, err := readMessage(in)
	if err != nil {
		return c.fail("read message: %v", err)
	}
	env, err := msg.Envelope()
	if err != nil {
		return c.fail("%v", err)
	}
	if bindContent {
		content, err := msg.Content()
		if err != nil {
			return c.fail("%v", err)
		}
		alg, err := cfg.DigestAlgorithm()
		if err != nil {
			return c.fail("%v", err)
		}
		if env.ContentDigest, err = content.Digest(alg); err != nil {
			return c.fail("digest content: %v", err)
		}
	}
	key, err := loadSigningKey(cfg, name, role)
	if err != nil {
		return c.fail("load key: %v", err)
	}
	if err := sig.SignEnvelope(env, key); err != nil {
		return c.fail("sign: %v", err)
	}
	logger.Debug("envelope signed")
	if err := writeMessage(out, msg, canonical); err != nil {
		return c.fail("write: %v", err)
	}
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("verify", out, errOut)
	var in, keyFile, name, role, scopeName string
	c.fs.StringVar(&in, "in", "", "Message file")
	c.fs.StringVar(&keyFile, "key-file", "", "Public JWK of the signer")
	c.fs.StringVar(&name, "name", "", "Verify with a key from the local store")
	c.fs.StringVar(&role, "role", "", "Optional role key")
	c.fs.StringVar(&scopeName, "scope", "", "Verification scope (default signing.scope from config)")
	if !c.parse(args) {
		return 2
	}
	if in == "" {
		return c.usageError("missing --in")
	}
	if keyFile != "" && name != "" {
		return c.usageError("--key-file and --name are mutually exclusive")
	}

	cfg, logger, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	if scopeName == "" {
		scopeName = cfg.Signing.Scope
	}
	scope, err := sig.ParseScope(scopeName)
	if err != nil {
		return c.usageError("invalid --scope: %v", err)
	}
	pub, err := loadVerifyKey(cfg, keyFile, name, role)
	if err != nil {
		return c.fail("load key: %v", err)
	}
	msg, err := readMessage(in)
	if err != nil {
		return c.fail("read message: %v", err)
	}

	v, err := sig.NewVerifier(pub, sig.WithScope(scope), sig.WithLogger(logger))
	if err != nil {
		return c.fail("%v", err)
	}
	res, err := v.VerifyMessage(msg)
	if err != nil {
		return c.fail("verify: %v", err)
	}
	fmt.Fprintln(out, res)
	return outcomeExit(res.Outcome)
}

func loadVerifyKey(cfg *config.Config, keyFile, name, role string) (keys.PublicKey, error) {
	if keyFile != "" {
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}
		return keys.ParsePublicJWK(b)
	}
	ks, err := keyStore(cfg)
	if err != nil {
		return nil, err
	}
	return ks.LoadPublic(keyName(cfg, name), role)
}

func outcomeExit(o sig.Outcome) int {
	switch o {
	case sig.Verified:
		return 0
	case sig.Unsigned:
		return exitUnsigned
	case sig.Malformed:
		return exitMalformed
	case sig.Mismatch:
		return exitMismatch
	case sig.ContentMismatch:
		return exitContentMismatch
	default:
		return 1
	}
}

func cmdCanon(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("canon", out, errOut)
	if !c.parse(args) {
		return 2
	}
	if c.fs.NArg() != 1 {
		return c.usageError("usage: pclx canon <envelope.json>")
	}
	b, err := os.ReadFile(c.fs.Arg(0))
	if err != nil {
		return c.fail("read: %v", err)
	}
	doc, err := canon.CanonicalizeJSON(b)
	if err != nil {
		return c.fail("canonicalize: %v", err)
	}
	_, _ = out.Write(doc)
	return 0
}

func cmdDigest(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("digest", out, errOut)
	var algName string
	var canonical bool
	c.fs.StringVar(&algName, "alg", "", "Multihash function (default signing.digest_algorithm from config)")
	c.fs.BoolVar(&canonical, "canonical", false, "Canonicalize the JSON file before hashing")
	if !c.parse(args) {
		return 2
	}
	if c.fs.NArg() != 1 {
		return c.usageError("usage: pclx digest [--alg <name>] [--canonical] <file>")
	}

	cfg, _, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	if algName == "" {
		algName = cfg.Signing.DigestAlgorithm
	}
	alg, err := cidutil.ParseAlgorithm(algName)
	if err != nil {
		return c.usageError("invalid --alg: %v", err)
	}
	b, err := os.ReadFile(c.fs.Arg(0))
	if err != nil {
		return c.fail("read: %v", err)
	}
	if canonical {
		if b, err = canon.CanonicalizeJSON(b); err != nil {
			return c.fail("canonicalize: %v", err)
		}
	}
	id, err := cidutil.Digest(alg, b)
	if err != nil {
		return c.fail("digest: %v", err)
	}
	_, _ = fmt.Fprintln(out, id)
	return 0
}
