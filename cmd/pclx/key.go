package main

import (
	"fmt"
	"io"

	"github.com/gb-murray/pcl-exchange/keys"
)

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "pclx key: local signing keys")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pclx key init [--name <name>] [--alg EdDSA|ML-DSA-65] [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  pclx key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  pclx key list")
	fmt.Fprintln(w, "  pclx key export [--name <name>] [--role <role>]")
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("key init", out, errOut)
	var name, algName, seedHex string
	var force bool
	c.fs.StringVar(&name, "name", "", "Key name (default keys.name from config)")
	c.fs.StringVar(&algName, "alg", "", "Signature algorithm (default keys.algorithm from config)")
	c.fs.StringVar(&seedHex, "seed-hex", "", "Optional seed as 64 hex chars (for reproducible demos)")
	c.fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	if !c.parse(args) {
		return 2
	}

	cfg, _, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	name = keyName(cfg, name)
	if err := keys.CheckKeyName(name); err != nil {
		return c.usageError("invalid --name: %v", err)
	}
	if algName == "" {
		algName = cfg.Keys.Algorithm
	}
	alg, err := keys.ParseAlgorithm(algName)
	if err != nil {
		return c.usageError("invalid --alg: %v", err)
	}
	var seed []byte
	if seedHex != "" {
		if seed, err = keys.ParseSeedHex(seedHex); err != nil {
			return c.usageError("invalid --seed-hex: %v", err)
		}
	}

	ks, err := keyStore(cfg)
	if err != nil {
		return c.fail("keys: %v", err)
	}
	key, path, err := ks.Init(name, alg, seed, force)
	if err != nil {
		return c.fail("write key: %v", err)
	}
	fmt.Fprintf(out, "Created root key: %s (%s)\n", key.KeyID(), key.Algorithm())
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("key derive", out, errOut)
	var from, role string
	var force bool
	c.fs.StringVar(&from, "from", "", "Root key name (default keys.name from config)")
	c.fs.StringVar(&role, "role", "", "Role identifier (e.g. sender, approver)")
	c.fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	if !c.parse(args) {
		return 2
	}
	if role == "" {
		return c.usageError("missing --role")
	}
	if err := keys.CheckRole(role); err != nil {
		return c.usageError("invalid --role: %v", err)
	}

	cfg, _, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	from = keyName(cfg, from)
	if err := keys.CheckKeyName(from); err != nil {
		return c.usageError("invalid --from: %v", err)
	}
	ks, err := keyStore(cfg)
	if err != nil {
		return c.fail("keys: %v", err)
	}
	key, path, err := ks.Derive(from, role, force)
	if err != nil {
		return c.fail("derive role key: %v", err)
	}
	fmt.Fprintf(out, "Created role key: %s (%s)\n", key.KeyID(), key.Algorithm())
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("key export", out, errOut)
	var name, role string
	c.fs.StringVar(&name, "name", "", "Key name (default keys.name from config)")
	c.fs.StringVar(&role, "role", "", "Optional role (if set, exports the derived role key)")
	if !c.parse(args) {
		return 2
	}

	cfg, _, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	ks, err := keyStore(cfg)
	if err != nil {
		return c.fail("keys: %v", err)
	}
	jwk, err := ks.ExportPublic(keyName(cfg, name), role)
	if err != nil {
		return c.fail("export key: %v", err)
	}
	_, _ = fmt.Fprintln(out, string(jwk))
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	c := newCommand("key list", out, errOut)
	if !c.parse(args) {
		return 2
	}
	cfg, _, err := c.setup()
	if err != nil {
		return c.fail("%v", err)
	}
	ks, err := keyStore(cfg)
	if err != nil {
		return c.fail("keys: %v", err)
	}
	entries, err := ks.List()
	if err != nil {
		return c.fail("list keys: %v", err)
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\t%s\n", e.Name, e.Algorithm, e.KeyID)
		for _, r := range e.Roles {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return 0
}
