package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gb-murray/pcl-exchange/config"
	"github.com/gb-murray/pcl-exchange/keys"
)

// envPassphrase unlocks age-encrypted key files.
const envPassphrase = "PCLX_PASSPHRASE"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "build":
		return cmdBuild(args[1:], out, errOut)
	case "sign":
		return cmdSign(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "canon":
		return cmdCanon(args[1:], out, errOut)
	case "digest":
		return cmdDigest(args[1:], out, errOut)
	case "archive":
		return cmdArchive(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "pclx: PCL Exchange message tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pclx key init [--name <name>] [--alg EdDSA|ML-DSA-65] [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  pclx key derive [--from <name>] --role <role> [--force]")
	fmt.Fprintln(w, "  pclx key list")
	fmt.Fprintln(w, "  pclx key export [--name <name>] [--role <role>]")
	fmt.Fprintln(w, "  pclx build --request <request.jsonc> [--sign] [--name <name>] [--role <role>] [--canonical]")
	fmt.Fprintln(w, "  pclx sign --in <message.json> [--name <name>] [--role <role>] [--bind-content] [--canonical]")
	fmt.Fprintln(w, "  pclx verify --in <message.json> (--key-file <jwk> | --name <name> [--role <role>]) [--scope content-bound|envelope]")
	fmt.Fprintln(w, "  pclx canon <envelope.json>")
	fmt.Fprintln(w, "  pclx digest [--alg sha2-256|sha3-256|blake3] [--canonical] <file>")
	fmt.Fprintln(w, "  pclx archive put [--remote] [--key-file <jwk>] <message.json>")
	fmt.Fprintln(w, "  pclx archive get [--remote] <identifier>")
	fmt.Fprintln(w, "  pclx archive list")
	fmt.Fprintln(w, "  pclx archive export --out <bundle.tar> [identifier ...]")
	fmt.Fprintln(w, "  pclx archive import [--key-file <jwk>] <bundle.tar>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - every command accepts --config <file> (default $PCLX_CONFIG)")
	fmt.Fprintln(w, "  - set PCLX_PASSPHRASE to encrypt new key files and read encrypted ones")
	fmt.Fprintln(w, "  - verify exits 0 verified, 3 unsigned, 4 malformed, 5 mismatch, 6 content mismatch")
	fmt.Fprintln(w, "  - canon prints the signing input of a JSON object (its authz key removed)")
	fmt.Fprintln(w, "  - canon and --canonical write bytes without a trailing newline")
}

// command bundles a subcommand's flag set with the settings every command
// shares.
type command struct {
	fs         *pflag.FlagSet
	configPath string
	out        io.Writer
	errOut     io.Writer
}

func newCommand(name string, out, errOut io.Writer) *command {
	c := &command{
		fs:     pflag.NewFlagSet(name, pflag.ContinueOnError),
		out:    out,
		errOut: errOut,
	}
	c.fs.SetOutput(errOut)
	c.fs.StringVar(&c.configPath, "config", "", "Config file (default $PCLX_CONFIG)")
	return c
}

// parse reports false on a usage error.
func (c *command) parse(args []string) bool {
	return c.fs.Parse(args) == nil
}

func (c *command) usageError(format string, args ...any) int {
	fmt.Fprintf(c.errOut, format+"\n", args...)
	return 2
}

func (c *command) fail(format string, args ...any) int {
	fmt.Fprintf(c.errOut, format+"\n", args...)
	return 1
}

// setup loads and validates configuration and builds the logger.
func (c *command) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func keyStore(cfg *config.Config) (*keys.KeyStore, error) {
	ks, err := keys.CreateKeyStore(cfg.Keys.Directory)
	if err != nil {
		return nil, err
	}
	ks.Passphrase = os.Getenv(envPassphrase)
	return ks, nil
}

// keyName falls back to the configured default key.
func keyName(cfg *config.Config, name string) string {
	if name != "" {
		return name
	}
	return cfg.Keys.Name
}
