// Package config loads settings for the pclx tools.
//
// Settings come from one YAML file named by the --config flag or the
// PCLX_CONFIG environment variable. PCLX_* variables override individual
// values after the file is read. Without a file the defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/sig"
)

// EnvConfig names the variable holding the config file path.
const EnvConfig = "PCLX_CONFIG"

type Config struct {
	Keys    KeysConfig    `yaml:"keys"`
	Signing SigningConfig `yaml:"signing"`
	Archive ArchiveConfig `yaml:"archive"`
	Logging LoggingConfig `yaml:"logging"`
}

type KeysConfig struct {
	// Directory holds the key store. Default: ~/.pclx/keys
	Directory string `yaml:"directory"`

	// Name is the key used when a command is given none.
	Name string `yaml:"name"`

	// Algorithm for new keys: EdDSA or ML-DSA-65.
	Algorithm string `yaml:"algorithm"`
}

type SigningConfig struct {
	// DigestAlgorithm names the multihash used for contentDigest.
	DigestAlgorithm string `yaml:"digest_algorithm"`

	// Scope is the verification policy: content-bound or envelope.
	Scope string `yaml:"scope"`
}

type ArchiveConfig struct {
	// Directory is the local archive root.
	Directory string `yaml:"directory"`

	// Address is the archive daemon's gRPC listen or dial address.
	Address string `yaml:"address"`

	// Timeout bounds each archive RPC.
	Timeout string `yaml:"timeout"`

	// MaxMsgBytes caps gRPC message sizes when non-zero.
	MaxMsgBytes int `yaml:"max_msg_bytes"`
}

type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `yaml:"level"`

	// Development selects zap's human-readable console encoder.
	Development bool `yaml:"development"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".pclx")

	return &Config{
		Keys: KeysConfig{
			Directory: filepath.Join(root, "keys"),
			Name:      "default",
			Algorithm: "EdDSA",
		},
		Signing: SigningConfig{
			DigestAlgorithm: string(cidutil.DefaultAlgorithm),
			Scope:           sig.ScopeContentBound.String(),
		},
		Archive: ArchiveConfig{
			Directory: filepath.Join(root, "archive"),
			Address:   "127.0.0.1:7465",
			Timeout:   "10s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path, or the file named by PCLX_CONFIG when path is empty, on
// top of the defaults and then applies environment overrides. The result is
// not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.expandPaths()
	return cfg, nil
}

// envOverrides maps each PCLX_* variable to the field it sets.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"PCLX_KEY_DIR":          &c.Keys.Directory,
		"PCLX_KEY_NAME":         &c.Keys.Name,
		"PCLX_ALGORITHM":        &c.Keys.Algorithm,
		"PCLX_DIGEST_ALGORITHM": &c.Signing.DigestAlgorithm,
		"PCLX_SCOPE":            &c.Signing.Scope,
		"PCLX_ARCHIVE_DIR":      &c.Archive.Directory,
		"PCLX_ARCHIVE_ADDR":     &c.Archive.Address,
		"PCLX_ARCHIVE_TIMEOUT":  &c.Archive.Timeout,
		"PCLX_LOG_LEVEL":        &c.Logging.Level,
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for name, field := range c.envOverrides() {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}
}

// expandPaths expands $VAR and ${VAR} in directory settings.
func (c *Config) expandPaths() {
	c.Keys.Directory = os.ExpandEnv(c.Keys.Directory)
	c.Archive.Directory = os.ExpandEnv(c.Archive.Directory)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Keys.Directory == "" {
		errs = append(errs, errors.New("keys.directory is required"))
	}
	if c.Keys.Name != "" {
		if err := keys.CheckKeyName(c.Keys.Name); err != nil {
			errs = append(errs, fmt.Errorf("keys.name: %w", err))
		}
	}
	if _, err := keys.ParseAlgorithm(c.Keys.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("keys.algorithm: %w", err))
	}
	if _, err := cidutil.ParseAlgorithm(c.Signing.DigestAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("signing.digest_algorithm: %w", err))
	}
	if _, err := sig.ParseScope(c.Signing.Scope); err != nil {
		errs = append(errs, fmt.Errorf("signing.scope: %w", err))
	}
	if c.Archive.Timeout != "" {
		if d, err := time.ParseDuration(c.Archive.Timeout); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("archive.timeout: invalid duration %q", c.Archive.Timeout))
		}
	}
	if c.Archive.MaxMsgBytes < 0 {
		errs = append(errs, errors.New("archive.max_msg_bytes must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ArchiveTimeout returns the parsed archive timeout, zero when unset.
func (c *Config) ArchiveTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Archive.Timeout)
	return d
}

// Scope returns the parsed verification scope.
func (c *Config) Scope() (sig.Scope, error) {
	return sig.ParseScope(c.Signing.Scope)
}

// DigestAlgorithm returns the parsed content digest algorithm.
func (c *Config) DigestAlgorithm() (cidutil.DigestAlgorithm, error) {
	return cidutil.ParseAlgorithm(c.Signing.DigestAlgorithm)
}

// NewLogger builds a zap logger writing to stderr at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
