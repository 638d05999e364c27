// Package config loads the settings shared by the command line tools: an
// optional YAML file, overridden by environment variables, overridden by
// flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/tinfoilsh/e2e-delegation/dataowner"
	"github.com/tinfoilsh/e2e-delegation/keystore"
	"github.com/tinfoilsh/e2e-delegation/primitives"
)

const (
	EnvConfigFile   = "E2E_CONFIG"
	EnvDirectoryURL = "E2E_DIRECTORY_URL"
	EnvKeychainDir  = "E2E_KEYCHAIN_DIR"
	EnvBearerToken  = "E2E_BEARER_TOKEN"
	EnvUsername     = "E2E_USERNAME"
	EnvPassword     = "E2E_PASSWORD"

	KeychainMemory = "memory"
	KeychainBadger = "badger"

	SuiteRSA  = "rsa"
	SuiteHPKE = "hpke"
)

type Config struct {
	DirectoryURL string `yaml:"directoryUrl"`
	BearerToken  string `yaml:"bearerToken"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Keychain     string `yaml:"keychain"`
	KeychainDir  string `yaml:"keychainDir"`
	Suite        string `yaml:"suite"`
	RSABits      int    `yaml:"rsaBits"`
	RetryMax     int    `yaml:"retryMax"`
	Verbose      bool   `yaml:"verbose"`
}

func Default() Config {
	return Config{
		DirectoryURL: "http://localhost:8089",
		Keychain:     KeychainBadger,
		KeychainDir:  "~/.e2e-delegation/keychain",
		Suite:        SuiteRSA,
		RSABits:      primitives.DefaultRSABits,
		RetryMax:     3,
	}
}

// LoadFile reads a YAML file over the defaults. Fields absent from the file
// keep their default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	path, err := homedir.Expand(path)
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flags mirrors Config for the command line. Only flags that were set
// override the file and the environment.
type flags struct {
	set          *pflag.FlagSet
	configFile   string
	directoryURL string
	bearerToken  string
	username     string
	password     string
	keychain     string
	keychainDir  string
	suite        string
	rsaBits      int
	retryMax     int
	verbose      bool
}

func newFlags(name string) *flags {
	f := &flags{set: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	d := Default()
	f.set.StringVarP(&f.configFile, "config", "c", "", "YAML config file")
	f.set.StringVar(&f.directoryURL, "directory", d.DirectoryURL, "data owner directory URL")
	f.set.StringVar(&f.bearerToken, "token", "", "bearer token for the directory")
	f.set.StringVar(&f.username, "username", "", "basic auth user for the directory")
	f.set.StringVar(&f.password, "password", "", "basic auth password for the directory")
	f.set.StringVar(&f.keychain, "keychain", d.Keychain, "keychain backend (memory or badger)")
	f.set.StringVar(&f.keychainDir, "keychain-dir", d.KeychainDir, "badger keychain directory")
	f.set.StringVar(&f.suite, "suite", d.Suite, "asymmetric suite (rsa or hpke)")
	f.set.IntVar(&f.rsaBits, "rsa-bits", d.RSABits, "RSA key size")
	f.set.IntVar(&f.retryMax, "retry-max", d.RetryMax, "directory request retries")
	f.set.BoolVarP(&f.verbose, "verbose", "v", false, "verbose logging")
	return f
}

func (f *flags) apply(cfg *Config) {
	changed := f.set.Changed
	if changed("directory") {
		cfg.DirectoryURL = f.directoryURL
	}
	if changed("token") {
		cfg.BearerToken = f.bearerToken
	}
	if changed("username") {
		cfg.Username = f.username
	}
	if changed("password") {
		cfg.Password = f.password
	}
	if changed("keychain") {
		cfg.Keychain = f.keychain
	}
	if changed("keychain-dir") {
		cfg.KeychainDir = f.keychainDir
	}
	if changed("suite") {
		cfg.Suite = f.suite
	}
	if changed("rsa-bits") {
		cfg.RSABits = f.rsaBits
	}
	if changed("retry-max") {
		cfg.RetryMax = f.retryMax
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}
}

// ApplyEnv overrides cfg with the environment variables lookup returns.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDirectoryURL); ok && v != "" {
		c.DirectoryURL = v
	}
	if v, ok := lookup(EnvKeychainDir); ok && v != "" {
		c.KeychainDir = v
	}
	if v, ok := lookup(EnvBearerToken); ok && v != "" {
		c.BearerToken = v
	}
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
}

// Load parses args and assembles the configuration. It returns the
// positional arguments left after the flags.
func Load(name string, args []string, lookup func(string) (string, bool)) (*Config, []string, error) {
	f := newFlags(name)
	if err := f.set.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := Default()
	path := f.configFile
	if path == "" {
		path, _ = lookup(EnvConfigFile)
	}
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, nil, err
		}
	}
	cfg.ApplyEnv(lookup)
	f.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, f.set.Args(), nil
}

// Usage prints the flags Load accepts.
func Usage(name string, w io.Writer) {
	f := newFlags(name)
	f.set.SetOutput(w)
	f.set.PrintDefaults()
}

// Validate checks the enumerations and expands the keychain directory.
func (c *Config) Validate() error {
	switch c.Keychain {
	case KeychainMemory, KeychainBadger:
	default:
		return fmt.Errorf("unknown keychain backend %q", c.Keychain)
	}
	switch c.Suite {
	case SuiteRSA, SuiteHPKE:
	default:
		return fmt.Errorf("unknown suite %q", c.Suite)
	}
	if c.Suite == SuiteRSA && c.RSABits < 1024 {
		return fmt.Errorf("RSA key size %d is too small", c.RSABits)
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("password set without a username")
	}
	if c.RetryMax < 0 {
		return errors.New("retry max cannot be negative")
	}
	if c.Keychain == KeychainBadger {
		if c.KeychainDir == "" {
			return errors.New("badger keychain needs a directory")
		}
		dir, err := homedir.Expand(c.KeychainDir)
		if err != nil {
			return fmt.Errorf("invalid keychain directory: %w", err)
		}
		c.KeychainDir = filepath.Clean(dir)
	}
	return nil
}

// PrimitivesSuite returns the primitive suite the configuration names.
func (c *Config) PrimitivesSuite() primitives.Suite {
	if c.Suite == SuiteHPKE {
		return primitives.NewHPKESuite()
	}
	return primitives.NewRSASuite(c.RSABits)
}

// OpenKeychain opens the configured keychain. The returned function
// releases the underlying store.
func (c *Config) OpenKeychain() (*keystore.Keychain, func() error, error) {
	suite := c.PrimitivesSuite()
	if c.Keychain == KeychainMemory {
		return keystore.NewKeychain(keystore.NewMemoryStore(), suite), func() error { return nil }, nil
	}

	if err := os.MkdirAll(c.KeychainDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create keychain directory: %w", err)
	}
	store, err := keystore.OpenBadgerStore(keystore.BadgerConfig{Path: c.KeychainDir})
	if err != nil {
		return nil, nil, err
	}
	return keystore.NewKeychain(store, suite), store.Close, nil
}

// Directory returns an HTTP directory client for the configured URL.
func (c *Config) Directory() (*dataowner.HTTPDirectory, error) {
	return dataowner.NewHTTPDirectory(c.DirectoryURL, dataowner.HTTPOptions{
		RetryMax:    c.RetryMax,
		BearerToken: c.BearerToken,
		Username:    c.Username,
		Password:    c.Password,
		Logger:      log.StandardLogger(),
	})
}
