// Package config loads the agent configuration.
//
// Configuration is read from a single YAML file named by the --config flag or
// the SECRETAGENT_CONFIG environment variable. A missing file at the default
// location yields the defaults. SECRETAGENT_SOCKET and SECRETAGENT_LOG_LEVEL
// override the corresponding file values, and command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/plugin"
)

const (
	EnvConfig   = "SECRETAGENT_CONFIG"
	EnvSocket   = "SECRETAGENT_SOCKET"
	EnvLogLevel = "SECRETAGENT_LOG_LEVEL"
)

// Config is the agent configuration.
type Config struct {
	// SocketPath is where the agent listens.
	// Default: ~/.secretagent/socket.ssh
	SocketPath string `yaml:"socket_path"`

	// PublicKeyDir holds exported public keys and user-supplied certificates.
	// Default: ~/.secretagent/PublicKeys
	PublicKeyDir string `yaml:"public_key_dir"`

	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Stores are consulted in order. The first store holding a matching
	// secret signs.
	Stores []StoreConfig `yaml:"stores"`

	Witness WitnessConfig `yaml:"witness"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address is the listen address for /metrics. Empty disables the endpoint.
	Address string `yaml:"address"`
}

// RateLimitConfig throttles requests per session. Zero disables throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StoreConfig describes one secret store.
type StoreConfig struct {
	Kind           string   `yaml:"kind"`
	Name           string   `yaml:"name"`
	Service        string   `yaml:"service"`
	Backends       []string `yaml:"backends"`
	FileDir        string   `yaml:"file_dir"`
	PasswordEnv    string   `yaml:"password_env"`
	Authentication string   `yaml:"authentication"`
	Socket         string   `yaml:"socket"`
}

// WitnessConfig selects the witnesses consulted around each signature.
type WitnessConfig struct {
	// Audit logs every signature request.
	Audit bool `yaml:"audit"`

	// AllowedOrigins are glob patterns matched against the requesting
	// application. Empty allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RequireIntact refuses requests whose process chain is not fully
	// verified.
	RequireIntact bool `yaml:"require_intact"`

	Policy *PolicyConfig `yaml:"policy,omitempty"`
}

// PolicyConfig names a policy plugin.
type PolicyConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// DefaultPath returns ~/.secretagent/config.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".secretagent", "config.yaml")
}

// Default returns the configuration used when no file exists: one keyring
// store and an audit log.
func Default() *Config {
	base := filepath.Join(homeDir(), ".secretagent")
	return &Config{
		SocketPath:   filepath.Join(base, "socket.ssh"),
		PublicKeyDir: filepath.Join(base, "PublicKeys"),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stores: []StoreConfig{
			{Kind: "keyring", Name: "keyring", Service: "secretagent"},
		},
		Witness: WitnessConfig{Audit: true},
	}
}

// Load reads the configuration at path on top of the defaults. An empty path
// means SECRETAGENT_CONFIG, then DefaultPath. Only an explicitly named file
// must exist. Environment overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath()
		explicit = false
	}

	cfg := Default()
	data, err := os.ReadFile(expandHome(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSocket); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) expandPaths() {
	c.SocketPath = expandHome(c.SocketPath)
	c.PublicKeyDir = expandHome(c.PublicKeyDir)
	for i := range c.Stores {
		c.Stores[i].FileDir = expandHome(c.Stores[i].FileDir)
		c.Stores[i].Socket = expandHome(c.Stores[i].Socket)
	}
	if c.Witness.Policy != nil {
		c.Witness.Policy.Path = expandHome(c.Witness.Policy.Path)
	}
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	var errs []error
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.PublicKeyDir == "" {
		errs = append(errs, errors.New("public_key_dir is required"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}

	kinds := keystore.ListRegisteredKinds()
	names := make(map[string]bool)
	for i, s := range c.Stores {
		if !slices.Contains(kinds, s.Kind) {
			errs = append(errs, fmt.Errorf("stores[%d]: unsupported kind %q (available: %s)", i, s.Kind, strings.Join(kinds, ", ")))
		}
		if _, err := keystore.ParseAuthenticationRequirement(s.Authentication); err != nil {
			errs = append(errs, fmt.Errorf("stores[%d]: %w", i, err))
		}
		if s.Kind == "proxy" && s.Socket == "" {
			errs = append(errs, fmt.Errorf("stores[%d]: proxy store requires socket", i))
		}
		name := s.Name
		if name == "" {
			name = s.Kind
		}
		if names[name] {
			errs = append(errs, fmt.Errorf("stores[%d]: duplicate store name %q", i, name))
		}
		names[name] = true
	}

	if p := c.Witness.Policy; p != nil {
		if !slices.Contains(plugin.ListRegisteredKinds(), p.Kind) {
			errs = append(errs, fmt.Errorf("witness.policy: unsupported kind %q", p.Kind))
		}
		if p.Path == "" {
			errs = append(errs, errors.New("witness.policy: path is required"))
		}
	}
	return errors.Join(errs...)
}

// StoreOptions converts s to the options used to build the store.
func (s StoreConfig) StoreOptions() (keystore.Options, error) {
	auth, err := keystore.ParseAuthenticationRequirement(s.Authentication)
	if err != nil {
		return keystore.Options{}, err
	}
	return keystore.Options{
		Kind:           s.Kind,
		Name:           s.Name,
		Service:        s.Service,
		Backends:       s.Backends,
		FileDir:        s.FileDir,
		PasswordEnv:    s.PasswordEnv,
		Authentication: auth,
		Socket:         s.Socket,
	}, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
