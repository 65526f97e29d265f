package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/registry"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "ADDONSYNC"

// Config contains the runtime configuration
type Config struct {
	// Installation
	InstallRoot string `toml:"install_root"`
	ScratchDir  string `toml:"scratch_dir"`

	Registry  RegistryConfig  `toml:"registry"`
	Resolver  ResolverConfig  `toml:"resolver"`
	Endpoints EndpointsConfig `toml:"endpoints"`

	// Tokens never come from the config file
	GitHubToken string `toml:"-"`
	GitLabToken string `toml:"-"`
}

// RegistryConfig selects where managed packages are persisted
type RegistryConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// ResolverConfig tunes release resolution and downloads
type ResolverConfig struct {
	CacheTTL          Duration `toml:"cache_ttl"`
	MetadataTimeout   Duration `toml:"metadata_timeout"`
	ScrapeTimeout     Duration `toml:"scrape_timeout"`
	DownloadTimeout   Duration `toml:"download_timeout"`
	Concurrency       int      `toml:"concurrency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	MaxDownloadBytes  int64    `toml:"max_download_bytes"`
}

// EndpointsConfig overrides the platform base URLs. Empty values use the
// public GitHub and GitLab hosts.
type EndpointsConfig struct {
	GitHubAPI string `toml:"github_api,omitempty"`
	GitHubWeb string `toml:"github_web,omitempty"`
	GitLabAPI string `toml:"gitlab_api,omitempty"`
	GitLabWeb string `toml:"gitlab_web,omitempty"`
}

// Duration is a time.Duration that reads and writes as "10m" in TOML
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// envOverrides is populated by envconfig from ADDONSYNC_* variables
type envOverrides struct {
	InstallRoot     string        `envconfig:"INSTALL_ROOT"`
	ScratchDir      string        `envconfig:"SCRATCH_DIR"`
	RegistryBackend string        `envconfig:"REGISTRY_BACKEND"`
	RegistryPath    string        `envconfig:"REGISTRY_PATH"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL"`
	Concurrency     int           `envconfig:"CONCURRENCY"`
	GitHubToken     string        `envconfig:"GITHUB_TOKEN"`
	GitLabToken     string        `envconfig:"GITLAB_TOKEN"`
}

// Default returns the default configuration
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		ScratchDir: filepath.Join(os.TempDir(), "addonsync"),
		Registry: RegistryConfig{
			Backend: registry.BackendFile,
			Path:    dataDir,
		},
		Resolver: ResolverConfig{
			CacheTTL:          Duration{10 * time.Minute},
			MetadataTimeout:   Duration{10 * time.Second},
			ScrapeTimeout:     Duration{25 * time.Second},
			DownloadTimeout:   Duration{30 * time.Second},
			Concurrency:       4,
			RequestsPerSecond: 5,
			MaxDownloadBytes:  256 * 1024 * 1024,
		},
	}
}

// DefaultPath returns the default location of the config file
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "addonsync", "config.toml")
	}
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".addonsync", "config.toml")
	}
	return filepath.Join(home, ".config", "addonsync", "config.toml")
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "addonsync")
	}
	home, err := homedir.Dir()
	if err != nil {
		return ".addonsync"
	}
	return filepath.Join(home, ".local", "share", "addonsync")
}

// Load reads the config file at path (a missing file yields defaults) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if env.InstallRoot != "" {
		cfg.InstallRoot = env.InstallRoot
	}
	if env.ScratchDir != "" {
		cfg.ScratchDir = env.ScratchDir
	}
	if env.RegistryBackend != "" {
		cfg.Registry.Backend = env.RegistryBackend
	}
	if env.RegistryPath != "" {
		cfg.Registry.Path = env.RegistryPath
	}
	if env.CacheTTL > 0 {
		cfg.Resolver.CacheTTL = Duration{env.CacheTTL}
	}
	if env.Concurrency > 0 {
		cfg.Resolver.Concurrency = env.Concurrency
	}
	cfg.GitHubToken = env.GitHubToken
	cfg.GitLabToken = env.GitLabToken
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.InstallRoot, err = expand(c.InstallRoot); err != nil {
		return err
	}
	if c.ScratchDir, err = expand(c.ScratchDir); err != nil {
		return err
	}
	if c.Registry.Path, err = expand(c.Registry.Path); err != nil {
		return err
	}

	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	switch c.Registry.Backend {
	case registry.BackendFile, registry.BackendSQLite:
	default:
		return fmt.Errorf("unknown registry backend %q (want %s or %s)", c.Registry.Backend, registry.BackendFile, registry.BackendSQLite)
	}
	if c.Resolver.Concurrency < 1 {
		c.Resolver.Concurrency = 1
	}
	return nil
}

func expand(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Clean(expanded), nil
}

// RequireInstallRoot returns the installation root or a ConfigurationMissing error
func (c *Config) RequireInstallRoot() (string, error) {
	if c.InstallRoot == "" {
		return "", models.NewError(models.ErrConfigurationMissing, "",
			fmt.Errorf("install_root is not configured (set it in %s or %s_INSTALL_ROOT)", DefaultPath(), EnvPrefix))
	}
	return c.InstallRoot, nil
}

// Write serializes the configuration to path, creating parent directories
func (c *Config) Write(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Redacted returns a copy of the configuration safe for display
func (c *Config) Redacted() Config {
	out := *c
	if out.GitHubToken != "" {
		out.GitHubToken = "****"
	}
	if out.GitLabToken != "" {
		out.GitLabToken = "****"
	}
	return out
}
