package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultMaxCount       = 40
	DefaultPruneInterval  = 1 * time.Minute
	DefaultUploadInterval = 1 * time.Minute
	DefaultUploadTimeout  = 10 * time.Second
	DefaultHTTPPort       = 8080
	DefaultAuthHeader     = "x-api-key"
)

// Config is the top-level configuration for the pingvault daemon.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Uploader UploaderConfig `yaml:"uploader"`
	Server   ServerConfig   `yaml:"server"`
}

// StoreConfig configures the durable ping store and its maintenance loop.
type StoreConfig struct {
	// Dir is the directory holding one file per ping. Created if missing.
	Dir string `yaml:"dir"`

	// MaxCount is the capacity bound enforced by the prune loop. The store
	// may exceed it transiently between an insert and the next prune tick.
	MaxCount int `yaml:"max_count"`

	// PruneInterval controls how often the oldest-first eviction pass runs.
	PruneInterval time.Duration `yaml:"prune_interval"`

	// CorruptPolicy selects what enumeration does with an undecodable ping
	// file: warn | ignore | quarantine.
	CorruptPolicy string `yaml:"corrupt_policy"`
}

// UploaderConfig configures delivery of stored pings to the collector.
type UploaderConfig struct {
	// Endpoint is the collector base URL each ping's destination path is
	// joined to. Empty disables the uploader (store + API only).
	Endpoint string `yaml:"endpoint"`

	// Interval controls how often an upload cycle runs.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds one ping's HTTP request.
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures how the uploader authenticates to the collector.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the outbound authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields — used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields — used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Bearer token fields — used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields — used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds outbound TLS options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ServerConfig configures the daemon's HTTP surface (API, ws hub, metrics).
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics, and the ws hub listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures authentication of incoming API requests.
	Auth ServerAuthConfig `yaml:"auth"`
}

// ServerAuthConfig configures inbound API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the request header carrying the key. Defaults to x-api-key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the expected inbound API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name or the default.
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAuthHeader
	}
	return a.Header
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Store: StoreConfig{
			MaxCount:      DefaultMaxCount,
			PruneInterval: DefaultPruneInterval,
		},
		Uploader: UploaderConfig{
			Interval: DefaultUploadInterval,
			Timeout:  DefaultUploadTimeout,
		},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if cfg.Store.MaxCount <= 0 {
		return fmt.Errorf("store.max_count must be positive")
	}
	if cfg.Store.PruneInterval <= 0 {
		return fmt.Errorf("store.prune_interval must be positive")
	}
	switch cfg.Store.CorruptPolicy {
	case "", "warn", "ignore", "quarantine":
	default:
		return fmt.Errorf("store.corrupt_policy: unknown policy %q", cfg.Store.CorruptPolicy)
	}

	if cfg.Uploader.Endpoint != "" {
		u, err := url.Parse(cfg.Uploader.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("uploader.endpoint %q is not an http(s) URL", cfg.Uploader.Endpoint)
		}
		if cfg.Uploader.Interval <= 0 {
			return fmt.Errorf("uploader.interval must be positive")
		}
		if cfg.Uploader.Timeout <= 0 {
			return fmt.Errorf("uploader.timeout must be positive")
		}
	}
	switch cfg.Uploader.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("uploader.auth: unknown mode %q", cfg.Uploader.Auth.Mode)
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}

	return nil
}
