// Package config loads the odatalens CLI and server configuration from a YAML file,
// a .env file and ODATALENS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ODATALENS_"

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Client        ClientConfig        `yaml:"client"`
	Store         StoreConfig         `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type ClientConfig struct {
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UseBatch       bool          `yaml:"use_batch"`
}

type StoreConfig struct {
	// Dialect is "sqlite" or "postgres". An empty DSN disables persistence.
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
	// KeepDocuments is the number of metadata documents kept per service.
	KeepDocuments int `yaml:"keep_documents"`
}

type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type ObservabilityConfig struct {
	ServiceName  string `yaml:"service_name"`
	ServerTiming bool   `yaml:"server_timing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Client: ClientConfig{
			ProbeTimeout:   15 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Store: StoreConfig{Dialect: "sqlite", KeepDocuments: 5},
		Cache: CacheConfig{MaxEntries: 32},
		Observability: ObservabilityConfig{
			ServiceName: "odatalens",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional: "" or a missing file yields the defaults), then the
// .env file in the working directory, then the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// A missing .env is normal; variables already set in the environment win.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ODATALENS_* variables resolved by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("STORE_DIALECT"); ok {
		c.Store.Dialect = v
	}
	if v, ok := get("STORE_DSN"); ok {
		c.Store.DSN = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get("SERVICE_NAME"); ok {
		c.Observability.ServiceName = v
	}

	if v, ok := get("PROBE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sPROBE_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Client.ProbeTimeout = d
	}
	if v, ok := get("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sREQUEST_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Client.RequestTimeout = d
	}
	if v, ok := get("CACHE_MAX_ENTRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sCACHE_MAX_ENTRIES: %w", EnvPrefix, err)
		}
		c.Cache.MaxEntries = n
	}
	if v, ok := get("STORE_KEEP_DOCUMENTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSTORE_KEEP_DOCUMENTS: %w", EnvPrefix, err)
		}
		c.Store.KeepDocuments = n
	}
	if v, ok := get("SERVER_TIMING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sSERVER_TIMING: %w", EnvPrefix, err)
		}
		c.Observability.ServerTiming = b
	}
	if v, ok := get("USE_BATCH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sUSE_BATCH: %w", EnvPrefix, err)
		}
		c.Client.UseBatch = b
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Dialect) {
	case "", "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return fmt.Errorf("store.dialect %q is not supported", c.Store.Dialect)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	if c.Store.KeepDocuments < 0 {
		return fmt.Errorf("store.keep_documents must not be negative")
	}
	return nil
}
