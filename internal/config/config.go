package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in store.backend.
const (
	BackendLog    = "log"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the tagvault configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig selects and parameterizes the storage backend. Namespace is a
// tenant suffix applied to the storage identifier (log path, sqlite file,
// redis key prefix) so multiple logical stores can share one physical host.
type StoreConfig struct {
	Backend   string      `yaml:"backend"` // log, sqlite, redis (default: log)
	Namespace string      `yaml:"namespace"`
	Log       LogConfig   `yaml:"log"`
	SQLite    SQLConfig   `yaml:"sqlite"`
	Redis     RedisConfig `yaml:"redis"`
}

// LogConfig holds append-only log backend settings.
type LogConfig struct {
	Path string `yaml:"path"`
}

// SQLConfig holds SQLite backend settings.
type SQLConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds document backend connection settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := filepath.Join("config", fmt.Sprintf("%s.yaml", env))

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse parses configuration bytes, expanding ${VAR} and ${VAR:-default}
// references before unmarshalling.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendLog
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = "default"
	}
	if c.Store.Log.Path == "" {
		c.Store.Log.Path = "tagvault.db"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "tagvault.sqlite"
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "tagvault:"
	}
	if c.Store.Redis.ReadinessTimeout <= 0 {
		c.Store.Redis.ReadinessTimeout = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Store.Backend {
	case BackendLog, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("store.backend must be %q, %q or %q, got %q",
			BackendLog, BackendSQLite, BackendRedis, c.Store.Backend)
	}
	if c.Store.Backend == BackendRedis && len(c.Store.Redis.Addrs) == 0 {
		return fmt.Errorf("store.redis.addrs is required for the redis backend")
	}
	if strings.ContainsAny(c.Store.Namespace, " /") {
		return fmt.Errorf("store.namespace must not contain spaces or slashes, got %q", c.Store.Namespace)
	}
	return nil
}

// LogPath returns the namespaced append-only log path.
func (c *Config) LogPath() string {
	return c.Store.Log.Path + "_" + c.Store.Namespace
}

// SQLitePath returns the namespaced SQLite file path.
func (c *Config) SQLitePath() string {
	return c.Store.SQLite.Path + "_" + c.Store.Namespace
}

// RedisPrefix returns the namespaced Redis key prefix.
func (c *Config) RedisPrefix() string {
	return c.Store.Redis.KeyPrefix + c.Store.Namespace + ":"
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
