// Package config loads broker and storage node configuration from YAML and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// PathEnv is the environment variable consulted when no --config flag is given.
const PathEnv = "CONFIG_PATH"

// ErrConfigNotFound is returned when an explicit config path does not exist.
var ErrConfigNotFound = errors.New("config file does not exist")

// Config is the broker configuration.
type Config struct {
	HTTP    HTTP    `yaml:"http" env-prefix:"HTTP_"`
	Storage Storage `yaml:"storage" env-prefix:"STORAGE_"`
	Crypto  Crypto  `yaml:"crypto" env-prefix:"CRYPTO_"`
	Health  Health  `yaml:"health" env-prefix:"HEALTH_"`
	Monitor Monitor `yaml:"monitor" env-prefix:"MONITOR_"`
	Client  Client  `yaml:"client" env-prefix:"CLIENT_"`
	Log     Log     `yaml:"log" env-prefix:"LOG_"`
}

// HTTP configures the broker API listener.
type HTTP struct {
	Addr            string        `yaml:"addr" env:"ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
	TransferTimeout time.Duration `yaml:"transfer_timeout" env:"TRANSFER_TIMEOUT" env-default:"2m"`
	MaxUploadSize   int64         `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE" env-default:"1073741824"`
}

// Storage locates the broker databases.
type Storage struct {
	NodeDB  string `yaml:"node_db" env:"NODE_DB" env-default:"nodes.db"`
	IndexDB string `yaml:"index_db" env:"INDEX_DB" env-default:"index.db"`
}

// Crypto holds the payload encryption secret.
type Crypto struct {
	Key string `yaml:"key" env:"KEY"`
}

// Health tunes probing and classification.
type Health struct {
	ProbeTimeout     time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT" env-default:"10s"`
	LatencyThreshold time.Duration `yaml:"latency_threshold" env:"LATENCY_THRESHOLD" env-default:"200ms"`
	ProbeAttempts    int           `yaml:"probe_attempts" env:"PROBE_ATTEMPTS" env-default:"3"`
	OfflineAfter     time.Duration `yaml:"offline_after" env:"OFFLINE_AFTER" env-default:"1h"`
	ResourceLimit    float64       `yaml:"resource_limit" env:"RESOURCE_LIMIT" env-default:"80"`
	FailedAuthLimit  int           `yaml:"failed_auth_limit" env:"FAILED_AUTH_LIMIT" env-default:"3"`
}

// Monitor sets the background sweep cadence.
type Monitor struct {
	PingInterval     time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" env-default:"10m"`
	ResourceInterval time.Duration `yaml:"resource_interval" env:"RESOURCE_INTERVAL" env-default:"5m"`
	Concurrency      int           `yaml:"concurrency" env:"CONCURRENCY" env-default:"8"`
}

// Client configures the node transfer client.
type Client struct {
	RetryMax       int           `yaml:"retry_max" env:"RETRY_MAX" env-default:"3"`
	RetryWaitMin   time.Duration `yaml:"retry_wait_min" env:"RETRY_WAIT_MIN" env-default:"100ms"`
	RetryWaitMax   time.Duration `yaml:"retry_wait_max" env:"RETRY_WAIT_MAX" env-default:"2s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"30s"`
	CAFile         string        `yaml:"ca_file" env:"CA_FILE"`
}

// Log sets the log level.
type Log struct {
	Level string `yaml:"level" env:"LEVEL" env-default:"info"`
}

// Load reads the config file at path and applies environment overrides.
// With an empty path only the environment and defaults are used.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("cannot read config from environment: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return &cfg, nil
}

// ResolvePath applies the priority flag > CONFIG_PATH > none.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(PathEnv)
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if len(c.Crypto.Key) < 32 {
		return errors.New("crypto.key must be at least 32 characters")
	}
	if c.Health.ProbeAttempts <= 0 {
		return errors.New("health.probe_attempts must be positive")
	}
	if c.Health.ProbeTimeout <= 0 {
		return errors.New("health.probe_timeout must be positive")
	}
	if c.Health.LatencyThreshold <= 0 {
		return errors.New("health.latency_threshold must be positive")
	}
	if c.Health.OfflineAfter <= 0 {
		return errors.New("health.offline_after must be positive")
	}
	if c.Health.ResourceLimit <= 0 || c.Health.ResourceLimit > 100 {
		return errors.New("health.resource_limit must be in (0, 100]")
	}
	if c.Health.FailedAuthLimit <= 0 {
		return errors.New("health.failed_auth_limit must be positive")
	}
	if c.Monitor.Concurrency <= 0 {
		return errors.New("monitor.concurrency must be positive")
	}
	return nil
}

// NodeConfig is the reference storage node configuration.
type NodeConfig struct {
	Addr        string `yaml:"addr" env:"NODE_ADDR" env-default:":9090"`
	DataDir     string `yaml:"data_dir" env:"NODE_DATA_DIR" env-default:"data"`
	Token       string `yaml:"token" env:"NODE_TOKEN"`
	MaxBodySize int64  `yaml:"max_body_size" env:"NODE_MAX_BODY_SIZE" env-default:"2147483648"`
	LogLevel    string `yaml:"log_level" env:"NODE_LOG_LEVEL" env-default:"info"`
}

// LoadNode reads the storage node config the same way as Load.
func LoadNode(path string) (*NodeConfig, error) {
	var cfg NodeConfig

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("cannot read node config from environment: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read node config: %w", err)
	}
	return &cfg, nil
}
