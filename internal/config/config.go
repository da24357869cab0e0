package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint   = "http://localhost:8000/api/chat/stream"
	DefaultStorageKey = "session_id"
	DefaultStorePath  = "streamchat.db"
	DefaultLogDir     = "logs"
	DefaultLogLevel   = "info"

	DefaultGreeting  = "Hello! I'm your assistant. How can I help you today?"
	DefaultErrorText = "Sorry, there was an error processing your request. Please try again."
)

// Environment variables that override file values
const (
	EnvEndpoint   = "STREAMCHAT_ENDPOINT"
	EnvStorePath  = "STREAMCHAT_STORE"
	EnvStorageKey = "STREAMCHAT_STORAGE_KEY"
	EnvLogDir     = "STREAMCHAT_LOG_DIR"
	EnvLogLevel   = "STREAMCHAT_LOG_LEVEL"
	EnvTelemetry  = "STREAMCHAT_TELEMETRY"
)

var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrEmptyStorageKey = errors.New("storage key cannot be empty")
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Config holds application configuration
type Config struct {
	Endpoint   string `yaml:"endpoint"`    // URL of the streaming chat endpoint
	StorageKey string `yaml:"storage_key"` // Key the session identifier is stored under
	StorePath  string `yaml:"store_path"`  // SQLite file backing local storage

	LogDir    string `yaml:"log_dir"`
	LogLevel  string `yaml:"log_level"` // debug|info|warn|error
	Debug     bool   `yaml:"debug"`
	Telemetry bool   `yaml:"telemetry"` // Export traces and metrics to files under LogDir

	Greeting         string        `yaml:"greeting"`          // Seeded assistant message, empty to disable
	ErrorText        string        `yaml:"error_text"`        // Shown when an exchange fails
	CollapseThinking bool          `yaml:"collapse_thinking"` // Hide thinking notices once answered
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // Zero means no timeout
}

// Default returns the configuration used when nothing else is set
func Default() Config {
	return Config{
		Endpoint:   DefaultEndpoint,
		StorageKey: DefaultStorageKey,
		StorePath:  DefaultStorePath,
		LogDir:     DefaultLogDir,
		LogLevel:   DefaultLogLevel,
		Greeting:   DefaultGreeting,
		ErrorText:  DefaultErrorText,
	}
}

// Load builds a configuration from defaults, an optional YAML file and the environment.
// A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv(EnvStorageKey); v != "" {
		c.StorageKey = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvTelemetry); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvTelemetry, err)
		}
		c.Telemetry = enabled
	}
	return nil
}

// Validate reports the first problem with the configuration
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return ErrEmptyStorageKey
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}
