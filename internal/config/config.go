// Package config defines runtime defaults, validation, and loading of the
// GoChat service configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duplicate login policies.
const (
	DuplicateLoginEvict   = "evict"
	DuplicateLoginCoexist = "coexist"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// SessionConfig controls login session tokens.
type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`

	// SendQueueSize bounds each connection's outbound queue.
	SendQueueSize int `yaml:"send_queue_size"`
	// PersistQueueSize bounds the chat-message persistence backlog.
	PersistQueueSize int    `yaml:"persist_queue_size"`
	DefaultRoom      string `yaml:"default_room"`
	DuplicateLogin   string `yaml:"duplicate_login"`

	DBPath    string        `yaml:"db_path"`
	UploadDir string        `yaml:"upload_dir"`
	StaticDir string        `yaml:"static_dir"`
	Session   SessionConfig `yaml:"session"`
	Logging   LoggingConfig `yaml:"logging"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendQueueSize:    256,
		PersistQueueSize: 1024,
		DefaultRoom:      "global",
		DuplicateLogin:   DuplicateLoginEvict,
		DBPath:           "gochat.db",
		UploadDir:        "static/uploads",
		StaticDir:        "static",
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Sanitize replaces missing or out-of-range values with defaults.
func (c Config) Sanitize() Config {
	def := Default()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.PersistQueueSize <= 0 {
		c.PersistQueueSize = def.PersistQueueSize
	}
	c.DefaultRoom = strings.TrimSpace(c.DefaultRoom)
	if c.DefaultRoom == "" {
		c.DefaultRoom = def.DefaultRoom
	}
	if c.DuplicateLogin != DuplicateLoginCoexist {
		c.DuplicateLogin = DuplicateLoginEvict
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.UploadDir == "" {
		c.UploadDir = def.UploadDir
	}
	if c.StaticDir == "" {
		c.StaticDir = def.StaticDir
	}
	if c.Session.TTL < 0 {
		c.Session.TTL = 0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Validate reports configuration that cannot be defaulted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("config: session secret is required (SESSION_SECRET or session.secret)")
	}
	return nil
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and sanitizes the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	ApplyEnv(&cfg)
	return cfg.Sanitize(), nil
}

// ApplyEnv overrides cfg from environment variables. Unset or unparsable
// variables leave the current value untouched.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}
	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		cfg.SendQueueSize = parseIntValue(size, cfg.SendQueueSize)
	}
	if room := os.Getenv("DEFAULT_ROOM"); room != "" {
		cfg.DefaultRoom = room
	}
	if policy := os.Getenv("DUPLICATE_LOGIN"); policy != "" {
		cfg.DuplicateLogin = strings.ToLower(strings.TrimSpace(policy))
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		cfg.UploadDir = dir
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.Session.TTL = d
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
