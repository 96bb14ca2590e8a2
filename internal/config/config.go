// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	StoreBackend    string
	DBPath          string
	RedisAddr       string
	SessionTTL      time.Duration
	SweepSchedule   string
	GRPCHealthPort  string
	Persona         string
	PersonaFile     string
	Backend         BackendConfig
	Speech          SpeechConfig
	ConversationLog ConversationLogConfig
}

// BackendConfig controls calls to the dialogue backend.
type BackendConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// SpeechConfig holds the recognition/synthesis hand-off delays.
type SpeechConfig struct {
	SettleDelay time.Duration
	RestartPoll time.Duration
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		DBPath:         getEnv("DB_PATH", "./data/widget.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 5m"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		Persona:        getEnv("PERSONA", "frank"),
		PersonaFile:    getEnv("PERSONA_FILE", ""),
		Backend: BackendConfig{
			URL:        strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8000"), "/"),
			Timeout:    getEnvDuration("BACKEND_TIMEOUT", 20*time.Second),
			MaxRetries: getEnvInt("BACKEND_MAX_RETRIES", 2),
			RetryBase:  getEnvDuration("BACKEND_RETRY_BASE", 500*time.Millisecond),
		},
		Speech: SpeechConfig{
			SettleDelay: getEnvDuration("SETTLE_DELAY", 800*time.Millisecond),
			RestartPoll: getEnvDuration("RESTART_POLL", 500*time.Millisecond),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of sqlite, redis, memory (got %q)", c.StoreBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("BACKEND_MAX_RETRIES must be >= 0")
	}
	if c.Speech.SettleDelay < 0 || c.Speech.RestartPoll <= 0 {
		return fmt.Errorf("SETTLE_DELAY must be >= 0 and RESTART_POLL > 0")
	}
	if c.Persona == "" {
		return fmt.Errorf("PERSONA cannot be empty")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
