// Package config loads and validates relay and focus-client configuration
// from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the relay server configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Liveness and retention.
	SweepInterval time.Duration
	StatusTTL     time.Duration // 0 disables eviction of idle records.
	MaxFrameBytes int64

	// Rate limiting on /status and /ws.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads relay configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.Port, err = envInt("RELAY_PORT", 8787)
	collect(err)
	cfg.ReadTimeout, err = envDuration("RELAY_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("RELAY_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.SweepInterval, err = envDuration("RELAY_SWEEP_INTERVAL", 30*time.Second)
	collect(err)
	cfg.StatusTTL, err = envDuration("RELAY_STATUS_TTL", 0)
	collect(err)
	maxFrame, err := envInt("RELAY_MAX_FRAME_BYTES", 64*1024)
	collect(err)
	cfg.MaxFrameBytes = int64(maxFrame)
	cfg.RateLimitEnabled, err = envBool("RELAY_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("RELAY_RATE_LIMIT_RPS", 20)
	collect(err)
	cfg.RateLimitBurst, err = envInt("RELAY_RATE_LIMIT_BURST", 40)
	collect(err)
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "cramsino-relay")
	cfg.LogLevel = envStr("RELAY_LOG_LEVEL", "info")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: RELAY_PORT must be in 1..65535")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: RELAY_SWEEP_INTERVAL must be positive")
	}
	if c.StatusTTL < 0 {
		return fmt.Errorf("config: RELAY_STATUS_TTL must not be negative")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("config: RELAY_MAX_FRAME_BYTES must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: RELAY_RATE_LIMIT_RPS and RELAY_RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// FocusConfig holds the focus client configuration. CLI flags override it.
type FocusConfig struct {
	RelayURL     string
	ClientID     string
	PollInterval time.Duration
	PollTimeout  time.Duration

	// StatePath is the SQLite file holding the ledger and quest record.
	// DatabaseURL, when set, selects Postgres instead.
	StatePath   string
	DatabaseURL string

	QuestURL   string
	QuestCount int
}

// LoadFocus reads focus client configuration from environment variables.
func LoadFocus() (FocusConfig, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg FocusConfig
	var err error

	cfg.PollInterval, err = envDuration("FOCUS_POLL_INTERVAL", 2*time.Second)
	collect(err)
	cfg.PollTimeout, err = envDuration("FOCUS_POLL_TIMEOUT", 1500*time.Millisecond)
	collect(err)
	cfg.QuestCount, err = envInt("FOCUS_QUEST_COUNT", 2)
	collect(err)

	cfg.RelayURL = envStr("FOCUS_RELAY_URL", "http://localhost:8787")
	cfg.ClientID = envStr("FOCUS_CLIENT_ID", "")
	cfg.StatePath = envStr("FOCUS_STATE_PATH", defaultStatePath())
	cfg.DatabaseURL = envStr("FOCUS_DATABASE_URL", "")
	cfg.QuestURL = envStr("FOCUS_QUEST_URL", "")

	if len(errs) > 0 {
		return FocusConfig{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return FocusConfig{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c FocusConfig) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("config: FOCUS_RELAY_URL is required")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("config: FOCUS_POLL_INTERVAL must be at least 1s")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("config: FOCUS_POLL_TIMEOUT must be positive")
	}
	if c.QuestCount < 1 {
		return fmt.Errorf("config: FOCUS_QUEST_COUNT must be at least 1")
	}
	return nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cramsino.db"
	}
	return dir + string(os.PathSeparator) + "cramsino" + string(os.PathSeparator) + "focus.db"
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
