package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported speech engines.
const (
	EngineSystem   = "system"
	EngineDeepgram = "deepgram"
	EngineCartesia = "cartesia"
)

var (
	// ErrMissingUsername is returned when the live room identifier is not configured.
	ErrMissingUsername = errors.New("USERNAME is required")
	// ErrMissingAPIKey is returned when the upstream credential is not configured.
	ErrMissingAPIKey = errors.New("API_KEY is required")
)

// Config holds all configuration for the listener and the signing proxy
type Config struct {
	// Live room
	Username    string `envconfig:"USERNAME"`
	APIKey      string `envconfig:"API_KEY"`
	LiveFeedURL string `envconfig:"LIVE_FEED_URL" default:"wss://ws.eulerstream.com"`

	// Connection lifecycle
	ConnectMaxAttempts   int `envconfig:"CONNECT_MAX_ATTEMPTS" default:"8"`
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"6"`
	ConnectBackoff       int `envconfig:"CONNECT_BACKOFF" default:"1200"`      // Initial backoff in milliseconds
	ConnectMaxBackoff    int `envconfig:"CONNECT_MAX_BACKOFF" default:"15000"` // Backoff cap in milliseconds
	ReconnectDelay       int `envconfig:"RECONNECT_DELAY" default:"3000"`      // Delay before reconnecting in milliseconds
	ConnectTimeout       int `envconfig:"CONNECT_TIMEOUT" default:"10"`        // seconds

	// Speech
	Voice      string  `envconfig:"VOICE" default:""`
	Rate       float64 `envconfig:"RATE" default:"1.0"`
	ReadChat   bool    `envconfig:"READ_CHAT" default:"true"`
	ReadGifts  bool    `envconfig:"READ_GIFTS" default:"true"`
	MinLen     int     `envconfig:"MIN_LEN" default:"1"`
	MaxLen     int     `envconfig:"MAX_LEN" default:"180"`
	ChatPause  int     `envconfig:"CHAT_PAUSE" default:"500"`    // milliseconds
	GiftPause  int     `envconfig:"GIFT_PAUSE" default:"400"`    // milliseconds
	InputPause int     `envconfig:"INPUT_PAUSE" default:"0"`     // milliseconds
	TTSEngine  string  `envconfig:"TTS_ENGINE" default:"system"` // system, deepgram, cartesia
	TTSCommand string  `envconfig:"TTS_COMMAND" default:""`      // Overrides say/espeak-ng
	TTSPlayer  string  `envconfig:"TTS_PLAYER" default:"ffplay"` // Plays files produced by remote engines
	TTSTimeout int     `envconfig:"TTS_TIMEOUT" default:"60"`    // seconds

	// Remote speech engines
	DeepgramAPIKey  string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel   string `envconfig:"DEEPGRAM_MODEL" default:"aura-asteria-en"`
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:""`

	// Signing proxy
	Port                string `envconfig:"PORT" default:"8080"`
	UpstreamBase        string `envconfig:"UPSTREAM_BASE" default:"https://tiktok.eulerstream.com"`
	UpstreamTimeout     int    `envconfig:"UPSTREAM_TIMEOUT" default:"15"` // seconds
	MaxBodyBytes        int64  `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	BreakerMaxFailures  int    `envconfig:"BREAKER_MAX_FAILURES" default:"5"`   // 0 disables the breaker
	BreakerResetTimeout int    `envconfig:"BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability configuration
	StatusPort     string `envconfig:"STATUS_PORT" default:""`      // Listener /metrics and /ready, off when empty
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""` // grpc.health.v1 server, off when empty
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Username = strings.TrimPrefix(strings.TrimSpace(c.Username), "@")
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.APIKey == "" {
		c.APIKey = strings.TrimSpace(os.Getenv("EULER_API_KEY"))
	}
	c.UpstreamBase = strings.TrimRight(strings.TrimSpace(c.UpstreamBase), "/")
	c.TTSEngine = strings.ToLower(strings.TrimSpace(c.TTSEngine))

	if c.MinLen < 1 {
		c.MinLen = 1
	}
}

func (c *Config) validate() error {
	if c.MaxLen < 2 {
		return fmt.Errorf("MAX_LEN must be at least 2, got %d", c.MaxLen)
	}
	if c.MinLen > c.MaxLen {
		return fmt.Errorf("MIN_LEN (%d) must not exceed MAX_LEN (%d)", c.MinLen, c.MaxLen)
	}
	if c.Rate <= 0 {
		return fmt.Errorf("RATE must be positive, got %v", c.Rate)
	}
	if c.ConnectMaxAttempts < 1 || c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("CONNECT_MAX_ATTEMPTS and RECONNECT_MAX_ATTEMPTS must be at least 1")
	}

	switch c.TTSEngine {
	case EngineSystem, EngineDeepgram, EngineCartesia:
	default:
		return fmt.Errorf("unsupported TTS_ENGINE %q", c.TTSEngine)
	}

	return nil
}

// ValidateListener checks the settings the live listener cannot start without.
func (c *Config) ValidateListener() error {
	if c.Username == "" {
		return ErrMissingUsername
	}
	if c.TTSEngine == EngineDeepgram && c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required for TTS_ENGINE=%s", EngineDeepgram)
	}
	if c.TTSEngine == EngineCartesia && c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required for TTS_ENGINE=%s", EngineCartesia)
	}
	return nil
}

// ValidateProxy checks the settings the signing proxy cannot start without.
func (c *Config) ValidateProxy() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.UpstreamBase == "" {
		return fmt.Errorf("UPSTREAM_BASE is required")
	}
	return nil
}

// ConnectTimeoutDuration bounds a single live session connect attempt.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// UpstreamTimeoutDuration bounds a single proxied upstream call.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Second
}

// TTSTimeoutDuration bounds a single synthesis call.
func (c *Config) TTSTimeoutDuration() time.Duration {
	return time.Duration(c.TTSTimeout) * time.Second
}

// Millis converts a millisecond setting into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
