// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Transport kinds accepted in TRANSPORT.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
	TransportGRPC      = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Transport    string        `env:"TRANSPORT" env-default:"http"`
	ChatURL      string        `env:"CHAT_URL" env-default:"http://localhost:8090/api/chat"`
	ChatWSURL    string        `env:"CHAT_WS_URL" env-default:"ws://localhost:8090/ws/chat"`
	ChatGRPCAddr string        `env:"CHAT_GRPC_ADDR" env-default:"localhost:8091"`
	UploadURL    string        `env:"UPLOAD_URL" env-default:"http://localhost:8090/api/upload"`
	AuthToken    string        `env:"AUTH_TOKEN" env-default:"dev-token"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT" env-default:"2m"`
	Greeting     string        `env:"GREETING" env-default:"Hi! Send me a message or an image."`
	HistoryDB    string        `env:"HISTORY_DB_PATH" env-default:"./data/history.db"`
	LogLevel     string        `env:"LOG_LEVEL" env-default:"info"`

	Retry           RetryConfig
	Media           MediaConfig
	ConversationLog ConversationLogConfig
	Dev             DevConfig
}

// RetryConfig controls automatic text-send retries.
type RetryConfig struct {
	MaxRetries int           `env:"RETRY_MAX" env-default:"3"`
	BaseDelay  time.Duration `env:"RETRY_BASE_DELAY" env-default:"1s"`
}

// MediaConfig controls image validation and re-encoding.
type MediaConfig struct {
	MaxBytes         int64  `env:"MEDIA_MAX_BYTES" env-default:"10485760"`
	PrimaryEdge      int    `env:"MEDIA_PRIMARY_EDGE" env-default:"1280"`
	PrimaryQuality   int    `env:"MEDIA_PRIMARY_QUALITY" env-default:"80"`
	ThumbnailEdge    int    `env:"MEDIA_THUMB_EDGE" env-default:"320"`
	ThumbnailQuality int    `env:"MEDIA_THUMB_QUALITY" env-default:"60"`
	CacheDir         string `env:"MEDIA_CACHE_DIR" env-default:"./data/media"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED" env-default:"true"`
	Dir           string `env:"CONVERSATION_LOG_DIR" env-default:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" env-default:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH" env-default:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE" env-default:"1000"`
}

// DevConfig configures the local companion backend.
type DevConfig struct {
	Port        string `env:"DEV_PORT" env-default:"8090"`
	GRPCPort    string `env:"DEV_GRPC_PORT" env-default:"8091"`
	UploadDir   string `env:"DEV_UPLOAD_DIR" env-default:"./data/uploads"`
	PublicURL   string `env:"DEV_PUBLIC_URL" env-default:"http://localhost:8090"`
	FailFirst   int    `env:"DEV_FAIL_FIRST" env-default:"0"`
	RateLimit   int    `env:"DEV_RATE_LIMIT" env-default:"30"`
	FrontendURL string `env:"FRONTEND_URL" env-default:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportHTTP:
		if c.ChatURL == "" {
			errs = append(errs, errors.New("CHAT_URL cannot be empty"))
		}
	case TransportWebSocket:
		if c.ChatWSURL == "" {
			errs = append(errs, errors.New("CHAT_WS_URL cannot be empty"))
		}
	case TransportGRPC:
		if c.ChatGRPCAddr == "" {
			errs = append(errs, errors.New("CHAT_GRPC_ADDR cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSPORT must be http, ws or grpc, got %q", c.Transport))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be > 0"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("RETRY_MAX must be >= 0"))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY must be > 0"))
	}
	if c.Media.MaxBytes <= 0 {
		errs = append(errs, errors.New("MEDIA_MAX_BYTES must be > 0"))
	}
	if c.Media.PrimaryQuality < 1 || c.Media.PrimaryQuality > 100 {
		errs = append(errs, errors.New("MEDIA_PRIMARY_QUALITY must be in 1..100"))
	}
	if c.Media.ThumbnailQuality < 1 || c.Media.ThumbnailQuality > 100 {
		errs = append(errs, errors.New("MEDIA_THUMB_QUALITY must be in 1..100"))
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		errs = append(errs, errors.New("CONVERSATION_LOG_DIR cannot be empty"))
	}
	if c.ConversationLog.QueueSize <= 0 {
		errs = append(errs, errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0"))
	}
	if c.Dev.FailFirst < 0 {
		errs = append(errs, errors.New("DEV_FAIL_FIRST must be >= 0"))
	}
	return errors.Join(errs...)
}

// Level parses LOG_LEVEL, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// IsDevelopment returns true if the dev server has no public frontend.
func (c *Config) IsDevelopment() bool {
	return c.Dev.FrontendURL == "" ||
		strings.Contains(c.Dev.FrontendURL, "localhost") ||
		strings.Contains(c.Dev.FrontendURL, "127.0.0.1")
}
