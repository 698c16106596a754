package bootstrap

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/qslabs/schoolgate/config"
)

// InitLogger initializes the structured logger on stdout and makes it the default.
func InitLogger(level slog.Level) *slog.Logger {
	logger := NewLogger(os.Stdout, level)
	slog.SetDefault(logger)
	return logger
}

// NewLogger returns a JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// LoadConfig loads configuration from environment variables and validates it.
func LoadConfig() (config.AppConfig, error) {
	cfg, err := ParseConfig()
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ParseConfig loads and sanitizes configuration without validating it. Tools
// that only touch the database or registry use it so they do not need
// server-only settings such as the signing key.
func ParseConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// SigningKey returns the configured cookie signing key. In dev mode an empty
// key is replaced by a random one, so sessions do not survive a restart.
func SigningKey(cfg *config.AppConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.Session.SigningKey != "" {
		return []byte(cfg.Session.SigningKey), nil
	}
	if !cfg.IsDev {
		return nil, errors.New("SESSION_SIGNING_KEY is required outside dev mode")
	}
	key := make([]byte, config.MinSigningKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	if logger != nil {
		logger.Warn("SESSION_SIGNING_KEY not set; using a random key for this process")
	}
	return key, nil
}
