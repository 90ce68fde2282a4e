package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string `envconfig:"DB_PATH" default:"media_downloader.db"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Engine struct {
		AutoInstall  bool `split_words:"true" default:"true"`
		Verbose      bool `split_words:"true" default:"false"`
		FlatPlaylist bool `split_words:"true" default:"false"`
	}

	TempFiles struct {
		BaseDir        string        `split_words:"true"`
		TTL            time.Duration `envconfig:"TTL" default:"1h"`
		SweepInterval  time.Duration `split_words:"true" default:"5m"`
		DeleteAttempts int           `split_words:"true" default:"5"`
		RetryDelay     time.Duration `split_words:"true" default:"1s"`
	} `split_words:"true"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:5111"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"media_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads an optional .env file and environment variables, and populates the Config struct.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values envconfig cannot express as tags.
func (c *Config) Validate() error {
	if c.TempFiles.TTL <= 0 {
		return fmt.Errorf("TEMP_FILES_TTL must be positive, got %s", c.TempFiles.TTL)
	}

	if c.TempFiles.SweepInterval <= 0 {
		return fmt.Errorf("TEMP_FILES_SWEEP_INTERVAL must be positive, got %s", c.TempFiles.SweepInterval)
	}

	if c.TempFiles.DeleteAttempts < 1 {
		return fmt.Errorf("TEMP_FILES_DELETE_ATTEMPTS must be at least 1, got %d", c.TempFiles.DeleteAttempts)
	}

	if c.TempFiles.RetryDelay < 0 {
		return fmt.Errorf("TEMP_FILES_RETRY_DELAY must not be negative, got %s", c.TempFiles.RetryDelay)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
