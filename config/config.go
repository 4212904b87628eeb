package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds runtime configuration for the dashboard client.
type Config struct {
	APIBaseURL     string        `envconfig:"LMS_API_URL" default:"http://localhost:5000"`
	RequestTimeout time.Duration `envconfig:"LMS_REQUEST_TIMEOUT" default:"15s"`
	SessionDBPath  string        `envconfig:"LMS_SESSION_DB" default:"lms-session.db"`
	LogLevel       string        `envconfig:"LMS_LOG_LEVEL" default:"warn"`
}

// Load reads configuration from a .env file (when present) and the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("API base URL must be provided")
	}
	return &cfg, nil
}

// SetupLogging configures the global zerolog logger. Diagnostics go to
// stderr so they never interleave with the rendered tables on stdout.
func SetupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)
}
