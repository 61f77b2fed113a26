// Package config loads CLI settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/aretw0/tinystate/internal/logging"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment key.
const Prefix = "TINYSTATE_"

// ErrParsingConfig wraps failures of the environment parser.
var ErrParsingConfig = errors.New("failed to parse configuration")

// Config holds the settings of the tinystate CLI. Cobra flags override these values.
type Config struct {
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DefaultTimeout time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"30s"` // Command state timeout when the state sets none
	HTTPAddr       string        `env:"HTTP_ADDR"`                        // Empty disables the HTTP server
	Redis          Redis         `envPrefix:"REDIS_"`
}

// Redis selects the Redis bus. An empty Addr keeps the in-memory bus.
type Redis struct {
	Addr          string `env:"ADDR"`
	Password      string `env:"PASSWORD"`
	DB            int    `env:"DB" envDefault:"0"`
	ChannelPrefix string `env:"CHANNEL_PREFIX" envDefault:"tinystate:"`
}

// Load reads the given dotenv files (".env" when none are given; a missing
// default file is ignored) and parses the environment into a Config.
// Variables already set in the environment win over dotenv values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("failed to load %v: %w", files, err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if cfg.DefaultTimeout < 0 {
		return Config{}, errors.Join(ErrParsingConfig, fmt.Errorf("negative default timeout %s", cfg.DefaultTimeout))
	}
	return cfg, nil
}

// Level returns the parsed log level.
func (c Config) Level() (slog.Level, error) {
	return logging.ParseLevel(c.LogLevel)
}
