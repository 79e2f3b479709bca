// Package config loads settings from built-in defaults, an optional YAML
// file, RECALLLOOP_* environment variables and command-line flags, each
// layer overriding the one before.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/recallloop/internal/sm2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RECALLLOOP_"

// Config holds all configuration for the application.
type Config struct {
	DB        DBConfig    `koanf:"db"`
	Log       LogConfig   `koanf:"log"`
	HTTP      HTTPConfig  `koanf:"http"`
	Scheduler sm2.Params  `koanf:"scheduler"`
	Deck      DeckConfig  `koanf:"deck"`
	Stats     StatsConfig `koanf:"stats"`
}

type DBConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

// DeckConfig controls importing cards from deck sources.
type DeckConfig struct {
	// ReposDir is where git sources are cloned.
	ReposDir string `koanf:"repos_dir" validate:"required"`
	// Prune deletes cards, with their history, that vanished from their source.
	Prune bool `koanf:"prune"`
}

type StatsConfig struct {
	Window int `koanf:"window" validate:"gte=1"`
}

var defaults = map[string]any{
	"db.path":                   "recallloop.db",
	"log.level":                 "info",
	"log.format":                "text",
	"http.addr":                 "localhost:8080",
	"scheduler.initial_ease":    2.5,
	"scheduler.min_ease":        1.3,
	"scheduler.passing_rating":  3,
	"scheduler.first_interval":  1,
	"scheduler.second_interval": 6,
	"deck.repos_dir":            "repos",
	"deck.prune":                false,
	"stats.window":              2,
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":         "db.path",
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "http.addr",
	"repos-dir":  "deck.repos_dir",
	"prune":      "deck.prune",
	"window":     "stats.window",
}

var validate = validator.New()

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("db", "", "path to the SQLite database")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("log-format", "", "log format: text or json")
	fs.String("addr", "", "HTTP listen address")
	fs.String("repos-dir", "", "directory git deck sources are cloned into")
	fs.Bool("prune", false, "delete cards that disappeared from their source")
	fs.Int("window", 0, "moving average window for trends")
}

// Load builds the configuration. A .env file in the working directory is
// read first when present. fs may be nil; otherwise it must already be
// parsed, and only flags the user set take effect.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path := configPath(fs); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		p := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// configPath prefers --config over RECALLLOOP_CONFIG.
func configPath(fs *pflag.FlagSet) string {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			return f.Value.String()
		}
	}
	return os.Getenv(EnvPrefix + "CONFIG")
}

// envKey turns RECALLLOOP_SCHEDULER_MIN_EASE into scheduler.min_ease.
// Variables that name no known key are ignored.
func envKey(name string) string {
	for key := range defaults {
		if EnvPrefix+strings.ToUpper(strings.ReplaceAll(key, ".", "_")) == name {
			return key
		}
	}
	return ""
}
