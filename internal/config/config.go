// Package config loads runtime configuration from, in order of
// precedence: command-line flags, environment variables (RECALLDECK_*),
// and an optional YAML file.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "RECALLDECK_"

// Config is the full runtime configuration.
type Config struct {
	Store   StoreConfig   `koanf:"store"`
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Session SessionConfig `koanf:"session"`
}

type StoreConfig struct {
	// DSN is the SQLite file backing the tree store.
	DSN string `koanf:"dsn" validate:"required"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

type LogConfig struct {
	Mode string `koanf:"mode" validate:"oneof=dev prod"`
}

// SessionConfig holds the default per-session caps. Requests may
// override them within the same bounds the UI offers.
type SessionConfig struct {
	MaxNew     int `koanf:"max_new" validate:"min=0"`
	MaxReviews int `koanf:"max_reviews" validate:"min=1"`
}

// Flags returns the flag set Load understands. Flag defaults double as
// config defaults.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("recalldeck", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("store.dsn", "recalldeck.db", "path to the SQLite store file")
	fs.String("server.addr", "127.0.0.1:8484", "listen address")
	fs.String("log.mode", "dev", "log mode: dev or prod")
	fs.Int("session.max_new", 10, "default cap on new cards per session")
	fs.Int("session.max_reviews", 50, "default cap on review cards per session")
	return fs
}

// Load merges file, environment, and flag configuration and validates
// the result.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// RECALLDECK_SERVER__ADDR=... -> server.addr ("__" separates
	// levels so keys like max_new survive)
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
