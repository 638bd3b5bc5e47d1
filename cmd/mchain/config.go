package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP server and logging.
type ServerConfig struct {
	ApiAddr  string `json:"api_addr" yaml:"api_addr"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// StoreConfig selects and configures the transition store.
type StoreConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // sqlite, redis or memory
	DatabasePath  string `json:"database_path" yaml:"database_path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `json:"redis_prefix" yaml:"redis_prefix"`
}

// ModelConfig holds the chain settings shared by building and generation.
type ModelConfig struct {
	Name         string  `json:"name" yaml:"name"`
	Degree       int     `json:"degree" yaml:"degree"`
	Mode         string  `json:"mode" yaml:"mode"` // word or char
	Pattern      string  `json:"pattern" yaml:"pattern"`
	MaxSteps     int     `json:"max_steps" yaml:"max_steps"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	TopK         int     `json:"top_k" yaml:"top_k"`
	Seed         uint64  `json:"seed" yaml:"seed"`
	StrictDegree bool    `json:"strict_degree" yaml:"strict_degree"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Store  *StoreConfig  `json:"store_config" yaml:"store_config"`
	Model  *ModelConfig  `json:"model_config" yaml:"model_config"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			ApiAddr:  ":7280",
			LogLevel: "info",
		},
		Store: &StoreConfig{
			Backend:      "sqlite",
			DatabasePath: "./data/mchain.db",
			RedisAddr:    "localhost:6379",
			RedisPrefix:  "mchain:",
		},
		Model: &ModelConfig{
			Name:        "default",
			Degree:      2,
			Mode:        "word",
			MaxSteps:    100,
			Temperature: 1.0,
		},
	}
}

// LoadConfig reads the configuration from the file at the given path.
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
// If the file doesn't exist, it creates one with default values.
// MCHAIN_* environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	isYAML := strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")

	file, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// If the file doesn't exist, create it with the default config.
		var data []byte
		if isYAML {
			data, err = yaml.Marshal(config)
		} else {
			data, err = json.MarshalIndent(config, "", "  ")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The defaults are still usable.
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
	} else {
		if isYAML {
			err = yaml.Unmarshal(file, config)
		} else {
			err = json.Unmarshal(file, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err = applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides config values from MCHAIN_* variables.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("MCHAIN_API_ADDR", &c.Server.ApiAddr)
	str("MCHAIN_LOG_LEVEL", &c.Server.LogLevel)
	str("MCHAIN_STORE", &c.Store.Backend)
	str("MCHAIN_DATABASE_PATH", &c.Store.DatabasePath)
	str("MCHAIN_REDIS_ADDR", &c.Store.RedisAddr)
	str("MCHAIN_REDIS_PASSWORD", &c.Store.RedisPassword)
	str("MCHAIN_REDIS_PREFIX", &c.Store.RedisPrefix)
	str("MCHAIN_MODEL", &c.Model.Name)
	str("MCHAIN_MODE", &c.Model.Mode)
	if err := num("MCHAIN_REDIS_DB", &c.Store.RedisDB); err != nil {
		return err
	}
	if err := num("MCHAIN_DEGREE", &c.Model.Degree); err != nil {
		return err
	}
	return num("MCHAIN_MAX_STEPS", &c.Model.MaxSteps)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger returns a text logger writing to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}
