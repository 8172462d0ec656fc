// Package config loads tool configuration from klaxon.yaml, environment
// variables and defaults. Precedence (highest to lowest): env vars >
// config file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config file names probed in the working directory.
const (
	ConfigFileName    = "klaxon.yaml"
	ConfigFileNameAlt = "klaxon.yml"
)

// EnvPrefix namespaces the environment variables this tool reads. A
// double underscore separates nesting levels: KLAXON_REDIS__ADDR maps to
// redis.addr, KLAXON_CATALOG_DIR to catalog_dir.
const EnvPrefix = "KLAXON_"

// Config is the resolved tool configuration.
type Config struct {
	// CatalogDir holds the datasource catalog CUE files.
	CatalogDir string `koanf:"catalog_dir"`

	// SQLitePath is the local database the preview executor opens.
	// ":memory:" gives an ephemeral database.
	SQLitePath string `koanf:"sqlite_path"`

	Redis   RedisConfig   `koanf:"redis"`
	Preview PreviewConfig `koanf:"preview"`
}

// RedisConfig points the projector at its runtime store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	DB       int    `koanf:"db"`
	Password string `koanf:"password"`
}

// PreviewConfig bounds preview runs.
type PreviewConfig struct {
	TimeoutSecs int `koanf:"timeout_seconds"`
	SampleCap   int `koanf:"sample_cap"`
}

// Load reads configuration. cfgFile may be empty, in which case
// klaxon.yaml / klaxon.yml in the working directory is used when present;
// a missing config file is not an error, defaults and env apply.
func Load(cfgFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"catalog_dir":             "catalog",
		"sqlite_path":             "klaxon.db",
		"redis.addr":              "localhost:6379",
		"redis.db":                0,
		"preview.timeout_seconds": 30,
		"preview.sample_cap":      25,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := findConfigFile(cfgFile)
	if cfgFile != "" && path == "" {
		return nil, fmt.Errorf("config file %s not found", cfgFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// KLAXON_REDIS__ADDR -> redis.addr
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// findConfigFile resolves the config file path. An explicit path wins;
// otherwise the conventional names in the working directory are probed.
func findConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}
