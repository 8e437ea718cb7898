// Package config loads ecmalinks settings from defaults, an optional JSON
// file and ECMALINKS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ECMALINKS_"

	// EnvConfigPath names an explicit config file.
	EnvConfigPath = "ECMALINKS_CONFIG"

	// DefaultFile is read from the working directory when present.
	DefaultFile = ".ecmalinks.json"
)

// Config is the resolved configuration.
type Config struct {
	IDPrefix     string        `koanf:"id_prefix"`
	AnchorClass  string        `koanf:"anchor_class"`
	ExcludeTags  []string      `koanf:"exclude_tags"`
	GuardTitle   string        `koanf:"guard_title"`
	DismissDelay time.Duration `koanf:"dismiss_delay"`

	DBPath       string        `koanf:"db_path"`
	Addr         string        `koanf:"addr"`
	WatchDelay   time.Duration `koanf:"watch_delay"`
	Workers      int           `koanf:"workers"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	FetchRetries int           `koanf:"fetch_retries"`
}

func defaults() map[string]any {
	return map[string]any{
		"id_prefix":     "ecmalinks",
		"anchor_class":  "ecmalinks-ref",
		"exclude_tags":  []string{"a", "h1", "script", "style"},
		"guard_title":   "",
		"dismiss_delay": "0s",
		"db_path":       "",
		"addr":          "127.0.0.1:8262",
		"watch_delay":   "300ms",
		"workers":       4,
		"fetch_timeout": "30s",
		"fetch_retries": 3,
	}
}

// Load resolves the configuration. path names a JSON config file; when empty,
// ECMALINKS_CONFIG is used, then DefaultFile if it exists. An explicitly named
// file must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil || explicit {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv maps ECMALINKS_ID_PREFIX to id_prefix. The config file path
// variable is not a setting and is dropped.
func transformEnv(k, v string) (string, any) {
	if k == EnvConfigPath {
		return "", nil
	}
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	if key == "exclude_tags" {
		return key, splitList(v)
	}
	return key, v
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects settings no command can work with.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.FetchRetries < 0:
		return fmt.Errorf("fetch_retries must not be negative, got %d", c.FetchRetries)
	case c.DismissDelay < 0:
		return fmt.Errorf("dismiss_delay must not be negative, got %v", c.DismissDelay)
	}
	return nil
}
