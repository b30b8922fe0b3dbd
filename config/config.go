// Package config loads client settings from a TOML file and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	toml "github.com/pelletier/go-toml/v2"

	splists "github.com/yasutakesougo/audit-management-system-mvp-sub007"
	"github.com/yasutakesougo/audit-management-system-mvp-sub007/rediscache"
)

// Config captures everything needed to build a splists.Client. Environment
// variables win over file values.
type Config struct {
	SiteURL string `env:"SPLISTS_SITE_URL"`
	// ListID, when set, overrides ListTitle (see splists.ResolveList).
	ListID    string `env:"SPLISTS_LIST_ID"`
	ListTitle string `env:"SPLISTS_LIST_TITLE"`

	MaxAttempts int           `env:"SPLISTS_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `env:"SPLISTS_BASE_DELAY"`
	MaxDelay    time.Duration `env:"SPLISTS_MAX_DELAY"`
	Jitter      float64       `env:"SPLISTS_JITTER"`

	// RateLimit is requests per second; zero disables the limiter.
	RateLimit float64 `env:"SPLISTS_RATE_LIMIT"`
	RateBurst int     `env:"SPLISTS_RATE_BURST"`

	Accept  string `env:"SPLISTS_ACCEPT"`
	Debug   bool   `env:"SPLISTS_DEBUG"`
	Metrics bool   `env:"SPLISTS_METRICS"`

	// RedisAddr enables the shared missing-field cache.
	RedisAddr   string `env:"SPLISTS_REDIS_ADDR"`
	RedisPrefix string `env:"SPLISTS_REDIS_PREFIX"`
}

const (
	defaultConfigPath  = "~/.config/splists/config.toml"
	defaultMaxAttempts = 4
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
	defaultJitter      = 0.2
)

// Default returns the built-in settings.
func Default() Config {
	return Config{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		Jitter:      defaultJitter,
		RedisPrefix: rediscache.DefaultKeyPrefix,
	}
}

type fileConfig struct {
	SiteURL   string `toml:"site_url"`
	ListID    string `toml:"list_id"`
	ListTitle string `toml:"list_title"`

	Retry struct {
		MaxAttempts int      `toml:"max_attempts"`
		BaseDelay   string   `toml:"base_delay"`
		MaxDelay    string   `toml:"max_delay"`
		Jitter      *float64 `toml:"jitter"`
	} `toml:"retry"`

	RateLimit struct {
		RPS   float64 `toml:"rps"`
		Burst int     `toml:"burst"`
	} `toml:"rate_limit"`

	Accept  string `toml:"accept"`
	Debug   bool   `toml:"debug"`
	Metrics bool   `toml:"metrics"`

	Redis struct {
		Addr   string `toml:"addr"`
		Prefix string `toml:"prefix"`
	} `toml:"redis"`
}

// Load reads path (or the default location when empty), then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := cfg.decodeFile(file); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decodeFile(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.SiteURL, raw.SiteURL)
	setString(&c.ListID, raw.ListID)
	setString(&c.ListTitle, raw.ListTitle)
	setString(&c.Accept, raw.Accept)
	setString(&c.RedisAddr, raw.Redis.Addr)
	setString(&c.RedisPrefix, raw.Redis.Prefix)

	if raw.Retry.MaxAttempts != 0 {
		c.MaxAttempts = raw.Retry.MaxAttempts
	}
	if raw.Retry.Jitter != nil {
		c.Jitter = *raw.Retry.Jitter
	}
	if err := setDuration(&c.BaseDelay, "retry.base_delay", raw.Retry.BaseDelay); err != nil {
		return err
	}
	if err := setDuration(&c.MaxDelay, "retry.max_delay", raw.Retry.MaxDelay); err != nil {
		return err
	}

	c.RateLimit = raw.RateLimit.RPS
	c.RateBurst = raw.RateLimit.Burst
	c.Debug = raw.Debug
	c.Metrics = raw.Metrics
	return nil
}

func (c *Config) applyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	return nil
}

// Validate checks the settings that New would otherwise reject later with a
// less specific message.
func (c Config) Validate() error {
	var problems []string
	if c.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be at least 1")
	}
	if c.BaseDelay <= 0 {
		problems = append(problems, "base_delay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		problems = append(problems, "max_delay must not be below base_delay")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		problems = append(problems, "jitter must be between 0 and 1")
	}
	if c.RateLimit < 0 {
		problems = append(problems, "rate_limit.rps must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		problems = append(problems, "rate_limit.burst must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// List resolves the configured list identifier.
func (c Config) List() splists.ListRef {
	return splists.ResolveList(c.ListID, c.ListTitle)
}

// ClientOptions maps the settings to client options. The missing-field cache
// is not included; see OpenMissingFieldCache.
func (c Config) ClientOptions() []splists.Option {
	opts := []splists.Option{
		splists.WithMaxAttempts(c.MaxAttempts),
		splists.WithBaseDelay(c.BaseDelay),
		splists.WithMaxDelay(c.MaxDelay),
		splists.WithJitter(c.Jitter),
	}
	if c.RateLimit > 0 {
		opts = append(opts, splists.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	if c.Accept != "" {
		opts = append(opts, splists.WithAccept(c.Accept))
	}
	if c.Debug {
		opts = append(opts, splists.WithDebug())
	}
	if c.Metrics {
		opts = append(opts, splists.WithMetrics())
	}
	return opts
}

// OpenMissingFieldCache connects to Redis when RedisAddr is set. It returns
// nil, nil otherwise.
func (c Config) OpenMissingFieldCache(ctx context.Context) (*rediscache.Cache, error) {
	if c.RedisAddr == "" {
		return nil, nil
	}
	return rediscache.New(ctx, rediscache.Config{Addr: c.RedisAddr, KeyPrefix: c.RedisPrefix})
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
