package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	splists "github.com/yasutakesougo/audit-management-system-mvp-sub007"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxAttempts != 4 || cfg.BaseDelay != 500*time.Millisecond || cfg.MaxDelay != 30*time.Second {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Jitter != 0.2 {
		t.Errorf("Expected jitter 0.2, got %v", cfg.Jitter)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
site_url = "https://contoso.example.com/sites/records"
list_title = "Records"
accept = "application/json;odata=verbose"
debug = true

[retry]
max_attempts = 6
base_delay = "250ms"
max_delay = "10s"
jitter = 0

[rate_limit]
rps = 5
burst = 2

[redis]
addr = "redis:6379"
prefix = "records:"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.SiteURL != "https://contoso.example.com/sites/records" {
		t.Errorf("Unexpected site url %q", cfg.SiteURL)
	}
	if cfg.MaxAttempts != 6 || cfg.BaseDelay != 250*time.Millisecond || cfg.MaxDelay != 10*time.Second {
		t.Errorf("Unexpected retry settings: %+v", cfg)
	}
	if cfg.Jitter != 0 {
		t.Errorf("Expected explicit zero jitter to be kept, got %v", cfg.Jitter)
	}
	if cfg.RateLimit != 5 || cfg.RateBurst != 2 {
		t.Errorf("Unexpected rate limit %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.RedisPrefix != "records:" {
		t.Errorf("Unexpected redis settings %q %q", cfg.RedisAddr, cfg.RedisPrefix)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
	if got := cfg.List(); got.Kind != splists.RefTitle || got.Value != "Records" {
		t.Errorf("Unexpected list ref %+v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
list_title = "Records"

[retry]
max_attempts = 6
`)
	t.Setenv("SPLISTS_MAX_ATTEMPTS", "2")
	t.Setenv("SPLISTS_BASE_DELAY", "1s")
	t.Setenv("SPLISTS_MAX_DELAY", "2s")
	t.Setenv("SPLISTS_LIST_ID", "{0E8A3C1B-5F2D-4C7E-9A61-3B4D5E6F7A8B}")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxAttempts != 2 {
		t.Errorf("Expected env to override max attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != time.Second || cfg.MaxDelay != 2*time.Second {
		t.Errorf("Unexpected delays %v/%v", cfg.BaseDelay, cfg.MaxDelay)
	}
	if got := cfg.List(); got.Kind != splists.RefGUID {
		t.Errorf("Expected the id override to win, got %+v", got)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"syntax", `site_url = `, "parse config"},
		{"duration", "[retry]\nbase_delay = \"soon\"", "retry.base_delay"},
		{"delays", "[retry]\nbase_delay = \"5s\"\nmax_delay = \"1s\"", "max_delay"},
		{"jitter", "[retry]\njitter = 1.5", "jitter"},
		{"burst", "[rate_limit]\nrps = 3", "burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.MaxAttempts = 3
	cfg.RateLimit = 10
	cfg.RateBurst = 1
	cfg.Accept = "application/json;odata=verbose"

	client, err := splists.New("https://contoso.example.com/sites/records",
		func(context.Context, bool) (string, error) { return "t", nil },
		cfg.ClientOptions()...)
	if err != nil {
		t.Fatalf("New with config options returned error: %v", err)
	}
	if client.BaseURL() != "https://contoso.example.com/sites/records" {
		t.Errorf("Unexpected base url %q", client.BaseURL())
	}
}

func TestOpenMissingFieldCacheDisabled(t *testing.T) {
	cache, err := Default().OpenMissingFieldCache(context.Background())
	if err != nil || cache != nil {
		t.Errorf("Expected no cache without an address, got %v, %v", cache, err)
	}
}
