package authclient

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != 300*time.Millisecond || cfg.Retry.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected retry defaults %+v", cfg.Retry)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, "BaseURL is required"},
		{"relative base url", func(c *Config) { c.BaseURL = "api/v1" }, "BaseURL must be an absolute URL"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "Timeout must be > 0"},
		{"zero refresh timeout", func(c *Config) { c.RefreshTimeout = 0 }, "RefreshTimeout must be > 0"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "Retry.MaxAttempts must be > 0"},
		{"max below base", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "Retry.MaxDelay must be >= BaseDelay"},
		{"refresh path without slash", func(c *Config) { c.RefreshPath = "auth/refresh" }, "RefreshPath must start with"},
		{"blank auth endpoint", func(c *Config) { c.AuthEndpoints = []string{"/auth/verify", ""} }, "AuthEndpoints[1] is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("https://api.example.com")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthEndpointsMerged(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com")
	cfg.AuthEndpoints = []string{"/auth/verify/", "/auth/login"}

	got := cfg.authEndpoints()
	want := []string{"/auth/login", "/auth/register", "/auth/refresh", "/auth/logout", "/auth/verify"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCLIENT_BASE_URL", "https://api.example.com")
	t.Setenv("AUTHCLIENT_TIMEOUT", "2s")
	t.Setenv("AUTHCLIENT_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("AUTHCLIENT_RETRY_JITTER", "true")
	t.Setenv("AUTHCLIENT_AUTH_ENDPOINTS", "/auth/verify,/auth/otp")
	t.Setenv("AUTHCLIENT_METRICS", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "https://api.example.com" || cfg.Timeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 5 || !cfg.Retry.Jitter || cfg.Retry.BaseDelay != 300*time.Millisecond {
		t.Fatalf("unexpected retry %+v", cfg.Retry)
	}
	if len(cfg.AuthEndpoints) != 2 || cfg.AuthEndpoints[1] != "/auth/otp" {
		t.Fatalf("unexpected auth endpoints %v", cfg.AuthEndpoints)
	}
	if !cfg.Metrics.Enabled || cfg.RefreshPath != "/auth/refresh" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFromEnvValidates(t *testing.T) {
	t.Setenv("AUTHCLIENT_BASE_URL", "https://api.example.com")
	t.Setenv("AUTHCLIENT_RETRY_BASE_DELAY", "10s")

	if _, err := LoadConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "Retry.MaxDelay") {
		t.Fatalf("expected retry validation error, got %v", err)
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	if _, err := New().Build(); err == nil || !strings.Contains(err.Error(), "BaseURL is required") {
		t.Fatalf("expected BaseURL error, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithBaseURL("https://api.example.com")
	if _, err := b.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderCopiesConfig(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com")
	cfg.AuthEndpoints = []string{"/auth/verify"}
	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cfg.AuthEndpoints[0] = "/mutated"
	if !c.isAuthEndpoint("/auth/verify") {
		t.Fatal("client config must not alias the caller's slice")
	}
}

func TestConfigRejectsNegativeResponseLimit(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com")
	cfg.MaxResponseBytes = -1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "MaxResponseBytes must be >= 0") {
		t.Fatalf("expected MaxResponseBytes error, got %v", err)
	}
}
