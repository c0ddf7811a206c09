package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.Database.Host = "db"
	cfg.Database.User = "odoo"
	cfg.Database.Password = "secret"
	return cfg
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provision.toml")
	content := `
continue_on_error = true

[database]
sslmode = "require"

[platform]
container_prefix = "odoo"
base_domain = "example.org"

[readiness]
timeout = "90s"
interval = "500ms"

[redis]
url = "redis://localhost:6379/0"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.SSLMode != "require" || cfg.Database.Port != "5432" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Platform.ContainerPrefix != "odoo" || cfg.Platform.BaseDomain != "example.org" {
		t.Fatalf("platform = %+v", cfg.Platform)
	}
	if cfg.Platform.Language != "en_US" {
		t.Fatalf("language default lost: %q", cfg.Platform.Language)
	}
	if cfg.Readiness.Timeout != 90*time.Second || cfg.Readiness.Interval != 500*time.Millisecond {
		t.Fatalf("readiness = %+v", cfg.Readiness)
	}
	if !cfg.ContinueOnError {
		t.Fatal("continue_on_error not decoded")
	}
	if cfg.Redis.URL == "" || cfg.Redis.LockTTL != 30*time.Minute {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load() on missing file = nil error")
	}
}

func TestLoadRejectsConnectionKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provision.toml")
	content := "[database]\nhost = \"pg.internal\"\npassword = \"secret\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "database.host") || !strings.Contains(err.Error(), "database.password") {
		t.Fatalf("Load() err = %v, want unknown database.host and database.password", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"ARCWEB_DB_HOST":           "envhost",
		"ARCWEB_DB_PASSWORD":       "envpass",
		"ARCWEB_DB_SSLMODE":        "verify-full",
		"ARCWEB_READY_TIMEOUT":     "5s",
		"ARCWEB_CONTINUE_ON_ERROR": "true",
		"ARCWEB_BASE_DOMAIN":       "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if cfg.Database.Host != "" || cfg.Database.Password != "" {
		t.Fatalf("connection settings taken from env: %+v", cfg.Database)
	}
	if cfg.Database.SSLMode != "verify-full" {
		t.Fatalf("sslmode = %q, want verify-full", cfg.Database.SSLMode)
	}
	if cfg.Readiness.Timeout != 5*time.Second || !cfg.ContinueOnError {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Platform.BaseDomain != "arcweb.com.au" {
		t.Fatalf("empty env value overrode base domain: %q", cfg.Platform.BaseDomain)
	}
}

func TestApplyEnvBadDuration(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "ARCWEB_READY_TIMEOUT" {
			return "soon", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("applyEnv() with bad duration = nil error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: "host"},
		{name: "missing password", mutate: func(c *Config) { c.Database.Password = "" }, wantErr: "password"},
		{name: "bad port", mutate: func(c *Config) { c.Database.Port = "54x" }, wantErr: "port"},
		{name: "port range", mutate: func(c *Config) { c.Database.Port = "70000" }, wantErr: "port"},
		{name: "user injection", mutate: func(c *Config) { c.Database.User = "odoo; DROP" }, wantErr: "user"},
		{name: "prefix", mutate: func(c *Config) { c.Platform.ContainerPrefix = "Arc-Web" }, wantErr: "prefix"},
		{name: "timeout", mutate: func(c *Config) { c.Readiness.Timeout = 0 }, wantErr: "readiness"},
		{name: "lock ttl", mutate: func(c *Config) { c.Redis.URL = "redis://x"; c.Redis.LockTTL = 0 }, wantErr: "lock ttl"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
