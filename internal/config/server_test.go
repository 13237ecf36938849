package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configKeys = []string{
	"ENV", "PORT", "DATABASE_URL", "REDIS_URL",
	"SCHEDULER_ENABLED", "SCHEDULER_HOUR", "SCHEDULER_MINUTE", "SCHEDULER_TIMEZONE", "SCHEDULER_CATCHUP_DAYS",
	"REPORT_MAX_ATTEMPTS", "REPORT_RETRY_DELAY",
	"CLICKHOUSE_URL", "CLICKHOUSE_HOST", "CLICKHOUSE_USERNAME", "CLICKHOUSE_USER",
	"CLICKHOUSE_PASSWORD", "CLICKHOUSE_DATABASE", "CLICKHOUSE_SECURE", "EXCLUDED_USER_NUMBERS",
	"ALLOWED_EMBED_ORIGINS", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_PERIOD", "RATE_LIMIT_USE_REDIS",
	"REPORT_ARCHIVE_BUCKET", "REPORT_ARCHIVE_PREFIX", "REPORT_ARCHIVE_ENDPOINT", "AWS_REGION",
	"REPORT_ARCHIVE_ACCESS_KEY_ID", "REPORT_ARCHIVE_SECRET_ACCESS_KEY",
	"ORGS_FILE", "ORG_ID", "BROKER_NODE_PERSISTENT_ID", "CLIENT_NAME", "DEFAULT_TIMEZONE",
}

// clearEnv blanks every variable LoadServerConfig reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func mustLoad(t *testing.T) ServerConfig {
	t.Helper()
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig() error: %v", err)
	}
	return cfg
}

func TestLoadServerConfig_DefaultEnvironment(t *testing.T) {
	clearEnv(t)
	cfg := mustLoad(t)
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_InvalidEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "invalid")
	cfg := mustLoad(t)
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q for invalid ENV, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_ValidEnvironments(t *testing.T) {
	tests := []struct {
		env  string
		want Environment
	}{
		{"development", EnvDevelopment},
		{"staging", EnvStaging},
		{"production", EnvProduction},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("ENV", tt.env)
			cfg := mustLoad(t)
			if cfg.Environment != tt.want {
				t.Errorf("expected %q, got %q", tt.want, cfg.Environment)
			}
			if cfg.IsProduction() != (tt.want == EnvProduction) {
				t.Errorf("IsProduction() = %v for %s", cfg.IsProduction(), tt.env)
			}
		})
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := mustLoad(t)

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	s := cfg.Scheduler
	if !s.Enabled || s.Hour != 6 || s.Minute != 0 || s.Timezone != "America/Los_Angeles" || s.CatchupDays != 7 {
		t.Errorf("unexpected scheduler defaults %+v", s)
	}
	if cfg.Generator.MaxAttempts != 3 || cfg.Generator.RetryDelay != 60*time.Second {
		t.Errorf("unexpected generator defaults %+v", cfg.Generator)
	}
	if cfg.Warehouse.Addr != "localhost:8123" || cfg.Warehouse.Username != "default" {
		t.Errorf("unexpected warehouse defaults %+v", cfg.Warehouse)
	}
	if cfg.Warehouse.ExcludedNumbers != nil {
		t.Errorf("expected no excluded numbers, got %v", cfg.Warehouse.ExcludedNumbers)
	}
	if cfg.HTTP.RateLimitRequests != 100 || cfg.HTTP.RateLimitPeriod != time.Minute {
		t.Errorf("unexpected rate limit defaults %+v", cfg.HTTP)
	}
	if cfg.Archive.Enabled() {
		t.Error("archive must be disabled without a bucket")
	}
	if cfg.Seed.Timezone != "UTC" {
		t.Errorf("default seed timezone = %s", cfg.Seed.Timezone)
	}
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCHEDULER_ENABLED", "no")
	t.Setenv("SCHEDULER_HOUR", "23")
	t.Setenv("SCHEDULER_MINUTE", "30")
	t.Setenv("SCHEDULER_TIMEZONE", "Europe/Berlin")
	t.Setenv("SCHEDULER_CATCHUP_DAYS", "0")
	t.Setenv("REPORT_RETRY_DELAY", "90")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("CLICKHOUSE_USER", "reader")
	t.Setenv("CLICKHOUSE_SECURE", "true")
	t.Setenv("EXCLUDED_USER_NUMBERS", "+15550001111, +15550002222")
	t.Setenv("ALLOWED_EMBED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("REPORT_ARCHIVE_BUCKET", "reports-bucket")

	cfg := mustLoad(t)

	s := cfg.Scheduler
	if s.Enabled || s.Hour != 23 || s.Minute != 30 || s.Timezone != "Europe/Berlin" || s.CatchupDays != 0 {
		t.Errorf("unexpected scheduler config %+v", s)
	}
	if cfg.Generator.RetryDelay != 90*time.Second {
		t.Errorf("RetryDelay = %v, want 90s", cfg.Generator.RetryDelay)
	}
	if cfg.Warehouse.Addr != "ch.internal" || cfg.Warehouse.Username != "reader" || !cfg.Warehouse.Secure {
		t.Errorf("unexpected warehouse config %+v", cfg.Warehouse)
	}
	if len(cfg.Warehouse.ExcludedNumbers) != 2 || cfg.Warehouse.ExcludedNumbers[1] != "+15550002222" {
		t.Errorf("unexpected excluded numbers %v", cfg.Warehouse.ExcludedNumbers)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 {
		t.Errorf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.Prefix != "reports" {
		t.Errorf("unexpected archive config %+v", cfg.Archive)
	}
}

func TestLoadServerConfig_ClickHouseURLWinsOverHost(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLICKHOUSE_URL", "https://ch.example.com:8443")
	t.Setenv("CLICKHOUSE_HOST", "ignored")
	t.Setenv("CLICKHOUSE_USERNAME", "primary")
	t.Setenv("CLICKHOUSE_USER", "fallback")

	cfg := mustLoad(t)
	if cfg.Warehouse.Addr != "https://ch.example.com:8443" {
		t.Errorf("Addr = %s", cfg.Warehouse.Addr)
	}
	if cfg.Warehouse.Username != "primary" {
		t.Errorf("Username = %s", cfg.Warehouse.Username)
	}
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"hour too large", "SCHEDULER_HOUR", "24"},
		{"negative minute", "SCHEDULER_MINUTE", "-1"},
		{"minute too large", "SCHEDULER_MINUTE", "60"},
		{"negative catchup", "SCHEDULER_CATCHUP_DAYS", "-3"},
		{"unknown scheduler timezone", "SCHEDULER_TIMEZONE", "Atlantis/Capital"},
		{"unknown default timezone", "DEFAULT_TIMEZONE", "Nowhere"},
		{"zero attempts", "REPORT_MAX_ATTEMPTS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := LoadServerConfig(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"30", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"bogus", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("CALLSTATS_TEST_DURATION", tt.val)
		if got := getEnvDuration("CALLSTATS_TEST_DURATION", 5*time.Second); got != tt.want {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "CALLSTATS_TEST_FROM_FILE=file\nCALLSTATS_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("CALLSTATS_TEST_PRESET", "process")
	t.Cleanup(func() { os.Unsetenv("CALLSTATS_TEST_FROM_FILE") })

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("CALLSTATS_TEST_FROM_FILE"); got != "file" {
		t.Errorf("expected value from .env, got %q", got)
	}
	if got := os.Getenv("CALLSTATS_TEST_PRESET"); got != "process" {
		t.Errorf(".env must not override the process environment, got %q", got)
	}
}
