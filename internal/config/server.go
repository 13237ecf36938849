// Package config provides configuration management for callstats.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brokerwire/callstats/internal/reports"
	"github.com/brokerwire/callstats/internal/warehouse"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	Port        string
	DatabaseURL string
	RedisURL    string // empty disables the cross-process report lock

	Scheduler reports.SchedulerConfig
	Generator reports.GeneratorConfig
	Warehouse warehouse.Config
	HTTP      HTTPConfig
	Archive   ArchiveConfig
	Seed      SeedConfig
}

// HTTPConfig holds settings for the API surface.
type HTTPConfig struct {
	AllowedOrigins     []string
	RateLimitRequests  int64
	RateLimitPeriod    time.Duration
	RateLimitRedisKeys bool // share the limiter store through REDIS_URL
}

// ArchiveConfig configures the S3 report archive. An empty Bucket disables it.
type ArchiveConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether reports should be archived.
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// SeedConfig describes organizations created at startup.
type SeedConfig struct {
	OrgsFile     string
	OrgID        string
	SourceNodeID string
	ClientName   string
	Timezone     string
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// LoadDotEnv loads .env into the process environment when the file exists.
// Variables already set are left alone.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() (ServerConfig, error) {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	sched := reports.DefaultSchedulerConfig()
	sched.Enabled = getEnvBool("SCHEDULER_ENABLED", sched.Enabled)
	sched.Hour = getEnvInt("SCHEDULER_HOUR", sched.Hour)
	sched.Minute = getEnvInt("SCHEDULER_MINUTE", sched.Minute)
	sched.Timezone = getEnv("SCHEDULER_TIMEZONE", sched.Timezone)
	sched.CatchupDays = getEnvInt("SCHEDULER_CATCHUP_DAYS", sched.CatchupDays)

	gen := reports.DefaultGeneratorConfig()
	gen.MaxAttempts = getEnvInt("REPORT_MAX_ATTEMPTS", gen.MaxAttempts)
	gen.RetryDelay = getEnvDuration("REPORT_RETRY_DELAY", gen.RetryDelay)

	wh := warehouse.DefaultConfig()
	wh.Addr = firstEnv(wh.Addr, "CLICKHOUSE_URL", "CLICKHOUSE_HOST")
	wh.Username = firstEnv(wh.Username, "CLICKHOUSE_USERNAME", "CLICKHOUSE_USER")
	wh.Password = getEnv("CLICKHOUSE_PASSWORD", "")
	wh.Database = getEnv("CLICKHOUSE_DATABASE", wh.Database)
	wh.Secure = getEnvBool("CLICKHOUSE_SECURE", false)
	wh.ExcludedNumbers = warehouse.ParseExcludedNumbers(os.Getenv("EXCLUDED_USER_NUMBERS"))

	cfg := ServerConfig{
		Environment: env,
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Scheduler:   sched,
		Generator:   gen,
		Warehouse:   wh,
		HTTP: HTTPConfig{
			AllowedOrigins:     splitList(os.Getenv("ALLOWED_EMBED_ORIGINS")),
			RateLimitRequests:  int64(getEnvInt("RATE_LIMIT_REQUESTS", 100)),
			RateLimitPeriod:    getEnvDuration("RATE_LIMIT_PERIOD", time.Minute),
			RateLimitRedisKeys: getEnvBool("RATE_LIMIT_USE_REDIS", false),
		},
		Archive: ArchiveConfig{
			Bucket:   os.Getenv("REPORT_ARCHIVE_BUCKET"),
			Prefix:   getEnv("REPORT_ARCHIVE_PREFIX", "reports"),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: os.Getenv("REPORT_ARCHIVE_ENDPOINT"),

			AccessKeyID:     os.Getenv("REPORT_ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("REPORT_ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Seed: SeedConfig{
			OrgsFile:     os.Getenv("ORGS_FILE"),
			OrgID:        os.Getenv("ORG_ID"),
			SourceNodeID: os.Getenv("BROKER_NODE_PERSISTENT_ID"),
			ClientName:   os.Getenv("CLIENT_NAME"),
			Timezone:     getEnv("DEFAULT_TIMEZONE", "UTC"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate checks ranges and timezones.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 {
		errs = append(errs, fmt.Errorf("SCHEDULER_HOUR must be 0-23, got %d", c.Scheduler.Hour))
	}
	if c.Scheduler.Minute < 0 || c.Scheduler.Minute > 59 {
		errs = append(errs, fmt.Errorf("SCHEDULER_MINUTE must be 0-59, got %d", c.Scheduler.Minute))
	}
	if c.Scheduler.CatchupDays < 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_CATCHUP_DAYS must not be negative, got %d", c.Scheduler.CatchupDays))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULER_TIMEZONE %q: %w", c.Scheduler.Timezone, err))
	}
	if _, err := time.LoadLocation(c.Seed.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.Seed.Timezone, err))
	}
	if c.Generator.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("REPORT_MAX_ATTEMPTS must be at least 1, got %d", c.Generator.MaxAttempts))
	}
	if c.Generator.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("REPORT_RETRY_DELAY must not be negative, got %s", c.Generator.RetryDelay))
	}
	if c.HTTP.RateLimitRequests < 0 || c.HTTP.RateLimitPeriod <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must not be negative and RATE_LIMIT_PERIOD must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(defaultVal string, keys ...string) string {
	for _, k := range keys {
		if val := strings.TrimSpace(os.Getenv(k)); val != "" {
			return val
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration accepts Go durations ("90s", "2m") or plain seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
