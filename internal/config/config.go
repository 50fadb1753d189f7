// Package config handles TOML configuration for the discovery engine.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
)

// Config is the root configuration structure.
type Config struct {
	Discovery   DiscoveryConfig   `toml:"discovery"`
	Retry       RetryConfig       `toml:"retry"`
	Credentials CredentialsConfig `toml:"credentials"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	OTEL        OTELConfig        `toml:"otel"`
	Metrics     MetricsServer     `toml:"metrics"`
	Journal     JournalConfig     `toml:"journal"`
	Log         LogConfig         `toml:"log"`
}

// DiscoveryConfig holds orchestrator and store settings.
type DiscoveryConfig struct {
	ScopeFile    string `toml:"scope_file"`
	Workers      int    `toml:"workers" validate:"min=1,max=512"`
	GlobalRegion string `toml:"global_region" validate:"required"`

	StaleAfterStr string        `toml:"stale_after"`
	StaleAfter    time.Duration `toml:"-"`
	// IntervalStr is the poll interval of watch mode.
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
}

// RetryConfig overrides the classifier retry policy.
type RetryConfig struct {
	BaseDelayStr string        `toml:"base_delay"`
	BaseDelay    time.Duration `toml:"-"`
	MaxDelayStr  string        `toml:"max_delay"`
	MaxDelay     time.Duration `toml:"-"`
	// MaxAttempts maps a category name to its attempt budget.
	MaxAttempts map[string]int `toml:"max_attempts" validate:"dive,min=1"`
}

// CredentialsConfig selects and tunes the credential source.
type CredentialsConfig struct {
	Source             string `toml:"source" validate:"oneof=sso sts static"`
	RoleName           string `toml:"role_name" validate:"required"`
	PreloadConcurrency int    `toml:"preload_concurrency" validate:"min=1"`

	SafetyMarginStr string        `toml:"safety_margin"`
	SafetyMargin    time.Duration `toml:"-"`
	IssueTimeoutStr string        `toml:"issue_timeout"`
	IssueTimeout    time.Duration `toml:"-"`

	SSO    SSOConfig    `toml:"sso"`
	STS    STSConfig    `toml:"sts"`
	Static StaticConfig `toml:"static"`
}

// SSOConfig configures IAM Identity Center issuance. An empty TokenCache
// selects the most recent file in ~/.aws/sso/cache.
type SSOConfig struct {
	Region     string `toml:"region"`
	TokenCache string `toml:"token_cache"`
}

// STSConfig configures AssumeRole issuance.
type STSConfig struct {
	RoleARNTemplate string        `toml:"role_arn_template"`
	ExternalID      string        `toml:"external_id"`
	SessionName     string        `toml:"session_name"`
	DurationStr     string        `toml:"duration"`
	Duration        time.Duration `toml:"-"`
}

// StaticConfig is a single key pair used for every account. Development only.
type StaticConfig struct {
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SessionToken    string `toml:"session_token"`
}

// RateLimitConfig bounds request rates per account, region and service.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gt=0"`
	Burst             int     `toml:"burst" validate:"min=1"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig holds OTLP metric export settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// MetricsServer exposes the Prometheus scrape endpoint.
type MetricsServer struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr" validate:"required_if=Enabled true"`
}

// JournalConfig selects the query journal backend. An empty backend
// disables journaling.
type JournalConfig struct {
	Backend      string        `toml:"backend" validate:"omitempty,oneof=jsonl bolt"`
	Path         string        `toml:"path" validate:"required_with=Backend"`
	RetentionStr string        `toml:"retention"`
	Retention    time.Duration `toml:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level" validate:"oneof=trace debug info warn error"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML, applies defaults and parses durations.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	d := &cfg.Discovery
	if d.Workers == 0 {
		d.Workers = 16
	}
	if d.GlobalRegion == "" {
		d.GlobalRegion = "us-east-1"
	}
	if d.StaleAfterStr == "" {
		d.StaleAfterStr = "15m"
	}
	if d.IntervalStr == "" {
		d.IntervalStr = "5m"
	}

	if cfg.Retry.BaseDelayStr == "" {
		cfg.Retry.BaseDelayStr = "500ms"
	}
	if cfg.Retry.MaxDelayStr == "" {
		cfg.Retry.MaxDelayStr = "30s"
	}

	c := &cfg.Credentials
	if c.Source == "" {
		c.Source = "sso"
	}
	if c.RoleName == "" {
		c.RoleName = "awsdash"
	}
	if c.PreloadConcurrency == 0 {
		c.PreloadConcurrency = 8
	}
	if c.SafetyMarginStr == "" {
		c.SafetyMarginStr = "5m"
	}
	if c.IssueTimeoutStr == "" {
		c.IssueTimeoutStr = "30s"
	}
	if c.SSO.Region == "" {
		c.SSO.Region = "us-east-1"
	}
	if c.STS.DurationStr == "" {
		c.STS.DurationStr = "1h"
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "resource-discovery"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Journal.RetentionStr == "" {
		cfg.Journal.RetentionStr = "168h"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		str  string
		dst  *time.Duration
	}{
		{"discovery.stale_after", cfg.Discovery.StaleAfterStr, &cfg.Discovery.StaleAfter},
		{"discovery.interval", cfg.Discovery.IntervalStr, &cfg.Discovery.Interval},
		{"retry.base_delay", cfg.Retry.BaseDelayStr, &cfg.Retry.BaseDelay},
		{"retry.max_delay", cfg.Retry.MaxDelayStr, &cfg.Retry.MaxDelay},
		{"credentials.safety_margin", cfg.Credentials.SafetyMarginStr, &cfg.Credentials.SafetyMargin},
		{"credentials.issue_timeout", cfg.Credentials.IssueTimeoutStr, &cfg.Credentials.IssueTimeout},
		{"credentials.sts.duration", cfg.Credentials.STS.DurationStr, &cfg.Credentials.STS.Duration},
		{"journal.retention", cfg.Journal.RetentionStr, &cfg.Journal.Retention},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.str)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.str, err)
		}
		*f.dst = d
	}
	return nil
}

var validate = validator.New()

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry: max_delay %s is below base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Credentials.Source == "static" && c.Credentials.Static.AccessKeyID == "" {
		return fmt.Errorf("credentials: static.access_key_id is required for the static source")
	}
	return nil
}

// Policy builds the retry policy, starting from the classifier defaults.
func (r RetryConfig) Policy() (classifier.Policy, error) {
	p := classifier.DefaultPolicy()
	p.BaseDelay = r.BaseDelay
	p.MaxDelay = r.MaxDelay
	for name, n := range r.MaxAttempts {
		c, err := classifier.ParseCategory(name)
		if err != nil {
			return classifier.Policy{}, fmt.Errorf("retry.max_attempts: %w", err)
		}
		p.MaxAttempts[c] = n
	}
	return p, nil
}
