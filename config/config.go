// Package config handles tracer configuration: programmatic options, HH_*
// environment variables via Viper, defaults, and struct validation.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/honeyhiveai/honeyhive-go/core"
)

// DefaultServerURL is the HoneyHive ingestion endpoint used when no server
// URL is configured.
const DefaultServerURL = "https://api.honeyhive.ai"

// Config holds all tracer configuration. Zero values are filled in by Load
// (env + defaults) or by ApplyDefaults for programmatic construction.
type Config struct {
	// APIKey authenticates against the HoneyHive backend. Required for
	// non-degraded operation.
	APIKey string `mapstructure:"api_key"`

	// Project is the HoneyHive project name. Required.
	Project string `mapstructure:"project"`

	// Source tags events with their origin environment.
	Source string `mapstructure:"source"`

	// ServerURL is the backend base URL.
	ServerURL string `mapstructure:"server_url" validate:"omitempty,url"`

	// SessionID pre-sets the session instead of creating one at init.
	SessionID string `mapstructure:"session_id" validate:"omitempty,uuid4"`

	// SessionName overrides the session display name (defaults to Project).
	SessionName string `mapstructure:"session_name"`

	// Verbose enables debug logging and the stdout span dump.
	Verbose bool `mapstructure:"verbose"`

	// DisableTracing turns the tracer into a no-op.
	DisableTracing bool `mapstructure:"disable_tracing"`

	// DisableHTTPTracing skips outbound-HTTP instrumentation.
	DisableHTTPTracing bool `mapstructure:"disable_http_tracing"`

	// OTLPEnabled selects the OTLP export path; when false the event API
	// path is used instead.
	OTLPEnabled bool `mapstructure:"otlp_enabled"`

	// DisableBatch flushes the exporter after every span.
	DisableBatch bool `mapstructure:"disable_batch"`

	MaxBatchSize    int `mapstructure:"max_batch_size" validate:"gte=1"`
	MaxBatchDelayMS int `mapstructure:"max_batch_delay_ms" validate:"gte=1"`
	QueueCapacity   int `mapstructure:"queue_capacity" validate:"gte=1"`
	WorkerCount     int `mapstructure:"worker_count" validate:"gte=1"`
	HTTPTimeoutMS   int `mapstructure:"http_timeout_ms" validate:"gte=1"`

	RetryMaxAttempts int `mapstructure:"retry_max_attempts" validate:"gte=0"`
	RetryBaseMS      int `mapstructure:"retry_base_ms" validate:"gte=1"`
	RetryCapMS       int `mapstructure:"retry_cap_ms" validate:"gte=1"`

	CacheMaxEntries int           `mapstructure:"cache_max_entries" validate:"gte=1"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`

	// Experiment attributes are written into baggage and event metadata.
	ExperimentID      string `mapstructure:"experiment_id"`
	ExperimentName    string `mapstructure:"experiment_name"`
	ExperimentVariant string `mapstructure:"experiment_variant"`
	ExperimentGroup   string `mapstructure:"experiment_group"`
}

// envBindings maps config keys to their environment variable names. The
// names are part of the public surface and do not follow a mechanical
// prefix scheme (HH_API_URL binds server_url).
var envBindings = map[string]string{
	"api_key":              "HH_API_KEY",
	"project":              "HH_PROJECT",
	"source":               "HH_SOURCE",
	"server_url":           "HH_API_URL",
	"session_id":           "HH_SESSION_ID",
	"verbose":              "HH_VERBOSE",
	"disable_tracing":      "HH_DISABLE_TRACING",
	"disable_http_tracing": "HH_DISABLE_HTTP_TRACING",
	"otlp_enabled":         "HH_OTLP_ENABLED",
	"experiment_id":        "HH_EXPERIMENT_ID",
	"experiment_name":      "HH_EXPERIMENT_NAME",
	"experiment_variant":   "HH_EXPERIMENT_VARIANT",
	"experiment_group":     "HH_EXPERIMENT_GROUP",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "production")
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("otlp_enabled", true)
	v.SetDefault("max_batch_size", 128)
	v.SetDefault("max_batch_delay_ms", 5000)
	v.SetDefault("queue_capacity", 2048)
	v.SetDefault("worker_count", 4)
	v.SetDefault("http_timeout_ms", 10000)
	v.SetDefault("retry_max_attempts", 4)
	v.SetDefault("retry_base_ms", 500)
	v.SetDefault("retry_cap_ms", 10000)
	v.SetDefault("cache_max_entries", 1000)
	v.SetDefault("cache_ttl", time.Hour)
}

// Load builds a Config from defaults and HH_* environment variables.
// Programmatic overrides are applied afterwards by the caller mutating the
// returned value.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, core.NewError("config.load", core.ErrConfigInvalid, "bind env "+env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, core.NewError("config.load", core.ErrConfigInvalid, "unmarshal", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables on a programmatically constructed
// Config so callers can specify only what they care about.
func (c *Config) ApplyDefaults() {
	if c.Source == "" {
		c.Source = "production"
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 128
	}
	if c.MaxBatchDelayMS == 0 {
		c.MaxBatchDelayMS = 5000
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 2048
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 4
	}
	if c.HTTPTimeoutMS == 0 {
		c.HTTPTimeoutMS = 10000
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 4
	}
	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 500
	}
	if c.RetryCapMS == 0 {
		c.RetryCapMS = 10000
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 1000
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
}

var validate = validator.New()

// Validate checks structural validity (URL shape, numeric bounds) and the
// presence of the fields required for non-degraded operation. A
// config_invalid error from Validate does not prevent the tracer from
// running degraded; the caller decides.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return core.NewError("config.validate", core.ErrConfigInvalid, "invalid configuration", err)
	}
	if c.APIKey == "" {
		return core.NewError("config.validate", core.ErrConfigInvalid, "api_key is required", nil)
	}
	if c.Project == "" {
		return core.NewError("config.validate", core.ErrConfigInvalid, "project is required", nil)
	}
	return nil
}

// HTTPTimeout returns the per-request timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMS) * time.Millisecond
}

// MaxBatchDelay returns the batch delay as a duration.
func (c Config) MaxBatchDelay() time.Duration {
	return time.Duration(c.MaxBatchDelayMS) * time.Millisecond
}

// RetryBase returns the backoff base as a duration.
func (c Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

// RetryCap returns the backoff cap as a duration.
func (c Config) RetryCap() time.Duration {
	return time.Duration(c.RetryCapMS) * time.Millisecond
}

// Experiment returns the experiment attributes as a map keyed by the short
// attribute name, omitting empty values.
func (c Config) Experiment() map[string]string {
	out := make(map[string]string, 4)
	if c.ExperimentID != "" {
		out["id"] = c.ExperimentID
	}
	if c.ExperimentName != "" {
		out["name"] = c.ExperimentName
	}
	if c.ExperimentVariant != "" {
		out["variant"] = c.ExperimentVariant
	}
	if c.ExperimentGroup != "" {
		out["group"] = c.ExperimentGroup
	}
	return out
}
