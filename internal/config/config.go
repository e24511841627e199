package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	perrors "routeperf/internal/errors"
)

// Thresholds drive the alert levels for a recorded route.
type Thresholds struct {
	RequestTimeWarning  float64 // seconds
	RequestTimeCritical float64
	QueryCountWarning   int
	QueryCountCritical  int
	MemoryWarningMB     float64
	MemoryCriticalMB    float64
}

// Config holds the runtime configuration. Values come from APP_* environment
// variables (a .env file is loaded by main) and, optionally, from the file
// named by APP_CONFIG_FILE. Environment wins over the file.
type Config struct {
	// Env is the environment name samples are recorded under.
	Env string

	DatabaseURL string

	Enabled      bool
	Environments []string

	// TableName is the aggregate table. Access records live in
	// TableName + "_records".
	TableName string

	TrackQueries     bool
	TrackRequestTime bool
	TrackStatusCodes []int
	IgnoreRoutes     []string

	// SamplingRate is the fraction of requests recorded, in [0, 1].
	SamplingRate float64

	Async       bool
	NATSURL     string
	NATSSubject string
	NATSStream  string

	EnableAccessRecords bool
	// AccessRecordsRetentionDays is the default purge window. Zero means
	// no retention is configured.
	AccessRecordsRetentionDays int
	PurgeSchedule              string

	EnableLogging bool
	LogLevel      string
	LogFormat     string

	RedisURL string
	CacheTTL time.Duration

	ListenAddr     string
	AdminToken     string
	AdminTokenHash string

	AlertsEnabled      bool
	AlertWebhookURL    string
	AlertWebhookFormat string
	Thresholds         Thresholds
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func defaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("enabled", true)
	v.SetDefault("environments", "dev,test")
	v.SetDefault("table_name", "routes_data")
	v.SetDefault("track_queries", true)
	v.SetDefault("track_request_time", true)
	v.SetDefault("track_status_codes", "200,404,500,503")
	v.SetDefault("ignore_routes", "_wdt,_profiler,_error,/healthz,/metrics")
	v.SetDefault("sampling_rate", 1.0)
	v.SetDefault("async", false)
	v.SetDefault("nats_subject", "routeperf.metrics")
	v.SetDefault("nats_stream", "ROUTEPERF")
	v.SetDefault("enable_access_records", false)
	v.SetDefault("access_records_retention_days", 0)
	v.SetDefault("purge_schedule", "@daily")
	v.SetDefault("enable_logging", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("cache_ttl", "1h")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("alerts_enabled", false)
	v.SetDefault("alert_webhook_format", "json")
	v.SetDefault("threshold_request_time_warning", 0.5)
	v.SetDefault("threshold_request_time_critical", 1.0)
	v.SetDefault("threshold_query_count_warning", 20)
	v.SetDefault("threshold_query_count_critical", 50)
	v.SetDefault("threshold_memory_warning_mb", 20.0)
	v.SetDefault("threshold_memory_critical_mb", 50.0)
}

// Load reads configuration from the environment and the optional config
// file, and applies defaults. It does not validate; see Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	defaults(v)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryConfig, "read config file "+file)
		}
	}

	codes, err := intList(v.Get("track_status_codes"))
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, "APP_TRACK_STATUS_CODES")
	}

	cfg := &Config{
		Env:                        v.GetString("env"),
		DatabaseURL:                strings.TrimSpace(v.GetString("database_url")),
		Enabled:                    v.GetBool("enabled"),
		Environments:               stringList(v.Get("environments")),
		TableName:                  v.GetString("table_name"),
		TrackQueries:               v.GetBool("track_queries"),
		TrackRequestTime:           v.GetBool("track_request_time"),
		TrackStatusCodes:           codes,
		IgnoreRoutes:               stringList(v.Get("ignore_routes")),
		SamplingRate:               clamp01(v.GetFloat64("sampling_rate")),
		Async:                      v.GetBool("async"),
		NATSURL:                    v.GetString("nats_url"),
		NATSSubject:                v.GetString("nats_subject"),
		NATSStream:                 v.GetString("nats_stream"),
		EnableAccessRecords:        v.GetBool("enable_access_records"),
		AccessRecordsRetentionDays: v.GetInt("access_records_retention_days"),
		PurgeSchedule:              v.GetString("purge_schedule"),
		EnableLogging:              v.GetBool("enable_logging"),
		LogLevel:                   v.GetString("log_level"),
		LogFormat:                  v.GetString("log_format"),
		RedisURL:                   v.GetString("redis_url"),
		CacheTTL:                   v.GetDuration("cache_ttl"),
		ListenAddr:                 v.GetString("listen_addr"),
		AdminToken:                 v.GetString("admin_token"),
		AdminTokenHash:             v.GetString("admin_token_hash"),
		AlertsEnabled:              v.GetBool("alerts_enabled"),
		AlertWebhookURL:            v.GetString("alert_webhook_url"),
		AlertWebhookFormat:         strings.ToLower(v.GetString("alert_webhook_format")),
		Thresholds: Thresholds{
			RequestTimeWarning:  v.GetFloat64("threshold_request_time_warning"),
			RequestTimeCritical: v.GetFloat64("threshold_request_time_critical"),
			QueryCountWarning:   v.GetInt("threshold_query_count_warning"),
			QueryCountCritical:  v.GetInt("threshold_query_count_critical"),
			MemoryWarningMB:     v.GetFloat64("threshold_memory_warning_mb"),
			MemoryCriticalMB:    v.GetFloat64("threshold_memory_critical_mb"),
		},
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if !identRe.MatchString(c.TableName) {
		return perrors.Newf(perrors.CategoryConfig, "table name %q is not a valid identifier", c.TableName)
	}
	if c.AccessRecordsRetentionDays < 0 {
		return perrors.New(perrors.CategoryConfig, "APP_ACCESS_RECORDS_RETENTION_DAYS must not be negative")
	}
	if c.Async && c.NATSURL == "" {
		return perrors.New(perrors.CategoryConfig, "APP_ASYNC requires APP_NATS_URL")
	}
	switch c.AlertWebhookFormat {
	case "json", "slack", "teams":
	default:
		return perrors.Newf(perrors.CategoryConfig, "unsupported alert webhook format %q", c.AlertWebhookFormat)
	}
	return nil
}

// RecordsTableName is the access-records table derived from TableName.
func (c *Config) RecordsTableName() string {
	return c.TableName + "_records"
}

// Driver returns the database family named by the DatabaseURL scheme:
// "postgres", "mysql" or "sqlite". Empty when the URL is unset.
func (c *Config) Driver() string {
	if c.DatabaseURL == "" {
		return ""
	}
	// Cut instead of url.Parse: "sqlite://:memory:" is not a valid URL.
	scheme, _, ok := strings.Cut(c.DatabaseURL, "://")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3", "file":
		return "sqlite"
	}
	return ""
}

// EnvironmentAllowed reports whether samples are recorded for env.
func (c *Config) EnvironmentAllowed(env string) bool {
	for _, e := range c.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// RouteIgnored reports whether a route name is excluded from tracking.
func (c *Config) RouteIgnored(name string) bool {
	for _, r := range c.IgnoreRoutes {
		if r == name {
			return true
		}
	}
	return false
}

// stringList accepts a comma separated string or a list from a config file.
func stringList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intList(raw any) ([]int, error) {
	items := stringList(raw)
	out := make([]int, 0, len(items))
	for _, s := range items {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid status code %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
