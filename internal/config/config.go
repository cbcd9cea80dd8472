package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort       = 8080
	DefaultFetchInterval  = 6 * time.Minute
	DefaultFetchTimeout   = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffCap     = 60 * time.Second
	DefaultConcurrency    = 8
	DefaultTrendWindow    = 6
	DefaultSlopeThreshold = 0.05
	DefaultCacheTTL       = 30 * time.Minute
	DefaultResyncSchedule = "@hourly"
	DefaultBacklogLimit   = 64
)

// Config is the top-level tidewatchd configuration.
type Config struct {
	// HTTPPort is the port the REST API, websocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	Upstream   UpstreamConfig   `yaml:"upstream"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Validation ValidationConfig `yaml:"validation"`
	Trend      TrendConfig      `yaml:"trend"`
	Store      StoreConfig      `yaml:"store"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Hub        HubConfig        `yaml:"hub"`

	// Stations is the monitored station catalog. Reloaded on config change;
	// the running catalog is swapped atomically, never mutated in place.
	Stations []StationConfig `yaml:"stations"`
}

// UpstreamConfig selects and configures the upstream reading source.
type UpstreamConfig struct {
	// Type is one of: ndbc | promgw.
	Type string `yaml:"type"`

	// BaseURL is the feed root. For ndbc, station feeds resolve to
	// {base_url}/{station_id}.txt; for promgw, {base_url}/{station_id}/metrics.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single upstream HTTP request.
	Timeout time.Duration `yaml:"timeout"`
}

// FetchConfig controls the per-station fetch cycle.
type FetchConfig struct {
	// Interval is the nominal fetch cycle per station (default 6m).
	Interval time.Duration `yaml:"interval"`

	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase and BackoffCap bound the exponential retry backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`

	// Concurrency limits simultaneous in-flight fetches across stations,
	// to respect upstream rate limits.
	Concurrency int `yaml:"concurrency"`
}

// ChannelBounds holds the physical plausibility range and the maximum
// credible single-step change for one channel.
type ChannelBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// MaxJump is the largest single-step delta that is not flagged suspect.
	// Zero disables the jump check for the channel.
	MaxJump float64 `yaml:"max_jump"`
}

// ValidationConfig holds the per-channel bound table.
type ValidationConfig struct {
	Bounds map[string]ChannelBounds `yaml:"bounds"`
}

// TrendConfig controls derived trend computation.
type TrendConfig struct {
	// Window is the number of trailing accepted valid readings per station
	// used for the moving average and direction classifier.
	Window int `yaml:"window"`

	// SlopeThreshold is the minimum per-reading slope before the direction
	// classifier reports increasing/decreasing instead of stable.
	SlopeThreshold float64 `yaml:"slope_threshold"`
}

// StoreConfig controls the durable log and latest-value cache.
type StoreConfig struct {
	// DataDir is the directory holding per-station append-only log files.
	// Empty selects the in-memory log (tests, ephemeral runs).
	DataDir string `yaml:"data_dir"`

	// CacheTTL is how long a latest snapshot stays live without a new commit.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// ResyncSchedule is a cron expression for the periodic cache resync from
	// the durable log (default @hourly).
	ResyncSchedule string `yaml:"resync_schedule"`
}

// AlertsConfig holds hysteresis rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one alert condition with distinct raise and clear
// thresholds (hysteresis).
type AlertRule struct {
	// Name is the rule identifier, unique across the rule set.
	Name string `yaml:"name"`

	// Station scopes the rule to one station ID, or "*" for all stations.
	Station string `yaml:"station"`

	// Kind is one of: threshold | trend | offline. Empty means threshold.
	Kind string `yaml:"kind"`

	// Raise and Clear are condition expressions like "wave_height > 4.0" and
	// "wave_height < 3.0". The clear threshold must be strictly less severe
	// than the raise threshold. Used by threshold rules.
	Raise string `yaml:"raise"`
	Clear string `yaml:"clear"`

	// Channel and Direction configure trend rules: the rule raises while the
	// channel's classified direction matches Direction, and clears otherwise.
	// MinAvg additionally requires the channel's windowed average to reach the
	// given value before the rule raises (zero disables the floor).
	Channel   string  `yaml:"channel"`
	Direction string  `yaml:"direction"`
	MinAvg    float64 `yaml:"min_avg"`

	// Severity is one of: critical | warning | info. Defaults to warning.
	Severity string `yaml:"severity"`

	// EscalateAt and EscalateTo optionally raise the open alert's severity
	// when the triggering value passes a further threshold.
	EscalateAt float64 `yaml:"escalate_at"`
	EscalateTo string  `yaml:"escalate_to"`
}

// WebhookConfig defines one webhook delivery target for alert transitions.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// HubConfig controls live subscriber delivery.
type HubConfig struct {
	// Backlog is the per-subscription outbound queue depth. A subscription
	// whose backlog overflows is forcibly closed.
	Backlog int `yaml:"backlog"`
}

// StationConfig describes one monitored station.
type StationConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
	Channels  []string `yaml:"channels"`

	// Status is active | retired. Retired stations stay in the catalog but
	// are skipped by the fetcher. Empty means active.
	Status string `yaml:"status"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		HTTPPort: DefaultHTTPPort,
		Upstream: UpstreamConfig{
			Type:    "ndbc",
			Timeout: DefaultFetchTimeout,
		},
		Fetch: FetchConfig{
			Interval:    DefaultFetchInterval,
			MaxRetries:  DefaultMaxRetries,
			BackoffBase: DefaultBackoffBase,
			BackoffCap:  DefaultBackoffCap,
			Concurrency: DefaultConcurrency,
		},
		Trend: TrendConfig{
			Window:         DefaultTrendWindow,
			SlopeThreshold: DefaultSlopeThreshold,
		},
		Store: StoreConfig{
			CacheTTL:       DefaultCacheTTL,
			ResyncSchedule: DefaultResyncSchedule,
		},
		Hub: HubConfig{
			Backlog: DefaultBacklogLimit,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
// Rule expressions are compiled (and hysteresis checked) by the alerts
// package at engine construction.
func validate(cfg *Config) error {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d is out of range [1, 65535]", cfg.HTTPPort)
	}
	switch cfg.Upstream.Type {
	case "ndbc", "promgw":
	default:
		return fmt.Errorf("upstream.type %q unknown: want ndbc|promgw", cfg.Upstream.Type)
	}
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if cfg.Fetch.Interval <= 0 {
		return fmt.Errorf("fetch.interval must be positive")
	}
	if cfg.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must not be negative")
	}
	if cfg.Fetch.BackoffBase <= 0 || cfg.Fetch.BackoffCap < cfg.Fetch.BackoffBase {
		return fmt.Errorf("fetch backoff: want 0 < backoff_base <= backoff_cap")
	}
	if cfg.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	for ch, b := range cfg.Validation.Bounds {
		if b.Min >= b.Max {
			return fmt.Errorf("validation.bounds[%s]: min %v must be below max %v", ch, b.Min, b.Max)
		}
		if b.MaxJump < 0 {
			return fmt.Errorf("validation.bounds[%s]: max_jump must not be negative", ch)
		}
	}
	if cfg.Trend.Window < 2 {
		return fmt.Errorf("trend.window %d too small: want >= 2", cfg.Trend.Window)
	}
	if cfg.Trend.SlopeThreshold < 0 {
		return fmt.Errorf("trend.slope_threshold must not be negative")
	}
	if cfg.Store.CacheTTL <= 0 {
		return fmt.Errorf("store.cache_ttl must be positive")
	}
	if cfg.Hub.Backlog <= 0 {
		return fmt.Errorf("hub.backlog must be positive")
	}

	seen := make(map[string]struct{}, len(cfg.Stations))
	for _, st := range cfg.Stations {
		if st.ID == "" {
			return fmt.Errorf("stations: entry with empty id")
		}
		if _, dup := seen[st.ID]; dup {
			return fmt.Errorf("stations: duplicate id %q", st.ID)
		}
		seen[st.ID] = struct{}{}
		switch st.Status {
		case "", "active", "retired":
		default:
			return fmt.Errorf("stations[%s]: status %q unknown: want active|retired", st.ID, st.Status)
		}
	}

	names := make(map[string]struct{}, len(cfg.Alerts.Rules))
	for _, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules: rule with empty name")
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("alerts.rules: duplicate name %q", r.Name)
		}
		names[r.Name] = struct{}{}
	}
	return nil
}
