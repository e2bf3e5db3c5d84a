package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Skymirror.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	TFA      TFAConfig      `yaml:"tfa"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Media    MediaConfig    `yaml:"media"`
	State    StateConfig    `yaml:"state"`
	Worker   WorkerConfig   `yaml:"worker"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains the cloud account and endpoint settings.
type CloudConfig struct {
	// Username and Password are the cloud account credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Host is the main API host. AuthHost handles login and 2FA.
	Host     string `yaml:"host"`
	AuthHost string `yaml:"auth_host"`

	// MQTTHost overrides the broker host the server hands out for the
	// push channel. Rarely needed.
	MQTTHost string `yaml:"mqtt_host"`

	// EventTransport selects the push channel: "auto", "sse" or "mqtt".
	// With "auto" the server's session response decides.
	EventTransport string `yaml:"event_transport"`

	// UserAgent is sent on every request. It affects which stream
	// container format the server returns.
	UserAgent string `yaml:"user_agent"`

	// ModeAPI forces a mode protocol generation: "auto", "v1", "v2" or "v3".
	ModeAPI string `yaml:"mode_api"`

	// Synchronous makes startup run the initial state fetches in the
	// caller's goroutine instead of queueing them.
	Synchronous bool `yaml:"synchronous"`
}

// TFAConfig describes how two-factor codes are obtained. The delivery
// mechanisms themselves live outside the core; the core only consumes the
// start/get/stop contract.
type TFAConfig struct {
	// Source is where the code comes from: "console", "imap" or "rest-api".
	Source string `yaml:"source"`

	// Type is how the server delivers the code: "EMAIL", "SMS" or "PUSH".
	Type string `yaml:"type"`

	// Host, Username and Password configure imap/rest-api sources.
	// Username/Password default to the cloud credentials when empty.
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout is the per-poll wait and TotalTimeout the overall budget,
	// both in seconds.
	Timeout      int `yaml:"timeout"`
	TotalTimeout int `yaml:"total_timeout"`
}

// RefreshConfig contains the periodic refresh intervals.
type RefreshConfig struct {
	// FastInterval is the seconds-scale housekeeping cycle (pings, state
	// snapshot saves, day-change checks). Default 60s.
	FastInterval int `yaml:"fast_interval"`

	// SlowInterval is the minutes-scale cycle (base states, ambient
	// sensors). Default 600s.
	SlowInterval int `yaml:"slow_interval"`

	// DevicesEvery re-reads the device list every N hours. 0 disables.
	DevicesEvery int `yaml:"devices_every"`

	// ModesEvery re-reads the mode lists every N seconds. 0 disables.
	ModesEvery int `yaml:"modes_every"`

	// ReconnectEvery forces a logout/login every N minutes to defend
	// against silent session expiry. 0 disables.
	ReconnectEvery int `yaml:"reconnect_every"`
}

// TimeoutConfig contains request and activity timeouts, in seconds.
type TimeoutConfig struct {
	// Request bounds a single HTTP round trip.
	Request int `yaml:"request"`

	// Stream bounds the event stream read; 0 means no read deadline.
	Stream int `yaml:"stream"`

	// Snapshot forces a wedged snapshot attempt back to idle.
	Snapshot int `yaml:"snapshot"`

	// UserStreamDelay is a settle delay after a user stream goes active.
	UserStreamDelay int `yaml:"user_stream_delay"`

	// RecentActivity is how long a camera reports "recently active"
	// after motion or audio.
	RecentActivity int `yaml:"recent_activity"`

	// DoorbellDing and DoorbellMotion are how long a doorbell press or
	// motion event stays asserted before the synthetic clear fires.
	DoorbellDing   int `yaml:"doorbell_ding"`
	DoorbellMotion int `yaml:"doorbell_motion"`
}

// MediaConfig contains media library settings.
type MediaConfig struct {
	// LibraryDays is how many days of recordings to load.
	LibraryDays int `yaml:"library_days"`

	// RetrySchedule queues library refreshes N seconds after camera
	// activity, for servers that fail to push upload notifications.
	RetrySchedule []int `yaml:"retry_schedule"`

	// SnapshotChecks queues media checks N seconds after a snapshot
	// request.
	SnapshotChecks []int `yaml:"snapshot_checks"`
}

// StateConfig contains attribute snapshot persistence settings.
type StateConfig struct {
	// Path is the sqlite snapshot file. Empty disables persistence.
	Path string `yaml:"path"`
}

// WorkerConfig contains background scheduler settings.
type WorkerConfig struct {
	// Pool is the number of scheduler workers.
	Pool int `yaml:"pool"`
}

// APIConfig contains the local read-only status API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// InfluxDBConfig contains the optional ambient-sensor sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SKYMIRROR_SECTION_KEY
// For example: SKYMIRROR_CLOUD_PASSWORD, SKYMIRROR_STATE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			Host:           "https://myapi.arlo.com",
			AuthHost:       "https://ocapi-app.arlo.com",
			EventTransport: "auto",
			UserAgent:      "skymirror",
			ModeAPI:        "auto",
		},
		TFA: TFAConfig{
			Source:       "console",
			Type:         "EMAIL",
			Timeout:      5,
			TotalTimeout: 60,
		},
		Refresh: RefreshConfig{
			FastInterval: 60,
			SlowInterval: 600,
			DevicesEvery: 2,
			ModesEvery:   0,
		},
		Timeouts: TimeoutConfig{
			Request:         60,
			Stream:          0,
			Snapshot:        65,
			UserStreamDelay: 2,
			RecentActivity:  600,
			DoorbellDing:    10,
			DoorbellMotion:  30,
		},
		Media: MediaConfig{
			LibraryDays: 30,
		},
		State: StateConfig{
			Path: "./data/skymirror.db",
		},
		Worker: WorkerConfig{
			Pool: 4,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8780,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SKYMIRROR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKYMIRROR_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("SKYMIRROR_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("SKYMIRROR_CLOUD_HOST"); v != "" {
		cfg.Cloud.Host = v
	}
	if v := os.Getenv("SKYMIRROR_CLOUD_AUTH_HOST"); v != "" {
		cfg.Cloud.AuthHost = v
	}
	if v := os.Getenv("SKYMIRROR_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("SKYMIRROR_TFA_PASSWORD"); v != "" {
		cfg.TFA.Password = v
	}
	if v := os.Getenv("SKYMIRROR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("SKYMIRROR_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("SKYMIRROR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.Username == "" {
		errs = append(errs, "cloud.username is required")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required")
	}
	if !strings.HasPrefix(c.Cloud.Host, "http") {
		errs = append(errs, "cloud.host must be an http(s) URL")
	}
	switch strings.ToLower(c.Cloud.EventTransport) {
	case "auto", "sse", "mqtt":
	default:
		errs = append(errs, "cloud.event_transport must be auto, sse or mqtt")
	}
	switch strings.ToLower(c.Cloud.ModeAPI) {
	case "auto", "v1", "v2", "v3":
	default:
		errs = append(errs, "cloud.mode_api must be auto, v1, v2 or v3")
	}
	if c.Refresh.FastInterval <= 0 {
		errs = append(errs, "refresh.fast_interval must be positive")
	}
	if c.Refresh.SlowInterval <= 0 {
		errs = append(errs, "refresh.slow_interval must be positive")
	}
	if c.Timeouts.Request <= 0 {
		errs = append(errs, "timeouts.request must be positive")
	}
	if c.Worker.Pool <= 0 {
		errs = append(errs, "worker.pool must be positive")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RequestTimeout returns the HTTP round-trip timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeouts.Request) * time.Second
}

// StreamTimeout returns the event stream read deadline, or 0 for none.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Timeouts.Stream) * time.Second
}

// SnapshotTimeout returns the snapshot idle-fallback timeout.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Timeouts.Snapshot) * time.Second
}
