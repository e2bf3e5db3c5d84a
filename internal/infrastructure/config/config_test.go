package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
cloud:
  username: user@example.com
  password: hunter2
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.Host != "https://myapi.arlo.com" {
		t.Errorf("Cloud.Host = %q, want default", cfg.Cloud.Host)
	}
	if cfg.Refresh.FastInterval != 60 || cfg.Refresh.SlowInterval != 600 {
		t.Errorf("refresh defaults = %d/%d", cfg.Refresh.FastInterval, cfg.Refresh.SlowInterval)
	}
	if cfg.Worker.Pool != 4 {
		t.Errorf("Worker.Pool = %d, want 4", cfg.Worker.Pool)
	}
	if cfg.API.Port != 8780 {
		t.Errorf("API.Port = %d, want 8780", cfg.API.Port)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
refresh:
  fast_interval: 30
timeouts:
  request: 15
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Refresh.FastInterval != 30 {
		t.Errorf("FastInterval = %d, want 30", cfg.Refresh.FastInterval)
	}
	if cfg.Timeouts.Request != 15 {
		t.Errorf("Request = %d, want 15", cfg.Timeouts.Request)
	}
	// Untouched values keep their defaults.
	if cfg.Refresh.SlowInterval != 600 {
		t.Errorf("SlowInterval = %d, want 600", cfg.Refresh.SlowInterval)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SKYMIRROR_CLOUD_PASSWORD", "from-env")
	t.Setenv("SKYMIRROR_API_PORT", "9000")
	t.Setenv("SKYMIRROR_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.Password != "from-env" {
		t.Errorf("Cloud.Password = %q, want env value", cfg.Cloud.Password)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing username", func(c *Config) { c.Cloud.Username = "" }, "cloud.username"},
		{"missing password", func(c *Config) { c.Cloud.Password = "" }, "cloud.password"},
		{"bad host", func(c *Config) { c.Cloud.Host = "myapi.arlo.com" }, "cloud.host"},
		{"bad transport", func(c *Config) { c.Cloud.EventTransport = "carrier-pigeon" }, "event_transport"},
		{"bad mode api", func(c *Config) { c.Cloud.ModeAPI = "v9" }, "mode_api"},
		{"zero pool", func(c *Config) { c.Worker.Pool = 0 }, "worker.pool"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Cloud.Username = "user@example.com"
			cfg.Cloud.Password = "hunter2"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestTimeoutHelpers(t *testing.T) {
	cfg := defaultConfig()
	if cfg.RequestTimeout().Seconds() != 60 {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout())
	}
	if cfg.StreamTimeout() != 0 {
		t.Errorf("StreamTimeout = %v, want 0", cfg.StreamTimeout())
	}
}
