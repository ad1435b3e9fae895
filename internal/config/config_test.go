package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/darshan-rambhia/hublens/internal/downsample"
	"github.com/darshan-rambhia/hublens/internal/timerange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hublens.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HUBLENS_LISTEN", "HUBLENS_DB_PATH", "HUBLENS_KEY_PATH", "HUBLENS_SHARED_DIR",
		"HUBLENS_LOG_LEVEL", "HUBLENS_LOG_FORMAT", "HUBLENS_TIME_RANGE",
		"HUBLENS_DOWNSAMPLE_METHOD", "HUBLENS_ALERT_POLL_INTERVAL",
		"HUBLENS_HUB_URL", "HUBLENS_HUB_NAME", "HUBLENS_HUB_EMAIL",
		"HUBLENS_HUB_PASSWORD", "HUBLENS_HUB_TOKEN", "HUBLENS_HUB_INSECURE",
		"HUBLENS_NTFY_URL", "HUBLENS_NTFY_TOPIC", "HUBLENS_NTFY_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

const fullYAML = `
listen: ":9090"
db_path: "/tmp/test.db"
key_path: "/tmp/test.key"
shared_dir: "/tmp/shared"
log_level: "debug"
log_format: "json"
time_range: "24h"
downsample_method: "median"
alert_poll_interval: "2m"
token_cache_ttl: "5m"

instances:
  - name: homelab
    url: "https://hub.lan:8090"
    email: "me@example.com"
    password: "${TEST_HUB_PASSWORD}"
  - name: office
    url: "http://10.0.0.4:8090"
    token: "eyJhbGciOiJIUzI1NiJ9.e30.c2ln"
    insecure: true

notifications:
  - type: ntfy
    url: "https://ntfy.sh"
    topic: "hub-alerts"
  - type: webhook
    url: "https://example.com/hook"
    method: PUT
    headers:
      X-Api-Key: "k"
  - type: shoutrrr
    url: "discord://token@channel"
`

func TestLoad_Full(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_HUB_PASSWORD", "s3cret")

	cfg, err := Load(writeYAML(t, fullYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/tmp/test.key", cfg.KeyPath)
	assert.Equal(t, "/tmp/shared", cfg.SharedDir)
	assert.Equal(t, timerange.Last24Hours, cfg.Range())
	assert.Equal(t, downsample.Median, cfg.Method())
	assert.Equal(t, 2*time.Minute, cfg.AlertPollInterval.Duration)
	assert.Equal(t, 5*time.Minute, cfg.TokenCacheTTL.Duration)

	require.Len(t, cfg.Instances, 2)
	assert.Equal(t, "s3cret", cfg.Instances[0].Secret(), "env placeholder expanded")
	assert.Equal(t, "eyJhbGciOiJIUzI1NiJ9.e30.c2ln", cfg.Instances[1].Secret())
	assert.True(t, cfg.Instances[1].Insecure)

	require.Len(t, cfg.Notifications, 3)
	assert.Equal(t, "PUT", cfg.Notifications[1].Method)
	assert.Equal(t, "k", cfg.Notifications[1].Headers["X-Api-Key"])
	assert.Equal(t, "shoutrrr", cfg.Notifications[2].Type)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3810", cfg.Listen)
	assert.Equal(t, "/data/hublens.db", cfg.DBPath)
	assert.Equal(t, timerange.LastHour, cfg.Range())
	assert.Equal(t, downsample.Average, cfg.Method())
	assert.Equal(t, time.Minute, cfg.AlertPollInterval.Duration)
	assert.Empty(t, cfg.Instances)
}

func TestLoad_FileNotFound(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeYAML(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_BadDuration(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeYAML(t, `alert_poll_interval: "soon"`))
	assert.ErrorContains(t, err, `invalid duration "soon"`)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUBLENS_LISTEN", ":7000")
	t.Setenv("HUBLENS_TIME_RANGE", "7d")
	t.Setenv("HUBLENS_ALERT_POLL_INTERVAL", "90")
	t.Setenv("HUBLENS_HUB_URL", "http://hub:8090")
	t.Setenv("HUBLENS_HUB_EMAIL", "a@b")
	t.Setenv("HUBLENS_HUB_PASSWORD", "pw")
	t.Setenv("HUBLENS_HUB_INSECURE", "1")
	t.Setenv("HUBLENS_NTFY_URL", "https://ntfy.sh")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, timerange.Last7Days, cfg.Range())
	assert.Equal(t, 90*time.Second, cfg.AlertPollInterval.Duration)

	require.Len(t, cfg.Instances, 1)
	assert.Equal(t, InstanceConfig{Name: "default", URL: "http://hub:8090", Email: "a@b", Password: "pw", Insecure: true}, cfg.Instances[0])
	require.Len(t, cfg.Notifications, 1)
	assert.Equal(t, "hublens-alerts", cfg.Notifications[0].Topic)
}

func TestEnvInstanceIgnoredWhenFileHasInstances(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_HUB_PASSWORD", "x")
	t.Setenv("HUBLENS_HUB_URL", "http://other:8090")
	cfg, err := Load(writeYAML(t, fullYAML))
	require.NoError(t, err)
	assert.Len(t, cfg.Instances, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"no db", func(c *Config) { c.DBPath = "" }, "db_path is required"},
		{"no key", func(c *Config) { c.KeyPath = "" }, "key_path is required"},
		{"instance without name", func(c *Config) {
			c.Instances = []InstanceConfig{{URL: "http://x", Token: "t"}}
		}, "name is required"},
		{"duplicate names", func(c *Config) {
			c.Instances = []InstanceConfig{{Name: "a", URL: "http://x", Token: "t"}, {Name: "a", URL: "http://y", Token: "t"}}
		}, "duplicate name"},
		{"bad url", func(c *Config) {
			c.Instances = []InstanceConfig{{Name: "a", URL: "hub.lan", Token: "t"}}
		}, "invalid"},
		{"no secret", func(c *Config) {
			c.Instances = []InstanceConfig{{Name: "a", URL: "http://x"}}
		}, "password or token is required"},
		{"password without email", func(c *Config) {
			c.Instances = []InstanceConfig{{Name: "a", URL: "http://x", Password: "p"}}
		}, "email is required"},
		{"ntfy without topic", func(c *Config) {
			c.Notifications = []NotificationConfig{{Type: "ntfy", URL: "http://n"}}
		}, "topic is required"},
		{"shoutrrr without url", func(c *Config) {
			c.Notifications = []NotificationConfig{{Type: "shoutrrr"}}
		}, "url is required for shoutrrr"},
		{"unknown notification", func(c *Config) {
			c.Notifications = []NotificationConfig{{Type: "pager", URL: "x"}}
		}, `unknown type "pager"`},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad range", func(c *Config) { c.TimeRange = "2h" }, "time_range"},
		{"bad method", func(c *Config) { c.DownsampleMethod = "mode" }, "downsample_method"},
		{"poll too fast", func(c *Config) { c.AlertPollInterval = Duration{time.Second} }, "alert_poll_interval"},
		{"zero ttl", func(c *Config) { c.TokenCacheTTL = Duration{} }, "token_cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDurationMarshalYAML(t *testing.T) {
	v, err := Duration{90 * time.Second}.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", v)
}

func FuzzExpandEnvVars(f *testing.F) {
	f.Add("url: ${HOME}/x")
	f.Add("${")
	f.Add("${}")
	f.Fuzz(func(t *testing.T, s string) {
		_ = expandEnvVars([]byte(s))
	})
}
