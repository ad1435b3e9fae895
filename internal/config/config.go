// Package config handles loading and validating hublens configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darshan-rambhia/hublens/internal/downsample"
	"github.com/darshan-rambhia/hublens/internal/session"
	"github.com/darshan-rambhia/hublens/internal/timerange"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level hublens configuration.
type Config struct {
	Listen            string               `yaml:"listen"`
	DBPath            string               `yaml:"db_path"`
	KeyPath           string               `yaml:"key_path"`
	SharedDir         string               `yaml:"shared_dir"`
	LogLevel          string               `yaml:"log_level"`
	LogFormat         string               `yaml:"log_format"`
	TimeRange         string               `yaml:"time_range"`
	DownsampleMethod  string               `yaml:"downsample_method"`
	AlertPollInterval Duration             `yaml:"alert_poll_interval"`
	TokenCacheTTL     Duration             `yaml:"token_cache_ttl"`
	Instances         []InstanceConfig     `yaml:"instances"`
	Notifications     []NotificationConfig `yaml:"notifications"`
}

// InstanceConfig declares a hub to keep registered. Exactly one of Password
// and Token is expected.
type InstanceConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	Insecure bool   `yaml:"insecure"`
}

// Secret returns the credential to store for the instance.
func (i InstanceConfig) Secret() string {
	if i.Token != "" {
		return i.Token
	}
	return i.Password
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "ntfy", "webhook" or "shoutrrr"
	URL     string            `yaml:"url"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Token   string            `yaml:"token,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. If no path is given, it falls
// back to defaults and environment variables. If a path is given and the
// file does not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.KeyPath == "" {
		return errors.New("key_path is required")
	}
	names := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instances[%d]: name is required", i)
		}
		if names[inst.Name] {
			return fmt.Errorf("instances[%d]: duplicate name %q", i, inst.Name)
		}
		names[inst.Name] = true
		if _, err := session.ParseBaseURL(inst.URL); err != nil {
			return fmt.Errorf("instances[%d]: %w", i, err)
		}
		if inst.Password == "" && inst.Token == "" {
			return fmt.Errorf("instances[%d]: password or token is required", i)
		}
		if inst.Password != "" && inst.Email == "" {
			return fmt.Errorf("instances[%d]: email is required with password", i)
		}
	}
	for i, n := range c.Notifications {
		switch n.Type {
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook", "shoutrrr":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for %s", i, n.Type)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected ntfy, webhook or shoutrrr)", i, n.Type)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	if _, err := timerange.Parse(c.TimeRange); err != nil {
		return fmt.Errorf("time_range: %w", err)
	}
	if _, err := downsample.ParseMethod(c.DownsampleMethod); err != nil {
		return fmt.Errorf("downsample_method: %w", err)
	}
	if c.AlertPollInterval.Duration < 10*time.Second {
		return fmt.Errorf("alert_poll_interval must be >= 10s")
	}
	if c.TokenCacheTTL.Duration <= 0 {
		return fmt.Errorf("token_cache_ttl must be > 0")
	}
	return nil
}

// Range returns the parsed default time range.
func (c *Config) Range() timerange.Range {
	r, _ := timerange.Parse(c.TimeRange)
	return r
}

// Method returns the parsed downsampling method.
func (c *Config) Method() downsample.Method {
	m, _ := downsample.ParseMethod(c.DownsampleMethod)
	return m
}

func defaults() *Config {
	return &Config{
		Listen:            "127.0.0.1:3810",
		DBPath:            "/data/hublens.db",
		KeyPath:           "/data/hublens.key",
		SharedDir:         "/data/shared",
		LogLevel:          "info",
		LogFormat:         "text",
		TimeRange:         timerange.LastHour.String(),
		DownsampleMethod:  downsample.Average.String(),
		AlertPollInterval: Duration{60 * time.Second},
		TokenCacheTTL:     Duration{10 * time.Minute},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

func applyEnvOverrides(cfg *Config) {
	for key, dst := range map[string]*string{
		"HUBLENS_LISTEN":            &cfg.Listen,
		"HUBLENS_DB_PATH":           &cfg.DBPath,
		"HUBLENS_KEY_PATH":          &cfg.KeyPath,
		"HUBLENS_SHARED_DIR":        &cfg.SharedDir,
		"HUBLENS_LOG_LEVEL":         &cfg.LogLevel,
		"HUBLENS_LOG_FORMAT":        &cfg.LogFormat,
		"HUBLENS_TIME_RANGE":        &cfg.TimeRange,
		"HUBLENS_DOWNSAMPLE_METHOD": &cfg.DownsampleMethod,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("HUBLENS_ALERT_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AlertPollInterval = Duration{d}
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.AlertPollInterval = Duration{time.Duration(n) * time.Second}
		}
	}

	// Single instance from env vars (only if no YAML instances configured).
	if len(cfg.Instances) == 0 {
		if hubURL := os.Getenv("HUBLENS_HUB_URL"); hubURL != "" {
			name := os.Getenv("HUBLENS_HUB_NAME")
			if name == "" {
				name = "default"
			}
			cfg.Instances = append(cfg.Instances, InstanceConfig{
				Name:     name,
				URL:      hubURL,
				Email:    os.Getenv("HUBLENS_HUB_EMAIL"),
				Password: os.Getenv("HUBLENS_HUB_PASSWORD"),
				Token:    os.Getenv("HUBLENS_HUB_TOKEN"),
				Insecure: envBool("HUBLENS_HUB_INSECURE"),
			})
		}
	}

	// Single ntfy target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if ntfyURL := os.Getenv("HUBLENS_NTFY_URL"); ntfyURL != "" {
			topic := os.Getenv("HUBLENS_NTFY_TOPIC")
			if topic == "" {
				topic = "hublens-alerts"
			}
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:  "ntfy",
				URL:   strings.TrimSpace(ntfyURL),
				Topic: topic,
				Token: os.Getenv("HUBLENS_NTFY_TOKEN"),
			})
		}
	}
}
