package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "WIFIPROV"

// Config is the full runtime configuration of the gateway.
type Config struct {
	Port         string          `mapstructure:"port"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	Log          LogConfig       `mapstructure:"log"`
	DB           DBConfig        `mapstructure:"db"`
	BLE          BLEConfig       `mapstructure:"ble"`
	Confirm      ConfirmConfig   `mapstructure:"confirm"`
	Backend      BackendConfig   `mapstructure:"backend"`
	Auth         AuthConfig      `mapstructure:"auth"`
	Retention    RetentionConfig `mapstructure:"retention"`
	Tracing      TracingConfig   `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// BLEConfig holds radio-side timing and adapter selection.
type BLEConfig struct {
	Adapter             string        `mapstructure:"adapter"`
	ScanTimeout         time.Duration `mapstructure:"scan_timeout"`
	AvailabilityTimeout time.Duration `mapstructure:"availability_timeout"`
	NotifyTimeout       time.Duration `mapstructure:"notify_timeout"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	DiscoverTimeout     time.Duration `mapstructure:"discover_timeout"`
	GATTTimeout         time.Duration `mapstructure:"gatt_timeout"`
	NegotiateLink       bool          `mapstructure:"negotiate_link"`
	MTU                 int           `mapstructure:"mtu"`
	SkipPreflight       bool          `mapstructure:"skip_preflight"`
}

// ConfirmConfig drives the reachability fallback.
type ConfirmConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	PollDeadline       time.Duration `mapstructure:"poll_deadline"`
	CredentialKeywords []string      `mapstructure:"credential_keywords"`
	WifiFailureMessage string        `mapstructure:"wifi_failure_message"`
}

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MDNSService    string        `mapstructure:"mdns_service"`
	MDNSTimeout    time.Duration `mapstructure:"mdns_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

var errNoSigningKey = errors.New("auth.signing_key must be set")

// setDefaults registers the reference timings of the provisioning protocol.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	// must outlast every bounded step of one attempt, see AttemptBudget
	v.SetDefault("write_timeout", 120*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("db.path", "provisioner.db")

	v.SetDefault("ble.adapter", "hci0")
	v.SetDefault("ble.scan_timeout", 15*time.Second)
	v.SetDefault("ble.availability_timeout", 5*time.Second)
	v.SetDefault("ble.notify_timeout", 20*time.Second)
	v.SetDefault("ble.connect_timeout", 10*time.Second)
	v.SetDefault("ble.discover_timeout", 10*time.Second)
	v.SetDefault("ble.gatt_timeout", 5*time.Second)
	v.SetDefault("ble.negotiate_link", true)
	v.SetDefault("ble.mtu", 247)
	v.SetDefault("ble.skip_preflight", false)

	v.SetDefault("confirm.poll_interval", 2*time.Second)
	v.SetDefault("confirm.poll_deadline", 25*time.Second)
	v.SetDefault("confirm.credential_keywords", []string{"ssid", "password", "auth", "timeout", "wifi"})
	v.SetDefault("confirm.wifi_failure_message", "Device could not join the Wi-Fi network. Check the network name and password and try again.")

	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.mdns_service", "_provisioning-backend._tcp")
	v.SetDefault("backend.mdns_timeout", 5*time.Second)
	v.SetDefault("backend.request_timeout", 3*time.Second)
	v.SetDefault("backend.rate_per_second", 2.0)
	v.SetDefault("backend.burst", 2)
	v.SetDefault("backend.breaker.max_failures", 5)
	v.SetDefault("backend.breaker.timeout", 10*time.Second)
	v.SetDefault("backend.breaker.interval", 60*time.Second)

	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("retention.schedule", "@daily")
	v.SetDefault("retention.max_age", 30*24*time.Hour)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "noop")
}

// Load reads configs/<name>.yml from the given search paths, then applies
// WIFIPROV_* environment overrides. A missing file is not an error.
func Load(name string, paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no safe default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return errNoSigningKey
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":         c.BLE.ScanTimeout,
		"availability_timeout": c.BLE.AvailabilityTimeout,
		"notify_timeout":       c.BLE.NotifyTimeout,
		"connect_timeout":      c.BLE.ConnectTimeout,
		"discover_timeout":     c.BLE.DiscoverTimeout,
		"gatt_timeout":         c.BLE.GATTTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("ble.%s must be positive, got %s", name, d)
		}
	}
	if c.Confirm.PollInterval <= 0 || c.Confirm.PollDeadline < c.Confirm.PollInterval {
		return fmt.Errorf("confirm.poll_interval must be positive and not exceed confirm.poll_deadline")
	}
	if attempt := c.AttemptBudget(); c.WriteTimeout > 0 && c.WriteTimeout <= attempt {
		return fmt.Errorf("write_timeout %s must exceed one attempt (%s)", c.WriteTimeout, attempt)
	}
	return nil
}

// AttemptBudget is the longest one provisioning attempt can run: scan,
// connect, discovery, three GATT windows (link negotiation, subscribe, write),
// the notify wait and the reachability poll.
func (c *Config) AttemptBudget() time.Duration {
	b := c.BLE
	return b.ScanTimeout + b.ConnectTimeout + b.DiscoverTimeout + 3*b.GATTTimeout +
		b.NotifyTimeout + c.Confirm.PollDeadline
}
