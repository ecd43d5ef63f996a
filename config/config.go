package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Relay      RelayConfig      `yaml:"relay"`
	Retention  RetentionConfig  `yaml:"retention"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LogConfig selects the zap logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// SQLLevel is the gorm logger level: silent, error, warn or info.
	SQLLevel string `yaml:"sql_level"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
}

// DashboardConfig tunes the read views.
type DashboardConfig struct {
	ConnectedWithinSeconds float64       `yaml:"connected_within_seconds"`
	ConnectedWithin        time.Duration `yaml:"-"`
	DefaultWindowMinutes   int           `yaml:"default_window_minutes"`
	MaxWindowMinutes       int           `yaml:"max_window_minutes"`
}

// RelayConfig describes how relay commands reach the boards.
type RelayConfig struct {
	// DeviceHost is used until the NodeMCU has been seen, or always when
	// PinDeviceHost is set.
	DeviceHost     string        `yaml:"device_host"`
	DevicePort     int           `yaml:"device_port"`
	PinDeviceHost  bool          `yaml:"pin_device_host"`
	TimeoutSeconds float64       `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// RetentionConfig controls the sample janitor.
type RetentionConfig struct {
	Enabled         bool          `yaml:"enabled"`
	HorizonHours    int           `yaml:"horizon_hours"`
	Horizon         time.Duration `yaml:"-"`
	IntervalMinutes int           `yaml:"interval_minutes"`
	Interval        time.Duration `yaml:"-"`
}

// BroadcastConfig lists the optional live-state transports besides websockets.
type BroadcastConfig struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Redis RedisConfig `yaml:"redis"`
}

// MQTTConfig holds the MQTT broker settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retained    bool   `yaml:"retained"`
}

// RedisConfig holds the Redis pub/sub settings.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values and derives the duration fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8000
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 20
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 10
	}
	if c.Server.CacheTTLSeconds < 0 {
		c.Server.CacheTTLSeconds = 0
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.SQLLevel == "" {
		c.Log.SQLLevel = "warn"
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "telemetry.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetimeMinutes <= 0 {
		c.Database.ConnMaxLifetimeMinutes = 30
	}

	if c.Dashboard.ConnectedWithinSeconds <= 0 {
		c.Dashboard.ConnectedWithinSeconds = 5
	}
	c.Dashboard.ConnectedWithin = time.Duration(c.Dashboard.ConnectedWithinSeconds * float64(time.Second))
	if c.Dashboard.DefaultWindowMinutes <= 0 {
		c.Dashboard.DefaultWindowMinutes = 30
	}
	if c.Dashboard.MaxWindowMinutes <= 0 {
		c.Dashboard.MaxWindowMinutes = 7 * 24 * 60
	}

	if c.Relay.DeviceHost == "" {
		c.Relay.DeviceHost = "vehicle.local"
	}
	if c.Relay.TimeoutSeconds <= 0 {
		c.Relay.TimeoutSeconds = 3
	}
	c.Relay.Timeout = time.Duration(c.Relay.TimeoutSeconds * float64(time.Second))

	if c.Retention.HorizonHours <= 0 {
		c.Retention.HorizonHours = 7 * 24
	}
	c.Retention.Horizon = time.Duration(c.Retention.HorizonHours) * time.Hour
	if c.Retention.IntervalMinutes <= 0 {
		c.Retention.IntervalMinutes = 60
	}
	c.Retention.Interval = time.Duration(c.Retention.IntervalMinutes) * time.Minute

	if c.Broadcast.MQTT.ClientID == "" {
		c.Broadcast.MQTT.ClientID = "telemetryd"
	}
	if c.Broadcast.MQTT.TopicPrefix == "" {
		c.Broadcast.MQTT.TopicPrefix = "telemetry"
	}
	if c.Broadcast.Redis.ChannelPrefix == "" {
		c.Broadcast.Redis.ChannelPrefix = "telemetry"
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.WorkerPool.Size <= 0 {
		c.WorkerPool.Size = 1
	}
	if c.WorkerPool.QueueSize <= 0 {
		c.WorkerPool.QueueSize = 64
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Dashboard.DefaultWindowMinutes > c.Dashboard.MaxWindowMinutes {
		return fmt.Errorf("dashboard.default_window_minutes (%d) exceeds max_window_minutes (%d)",
			c.Dashboard.DefaultWindowMinutes, c.Dashboard.MaxWindowMinutes)
	}
	if c.Relay.DevicePort < 0 || c.Relay.DevicePort > 65535 {
		return fmt.Errorf("relay.device_port out of range: %d", c.Relay.DevicePort)
	}
	if c.Broadcast.MQTT.Enabled && c.Broadcast.MQTT.Broker == "" {
		return fmt.Errorf("broadcast.mqtt.broker is required when mqtt is enabled")
	}
	if c.Broadcast.MQTT.QoS > 2 {
		return fmt.Errorf("broadcast.mqtt.qos must be 0, 1 or 2")
	}
	if c.Broadcast.Redis.Enabled && c.Broadcast.Redis.Addr == "" {
		return fmt.Errorf("broadcast.redis.addr is required when redis is enabled")
	}
	return nil
}
