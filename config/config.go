package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging    LogConfig       `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig   `json:"metrics" yaml:"metrics"`
	Engine     EngineConfig    `json:"engine" yaml:"engine"`
	Processing ProcConfig      `json:"processing" yaml:"processing"`
	Scheduler  SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Storage    StorageConfig   `json:"storage" yaml:"storage"`
	NATS       NATSConfig      `json:"nats" yaml:"nats"`
	MQTT       MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	HTTP       HTTPConfig      `json:"http" yaml:"http"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`           // debug, info, warn, error
	OutputPath string `json:"outputPath" yaml:"outputPath"` // file path or "stdout"
	Encoding   string `json:"encoding" yaml:"encoding"`     // json or console
	MaxSize    int    `json:"maxSize" yaml:"maxSize"`       // megabytes before rotation
	MaxAge     int    `json:"maxAge" yaml:"maxAge"`         // days
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Address        string `json:"address" yaml:"address"`
	Path           string `json:"path" yaml:"path"`
	UpdateInterval string `json:"updateInterval" yaml:"updateInterval"` // Duration string
}

// EngineConfig controls action execution and stats defaults.
type EngineConfig struct {
	ActionTimeout  string `json:"actionTimeout" yaml:"actionTimeout"`
	MaxAttempts    int    `json:"maxAttempts" yaml:"maxAttempts"`
	RetryBaseDelay string `json:"retryBaseDelay" yaml:"retryBaseDelay"`
	RetryMaxDelay  string `json:"retryMaxDelay" yaml:"retryMaxDelay"`
	StopOnFailure  bool   `json:"stopOnFailure" yaml:"stopOnFailure"`
	StatsWindow    string `json:"statsWindow" yaml:"statsWindow"` // empty = all-time
	RecentLimit    int    `json:"recentLimit" yaml:"recentLimit"`
}

// ProcConfig sizes the pool that runs broker events through the engine.
// QueueSize bounds each worker's backlog.
type ProcConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queueSize" yaml:"queueSize"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Interval string `json:"interval" yaml:"interval"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory, sqlite or postgres
	Path   string `json:"path" yaml:"path"`     // sqlite database file
	DSN    string `json:"dsn" yaml:"dsn"`       // postgres connection string
}

type NATSConfig struct {
	Enabled            bool      `json:"enabled" yaml:"enabled"`
	URLs               []string  `json:"urls" yaml:"urls"`
	ClientID           string    `json:"clientId" yaml:"clientId"`
	Username           string    `json:"username" yaml:"username"`
	Password           string    `json:"password" yaml:"password"`
	EventSubject       string    `json:"eventSubject" yaml:"eventSubject"`
	NotificationPrefix string    `json:"notificationPrefix" yaml:"notificationPrefix"`
	StatusSubject      string    `json:"statusSubject" yaml:"statusSubject"`
	TLS                TLSConfig `json:"tls" yaml:"tls"`
}

type MQTTConfig struct {
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	Broker     string    `json:"broker" yaml:"broker"`
	ClientID   string    `json:"clientId" yaml:"clientId"`
	Username   string    `json:"username" yaml:"username"`
	Password   string    `json:"password" yaml:"password"`
	EventTopic string    `json:"eventTopic" yaml:"eventTopic"` // empty disables the MQTT event source
	QoS        byte      `json:"qos" yaml:"qos"`
	TLS        TLSConfig `json:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enable   bool   `json:"enable" yaml:"enable"`
	CertFile string `json:"certFile" yaml:"certFile"`
	KeyFile  string `json:"keyFile" yaml:"keyFile"`
	CAFile   string `json:"caFile" yaml:"caFile"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.OutputPath == "" {
		c.Logging.OutputPath = "stdout"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Logging.MaxSize <= 0 {
		c.Logging.MaxSize = 100
	}

	// Metrics
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":2112"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.UpdateInterval == "" {
		c.Metrics.UpdateInterval = "15s"
	}

	// Engine
	if c.Engine.ActionTimeout == "" {
		c.Engine.ActionTimeout = "10s"
	}
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = 3
	}
	if c.Engine.RetryBaseDelay == "" {
		c.Engine.RetryBaseDelay = "200ms"
	}
	if c.Engine.RetryMaxDelay == "" {
		c.Engine.RetryMaxDelay = "5s"
	}
	if c.Engine.RecentLimit <= 0 {
		c.Engine.RecentLimit = 10
	}

	// Processing
	if c.Processing.Workers <= 0 {
		c.Processing.Workers = runtime.NumCPU()
	}
	if c.Processing.QueueSize <= 0 {
		c.Processing.QueueSize = 1000
	}

	// Scheduler
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = "1m"
	}

	// Storage
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "automation.db"
	}

	// Transports
	if c.NATS.ClientID == "" {
		c.NATS.ClientID = "maintenance-automation"
	}
	if c.NATS.EventSubject == "" {
		c.NATS.EventSubject = "automation.events.>"
	}
	if c.NATS.NotificationPrefix == "" {
		c.NATS.NotificationPrefix = "notifications"
	}
	if c.NATS.StatusSubject == "" {
		c.NATS.StatusSubject = "assets.status.update"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "maintenance-automation"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	// Validate metrics config
	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.UpdateInterval); err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}
	}

	// Validate engine config
	for name, value := range map[string]string{
		"action timeout":   cfg.Engine.ActionTimeout,
		"retry base delay": cfg.Engine.RetryBaseDelay,
		"retry max delay":  cfg.Engine.RetryMaxDelay,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	if cfg.Engine.StatsWindow != "" {
		if _, err := time.ParseDuration(cfg.Engine.StatsWindow); err != nil {
			return fmt.Errorf("invalid stats window: %w", err)
		}
	}

	// Validate processing config
	if cfg.Processing.Workers < 1 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if cfg.Processing.QueueSize < 1 {
		return fmt.Errorf("queue size must be greater than 0")
	}

	// Validate scheduler config
	if cfg.Scheduler.Enabled {
		d, err := time.ParseDuration(cfg.Scheduler.Interval)
		if err != nil {
			return fmt.Errorf("invalid scheduler interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("scheduler interval must be greater than 0")
		}
	}

	// Validate storage config
	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s", cfg.Storage.Driver)
	}

	// Validate transports
	if cfg.NATS.Enabled && len(cfg.NATS.URLs) == 0 {
		return fmt.Errorf("at least one nats url is required when nats is enabled")
	}
	for name, t := range map[string]TLSConfig{"nats": cfg.NATS.TLS, "mqtt": cfg.MQTT.TLS} {
		if t.Enable && (t.CertFile == "" || t.KeyFile == "") {
			return fmt.Errorf("%s tls requires certFile and keyFile", name)
		}
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address is required when mqtt is enabled")
	}

	return nil
}

// Validate re-applies defaults and validation, typically after ApplyOverrides.
func (c *Config) Validate() error {
	c.setDefaults()
	return validateConfig(c)
}

// ActionTimeout returns the parsed per-attempt action timeout.
func (c *Config) ActionTimeout() time.Duration {
	return mustDuration(c.Engine.ActionTimeout)
}

// RetryDelays returns the parsed base and maximum retry delays.
func (c *Config) RetryDelays() (base, max time.Duration) {
	return mustDuration(c.Engine.RetryBaseDelay), mustDuration(c.Engine.RetryMaxDelay)
}

// StatsWindow returns the default stats window, or 0 for all-time.
func (c *Config) StatsWindow() time.Duration {
	if c.Engine.StatsWindow == "" {
		return 0
	}
	return mustDuration(c.Engine.StatsWindow)
}

// SchedulerInterval returns the parsed scheduler tick interval.
func (c *Config) SchedulerInterval() time.Duration {
	return mustDuration(c.Scheduler.Interval)
}

// mustDuration parses values that validateConfig already accepted.
func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(workers, queueSize int, actionTimeout time.Duration, maxAttempts int, storageDriver, metricsAddr, metricsPath string, metricsInterval time.Duration) {
	if workers > 0 {
		c.Processing.Workers = workers
	}
	if queueSize > 0 {
		c.Processing.QueueSize = queueSize
	}
	if actionTimeout > 0 {
		c.Engine.ActionTimeout = actionTimeout.String()
	}
	if maxAttempts > 0 {
		c.Engine.MaxAttempts = maxAttempts
	}
	if storageDriver != "" {
		c.Storage.Driver = storageDriver
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
	if metricsInterval > 0 {
		c.Metrics.UpdateInterval = metricsInterval.String()
	}
}
