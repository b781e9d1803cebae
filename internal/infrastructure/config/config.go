package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ingest core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Ingest    IngestConfig    `yaml:"ingest"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker BrokerConfig `yaml:"broker"`
	Auth   AuthConfig   `yaml:"auth"`
	QoS    int          `yaml:"qos"`

	// Topics is the set of topic filters subscribed at startup.
	Topics []string `yaml:"topics"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// AuthConfig contains MQTT authentication credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// IngestConfig contains settings for the ingestion coordinator.
type IngestConfig struct {
	// Devices is the set of device IDs registered at startup.
	Devices []string `yaml:"devices"`

	Retry     RetryConfig     `yaml:"retry"`
	Queue     QueueConfig     `yaml:"queue"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// Retry strategies for the transport connect loop.
const (
	RetryStrategyExponential = "exponential"
	RetryStrategyFixed       = "fixed"
)

// RetryConfig contains transport connect retry settings.
// Retry is owned by the coordinator, not the transport session.
type RetryConfig struct {
	// MaxAttempts is the total connect attempt budget (first attempt included).
	MaxAttempts int `yaml:"max_attempts"`

	// Strategy selects the backoff shape: "exponential" or "fixed".
	Strategy string `yaml:"strategy"`

	// InitialDelay is the first retry delay in seconds. For the fixed
	// strategy it is the constant interval between attempts.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff, in seconds.
	MaxDelay int `yaml:"max_delay"`
}

// Queue overflow policies for the ingest handoff queue.
const (
	QueuePolicyDropOldest = "drop_oldest"
	QueuePolicyRejectNew  = "reject_new"
)

// QueueConfig contains settings for the bounded queue between the
// transport delivery loop and the analysis sink.
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"`
}

// HeartbeatConfig contains the device liveness timeout policy.
// When enabled, devices silent for longer than Timeout are marked offline.
type HeartbeatConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"`
	Timeout  int  `yaml:"timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry sink settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// BatchSize is the number of points buffered before a write is issued.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum buffering delay in seconds before a
	// partial batch is written anyway.
	FlushInterval int `yaml:"flush_interval"`
}

// AnalyticsConfig contains settings for the in-process statistics sink.
type AnalyticsConfig struct {
	Enabled bool `yaml:"enabled"`

	// WindowSize is the number of recent readings retained per device.
	WindowSize int `yaml:"window_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INGEST_SECTION_KEY
// For example: INGEST_MQTT_HOST, INGEST_INFLUXDB_TOKEN
//
// Load never returns a nil Config. When the file cannot be read or parsed,
// the returned Config carries the defaults (plus environment overrides) and
// the error describes what went wrong; callers decide whether a missing file
// is fatal and must validate required fields via Validate.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		applyEnvOverrides(cfg)
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		reset := defaultConfig()
		applyEnvOverrides(reset)
		return reset, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: BrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ingest-core",
			},
			QoS:    1,
			Topics: []string{"devices/+/telemetry"},
		},
		Ingest: IngestConfig{
			Retry: RetryConfig{
				MaxAttempts:  5,
				Strategy:     RetryStrategyExponential,
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Queue: QueueConfig{
				Capacity: 1024,
				Policy:   QueuePolicyDropOldest,
			},
			Heartbeat: HeartbeatConfig{
				Enabled:  false,
				Interval: 30,
				Timeout:  120,
			},
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Analytics: AnalyticsConfig{
			Enabled:    true,
			WindowSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INGEST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("INGEST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INGEST_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("INGEST_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("INGEST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INGEST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("INGEST_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("INGEST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("INGEST_INFLUXDB_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("INGEST_INFLUXDB_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Ingest.Retry.MaxAttempts < 1 {
		errs = append(errs, "ingest.retry.max_attempts must be at least 1")
	}
	switch c.Ingest.Retry.Strategy {
	case RetryStrategyExponential, RetryStrategyFixed:
	default:
		errs = append(errs, "ingest.retry.strategy must be \"exponential\" or \"fixed\"")
	}

	if c.Ingest.Queue.Capacity < 1 {
		errs = append(errs, "ingest.queue.capacity must be at least 1")
	}
	switch c.Ingest.Queue.Policy {
	case QueuePolicyDropOldest, QueuePolicyRejectNew:
	default:
		errs = append(errs, "ingest.queue.policy must be \"drop_oldest\" or \"reject_new\"")
	}

	if c.Ingest.Heartbeat.Enabled {
		if c.Ingest.Heartbeat.Interval < 1 {
			errs = append(errs, "ingest.heartbeat.interval must be at least 1 second")
		}
		if c.Ingest.Heartbeat.Timeout < 1 {
			errs = append(errs, "ingest.heartbeat.timeout must be at least 1 second")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.BatchSize < 1 {
			errs = append(errs, "influxdb.batch_size must be at least 1")
		}
		if c.InfluxDB.FlushInterval < 1 {
			errs = append(errs, "influxdb.flush_interval must be at least 1 second")
		}
	}

	if c.Analytics.Enabled && c.Analytics.WindowSize < 1 {
		errs = append(errs, "analytics.window_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetInitialDelay returns the first retry delay as a Duration.
func (r RetryConfig) GetInitialDelay() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// GetMaxDelay returns the retry delay cap as a Duration.
func (r RetryConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}

// GetInterval returns the heartbeat check interval as a Duration.
func (h HeartbeatConfig) GetInterval() time.Duration {
	return time.Duration(h.Interval) * time.Second
}

// GetTimeout returns the device silence timeout as a Duration.
func (h HeartbeatConfig) GetTimeout() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}
