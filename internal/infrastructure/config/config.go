package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported values for JeedomConfig.Protocol.
const (
	ProtocolMQTT = "mqtt"
	ProtocolAPI  = "api"
)

// Supported values for JeedomConfig.ImportMode.
const (
	ImportModeNative       = "native"
	ImportModeMQTTEntities = "mqtt_entities"
)

// jeedomAPIPath is the Jeedom core endpoint serving both JSON-RPC and the
// plain HTTP command API.
const jeedomAPIPath = "/core/api/jeeApi.php"

// SupportedDomains lists every entity platform the bridge can emit.
// It is the default for jeedom.domains.
var SupportedDomains = []string{
	"sensor",
	"binary_sensor",
	"switch",
	"light",
	"cover",
	"number",
	"select",
	"climate",
	"water_heater",
	"alarm_control_panel",
}

// Config is the root configuration structure for the Jeedom bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Jeedom   JeedomConfig   `yaml:"jeedom"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// JeedomConfig describes the Jeedom controller and how its traffic is imported.
type JeedomConfig struct {
	// Host is either a bare hostname/IP or a full base URL ("https://jeedom.lan").
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`

	// Protocol selects how discovery and events arrive: "mqtt" subscribes
	// to the bus topics, "api" accepts them only through the HTTP API.
	Protocol string `yaml:"protocol"`

	// ImportMode "mqtt_entities" registers devices but emits no entities.
	ImportMode string `yaml:"import_mode"`

	// Domains is the allow-list of entity platforms.
	Domains []string `yaml:"domains"`

	// ConfigPath points at the override document. Empty disables filtering.
	ConfigPath string `yaml:"config_path"`

	UseJSONRPC      bool   `yaml:"use_jsonrpc"`
	JSONRPCFallback bool   `yaml:"jsonrpc_fallback"`
	JSONRPCURL      string `yaml:"jsonrpc_url"`

	// RequestTimeout bounds every dispatch transport call (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	DiscoveryTopic string `yaml:"discovery_topic"`
	EventTopic     string `yaml:"event_topic"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every topic the bridge publishes.
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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
// Environment variables follow the pattern: JEEDOMBRIDGE_SECTION_KEY
// For example: JEEDOMBRIDGE_JEEDOM_API_KEY, JEEDOMBRIDGE_MQTT_HOST
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
		Jeedom: JeedomConfig{
			Port:            80,
			Protocol:        ProtocolMQTT,
			ImportMode:      ImportModeNative,
			Domains:         append([]string(nil), SupportedDomains...),
			UseJSONRPC:      true,
			JSONRPCFallback: true,
			RequestTimeout:  10,
			DiscoveryTopic:  "jeedom/discovery/eqLogic/#",
			EventTopic:      "jeedom/cmd/event/#",
		},
		Database: DatabaseConfig{
			Path:        "./data/jeedombridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "jeedom-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "jeedombridge",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: JEEDOMBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Jeedom
	if v := os.Getenv("JEEDOMBRIDGE_JEEDOM_HOST"); v != "" {
		cfg.Jeedom.Host = v
	}
	if v := os.Getenv("JEEDOMBRIDGE_JEEDOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Jeedom.Port = port
		}
	}
	if v := os.Getenv("JEEDOMBRIDGE_JEEDOM_API_KEY"); v != "" {
		cfg.Jeedom.APIKey = v
	}
	if v := os.Getenv("JEEDOMBRIDGE_JEEDOM_CONFIG_PATH"); v != "" {
		cfg.Jeedom.ConfigPath = v
	}

	// Database
	if v := os.Getenv("JEEDOMBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("JEEDOMBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("JEEDOMBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("JEEDOMBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("JEEDOMBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("JEEDOMBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Jeedom.validate()...)

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.TrimSpace(c.MQTT.TopicPrefix) == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (j *JeedomConfig) validate() []string {
	var errs []string

	if strings.TrimSpace(j.Host) == "" {
		errs = append(errs, "jeedom.host is required")
	}
	if !strings.Contains(j.Host, "://") && (j.Port < 1 || j.Port > 65535) {
		errs = append(errs, "jeedom.port must be between 1 and 65535")
	}
	if j.APIKey == "" {
		errs = append(errs, "jeedom.api_key is required (set JEEDOMBRIDGE_JEEDOM_API_KEY environment variable)")
	}
	switch j.Protocol {
	case ProtocolMQTT, ProtocolAPI:
	default:
		errs = append(errs, fmt.Sprintf("jeedom.protocol %q must be %q or %q", j.Protocol, ProtocolMQTT, ProtocolAPI))
	}
	switch j.ImportMode {
	case ImportModeNative, ImportModeMQTTEntities:
	default:
		errs = append(errs, fmt.Sprintf("jeedom.import_mode %q must be %q or %q", j.ImportMode, ImportModeNative, ImportModeMQTTEntities))
	}
	for _, d := range j.Domains {
		if !isSupportedDomain(d) {
			errs = append(errs, fmt.Sprintf("jeedom.domains: unknown domain %q", d))
		}
	}
	if j.RequestTimeout <= 0 {
		errs = append(errs, "jeedom.request_timeout must be positive")
	}
	if j.Protocol == ProtocolMQTT && (j.DiscoveryTopic == "" || j.EventTopic == "") {
		errs = append(errs, "jeedom.discovery_topic and jeedom.event_topic are required with protocol mqtt")
	}

	return errs
}

func isSupportedDomain(d string) bool {
	for _, s := range SupportedDomains {
		if s == d {
			return true
		}
	}
	return false
}

// BaseURL returns the Jeedom base URL without a trailing slash.
// A host that already carries a scheme is used as-is.
func (j *JeedomConfig) BaseURL() string {
	if strings.Contains(j.Host, "://") {
		return strings.TrimRight(j.Host, "/")
	}
	return fmt.Sprintf("http://%s:%d", j.Host, j.Port)
}

// RPCURL returns the JSON-RPC endpoint, honouring an explicit override.
func (j *JeedomConfig) RPCURL() string {
	if j.JSONRPCURL != "" {
		return j.JSONRPCURL
	}
	return j.BaseURL() + jeedomAPIPath
}

// HTTPAPIURL returns the plain HTTP command endpoint used as fallback.
func (j *JeedomConfig) HTTPAPIURL() string {
	return j.BaseURL() + jeedomAPIPath
}

// Timeout returns the dispatch request timeout as a Duration.
func (j *JeedomConfig) Timeout() time.Duration {
	return time.Duration(j.RequestTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
