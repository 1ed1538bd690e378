package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kabili207/uavtalk-go/transport/mqtt"
	"github.com/kabili207/uavtalk-go/transport/serial"
)

// DefaultStatsInterval is how often link counters are logged.
const DefaultStatsInterval = 30 * time.Second

// Config is the bridge configuration file.
type Config struct {
	Serial        SerialConfig  `yaml:"serial"`
	MQTT          MQTTConfig    `yaml:"mqtt"`
	LinkInterval  time.Duration `yaml:"link_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
}

// SerialConfig selects the flight controller port.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// MQTTConfig selects the broker and topic the link is shared on.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TLS         bool   `yaml:"tls"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	LinkID      string `yaml:"link_id"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML config and fills in defaults.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = serial.DefaultBaudRate
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = mqtt.DefaultTopicPrefix
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every missing or malformed setting.
func (c Config) Validate() error {
	var errs []error
	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port is required"))
	}
	if c.Serial.Baud < 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.MQTT.LinkID == "" {
		errs = append(errs, errors.New("mqtt.link_id is required"))
	}
	if strings.ContainsAny(c.MQTT.LinkID, "/#+") {
		errs = append(errs, fmt.Errorf("mqtt.link_id %q must be a single topic level", c.MQTT.LinkID))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) serialConfig(logger *slog.Logger) serial.Config {
	return serial.Config{
		Port:     c.Serial.Port,
		BaudRate: c.Serial.Baud,
		Logger:   logger,
	}
}

func (c Config) mqttConfig(logger *slog.Logger) mqtt.Config {
	return mqtt.Config{
		Broker:      c.MQTT.Broker,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		UseTLS:      c.MQTT.TLS,
		ClientID:    c.MQTT.ClientID,
		TopicPrefix: c.MQTT.TopicPrefix,
		LinkID:      c.MQTT.LinkID,
		Logger:      logger,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// newLogger builds the process logger. An empty format picks text for an
// interactive terminal and JSON otherwise.
func newLogger(w io.Writer, levelName, format string, interactive bool) (*slog.Logger, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = "json"
		if interactive {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
