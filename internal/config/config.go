// Package config loads and validates the daemon configuration.
//
// Values are layered: built-in defaults, then an optional YAML or JSON file,
// then SHW_ environment variables (SHW_CONTROLLER__POWER_THRESHOLD=350).
package config

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sweeney/solar-hot-water/internal/logic"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "SHW_"

// Config is the complete daemon configuration.
type Config struct {
	Controller Controller `koanf:"controller"`
	MQTT       MQTT       `koanf:"mqtt"`
	GPIO       GPIO       `koanf:"gpio"`
	HTTP       HTTP       `koanf:"http"`
	Log        Log        `koanf:"log"`
}

// Controller describes the data bus paths and thresholds of one control session.
type Controller struct {
	EnablePath               string  `koanf:"enable_path"`
	OutputPath               string  `koanf:"output_path"`
	BatterySocPath           string  `koanf:"battery_soc_path"`
	BatterySocStartThreshold float64 `koanf:"battery_soc_start_threshold"`
	BatterySocStopThreshold  float64 `koanf:"battery_soc_stop_threshold"`
	PowerPath                string  `koanf:"power_path"`
	PowerThreshold           float64 `koanf:"power_threshold"`

	// ResolveTimeout bounds how long a session waits for the first value on
	// every input path. Zero waits forever.
	ResolveTimeout time.Duration `koanf:"resolve_timeout"`
}

// MQTT holds broker connection settings.
type MQTT struct {
	Broker         string        `koanf:"broker"`
	ClientID       string        `koanf:"client_id"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	TopicPrefix    string        `koanf:"topic_prefix"`
	QoS            byte          `koanf:"qos"`
	RetainOutput   bool          `koanf:"retain_output"`
	SystemTopic    string        `koanf:"system_topic"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	OutboxSize     int           `koanf:"outbox_size"`
	Heartbeat      time.Duration `koanf:"heartbeat"`
}

// GPIO configures the optional relay output.
type GPIO struct {
	Enabled   bool   `koanf:"enabled"`
	Chip      string `koanf:"chip"`
	RelayPin  int    `koanf:"relay_pin"`
	ActiveLow bool   `koanf:"active_low"`
}

// HTTP configures the status server. An empty Addr disables it.
type HTTP struct {
	Addr string `koanf:"addr"`
}

// Log configures the process logger.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Controller: Controller{
			EnablePath:               "mqtt.switch.solar_hot_water",
			OutputPath:               "plugins.solarhotwater.state",
			BatterySocPath:           "electrical.batteries.278.capacity.stateOfCharge",
			BatterySocStartThreshold: 99,
			BatterySocStopThreshold:  95,
			PowerPath:                "electrical.solar.279.panelPower",
			PowerThreshold:           400,
		},
		MQTT: MQTT{
			Broker:         "tcp://localhost:1883",
			TopicPrefix:    "signalk/vessels/self/",
			QoS:            1,
			RetainOutput:   true,
			SystemTopic:    "plugins/solarhotwater/system",
			ConnectTimeout: 10 * time.Second,
			OutboxSize:     64,
			Heartbeat:      15 * time.Minute,
		},
		GPIO: GPIO{
			Chip:     "gpiochip0",
			RelayPin: 17,
		},
		HTTP: HTTP{Addr: ":8080"},
		Log:  Log{Level: "info", Format: "json"},
	}
}

// Load reads configuration from path (optional; empty means defaults only)
// and applies environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	k, err := load(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return k, nil
}

// envKey maps SHW_MQTT__CLIENT_ID to mqtt.client_id.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Marshal renders cfg as YAML using the same keys Load accepts.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Parser().Marshal(cfg.toMap())
}

func (c Config) toMap() map[string]interface{} {
	return map[string]interface{}{
		"controller": map[string]interface{}{
			"enable_path":                 c.Controller.EnablePath,
			"output_path":                 c.Controller.OutputPath,
			"battery_soc_path":            c.Controller.BatterySocPath,
			"battery_soc_start_threshold": c.Controller.BatterySocStartThreshold,
			"battery_soc_stop_threshold":  c.Controller.BatterySocStopThreshold,
			"power_path":                  c.Controller.PowerPath,
			"power_threshold":             c.Controller.PowerThreshold,
			"resolve_timeout":             c.Controller.ResolveTimeout.String(),
		},
		"mqtt": map[string]interface{}{
			"broker":          c.MQTT.Broker,
			"client_id":       c.MQTT.ClientID,
			"username":        c.MQTT.Username,
			"password":        redact(c.MQTT.Password),
			"topic_prefix":    c.MQTT.TopicPrefix,
			"qos":             int(c.MQTT.QoS),
			"retain_output":   c.MQTT.RetainOutput,
			"system_topic":    c.MQTT.SystemTopic,
			"connect_timeout": c.MQTT.ConnectTimeout.String(),
			"outbox_size":     c.MQTT.OutboxSize,
			"heartbeat":       c.MQTT.Heartbeat.String(),
		},
		"gpio": map[string]interface{}{
			"enabled":    c.GPIO.Enabled,
			"chip":       c.GPIO.Chip,
			"relay_pin":  c.GPIO.RelayPin,
			"active_low": c.GPIO.ActiveLow,
		},
		"http": map[string]interface{}{
			"addr": c.HTTP.Addr,
		},
		"log": map[string]interface{}{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// Thresholds returns the decision thresholds of the controller section.
func (c Controller) Thresholds() logic.Config {
	return logic.Config{
		SocStart:       c.BatterySocStartThreshold,
		SocStop:        c.BatterySocStopThreshold,
		PowerThreshold: c.PowerThreshold,
	}
}

// Validate checks the controller section. It returns a *ConfigurationError.
func (c Controller) Validate() error {
	required := []struct {
		field, value string
	}{
		{"enable_path", c.EnablePath},
		{"output_path", c.OutputPath},
		{"battery_soc_path", c.BatterySocPath},
		{"power_path", c.PowerPath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigurationError{Field: "controller." + r.field, Reason: "is required"}
		}
	}

	thresholds := []struct {
		field string
		value float64
	}{
		{"battery_soc_start_threshold", c.BatterySocStartThreshold},
		{"battery_soc_stop_threshold", c.BatterySocStopThreshold},
		{"power_threshold", c.PowerThreshold},
	}
	for _, th := range thresholds {
		if math.IsNaN(th.value) || math.IsInf(th.value, 0) {
			return &ConfigurationError{Field: "controller." + th.field, Reason: "must be a finite number"}
		}
	}

	if c.BatterySocStopThreshold > c.BatterySocStartThreshold {
		return &ConfigurationError{
			Field:  "controller.battery_soc_stop_threshold",
			Reason: fmt.Sprintf("%v must not exceed start threshold %v", c.BatterySocStopThreshold, c.BatterySocStartThreshold),
		}
	}
	if c.ResolveTimeout < 0 {
		return &ConfigurationError{Field: "controller.resolve_timeout", Reason: "must not be negative"}
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Controller.Validate(); err != nil {
		return err
	}
	if c.MQTT.Broker == "" {
		return &ConfigurationError{Field: "mqtt.broker", Reason: "is required"}
	}
	if c.MQTT.QoS > 2 {
		return &ConfigurationError{Field: "mqtt.qos", Reason: fmt.Sprintf("%d is not a valid QoS level", c.MQTT.QoS)}
	}
	if c.MQTT.OutboxSize < 0 {
		return &ConfigurationError{Field: "mqtt.outbox_size", Reason: "must not be negative"}
	}
	if c.GPIO.Enabled && c.GPIO.RelayPin < 0 {
		return &ConfigurationError{Field: "gpio.relay_pin", Reason: "must not be negative"}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return &ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// ConfigurationError reports a missing or inconsistent setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}
