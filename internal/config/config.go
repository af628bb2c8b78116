// Package config loads the controller settings from a file, an optional
// .env file and GARAGE_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore, e.g. GARAGE_MQTT__BROKER.
const EnvPrefix = "GARAGE_"

// Config is the complete controller configuration.
type Config struct {
	// DeviceName prefixes every MQTT topic.
	DeviceName  string `json:"device_name"`
	LogLevel    string `json:"log_level"`
	PollMs      int    `json:"poll_ms"`
	Diagnostics bool   `json:"diagnostics"`

	MQTT        MQTTConfig        `json:"mqtt"`
	Door        DoorConfig        `json:"door"`
	GPIO        GPIOConfig        `json:"gpio"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	HTTP        HTTPConfig        `json:"http"`
	HADiscovery HADiscoveryConfig `json:"ha_discovery"`
}

// Default returns the stock configuration.
func Default() Config {
	c := Config{
		Door: DoorConfig{UsingTopSensor: true, UsingBottomSensor: true},
		GPIO: defaultGPIO(),
	}
	c.SetDefaults()
	return c
}

// Load reads path (yaml or json, optional), loads envFile into the process
// environment if it exists, applies GARAGE_ overrides, then fills defaults
// and validates.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.DeviceName == "" {
		c.DeviceName = "garage"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PollMs == 0 {
		c.PollMs = 100
	}
	c.MQTT.SetDefaults()
	c.Door.SetDefaults()
	c.GPIO.SetDefaults()
	c.Telemetry.SetDefaults()
	c.HTTP.SetDefaults()
	c.HADiscovery.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.DeviceName == "" {
		return errors.New("device_name is required")
	}
	if strings.ContainsAny(c.DeviceName, "+#") {
		return fmt.Errorf("device_name %q must not contain MQTT wildcards", c.DeviceName)
	}
	if c.PollMs <= 0 {
		return fmt.Errorf("poll_ms must be positive, got %d", c.PollMs)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := c.Door.Validate(); err != nil {
		return fmt.Errorf("door: %w", err)
	}
	if err := c.GPIO.Validate(); err != nil {
		return fmt.Errorf("gpio: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
