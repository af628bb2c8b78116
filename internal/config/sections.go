package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
	"github.com/sweeney/garage-door/internal/mqtt"
)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	Username string `json:"username"`
	Password string `json:"password"`
	// ClientID defaults to garage-door-<random> when empty.
	ClientID         string `json:"client_id"`
	KeepAliveMs      int    `json:"keep_alive_ms"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms"`
	BufferSize       int    `json:"buffer_size"`
}

// SetDefaults applies sane defaults.
func (c *MQTTConfig) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.KeepAliveMs == 0 {
		c.KeepAliveMs = 5000
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = 10000
	}
	if c.BufferSize == 0 {
		c.BufferSize = 100
	}
}

// Validate checks mandatory fields.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.KeepAliveMs < 1000 {
		return fmt.Errorf("keep_alive_ms must be at least 1000, got %d", c.KeepAliveMs)
	}
	return nil
}

// DoorConfig describes the fitted sensors and travel timings.
type DoorConfig struct {
	UsingTopSensor    bool `json:"using_top_sensor"`
	UsingBottomSensor bool `json:"using_bottom_sensor"`
	TimeToOpenMs      int  `json:"time_to_open_ms"`
	TimeToCloseMs     int  `json:"time_to_close_ms"`
	PulseMs           int  `json:"pulse_ms"`
	// BootTargetState is last_known, force_closed or force_open.
	BootTargetState string `json:"boot_target_state"`
}

// SetDefaults applies sane defaults.
func (c *DoorConfig) SetDefaults() {
	if c.TimeToOpenMs == 0 {
		c.TimeToOpenMs = 10000
	}
	if c.TimeToCloseMs == 0 {
		c.TimeToCloseMs = 10000
	}
	if c.PulseMs == 0 {
		c.PulseMs = 500
	}
	if c.BootTargetState == "" {
		c.BootTargetState = string(door.BootLastKnown)
	}
}

// Validate checks timings and the boot policy.
func (c DoorConfig) Validate() error {
	if c.TimeToOpenMs <= 0 || c.TimeToCloseMs <= 0 {
		return fmt.Errorf("travel times must be positive, got open=%d close=%d", c.TimeToOpenMs, c.TimeToCloseMs)
	}
	if c.PulseMs <= 0 {
		return fmt.Errorf("pulse_ms must be positive, got %d", c.PulseMs)
	}
	if c.PulseMs >= c.TimeToOpenMs || c.PulseMs >= c.TimeToCloseMs {
		return fmt.Errorf("pulse_ms %d must be shorter than the travel times", c.PulseMs)
	}
	if !door.BootPolicy(c.BootTargetState).Valid() {
		return fmt.Errorf("unknown boot_target_state %q", c.BootTargetState)
	}
	return nil
}

// Machine converts the section into the state machine configuration.
func (c DoorConfig) Machine() door.Config {
	return door.Config{
		HasTopSensor:    c.UsingTopSensor,
		HasBottomSensor: c.UsingBottomSensor,
		TimeToOpen:      time.Duration(c.TimeToOpenMs) * time.Millisecond,
		TimeToClose:     time.Duration(c.TimeToCloseMs) * time.Millisecond,
		Pulse:           time.Duration(c.PulseMs) * time.Millisecond,
		BootPolicy:      door.BootPolicy(c.BootTargetState),
	}
}

// PinsConfig holds BCM line offsets. A negative offset leaves the pin unwired.
type PinsConfig struct {
	Open         int `json:"open"`
	Stop         int `json:"stop"`
	Close        int `json:"close"`
	TopSensor    int `json:"top_sensor"`
	BottomSensor int `json:"bottom_sensor"`
	RelayPower   int `json:"relay_power"`
}

// RelayActiveConfig is the level that engages each relay: high, low,
// normally_open or normally_closed.
type RelayActiveConfig struct {
	Open  string `json:"open"`
	Stop  string `json:"stop"`
	Close string `json:"close"`
}

// GPIOConfig describes the board wiring.
type GPIOConfig struct {
	Chip         string            `json:"chip"`
	Pins         PinsConfig        `json:"pins"`
	RelayActive  RelayActiveConfig `json:"relay_active"`
	SensorActive string            `json:"sensor_active"`
}

func defaultGPIO() GPIOConfig {
	return GPIOConfig{
		Pins: PinsConfig{
			Open:         gpio.DefaultPinOpen,
			Stop:         gpio.DefaultPinStop,
			Close:        gpio.DefaultPinClose,
			TopSensor:    gpio.DefaultPinTopSensor,
			BottomSensor: gpio.DefaultPinBottomSensor,
			RelayPower:   -1,
		},
	}
}

// SetDefaults applies sane defaults.
func (c *GPIOConfig) SetDefaults() {
	if c.Chip == "" {
		c.Chip = "gpiochip0"
	}
	for _, l := range []*string{&c.RelayActive.Open, &c.RelayActive.Stop, &c.RelayActive.Close} {
		if *l == "" {
			*l = "high"
		}
	}
	if c.SensorActive == "" {
		c.SensorActive = "low"
	}
}

// Validate checks levels and that no line is wired twice.
func (c GPIOConfig) Validate() error {
	_, err := c.Board(true, true)
	return err
}

// Board converts the section into the board wiring. Sensors that are not
// fitted are left unwired.
func (c GPIOConfig) Board(top, bottom bool) (gpio.Config, error) {
	cfg := gpio.Config{
		Chip:        c.Chip,
		Offsets:     make(map[gpio.Pin]int),
		RelayActive: make(map[gpio.Pin]gpio.Level),
	}

	offsets := map[gpio.Pin]int{
		gpio.PinOpen:       c.Pins.Open,
		gpio.PinStop:       c.Pins.Stop,
		gpio.PinClose:      c.Pins.Close,
		gpio.PinRelayPower: c.Pins.RelayPower,
	}
	if top {
		offsets[gpio.PinTopSensor] = c.Pins.TopSensor
	}
	if bottom {
		offsets[gpio.PinBottomSensor] = c.Pins.BottomSensor
	}

	used := make(map[int]gpio.Pin)
	for pin, off := range offsets {
		if off < 0 {
			if pin.IsRelay() {
				return cfg, fmt.Errorf("relay %s must be wired", pin)
			}
			continue
		}
		if other, dup := used[off]; dup {
			return cfg, fmt.Errorf("line %d assigned to both %s and %s", off, other, pin)
		}
		used[off] = pin
		cfg.Offsets[pin] = off
	}

	for pin, s := range map[gpio.Pin]string{
		gpio.PinOpen:  c.RelayActive.Open,
		gpio.PinStop:  c.RelayActive.Stop,
		gpio.PinClose: c.RelayActive.Close,
	} {
		l, err := gpio.ParseLevel(s)
		if err != nil {
			return cfg, fmt.Errorf("relay_active.%s: %w", pin, err)
		}
		cfg.RelayActive[pin] = l
	}

	l, err := gpio.ParseLevel(c.SensorActive)
	if err != nil {
		return cfg, fmt.Errorf("sensor_active: %w", err)
	}
	cfg.SensorActive = l
	return cfg, nil
}

// TelemetryConfig controls the heartbeat and payload size.
type TelemetryConfig struct {
	IntervalMs     int `json:"interval_ms"`
	MaxPayloadSize int `json:"max_payload_size"`
}

// SetDefaults applies sane defaults.
func (c *TelemetryConfig) SetDefaults() {
	if c.IntervalMs == 0 {
		c.IntervalMs = int(mqtt.DefaultInterval / time.Millisecond)
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = mqtt.DefaultPayloadSize
	}
}

// Validate checks the interval and payload bounds.
func (c TelemetryConfig) Validate() error {
	if c.IntervalMs <= 0 {
		return fmt.Errorf("interval_ms must be positive, got %d", c.IntervalMs)
	}
	return mqtt.ValidatePayloadSize(c.MaxPayloadSize)
}

// HTTPConfig controls the status web server.
type HTTPConfig struct {
	// Addr is the listen address; "off" disables the server.
	Addr string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Enabled reports whether the status server should run.
func (c HTTPConfig) Enabled() bool {
	return c.Addr != "off"
}

// HADiscoveryConfig controls Home Assistant MQTT discovery.
type HADiscoveryConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix"`
	Name    string `json:"name"`
}

// SetDefaults applies sane defaults.
func (c *HADiscoveryConfig) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = mqtt.DefaultDiscoveryPrefix
	}
}
