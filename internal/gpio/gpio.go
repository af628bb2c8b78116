// Package gpio provides the relay and end-stop sensor leaves of the door controller.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"strings"
)

// Pin names a wired line by its function rather than its offset.
type Pin string

const (
	PinOpen         Pin = "open"
	PinClose        Pin = "close"
	PinStop         Pin = "stop"
	PinTopSensor    Pin = "top_sensor"
	PinBottomSensor Pin = "bottom_sensor"
	PinRelayPower   Pin = "relay_power" // relay-power safeguard input
)

// Relays lists the actuator pins in a stable order.
var Relays = []Pin{PinOpen, PinClose, PinStop}

// Sensors lists the input pins in a stable order.
var Sensors = []Pin{PinTopSensor, PinBottomSensor, PinRelayPower}

// IsRelay reports whether p drives a relay.
func (p Pin) IsRelay() bool {
	return p == PinOpen || p == PinClose || p == PinStop
}

// Default line offsets (BCM numbering).
const (
	DefaultPinOpen         = 17
	DefaultPinStop         = 27
	DefaultPinClose        = 22
	DefaultPinTopSensor    = 23
	DefaultPinBottomSensor = 24
)

var (
	// ErrUnknownPin is returned for a pin that is not wired on this device.
	ErrUnknownPin = errors.New("gpio: pin not wired")
	// ErrNotRelay is returned when an output operation targets an input pin.
	ErrNotRelay = errors.New("gpio: pin is not a relay")
	// ErrNotSupported is returned on platforms without a GPIO character device.
	ErrNotSupported = errors.New("gpio: not supported on this platform (requires Linux)")
)

// Level is a raw line level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Invert returns the opposite level.
func (l Level) Invert() Level {
	if l == High {
		return Low
	}
	return High
}

// ParseLevel accepts "high"/"low" and the relay wiring names
// "normally_open" (active high) and "normally_closed" (active low).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "1", "normally_open":
		return High, nil
	case "low", "0", "normally_closed":
		return Low, nil
	}
	return Low, fmt.Errorf("gpio: invalid level %q", s)
}

// Sample is a single logical reading of the sensor inputs.
// Unwired sensors always read false.
type Sample struct {
	Top        bool // door fully open
	Bottom     bool // door fully closed
	RelayPower bool // relay-power safeguard engaged
}

// SensorReader reads the logical sensor states.
type SensorReader interface {
	Read() (Sample, error)
	Close() error
}

// RelayDriver activates and deactivates the actuator relays. Activation
// level is resolved per relay at construction time.
type RelayDriver interface {
	Activate(p Pin) error
	Deactivate(p Pin) error
}

// PinAccess exposes raw line levels for diagnostics. It bypasses relay
// polarity and must never be used by the door logic.
type PinAccess interface {
	Value(p Pin) (int, error)
	Set(p Pin) error
	Clear(p Pin) error
}

// Config describes how the board is wired.
type Config struct {
	Chip string
	// Offsets maps each wired pin to its line offset. Missing pins are unwired.
	Offsets map[Pin]int
	// RelayActive is the level that engages each relay. Defaults to High.
	RelayActive map[Pin]Level
	// SensorActive is the level an asserted sensor reads. Low selects a
	// pull-up bias, High a pull-down.
	SensorActive Level
}

// DefaultConfig returns the stock wiring with both end-stop sensors.
func DefaultConfig() Config {
	return Config{
		Chip: "gpiochip0",
		Offsets: map[Pin]int{
			PinOpen:         DefaultPinOpen,
			PinStop:         DefaultPinStop,
			PinClose:        DefaultPinClose,
			PinTopSensor:    DefaultPinTopSensor,
			PinBottomSensor: DefaultPinBottomSensor,
		},
		RelayActive:  map[Pin]Level{PinOpen: High, PinStop: High, PinClose: High},
		SensorActive: Low,
	}
}

func (c Config) activeLevel(p Pin) Level {
	if l, ok := c.RelayActive[p]; ok {
		return l
	}
	return High
}
