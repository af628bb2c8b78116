//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Board drives relays and reads sensors on real hardware using the Linux
// GPIO character device.
type Board struct {
	chip         *gpiocdev.Chip
	lines        map[Pin]*gpiocdev.Line
	relayActive  map[Pin]Level
	sensorActive Level
}

// NewBoard requests every wired line. Relays start deactivated.
func NewBoard(cfg Config) (*Board, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &Board{
		chip:         chip,
		lines:        make(map[Pin]*gpiocdev.Line),
		relayActive:  make(map[Pin]Level),
		sensorActive: cfg.SensorActive,
	}

	for _, p := range Relays {
		offset, ok := cfg.Offsets[p]
		if !ok {
			continue
		}
		active := cfg.activeLevel(p)
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(int(active.Invert())))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", p, offset, err)
		}
		b.lines[p] = line
		b.relayActive[p] = active
	}

	bias := gpiocdev.WithPullUp
	if cfg.SensorActive == High {
		bias = gpiocdev.WithPullDown
	}
	for _, p := range Sensors {
		offset, ok := cfg.Offsets[p]
		if !ok {
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsInput, bias)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", p, offset, err)
		}
		b.lines[p] = line
	}

	return b, nil
}

// Read returns the logical sensor states.
func (b *Board) Read() (Sample, error) {
	var s Sample
	var err error
	if s.Top, err = b.asserted(PinTopSensor); err != nil {
		return Sample{}, err
	}
	if s.Bottom, err = b.asserted(PinBottomSensor); err != nil {
		return Sample{}, err
	}
	if s.RelayPower, err = b.asserted(PinRelayPower); err != nil {
		return Sample{}, err
	}
	return s, nil
}

func (b *Board) asserted(p Pin) (bool, error) {
	line, ok := b.lines[p]
	if !ok {
		return false, nil
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read %s pin: %w", p, err)
	}
	return Level(v) == b.sensorActive, nil
}

// Activate drives the relay to its active level.
func (b *Board) Activate(p Pin) error {
	line, err := b.relay(p)
	if err != nil {
		return err
	}
	return line.SetValue(int(b.relayActive[p]))
}

// Deactivate drives the relay to its inactive level.
func (b *Board) Deactivate(p Pin) error {
	line, err := b.relay(p)
	if err != nil {
		return err
	}
	return line.SetValue(int(b.relayActive[p].Invert()))
}

func (b *Board) relay(p Pin) (*gpiocdev.Line, error) {
	if !p.IsRelay() {
		return nil, ErrNotRelay
	}
	line, ok := b.lines[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrUnknownPin)
	}
	return line, nil
}

// Value returns the raw level of any wired line.
func (b *Board) Value(p Pin) (int, error) {
	line, ok := b.lines[p]
	if !ok {
		return 0, fmt.Errorf("%s: %w", p, ErrUnknownPin)
	}
	return line.Value()
}

// Set drives a relay line high regardless of polarity.
func (b *Board) Set(p Pin) error {
	line, err := b.relay(p)
	if err != nil {
		return err
	}
	return line.SetValue(1)
}

// Clear drives a relay line low regardless of polarity.
func (b *Board) Clear(p Pin) error {
	line, err := b.relay(p)
	if err != nil {
		return err
	}
	return line.SetValue(0)
}

// Close deactivates every relay and releases the lines. Relay lines are
// reconfigured as inputs with pull-down (Raspberry Pi boot defaults) so
// the relay board sees no stray drive during reboot.
func (b *Board) Close() error {
	var errs []error

	for _, p := range Relays {
		line, ok := b.lines[p]
		if !ok {
			continue
		}
		if err := line.SetValue(int(b.relayActive[p].Invert())); err != nil {
			errs = append(errs, fmt.Errorf("deactivate %s: %w", p, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", p, err))
		}
	}
	for p, line := range b.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", p, err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
