package gpio

import (
	"errors"
	"fmt"
)

// RelayOp records a single relay or raw pin write made on a FakeBoard.
type RelayOp struct {
	Pin    Pin
	Active bool // logical state after the write
	Raw    bool // true for diagnostic Set/Clear
}

// FakeBoard is a test double that returns scripted sensor samples and
// records relay writes. It implements SensorReader, RelayDriver and PinAccess.
type FakeBoard struct {
	// Samples contains scripted sensor samples.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Ops records every relay write in order.
	Ops []RelayOp

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error

	// RelayError, if set, will be returned by Activate/Deactivate.
	RelayError error

	// Unwired pins return ErrUnknownPin from PinAccess.
	Unwired map[Pin]bool

	active map[Pin]bool
	last   Sample
}

// NewFakeBoard creates a FakeBoard with the given samples.
func NewFakeBoard(samples ...Sample) *FakeBoard {
	return &FakeBoard{Samples: samples, active: make(map[Pin]bool)}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeBoard) Read() (Sample, error) {
	if f.ReadError != nil {
		return Sample{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	f.last = sample

	return sample, nil
}

// SetSample replaces the script with a single sample returned from now on.
func (f *FakeBoard) SetSample(s Sample) {
	f.Samples = []Sample{s}
	f.index = 0
}

// Activate records the relay as engaged.
func (f *FakeBoard) Activate(p Pin) error {
	return f.write(p, true, false)
}

// Deactivate records the relay as released.
func (f *FakeBoard) Deactivate(p Pin) error {
	return f.write(p, false, false)
}

func (f *FakeBoard) write(p Pin, active, raw bool) error {
	if !p.IsRelay() {
		return ErrNotRelay
	}
	if f.Unwired[p] {
		return fmt.Errorf("%s: %w", p, ErrUnknownPin)
	}
	if f.RelayError != nil && !raw {
		return f.RelayError
	}
	if f.active == nil {
		f.active = make(map[Pin]bool)
	}
	f.active[p] = active
	f.Ops = append(f.Ops, RelayOp{Pin: p, Active: active, Raw: raw})
	return nil
}

// IsActive reports whether the relay is currently engaged.
func (f *FakeBoard) IsActive(p Pin) bool {
	return f.active[p]
}

// Activations counts how many times the relay was engaged.
func (f *FakeBoard) Activations(p Pin) int {
	n := 0
	for _, op := range f.Ops {
		if op.Pin == p && op.Active && !op.Raw {
			n++
		}
	}
	return n
}

// Value returns 1 for an engaged relay or an asserted sensor.
func (f *FakeBoard) Value(p Pin) (int, error) {
	if f.Unwired[p] {
		return 0, fmt.Errorf("%s: %w", p, ErrUnknownPin)
	}
	var on bool
	switch p {
	case PinTopSensor:
		on = f.last.Top
	case PinBottomSensor:
		on = f.last.Bottom
	case PinRelayPower:
		on = f.last.RelayPower
	default:
		on = f.active[p]
	}
	if on {
		return 1, nil
	}
	return 0, nil
}

// Set engages the relay line directly.
func (f *FakeBoard) Set(p Pin) error {
	return f.write(p, true, true)
}

// Clear releases the relay line directly.
func (f *FakeBoard) Clear(p Pin) error {
	return f.write(p, false, true)
}

// Close marks the board as closed.
func (f *FakeBoard) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the script and clears recorded writes.
func (f *FakeBoard) Reset() {
	f.index = 0
	f.Ops = nil
	f.Closed = false
	f.active = make(map[Pin]bool)
	f.last = Sample{}
}
