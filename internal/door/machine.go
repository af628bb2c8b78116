package door

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/garage-door/internal/gpio"
)

// Machine is the single source of truth for the door and target state.
// It is not safe for concurrent use; the control loop owns it.
type Machine struct {
	cfg    Config
	relays gpio.RelayDriver

	state            State
	target           Target
	lastTransitionAt time.Time

	// pulses holds the release deadline of every engaged relay.
	pulses map[gpio.Pin]time.Time
	// pending is a direction queued behind a Stop pulse.
	pending Command

	sensors       gpio.Sample
	contradiction bool
	counts        EventCounts
}

// New creates a machine whose initial state is derived from the sensor
// levels at boot. The target follows the boot policy; with BootLastKnown it
// is provisional until SeedTarget supplies the retained value.
func New(cfg Config, relays gpio.RelayDriver, initial gpio.Sample, now time.Time) *Machine {
	m := &Machine{
		cfg:              cfg,
		relays:           relays,
		pulses:           make(map[gpio.Pin]time.Time),
		lastTransitionAt: now,
	}
	initial = m.mask(initial)
	m.sensors = initial

	if initial.Top && initial.Bottom {
		m.state = StateUnknown
		m.contradiction = true
		m.counts.Faults++
	} else if s, ok := m.fromLevels(initial); ok {
		m.state = s
	} else if cfg.HasTopSensor && cfg.HasBottomSensor {
		// Both end stops wired and neither asserted: somewhere in between.
		m.state = StateStopped
	} else {
		m.state = StateUnknown
	}

	switch cfg.BootPolicy {
	case BootForceOpen:
		m.target = TargetOpen
	case BootForceClosed:
		m.target = TargetClosed
	default:
		m.target = TargetClosed
		if m.state == StateOpen {
			m.target = TargetOpen
		}
	}
	return m
}

// State returns the current door state.
func (m *Machine) State() State { return m.state }

// Target returns the current target state.
func (m *Machine) Target() Target { return m.target }

// IsOpen reports whether the door is fully open.
func (m *Machine) IsOpen() bool { return m.state == StateOpen }

// IsClosed reports whether the door is fully closed.
func (m *Machine) IsClosed() bool { return m.state == StateClosed }

// IsStopped reports whether the door was stopped part way.
func (m *Machine) IsStopped() bool { return m.state == StateStopped }

// Sensors returns the last (masked) sensor sample.
func (m *Machine) Sensors() gpio.Sample { return m.sensors }

// Snapshot returns a copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:            m.state,
		Target:           m.target,
		Sensors:          m.sensors,
		Pending:          m.pending,
		LastTransitionAt: m.lastTransitionAt,
		Counts:           m.counts,
	}
}

// Elapsed returns the time spent in the current travel, clamped to
// [0, configured travel time]. It is zero when the door is not moving.
func (m *Machine) Elapsed(now time.Time) time.Duration {
	var limit time.Duration
	switch m.state {
	case StateOpening:
		limit = m.cfg.TimeToOpen
	case StateClosing:
		limit = m.cfg.TimeToClose
	default:
		return 0
	}
	d := now.Sub(m.lastTransitionAt)
	if d < 0 {
		return 0
	}
	if d > limit {
		return limit
	}
	return d
}

// SeedTarget sets the target without moving the door. Used for the
// broker's retained value at boot.
func (m *Machine) SeedTarget(t Target) {
	m.target = t
}

// SetTarget records the target and commands the door towards it.
func (m *Machine) SetTarget(t Target, now time.Time) ([]Event, error) {
	switch t {
	case TargetOpen:
		return m.Execute(CommandOpen, now)
	case TargetClosed:
		return m.Execute(CommandClose, now)
	}
	return nil, fmt.Errorf("door: unknown target %q", t)
}

// Execute runs a door command. Commands that are already satisfied are
// accepted without touching the relays.
func (m *Machine) Execute(cmd Command, now time.Time) ([]Event, error) {
	switch cmd {
	case CommandOpen:
		m.target = TargetOpen
		return m.move(cmd, StateOpen, StateOpening, StateClosing, now)
	case CommandClose:
		m.target = TargetClosed
		return m.move(cmd, StateClosed, StateClosing, StateOpening, now)
	case CommandStop:
		return m.stop(now)
	}
	return nil, fmt.Errorf("door: unknown command %q", cmd)
}

func (m *Machine) move(cmd Command, terminal, travel, opposite State, now time.Time) ([]Event, error) {
	switch m.state {
	case terminal, travel:
		m.pending = ""
		return nil, nil
	case opposite:
		// Never reverse the motor directly: stop now, move on a later tick.
		events, err := m.stop(now)
		if err != nil {
			return events, err
		}
		m.pending = cmd
		return events, nil
	}
	return m.start(cmd, now, CauseCommand)
}

func (m *Machine) start(cmd Command, now time.Time, cause Cause) ([]Event, error) {
	if _, held := m.pulses[gpio.PinStop]; held {
		m.pending = cmd
		return nil, nil
	}
	m.pending = ""

	pin, to := gpio.PinOpen, StateOpening
	if cmd == CommandClose {
		pin, to = gpio.PinClose, StateClosing
	}
	if err := m.pulse(pin, now); err != nil {
		return nil, err
	}
	m.lastTransitionAt = now
	if cmd == CommandOpen {
		m.counts.Opens++
	} else {
		m.counts.Closes++
	}
	return []Event{m.transition(to, now, cause, "")}, nil
}

func (m *Machine) stop(now time.Time) ([]Event, error) {
	m.pending = ""
	moving := m.state.Moving()
	if !moving && m.state != StateUnknown {
		return nil, nil
	}

	// A stop supersedes any scheduled release of the direction relays.
	var errs []error
	for _, pin := range []gpio.Pin{gpio.PinOpen, gpio.PinClose} {
		if err := m.release(pin); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.pulse(gpio.PinStop, now); err != nil {
		return nil, errors.Join(append(errs, err)...)
	}
	m.counts.Stops++

	if !moving {
		return nil, errors.Join(errs...)
	}
	to := StateUnknown
	if m.cfg.HasTopSensor {
		to = StateStopped
	}
	return []Event{m.transition(to, now, CauseCommand, "")}, errors.Join(errs...)
}

// Sample feeds a sensor reading. Edges resolve the state; two asserted end
// stops are reported as a fault and leave the door Unknown.
func (m *Machine) Sample(s gpio.Sample, now time.Time) []Event {
	s = m.mask(s)
	prev := m.sensors
	m.sensors = s

	if s.Top && s.Bottom {
		if m.contradiction {
			return nil
		}
		m.contradiction = true
		m.pending = ""
		return []Event{m.fault(now, "top and bottom sensors both asserted")}
	}
	if m.contradiction {
		m.contradiction = false
		if to, ok := m.fromLevels(s); ok {
			return m.resolve(to, now, "sensor contradiction cleared")
		}
		return nil
	}

	switch {
	case s.Top && !prev.Top:
		return m.resolve(StateOpen, now, "top sensor reached")
	case s.Bottom && !prev.Bottom:
		return m.resolve(StateClosed, now, "bottom sensor reached")
	case !s.Top && prev.Top && m.state == StateOpen:
		// Moved by something other than us, e.g. a remote fob.
		m.lastTransitionAt = now
		m.target = TargetClosed
		return []Event{m.transition(StateClosing, now, CauseSensor, "top sensor lost while open")}
	case !s.Bottom && prev.Bottom && m.state == StateClosed:
		return []Event{m.fault(now, "bottom sensor lost while closed")}
	}
	return nil
}

// Tick releases expired relay pulses, resolves timer-inferred travel and
// runs a direction queued behind a Stop pulse.
func (m *Machine) Tick(now time.Time) ([]Event, error) {
	var errs []error
	for _, pin := range gpio.Relays {
		deadline, ok := m.pulses[pin]
		if !ok || now.Before(deadline) {
			continue
		}
		if err := m.release(pin); err != nil {
			errs = append(errs, err)
		}
	}

	var events []Event
	if m.state.Moving() && m.Elapsed(now) >= m.travelTime() {
		switch {
		case m.contradiction:
			// Both end stops asserted: the terminal state cannot be trusted.
			events = append(events, m.transition(StateUnknown, now, CauseTimer, "travel time elapsed with both sensors asserted"))
		case m.state == StateOpening:
			m.counts.TimerResolutions++
			m.target = TargetOpen
			events = append(events, m.transition(StateOpen, now, CauseTimer, "travel time elapsed"))
		default:
			m.counts.TimerResolutions++
			m.target = TargetClosed
			events = append(events, m.transition(StateClosed, now, CauseTimer, "travel time elapsed"))
		}
	}

	if m.pending != "" {
		if _, held := m.pulses[gpio.PinStop]; !held {
			evs, err := m.start(m.pending, now, CauseReversal)
			events = append(events, evs...)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return events, errors.Join(errs...)
}

func (m *Machine) travelTime() time.Duration {
	if m.state == StateOpening {
		return m.cfg.TimeToOpen
	}
	return m.cfg.TimeToClose
}

func (m *Machine) resolve(to State, now time.Time, detail string) []Event {
	switch to {
	case StateOpen:
		m.target = TargetOpen
		if m.pending == CommandOpen {
			m.pending = ""
		}
	case StateClosed:
		m.target = TargetClosed
		if m.pending == CommandClose {
			m.pending = ""
		}
	}
	if to == m.state {
		return nil
	}
	return []Event{m.transition(to, now, CauseSensor, detail)}
}

func (m *Machine) fault(now time.Time, detail string) Event {
	m.counts.Faults++
	return m.transition(StateUnknown, now, CauseFault, detail)
}

func (m *Machine) transition(to State, now time.Time, cause Cause, detail string) Event {
	e := Event{Timestamp: now, From: m.state, To: to, Cause: cause, Detail: detail}
	m.state = to
	return e
}

func (m *Machine) pulse(pin gpio.Pin, now time.Time) error {
	if err := m.relays.Activate(pin); err != nil {
		return fmt.Errorf("activate %s relay: %w", pin, err)
	}
	m.pulses[pin] = now.Add(m.cfg.Pulse)
	return nil
}

func (m *Machine) release(pin gpio.Pin) error {
	if _, ok := m.pulses[pin]; !ok {
		return nil
	}
	delete(m.pulses, pin)
	if err := m.relays.Deactivate(pin); err != nil {
		return fmt.Errorf("deactivate %s relay: %w", pin, err)
	}
	return nil
}

// Engaged reports whether the relay is currently held by a pulse.
func (m *Machine) Engaged(pin gpio.Pin) bool {
	_, ok := m.pulses[pin]
	return ok
}

// mask drops readings from sensors that are not fitted.
func (m *Machine) mask(s gpio.Sample) gpio.Sample {
	if !m.cfg.HasTopSensor {
		s.Top = false
	}
	if !m.cfg.HasBottomSensor {
		s.Bottom = false
	}
	return s
}

func (m *Machine) fromLevels(s gpio.Sample) (State, bool) {
	switch {
	case s.Top && s.Bottom:
		return StateUnknown, false
	case s.Top:
		return StateOpen, true
	case s.Bottom:
		return StateClosed, true
	}
	return "", false
}
