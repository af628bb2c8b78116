// Package door contains the garage door state machine.
// This package performs no I/O beyond the gpio.RelayDriver it is given and
// never sleeps. Time is always injectable via time.Time parameters.
package door

import (
	"time"

	"github.com/sweeney/garage-door/internal/gpio"
)

// State is the inferred physical state of the door.
type State string

const (
	StateOpening State = "Opening"
	StateClosing State = "Closing"
	StateOpen    State = "Open"
	StateClosed  State = "Closed"
	StateStopped State = "Stopped"
	StateUnknown State = "Unknown"
)

// States lists every door state.
var States = []State{StateOpening, StateClosing, StateOpen, StateClosed, StateStopped, StateUnknown}

// Moving reports whether the door is in travel.
func (s State) Moving() bool {
	return s == StateOpening || s == StateClosing
}

// Target is the state the door has been asked to reach.
type Target string

const (
	TargetOpen   Target = "Open"
	TargetClosed Target = "Closed"
)

// Command is a door action.
type Command string

const (
	CommandOpen  Command = "open"
	CommandClose Command = "close"
	CommandStop  Command = "stop"
)

// BootPolicy selects the target state at startup.
type BootPolicy string

const (
	// BootLastKnown keeps the broker's retained target value.
	BootLastKnown   BootPolicy = "last_known"
	BootForceClosed BootPolicy = "force_closed"
	BootForceOpen   BootPolicy = "force_open"
)

// Valid reports whether p is a known policy.
func (p BootPolicy) Valid() bool {
	switch p {
	case BootLastKnown, BootForceClosed, BootForceOpen:
		return true
	}
	return false
}

// Cause is what triggered a transition.
type Cause string

const (
	CauseCommand  Cause = "command"
	CauseReversal Cause = "reversal"
	CauseSensor   Cause = "sensor"
	CauseTimer    Cause = "timer"
	CauseFault    Cause = "fault"
)

// Event is a state change (or a reported fault) to be published.
type Event struct {
	Timestamp time.Time
	From      State
	To        State
	Cause     Cause
	Detail    string
}

// Fault reports whether the event is a sensor contradiction.
func (e Event) Fault() bool {
	return e.Cause == CauseFault
}

// Config holds the door's boot-time capabilities and timings.
type Config struct {
	HasTopSensor    bool
	HasBottomSensor bool
	TimeToOpen      time.Duration
	TimeToClose     time.Duration
	// Pulse is how long a relay is held for a momentary contact.
	Pulse      time.Duration
	BootPolicy BootPolicy
}

// EventCounts tracks activity since startup.
type EventCounts struct {
	Opens            int
	Closes           int
	Stops            int
	Faults           int
	TimerResolutions int
}

// Snapshot is a point-in-time copy of the machine state.
type Snapshot struct {
	State            State
	Target           Target
	Sensors          gpio.Sample
	Pending          Command
	LastTransitionAt time.Time
	Counts           EventCounts
}
