package door

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/garage-door/internal/gpio"
)

var t0 = time.Date(2026, 1, 1, 7, 30, 0, 0, time.UTC)

func testConfig(top bool) Config {
	return Config{
		HasTopSensor:    top,
		HasBottomSensor: true,
		TimeToOpen:      10 * time.Second,
		TimeToClose:     12 * time.Second,
		Pulse:           500 * time.Millisecond,
		BootPolicy:      BootLastKnown,
	}
}

func newMachine(t *testing.T, cfg Config, initial gpio.Sample) (*Machine, *gpio.FakeBoard) {
	t.Helper()
	board := gpio.NewFakeBoard(initial)
	return New(cfg, board, initial, t0), board
}

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestBootStateFromSensors(t *testing.T) {
	tests := []struct {
		name    string
		top     bool
		initial gpio.Sample
		want    State
	}{
		{"bottom asserted", true, gpio.Sample{Bottom: true}, StateClosed},
		{"top asserted", true, gpio.Sample{Top: true}, StateOpen},
		{"neither with both sensors", true, gpio.Sample{}, StateStopped},
		{"neither without top sensor", false, gpio.Sample{}, StateUnknown},
		{"top ignored when not fitted", false, gpio.Sample{Top: true}, StateUnknown},
		{"both asserted", true, gpio.Sample{Top: true, Bottom: true}, StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMachine(t, testConfig(tt.top), tt.initial)
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestBootContradictionCountsFault(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Top: true, Bottom: true})
	assert.Equal(t, 1, m.Snapshot().Counts.Faults)
}

func TestBootTargetPolicy(t *testing.T) {
	tests := []struct {
		policy  BootPolicy
		initial gpio.Sample
		want    Target
	}{
		{BootLastKnown, gpio.Sample{Top: true}, TargetOpen},
		{BootLastKnown, gpio.Sample{Bottom: true}, TargetClosed},
		{BootForceOpen, gpio.Sample{Bottom: true}, TargetOpen},
		{BootForceClosed, gpio.Sample{Top: true}, TargetClosed},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			cfg := testConfig(true)
			cfg.BootPolicy = tt.policy
			m, board := newMachine(t, cfg, tt.initial)
			assert.Equal(t, tt.want, m.Target())
			assert.Empty(t, board.Ops, "boot policy must not move the door")
		})
	}
}

func TestPerformOpenFromClosed(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})

	events, err := m.Execute(CommandOpen, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Timestamp: t0, From: StateClosed, To: StateOpening, Cause: CauseCommand}, events[0])
	assert.Equal(t, StateOpening, m.State())
	assert.Equal(t, TargetOpen, m.Target())
	assert.True(t, board.IsActive(gpio.PinOpen))
}

func TestRelayPulseIsReleasedOnTick(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	_, err := m.Execute(CommandOpen, t0)
	require.NoError(t, err)

	_, err = m.Tick(at(499 * time.Millisecond))
	require.NoError(t, err)
	assert.True(t, board.IsActive(gpio.PinOpen), "held until the pulse window ends")

	_, err = m.Tick(at(500 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, board.IsActive(gpio.PinOpen))
	assert.False(t, m.Engaged(gpio.PinOpen))
	assert.Equal(t, StateOpening, m.State(), "release does not change the door state")
}

func TestPerformOpenWhileOpenIsIdempotent(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Top: true})

	events, err := m.Execute(CommandOpen, t0)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, board.Ops, "no relay pulse")
	assert.Equal(t, StateOpen, m.State())
}

func TestPerformCloseWhileClosingIsIdempotent(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Top: true})
	_, err := m.Execute(CommandClose, t0)
	require.NoError(t, err)

	events, err := m.Execute(CommandClose, at(time.Second))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 1, board.Activations(gpio.PinClose))
}

func TestTimerInferenceBoundaryWithoutTopSensor(t *testing.T) {
	m, _ := newMachine(t, testConfig(false), gpio.Sample{Bottom: true})
	poll := 100 * time.Millisecond

	_, err := m.Execute(CommandOpen, t0)
	require.NoError(t, err)
	m.Sample(gpio.Sample{}, at(poll)) // door leaves the bottom sensor

	events, err := m.Tick(at(10*time.Second - poll))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, StateOpening, m.State())

	events, err = m.Tick(at(10 * time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, CauseTimer, events[0].Cause)
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, 1, m.Snapshot().Counts.TimerResolutions)
}

func TestTimerInferenceClosing(t *testing.T) {
	m, _ := newMachine(t, testConfig(false), gpio.Sample{})
	_, err := m.Execute(CommandClose, t0)
	require.NoError(t, err)

	m.Tick(at(11 * time.Second))
	assert.Equal(t, StateClosing, m.State())
	m.Tick(at(12 * time.Second))
	assert.Equal(t, StateClosed, m.State(), "bottom sensor missed: timer resolves")
	assert.Equal(t, TargetClosed, m.Target())
}

func TestTopSensorConfirmsOpen(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	m.Execute(CommandOpen, t0)
	m.Sample(gpio.Sample{}, at(time.Second))
	assert.Equal(t, StateOpening, m.State())

	events := m.Sample(gpio.Sample{Top: true}, at(8*time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, CauseSensor, events[0].Cause)
	assert.Equal(t, StateOpen, m.State())
}

func TestSensorEdgeWinsOverTimerInSameTick(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	m.Execute(CommandOpen, t0)
	m.Sample(gpio.Sample{}, at(time.Second))

	now := at(10 * time.Second)
	sensorEvents := m.Sample(gpio.Sample{Top: true}, now)
	timerEvents, err := m.Tick(now)
	require.NoError(t, err)

	require.Len(t, sensorEvents, 1)
	assert.Equal(t, CauseSensor, sensorEvents[0].Cause)
	assert.Empty(t, timerEvents)
	assert.Equal(t, 0, m.Snapshot().Counts.TimerResolutions)
}

func TestStopDuringMotion(t *testing.T) {
	tests := []struct {
		name string
		top  bool
		want State
	}{
		{"with top sensor", true, StateStopped},
		{"without top sensor", false, StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := gpio.Sample{Top: tt.top}
			m, board := newMachine(t, testConfig(tt.top), initial)
			if !tt.top {
				m.SeedTarget(TargetOpen)
				// Without a top sensor the door must be driven to Open first.
				m.Execute(CommandOpen, t0)
				m.Tick(at(10 * time.Second))
				require.Equal(t, StateOpen, m.State())
				board.Reset()
			}
			start := at(20 * time.Second)

			_, err := m.Execute(CommandClose, start)
			require.NoError(t, err)
			m.Sample(gpio.Sample{}, start.Add(100*time.Millisecond))

			events, err := m.Execute(CommandStop, start.Add(4*time.Second))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, m.State())
			assert.Equal(t, 1, board.Activations(gpio.PinStop))

			// later ticks never resurrect the cancelled travel
			m.Tick(start.Add(30 * time.Second))
			assert.Equal(t, tt.want, m.State())
			assert.Equal(t, 1, board.Activations(gpio.PinStop))
		})
	}
}

func TestStopSupersedesScheduledRelease(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	m.Execute(CommandOpen, t0)
	require.True(t, board.IsActive(gpio.PinOpen))

	_, err := m.Execute(CommandStop, at(200*time.Millisecond))
	require.NoError(t, err)

	assert.False(t, board.IsActive(gpio.PinOpen), "open relay released immediately")
	assert.False(t, m.Engaged(gpio.PinOpen))
	assert.True(t, board.IsActive(gpio.PinStop))
	assert.Equal(t, StateStopped, m.State())
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	for _, initial := range []gpio.Sample{{Top: true}, {Bottom: true}} {
		m, board := newMachine(t, testConfig(true), initial)
		before := m.State()
		events, err := m.Execute(CommandStop, t0)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Empty(t, board.Ops)
		assert.Equal(t, before, m.State())
	}
}

func TestStopWhileUnknownPulsesStop(t *testing.T) {
	m, board := newMachine(t, testConfig(false), gpio.Sample{})
	require.Equal(t, StateUnknown, m.State())

	events, err := m.Execute(CommandStop, t0)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 1, board.Activations(gpio.PinStop))
	assert.Equal(t, StateUnknown, m.State())
}

func TestNewerCommandOverridesStaleTimer(t *testing.T) {
	m, _ := newMachine(t, testConfig(false), gpio.Sample{Bottom: true})
	m.Execute(CommandOpen, t0)
	m.Sample(gpio.Sample{}, at(100*time.Millisecond))
	m.Execute(CommandStop, at(2*time.Second))
	m.Tick(at(3 * time.Second))
	require.Equal(t, StateUnknown, m.State())

	_, err := m.Execute(CommandOpen, at(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, StateOpening, m.State())

	// The first travel would have finished at 10s; the re-armed one at 15s.
	m.Tick(at(10 * time.Second))
	assert.Equal(t, StateOpening, m.State())
	m.Tick(at(15 * time.Second))
	assert.Equal(t, StateOpen, m.State())
}

func TestDirectionReversalStopsFirst(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Top: true})
	m.Execute(CommandClose, t0)
	m.Sample(gpio.Sample{}, at(100*time.Millisecond))
	m.Tick(at(time.Second))

	events, err := m.Execute(CommandOpen, at(3*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StateStopped, events[0].To)
	assert.Equal(t, CommandOpen, m.Snapshot().Pending)
	assert.True(t, board.IsActive(gpio.PinStop))
	assert.Equal(t, 0, board.Activations(gpio.PinOpen), "open waits for the stop pulse")

	// Stop still held: nothing yet.
	events, _ = m.Tick(at(3*time.Second + 200*time.Millisecond))
	assert.Empty(t, events)
	assert.Equal(t, 0, board.Activations(gpio.PinOpen))

	events, err = m.Tick(at(3*time.Second + 500*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, CauseReversal, events[0].Cause)
	assert.Equal(t, StateOpening, m.State())
	assert.False(t, board.IsActive(gpio.PinStop))
	assert.True(t, board.IsActive(gpio.PinOpen))

	// stop released before open engaged
	var order []gpio.RelayOp
	for _, op := range board.Ops {
		if op.Pin != gpio.PinClose {
			order = append(order, op)
		}
	}
	assert.Equal(t, []gpio.RelayOp{
		{Pin: gpio.PinStop, Active: true},
		{Pin: gpio.PinStop, Active: false},
		{Pin: gpio.PinOpen, Active: true},
	}, order)
}

func TestStopCancelsQueuedReversal(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Top: true})
	m.Execute(CommandClose, t0)
	m.Sample(gpio.Sample{}, at(100*time.Millisecond))
	m.Execute(CommandOpen, at(2*time.Second))
	m.Tick(at(2*time.Second + 500*time.Millisecond))
	require.Equal(t, StateOpening, m.State())

	// reverse again, then stop before the queued close runs
	m.Execute(CommandClose, at(3*time.Second))
	require.Equal(t, CommandClose, m.Snapshot().Pending)
	m.Execute(CommandStop, at(3*time.Second+100*time.Millisecond))
	assert.Equal(t, Command(""), m.Snapshot().Pending)

	m.Tick(at(5 * time.Second))
	assert.Equal(t, 1, board.Activations(gpio.PinClose))
	assert.Equal(t, StateStopped, m.State())
}

func TestContradictionYieldsUnknownAndFault(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	m.Execute(CommandOpen, t0)

	events := m.Sample(gpio.Sample{Top: true, Bottom: true}, at(time.Second))
	require.Len(t, events, 1)
	assert.True(t, events[0].Fault())
	assert.Equal(t, StateUnknown, m.State())
	assert.Equal(t, 1, m.Snapshot().Counts.Faults)

	// persisting contradiction is reported once, timer cannot resolve it
	assert.Empty(t, m.Sample(gpio.Sample{Top: true, Bottom: true}, at(2*time.Second)))
	m.Tick(at(20 * time.Second))
	assert.Equal(t, StateUnknown, m.State())
}

func TestCommandDuringContradictionNeverResolvesByTimer(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"open", CommandOpen},
		{"close", CommandClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
			m.Sample(gpio.Sample{Top: true, Bottom: true}, at(time.Second))
			require.Equal(t, StateUnknown, m.State())

			_, err := m.Execute(tt.cmd, at(2*time.Second))
			require.NoError(t, err)
			require.True(t, m.State().Moving())

			assert.Empty(t, m.Sample(gpio.Sample{Top: true, Bottom: true}, at(3*time.Second)))
			events, err := m.Tick(at(15 * time.Second))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, StateUnknown, events[0].To)
			assert.Equal(t, StateUnknown, m.State())
			assert.Zero(t, m.Snapshot().Counts.TimerResolutions)
		})
	}
}

func TestContradictionClearsFromLevels(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	m.Sample(gpio.Sample{Top: true, Bottom: true}, at(time.Second))
	require.Equal(t, StateUnknown, m.State())

	events := m.Sample(gpio.Sample{Bottom: true}, at(2*time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, StateClosed, m.State())
}

func TestUnknownResolvesOnNextSensorEdge(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		edge gpio.Sample
		want State
	}{
		{"open then top", CommandOpen, gpio.Sample{Top: true}, StateOpen},
		{"close then bottom", CommandClose, gpio.Sample{Bottom: true}, StateClosed},
		{"open then bottom", CommandOpen, gpio.Sample{Bottom: true}, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMachine(t, testConfig(true), gpio.Sample{Top: true, Bottom: true})
			m.Sample(gpio.Sample{}, t0)
			require.Equal(t, StateUnknown, m.State())

			m.Execute(tt.cmd, at(time.Second))
			m.Sample(tt.edge, at(3*time.Second))
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestBottomSensorLostWhileClosedIsFault(t *testing.T) {
	m, _ := newMachine(t, testConfig(false), gpio.Sample{Bottom: true})

	events := m.Sample(gpio.Sample{}, t0)
	require.Len(t, events, 1)
	assert.True(t, events[0].Fault())
	assert.Equal(t, StateUnknown, m.State())
}

func TestTopSensorLostWhileOpenMeansFobClose(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Top: true})

	events := m.Sample(gpio.Sample{}, t0)
	require.Len(t, events, 1)
	assert.Equal(t, StateClosing, m.State())
	assert.Equal(t, TargetClosed, m.Target())
	assert.Empty(t, board.Ops)

	m.Tick(at(12 * time.Second))
	assert.Equal(t, StateClosed, m.State())
}

func TestRelayFailureLeavesStateUnchanged(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	board.RelayError = errors.New("line busy")

	events, err := m.Execute(CommandOpen, t0)
	assert.Error(t, err)
	assert.Empty(t, events)
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.Engaged(gpio.PinOpen))
}

func TestSetTargetDrivesDoor(t *testing.T) {
	m, board := newMachine(t, testConfig(true), gpio.Sample{Top: true})

	_, err := m.SetTarget(TargetClosed, t0)
	require.NoError(t, err)
	assert.Equal(t, TargetClosed, m.Target())
	assert.Equal(t, StateClosing, m.State())
	assert.Equal(t, 1, board.Activations(gpio.PinClose))

	_, err = m.SetTarget(Target("Ajar"), t0)
	assert.Error(t, err)
}

func TestElapsedIsClamped(t *testing.T) {
	m, _ := newMachine(t, testConfig(false), gpio.Sample{Bottom: true})
	assert.Equal(t, time.Duration(0), m.Elapsed(t0))

	m.Execute(CommandOpen, t0)
	assert.Equal(t, time.Duration(0), m.Elapsed(t0.Add(-time.Second)))
	assert.Equal(t, 4*time.Second, m.Elapsed(at(4*time.Second)))
	assert.Equal(t, 10*time.Second, m.Elapsed(at(25*time.Second)))
}

func TestUnknownCommand(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Bottom: true})
	_, err := m.Execute(Command("wiggle"), t0)
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	m, _ := newMachine(t, testConfig(true), gpio.Sample{Top: true})
	assert.True(t, m.IsOpen())
	assert.False(t, m.IsClosed())
	assert.False(t, m.IsStopped())

	m.Execute(CommandClose, t0)
	m.Execute(CommandStop, at(time.Second))
	assert.True(t, m.IsStopped())
}

func TestBootPolicyValid(t *testing.T) {
	assert.True(t, BootLastKnown.Valid())
	assert.True(t, BootForceOpen.Valid())
	assert.False(t, BootPolicy("sometimes").Valid())
}
