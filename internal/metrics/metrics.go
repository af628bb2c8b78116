// Package metrics exposes door and protocol counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/garage-door/internal/door"
)

// Metrics records controller activity. A nil *Metrics is valid and records
// nothing, so callers in tests can skip wiring it.
type Metrics struct {
	doorState       *prometheus.GaugeVec
	commands        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	faults          prometheus.Counter
	rejections      *prometheus.CounterVec
	publishFailures prometheus.Counter
	mqttConnected   prometheus.Gauge
}

// New registers the controller metrics on reg. If reg is nil the default
// registerer is used. Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		doorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "garage_door_state",
			Help: "1 for the current door state, 0 for every other state",
		}, []string{"state"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garage_door_commands_total",
			Help: "Inbound protocol messages by subscription and status",
		}, []string{"subscription", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garage_door_transitions_total",
			Help: "Door state transitions",
		}, []string{"from", "to", "cause"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "garage_door_sensor_faults_total",
			Help: "Sensor faults such as both end stops asserted",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garage_door_payload_rejections_total",
			Help: "Fields rejected because the payload would exceed its maximum size",
		}, []string{"topic"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "garage_door_mqtt_publish_failures_total",
			Help: "MQTT publishes that failed or timed out",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "garage_door_mqtt_connected",
			Help: "1 while the MQTT client is connected",
		}),
	}

	var err error
	if m.doorState, err = register(reg, m.doorState); err != nil {
		return nil, err
	}
	if m.commands, err = register(reg, m.commands); err != nil {
		return nil, err
	}
	if m.transitions, err = register(reg, m.transitions); err != nil {
		return nil, err
	}
	if m.faults, err = register(reg, m.faults); err != nil {
		return nil, err
	}
	if m.rejections, err = register(reg, m.rejections); err != nil {
		return nil, err
	}
	if m.publishFailures, err = register(reg, m.publishFailures); err != nil {
		return nil, err
	}
	if m.mqttConnected, err = register(reg, m.mqttConnected); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// DoorState sets the state gauge so exactly one state reads 1.
func (m *Metrics) DoorState(s door.State) {
	if m == nil {
		return
	}
	for _, st := range door.States {
		v := 0.0
		if st == s {
			v = 1
		}
		m.doorState.WithLabelValues(string(st)).Set(v)
	}
}

// Command counts a handled inbound message.
func (m *Metrics) Command(subscription, status string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(subscription, status).Inc()
}

// Transition counts a door state change, and a sensor fault when the
// transition was caused by one.
func (m *Metrics) Transition(e door.Event) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(e.From), string(e.To), string(e.Cause)).Inc()
	if e.Fault() {
		m.faults.Inc()
	}
	m.DoorState(e.To)
}

// PayloadRejected counts a field dropped for exceeding the payload size.
func (m *Metrics) PayloadRejected(topic string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(topic).Inc()
}

// PublishFailed counts a failed MQTT publish.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// MQTTConnected records the broker connection state.
func (m *Metrics) MQTTConnected(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.mqttConnected.Set(v)
}
