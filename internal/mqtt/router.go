package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
	"github.com/sweeney/garage-door/internal/logger"
	"github.com/sweeney/garage-door/internal/metrics"
)

// DefaultInterval is the default heartbeat cadence.
const DefaultInterval = 5 * time.Second

// Message is an MQTT message in either direction.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Publisher sends messages to the broker. Publish must not block on the
// network.
type Publisher interface {
	Publish(msg Message) error
	IsConnected() bool
}

// Door is the state machine as seen by the router.
type Door interface {
	Execute(cmd door.Command, now time.Time) ([]door.Event, error)
	SetTarget(t door.Target, now time.Time) ([]door.Event, error)
	SeedTarget(t door.Target)
	State() door.State
	Target() door.Target
	IsOpen() bool
	IsClosed() bool
	IsStopped() bool
	Snapshot() door.Snapshot
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Prefix is the device name every topic is published under.
	Prefix      string
	Interval    time.Duration
	MaxPayload  int
	Diagnostics bool
	BootPolicy  door.BootPolicy
	Version     string
	Discovery   DiscoveryConfig
}

// Outcome describes how an inbound message was handled.
type Outcome struct {
	Route  Route
	Status Status
	Events []door.Event
	Err    error
}

// Router decodes inbound messages into door commands and publishes
// responses and telemetry. It is owned by the control loop and is not safe
// for concurrent use.
type Router struct {
	cfg     RouterConfig
	table   *Table
	door    Door
	pins    gpio.PinAccess
	pub     Publisher
	log     logger.Logger
	metrics *metrics.Metrics

	startedAt     time.Time
	lastHeartbeat time.Time
	lastTarget    door.Target
	// seeded is set once the target has been taken from, or published to,
	// the broker. Later values on the get-target topic are our own echo.
	seeded bool
}

// NewRouter builds the topic table and validates the payload size. m may
// be nil. pub may be nil until Attach is called; publishes made before
// then are dropped.
func NewRouter(cfg RouterConfig, d Door, pins gpio.PinAccess, pub Publisher, log logger.Logger, m *metrics.Metrics, now time.Time) (*Router, error) {
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = DefaultPayloadSize
	}
	if err := ValidatePayloadSize(cfg.MaxPayload); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BootPolicy == "" {
		cfg.BootPolicy = door.BootLastKnown
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Router{
		cfg:           cfg,
		table:         NewTable(cfg.Prefix, cfg.Diagnostics),
		door:          d,
		pins:          pins,
		pub:           pub,
		log:           log,
		metrics:       m,
		startedAt:     now,
		lastHeartbeat: now,
		lastTarget:    d.Target(),
		seeded:        cfg.BootPolicy != door.BootLastKnown,
	}, nil
}

// Attach sets the publisher. The client needs Will, BirthMessages and
// Subscriptions before it can connect, so it is built after the router.
func (r *Router) Attach(pub Publisher) { r.pub = pub }

// Table returns the inbound topic table.
func (r *Router) Table() *Table { return r.table }

// Subscriptions returns the topics the client must subscribe to.
func (r *Router) Subscriptions() []string { return r.table.Topics() }

// Will is the last-will message registered with the broker.
func (r *Router) Will() Message {
	return Message{Topic: r.table.Topic(PathConnectionStatus), Payload: []byte(PayloadOffline), QoS: 1, Retained: true}
}

// BirthMessages are published on every (re)connect: the online presence
// and, when enabled, Home Assistant discovery.
func (r *Router) BirthMessages() []Message {
	msgs := []Message{{Topic: r.table.Topic(PathConnectionStatus), Payload: []byte(PayloadOnline), QoS: 1, Retained: true}}
	if r.cfg.Discovery.Enabled {
		cfg := CoverDiscovery(r.table, r.cfg.Discovery, r.cfg.Version)
		payload, err := json.Marshal(cfg)
		if err != nil {
			r.log.Errorf("mqtt: encode discovery config: %v", err)
			return msgs
		}
		msgs = append(msgs, Message{Topic: DiscoveryTopic(r.cfg.Discovery.Prefix, cfg.ObjectID), Payload: payload, QoS: 1, Retained: true})
	}
	return msgs
}

// Shutdown publishes the offline presence ahead of a clean disconnect.
func (r *Router) Shutdown() {
	w := r.Will()
	r.publish(w.Topic, w.Payload, true)
}

// Handle processes one inbound message.
func (r *Router) Handle(msg Message, now time.Time) Outcome {
	route := r.table.Resolve(msg.Topic)
	out := Outcome{Route: route, Status: StatusPreProcessing}

	switch route.Kind {
	case SubscriptionUnknown:
		out.Status = StatusNotValidIncomingTopic
		r.log.Warnf("mqtt: %s: %q", out.Status, msg.Topic)
	case SubscriptionPerformOpen:
		out = r.perform(route, msg, door.CommandOpen, now)
	case SubscriptionPerformClose:
		out = r.perform(route, msg, door.CommandClose, now)
	case SubscriptionPerformStop:
		out = r.perform(route, msg, door.CommandStop, now)
	case SubscriptionIsOpen:
		out.Status = r.respond(route.Response, field{"open", r.door.IsOpen()})
	case SubscriptionIsClosed:
		out.Status = r.respond(route.Response, field{"closed", r.door.IsClosed()})
	case SubscriptionIsStopped:
		out.Status = r.respond(route.Response, field{"stopped", r.door.IsStopped()})
	case SubscriptionSetTarget:
		out = r.setTarget(route, msg, now)
	case SubscriptionGetTarget:
		out.Status = r.getTarget(msg)
	case SubscriptionGetCurrent:
		out.Status = StatusPreProcessing
		if isEmpty(msg.Payload) {
			r.publishCurrent()
			out.Status = StatusAddedToPayload
		}
	case SubscriptionPinValue, SubscriptionPinSet, SubscriptionPinClear:
		out = r.pin(route)
	}

	r.metrics.Command(route.Kind.String(), string(out.Status))
	return out
}

func (r *Router) perform(route Route, msg Message, cmd door.Command, now time.Time) Outcome {
	out := Outcome{Route: route, Status: StatusPreProcessing}
	if msg.Retained {
		r.log.Warnf("mqtt: ignoring retained %s command on %s", cmd, msg.Topic)
		return out
	}

	events, err := r.door.Execute(cmd, now)
	out.Events = events
	r.Notify(events, now)
	if err != nil {
		out.Err = err
		r.log.Errorf("mqtt: %s: %v", cmd, err)
		r.respond(route.Response, field{"status", out.Status}, field{"error", err.Error()})
		return out
	}

	out.Status = successStatus(cmd)
	r.respondCommand(route.Response, out.Status)
	r.log.Infof("mqtt: %s accepted, door %s, target %s", cmd, r.door.State(), r.door.Target())
	return out
}

func (r *Router) setTarget(route Route, msg Message, now time.Time) Outcome {
	out := Outcome{Route: route, Status: StatusPreProcessing}
	if msg.Retained {
		r.log.Warnf("mqtt: ignoring retained target on %s", msg.Topic)
		return out
	}
	if isEmpty(msg.Payload) {
		out.Status = StatusNoPayload
		r.respond(route.Response, field{"status", out.Status})
		return out
	}
	cmd, ok := ParseSetTarget(msg.Payload)
	if !ok {
		out.Status = StatusInvalidPayload
		r.log.Warnf("mqtt: invalid target payload %q", msg.Payload)
		r.respond(route.Response, field{"status", out.Status})
		return out
	}

	var events []door.Event
	var err error
	switch cmd {
	case door.CommandOpen:
		events, err = r.door.SetTarget(door.TargetOpen, now)
	case door.CommandClose:
		events, err = r.door.SetTarget(door.TargetClosed, now)
	default:
		events, err = r.door.Execute(cmd, now)
	}
	out.Events = events
	r.Notify(events, now)
	if err != nil {
		out.Err = err
		r.log.Errorf("mqtt: set target %s: %v", cmd, err)
		r.respond(route.Response, field{"status", out.Status}, field{"error", err.Error()})
		return out
	}

	out.Status = successStatus(cmd)
	r.respondCommand(route.Response, out.Status)
	return out
}

// getTarget answers a query, takes the retained boot value, or ignores our
// own echo.
func (r *Router) getTarget(msg Message) Status {
	if isEmpty(msg.Payload) {
		r.publishTarget()
		return StatusAddedToPayload
	}
	if r.seeded {
		return StatusPreProcessing
	}
	t, ok := ParseTargetLetter(msg.Payload)
	if !ok {
		r.log.Warnf("mqtt: invalid retained target %q", msg.Payload)
		return StatusInvalidPayload
	}
	r.door.SeedTarget(t)
	r.lastTarget = t
	r.seeded = true
	r.log.Infof("mqtt: target seeded from broker: %s", t)
	return StatusAddedToPayload
}

func (r *Router) pin(route Route) Outcome {
	out := Outcome{Route: route, Status: StatusPreProcessing}

	var err error
	switch route.Kind {
	case SubscriptionPinSet:
		err = r.pins.Set(route.Pin)
	case SubscriptionPinClear:
		err = r.pins.Clear(route.Pin)
	}
	var v int
	if err == nil {
		v, err = r.pins.Value(route.Pin)
	}
	if err != nil {
		out.Err = err
		r.log.Warnf("mqtt: pin %s: %v", route.Pin, err)
		r.respond(route.Response, field{"pin", route.Pin}, field{"error", err.Error()})
		return out
	}

	r.log.Debugf("mqtt: %s %s = %d", route.Kind, route.Pin, v)
	out.Status = r.respond(route.Response, field{"pin", route.Pin}, field{"value", v})
	return out
}

// Notify publishes the current state after state-change events.
func (r *Router) Notify(events []door.Event, now time.Time) {
	for _, e := range events {
		r.metrics.Transition(e)
		if e.Fault() {
			r.log.Warnf("door fault: %s -> %s (%s)", e.From, e.To, e.Detail)
			continue
		}
		r.log.Infof("door: %s -> %s (%s)", e.From, e.To, e.Cause)
	}
	if len(events) > 0 {
		r.publishCurrent()
	}
	if r.door.Target() != r.lastTarget {
		r.publishTarget()
	}
}

// Tick publishes the retained current and target state and the status
// document when the heartbeat is due. It reports whether it published.
func (r *Router) Tick(now time.Time) bool {
	if now.Sub(r.lastHeartbeat) < r.cfg.Interval {
		return false
	}
	r.lastHeartbeat = now
	r.publishCurrent()
	r.publishTarget()
	payload, _ := r.StatusDocument(now)
	r.publish(r.table.Topic(PathStatus), payload, true)
	return true
}

// StatusDocument builds the JSON telemetry document. Fields that do not fit
// in the maximum payload size are dropped and reported.
func (r *Router) StatusDocument(now time.Time) ([]byte, Status) {
	snap := r.door.Snapshot()
	return r.build(r.table.Topic(PathStatus),
		field{"device", r.cfg.Prefix},
		field{"timestamp", now.UTC().Format(time.RFC3339)},
		field{"state", snap.State},
		field{"stateLetter", StateLetter(snap.State)},
		field{"target", snap.Target},
		field{"topSensor", snap.Sensors.Top},
		field{"bottomSensor", snap.Sensors.Bottom},
		field{"relayPower", snap.Sensors.RelayPower},
		field{"pending", snap.Pending},
		field{"lastTransition", snap.LastTransitionAt.UTC().Format(time.RFC3339)},
		field{"uptimeSeconds", int64(now.Sub(r.startedAt).Seconds())},
		field{"opens", snap.Counts.Opens},
		field{"closes", snap.Counts.Closes},
		field{"stops", snap.Counts.Stops},
		field{"faults", snap.Counts.Faults},
		field{"timerResolutions", snap.Counts.TimerResolutions},
		field{"mqttConnected", r.pub != nil && r.pub.IsConnected()},
		field{"version", r.cfg.Version},
	)
}

func (r *Router) publishCurrent() {
	r.publish(r.table.Topic(PathGetCurrent), []byte(StateLetter(r.door.State())), true)
}

func (r *Router) publishTarget() {
	t := r.door.Target()
	r.lastTarget = t
	r.seeded = true
	r.publish(r.table.Topic(PathGetTarget), []byte(TargetLetter(t)), true)
}

func (r *Router) respondCommand(topic string, status Status) Status {
	return r.respond(topic,
		field{"status", status},
		field{"doorState", r.door.State()},
		field{"targetState", r.door.Target()},
	)
}

type field struct {
	key   string
	value any
}

// respond publishes a JSON object on a response topic.
func (r *Router) respond(topic string, fields ...field) Status {
	payload, status := r.build(topic, fields...)
	if topic != "" {
		r.publish(topic, payload, false)
	}
	return status
}

func (r *Router) build(topic string, fields ...field) ([]byte, Status) {
	// MaxPayload was validated in NewRouter.
	b := &PayloadBuilder{max: r.cfg.MaxPayload}
	status := StatusAddedToPayload
	for _, f := range fields {
		if s := b.Add(f.key, f.value); s != StatusAddedToPayload {
			status = s
			r.metrics.PayloadRejected(topic)
			r.log.Warnf("mqtt: %s: field %q dropped from %s", s, f.key, topic)
		}
	}
	return b.Bytes(), status
}

func (r *Router) publish(topic string, payload []byte, retained bool) {
	if r.pub == nil {
		r.log.Debugf("mqtt: no publisher attached, dropping %s", topic)
		return
	}
	err := r.pub.Publish(Message{Topic: topic, Payload: payload, QoS: 1, Retained: retained})
	if err != nil {
		r.metrics.PublishFailed()
		r.log.Warnf("mqtt: publish %s: %v", topic, err)
	}
}

func successStatus(cmd door.Command) Status {
	switch cmd {
	case door.CommandOpen:
		return StatusSetOpenSuccess
	case door.CommandClose:
		return StatusSetCloseSuccess
	}
	return StatusSetStopSuccess
}

func isEmpty(p []byte) bool {
	return len(bytes.TrimSpace(p)) == 0
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s: %s", o.Route.Kind, o.Status)
}
