// Package mqtt routes garage door commands and telemetry over MQTT.
package mqtt

import (
	"sort"

	"github.com/sweeney/garage-door/internal/gpio"
)

// Topic paths, relative to the device name prefix.
const (
	PathConnectionStatus  = "/connection_status"
	PathStatus            = "/status"
	PathSetTarget         = "/set/target/door/state"
	PathSetTargetResponse = "/response/set/target/door/state"
	PathGetTarget         = "/get/target/door/state"
	PathGetCurrent        = "/get/current/door/state"
)

// Presence payloads on PathConnectionStatus.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Subscription identifies what an inbound topic asks for.
type Subscription int

const (
	SubscriptionUnknown Subscription = iota
	SubscriptionSetTarget
	SubscriptionGetTarget
	SubscriptionGetCurrent
	SubscriptionPerformOpen
	SubscriptionPerformClose
	SubscriptionPerformStop
	SubscriptionIsOpen
	SubscriptionIsClosed
	SubscriptionIsStopped
	SubscriptionPinValue
	SubscriptionPinSet
	SubscriptionPinClear
)

var subscriptionNames = map[Subscription]string{
	SubscriptionUnknown:      "unknown",
	SubscriptionSetTarget:    "set_target",
	SubscriptionGetTarget:    "get_target",
	SubscriptionGetCurrent:   "get_current",
	SubscriptionPerformOpen:  "perform_open",
	SubscriptionPerformClose: "perform_close",
	SubscriptionPerformStop:  "perform_stop",
	SubscriptionIsOpen:       "is_open",
	SubscriptionIsClosed:     "is_closed",
	SubscriptionIsStopped:    "is_stopped",
	SubscriptionPinValue:     "pin_value",
	SubscriptionPinSet:       "pin_set",
	SubscriptionPinClear:     "pin_clear",
}

func (s Subscription) String() string {
	if n, ok := subscriptionNames[s]; ok {
		return n
	}
	return "unknown"
}

// Diagnostic reports whether the subscription bypasses the door state machine.
func (s Subscription) Diagnostic() bool {
	return s == SubscriptionPinValue || s == SubscriptionPinSet || s == SubscriptionPinClear
}

// Route is a resolved inbound topic.
type Route struct {
	Kind     Subscription
	Topic    string
	Response string // empty when the topic has no paired response
	Pin      gpio.Pin
}

// Table maps exact inbound topics to routes. It is built once at startup
// and read-only afterwards.
type Table struct {
	prefix string
	routes map[string]Route
}

// NewTable builds the inbound topic table for a device. Diagnostic pin
// topics are only registered when diagnostics is true.
func NewTable(prefix string, diagnostics bool) *Table {
	t := &Table{prefix: prefix, routes: make(map[string]Route)}

	t.add(SubscriptionSetTarget, PathSetTarget, PathSetTargetResponse, "")
	t.add(SubscriptionGetTarget, PathGetTarget, "", "")
	t.add(SubscriptionGetCurrent, PathGetCurrent, "", "")

	for kind, name := range map[Subscription]string{
		SubscriptionPerformOpen:  "open",
		SubscriptionPerformClose: "close",
		SubscriptionPerformStop:  "stop",
	} {
		t.add(kind, "/request/perform/"+name, "/response/perform/"+name, "")
	}
	for kind, name := range map[Subscription]string{
		SubscriptionIsOpen:    "open",
		SubscriptionIsClosed:  "closed",
		SubscriptionIsStopped: "stopped",
	} {
		t.add(kind, "/request/is/"+name, "/response/is/"+name, "")
	}

	if diagnostics {
		for _, pin := range []gpio.Pin{gpio.PinClose, gpio.PinOpen, gpio.PinStop, gpio.PinTopSensor, gpio.PinBottomSensor, gpio.PinRelayPower} {
			p := "/value/pin/" + string(pin)
			t.add(SubscriptionPinValue, "/request"+p, "/response"+p, pin)
		}
		for _, pin := range gpio.Relays {
			p := "/set/value/pin/" + string(pin)
			t.add(SubscriptionPinSet, "/request"+p, "/response"+p, pin)
			p = "/clear/value/pin/" + string(pin)
			t.add(SubscriptionPinClear, "/request"+p, "/response"+p, pin)
		}
	}
	return t
}

func (t *Table) add(kind Subscription, path, response string, pin gpio.Pin) {
	r := Route{Kind: kind, Topic: t.Topic(path), Pin: pin}
	if response != "" {
		r.Response = t.Topic(response)
	}
	t.routes[r.Topic] = r
}

// Topic returns the full topic for a path under the device prefix.
func (t *Table) Topic(path string) string {
	return t.prefix + path
}

// Resolve looks up an inbound topic. Topics not in the table resolve to
// SubscriptionUnknown.
func (t *Table) Resolve(topic string) Route {
	if r, ok := t.routes[topic]; ok {
		return r
	}
	return Route{Kind: SubscriptionUnknown, Topic: topic}
}

// Topics returns every inbound topic, sorted.
func (t *Table) Topics() []string {
	out := make([]string, 0, len(t.routes))
	for topic := range t.routes {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
