package mqtt

import (
	"strings"
	"sync"
)

// FakeClient records published messages for test assertions and acts as a
// broker for retained values.
type FakeClient struct {
	mu sync.Mutex

	// Published contains every message in publish order.
	Published []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool

	retained map[string]Message
	inbound  chan Message
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Connected: true,
		retained:  make(map[string]Message),
		inbound:   make(chan Message, 64),
	}
}

// Publish records the message. Retained messages replace the stored value
// for their topic; an empty retained payload clears it.
func (f *FakeClient) Publish(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, msg)
	if msg.Retained {
		if len(msg.Payload) == 0 {
			delete(f.retained, msg.Topic)
		} else {
			f.retained[msg.Topic] = msg
		}
	}
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Messages returns the inbound channel fed by Deliver.
func (f *FakeClient) Messages() <-chan Message {
	return f.inbound
}

// Deliver queues an inbound message.
func (f *FakeClient) Deliver(msg Message) {
	f.inbound <- msg
}

// Retained returns the retained value for topic, as a reconnecting
// subscriber would receive it.
func (f *FakeClient) Retained(topic string) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.retained[topic]
	return m, ok
}

// On returns the payloads published on topic, oldest first.
func (f *FakeClient) On(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.Published {
		if m.Topic == topic {
			out = append(out, string(m.Payload))
		}
	}
	return out
}

// Last returns the most recent message published on topic.
func (f *FakeClient) Last(topic string) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Published) - 1; i >= 0; i-- {
		if f.Published[i].Topic == topic {
			return f.Published[i], true
		}
	}
	return Message{}, false
}

// CountPrefix counts messages published under a topic prefix.
func (f *FakeClient) CountPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.Published {
		if strings.HasPrefix(m.Topic, prefix) {
			n++
		}
	}
	return n
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset clears recorded messages but keeps retained values, like a broker
// that outlives a client.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = nil
	f.PublishError = nil
	f.Closed = false
	f.Connected = true
}
