package mqtt

import "sync"

// ringBuffer is a fixed-capacity FIFO that stores messages while
// disconnected. A retained message removes an older buffered retained
// message for the same topic and is queued at the tail.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf      []Message
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]Message, capacity),
		capacity: capacity,
	}
}

// push stores msg. It reports true the first time a message is dropped
// since the last drain.
func (r *ringBuffer) push(msg Message) bool {
	if msg.Retained {
		start := (r.head - r.count + r.capacity) % r.capacity
		for i := 0; i < r.count; i++ {
			j := (start + i) % r.capacity
			if r.buf[j].Retained && r.buf[j].Topic == msg.Topic {
				r.remove(i)
				break
			}
		}
	}

	if r.count == r.capacity {
		first := !r.overflow
		r.overflow = true
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return first
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
	return false
}

// remove deletes the i-th oldest message, closing the gap.
func (r *ringBuffer) remove(i int) {
	start := (r.head - r.count + r.capacity) % r.capacity
	for k := i; k < r.count-1; k++ {
		r.buf[(start+k)%r.capacity] = r.buf[(start+k+1)%r.capacity]
	}
	r.head = (r.head - 1 + r.capacity) % r.capacity
	r.buf[r.head] = Message{}
	r.count--
}

func (r *ringBuffer) drainAll() []Message {
	if r.count == 0 {
		return nil
	}

	result := make([]Message, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}

// outbox is the ringBuffer shared by publishers and the connect handler.
type outbox struct {
	mu  sync.Mutex
	buf *ringBuffer
}

func newOutbox(capacity int) *outbox {
	return &outbox{buf: newRingBuffer(capacity)}
}

// hold buffers msg. connected is checked again under the lock: if the
// connection came up after the caller's check, the connect handler may
// already have drained, so everything held is returned for sending now.
func (o *outbox) hold(msg Message, connected func() bool) (replay []Message, dropped bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dropped = o.buf.push(msg)
	if connected() {
		replay = o.buf.drainAll()
	}
	return replay, dropped
}

// release returns and clears everything held.
func (o *outbox) release() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.drainAll()
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.len()
}
