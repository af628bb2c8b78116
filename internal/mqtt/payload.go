package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Bounds for the configurable maximum payload size.
const (
	MinPayloadSize     = 512
	MaxPayloadSize     = 4096
	DefaultPayloadSize = MaxPayloadSize
)

// ErrPayloadSize is returned for a maximum payload size outside
// [MinPayloadSize, MaxPayloadSize].
var ErrPayloadSize = errors.New("max payload size out of range")

// ValidatePayloadSize checks a configured maximum payload size.
func ValidatePayloadSize(n int) error {
	if n < MinPayloadSize || n > MaxPayloadSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrPayloadSize, n, MinPayloadSize, MaxPayloadSize)
	}
	return nil
}

// PayloadBuilder assembles a flat JSON object that never grows past a
// maximum size. A field that does not fit is rejected and the fields added
// before it are kept.
type PayloadBuilder struct {
	max    int
	body   bytes.Buffer
	fields int
}

// NewPayloadBuilder returns a builder bounded to max bytes.
func NewPayloadBuilder(max int) (*PayloadBuilder, error) {
	if err := ValidatePayloadSize(max); err != nil {
		return nil, err
	}
	return &PayloadBuilder{max: max}, nil
}

// Add appends a field. It returns StatusAddedToPayload, or
// StatusPayloadExceededCapacity when the encoded object would exceed the
// maximum size, or StatusInvalidPayload when value cannot be encoded.
func (b *PayloadBuilder) Add(key string, value any) Status {
	k, err := json.Marshal(key)
	if err != nil {
		return StatusInvalidPayload
	}
	v, err := json.Marshal(value)
	if err != nil {
		return StatusInvalidPayload
	}

	need := len(k) + 1 + len(v)
	if b.fields > 0 {
		need++
	}
	// 2 for the enclosing braces
	if b.body.Len()+need+2 > b.max {
		return StatusPayloadExceededCapacity
	}

	if b.fields > 0 {
		b.body.WriteByte(',')
	}
	b.body.Write(k)
	b.body.WriteByte(':')
	b.body.Write(v)
	b.fields++
	return StatusAddedToPayload
}

// Len returns the encoded size of the object built so far.
func (b *PayloadBuilder) Len() int {
	return b.body.Len() + 2
}

// Fields returns the number of fields added.
func (b *PayloadBuilder) Fields() int {
	return b.fields
}

// Bytes returns the encoded object.
func (b *PayloadBuilder) Bytes() []byte {
	out := make([]byte, 0, b.Len())
	out = append(out, '{')
	out = append(out, b.body.Bytes()...)
	return append(out, '}')
}

// Reset empties the builder, keeping its maximum size.
func (b *PayloadBuilder) Reset() {
	b.body.Reset()
	b.fields = 0
}
