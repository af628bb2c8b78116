package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayloadSize(t *testing.T) {
	for _, n := range []int{MinPayloadSize, 1024, MaxPayloadSize} {
		assert.NoError(t, ValidatePayloadSize(n), "%d", n)
	}
	for _, n := range []int{0, MinPayloadSize - 1, MaxPayloadSize + 1} {
		err := ValidatePayloadSize(n)
		assert.True(t, errors.Is(err, ErrPayloadSize), "%d", n)
	}
	_, err := NewPayloadBuilder(100)
	assert.ErrorIs(t, err, ErrPayloadSize)
}

func TestPayloadBuilderAdd(t *testing.T) {
	b, err := NewPayloadBuilder(MinPayloadSize)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b.Bytes()))

	assert.Equal(t, StatusAddedToPayload, b.Add("state", "Open"))
	assert.Equal(t, StatusAddedToPayload, b.Add("faults", 2))
	assert.Equal(t, StatusAddedToPayload, b.Add("top", true))
	assert.Equal(t, `{"state":"Open","faults":2,"top":true}`, string(b.Bytes()))
	assert.Equal(t, 3, b.Fields())
	assert.Equal(t, len(b.Bytes()), b.Len())
}

func TestPayloadBuilderRejectsOversizedField(t *testing.T) {
	b, err := NewPayloadBuilder(MinPayloadSize)
	require.NoError(t, err)
	require.Equal(t, StatusAddedToPayload, b.Add("state", "Closed"))
	before := string(b.Bytes())

	status := b.Add("blob", strings.Repeat("x", MinPayloadSize))
	assert.Equal(t, StatusPayloadExceededCapacity, status)
	assert.Equal(t, before, string(b.Bytes()), "prior content intact")
	assert.True(t, json.Valid(b.Bytes()))

	// a small field still fits afterwards
	assert.Equal(t, StatusAddedToPayload, b.Add("target", "Closed"))
}

func TestPayloadBuilderExactBoundary(t *testing.T) {
	b, err := NewPayloadBuilder(MinPayloadSize)
	require.NoError(t, err)

	// {"k":"..."} is 8 bytes of framing around the value.
	value := strings.Repeat("v", MinPayloadSize-8)
	require.Equal(t, StatusAddedToPayload, b.Add("k", value))
	assert.Equal(t, MinPayloadSize, b.Len())

	assert.Equal(t, StatusPayloadExceededCapacity, b.Add("a", 1))
	assert.Equal(t, MinPayloadSize, len(b.Bytes()))
}

func TestPayloadBuilderNeverExceedsMax(t *testing.T) {
	b, err := NewPayloadBuilder(MinPayloadSize)
	require.NoError(t, err)
	rejected := 0
	for i := 0; i < 200; i++ {
		if b.Add("field", i) == StatusPayloadExceededCapacity {
			rejected++
		}
		require.LessOrEqual(t, b.Len(), MinPayloadSize)
	}
	assert.Positive(t, rejected)
	assert.True(t, json.Valid(b.Bytes()))
}

func TestPayloadBuilderUnencodableValue(t *testing.T) {
	b, err := NewPayloadBuilder(MinPayloadSize)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidPayload, b.Add("ch", make(chan int)))
	assert.Equal(t, 0, b.Fields())
}

func TestPayloadBuilderReset(t *testing.T) {
	b, err := NewPayloadBuilder(MinPayloadSize)
	require.NoError(t, err)
	b.Add("a", 1)
	b.Reset()
	assert.Equal(t, "{}", string(b.Bytes()))
	b.Add("b", 2)
	assert.Equal(t, `{"b":2}`, string(b.Bytes()))
}
