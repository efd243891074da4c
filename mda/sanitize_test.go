package mda

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stand-in for the live writer handle a host would stash
type fakeHandle struct{ ch chan int }

func TestSanitizeSequenceStripsHandler(t *testing.T) {
	seq := &Sequence{
		AxisOrder: []string{"t"},
		Sizes:     map[string]int{"t": 2},
		Metadata: map[string]any{
			HandlerKey: &fakeHandle{ch: make(chan int)},
			"operator": "jane",
		},
	}
	out := SanitizeSequence(seq)

	require.NotNil(t, out)
	assert.NotContains(t, out.Metadata, HandlerKey)
	assert.Equal(t, "jane", out.Metadata["operator"])

	// input untouched
	assert.Contains(t, seq.Metadata, HandlerKey)

	// the point of sanitizing: the copy must JSON-encode cleanly
	_, err := json.Marshal(out)
	assert.NoError(t, err)
}

func TestSanitizeSequenceDeepCopies(t *testing.T) {
	seq := &Sequence{
		AxisOrder: []string{"t"},
		Metadata: map[string]any{
			"nested": map[string]any{"a": 1},
		},
	}
	out := SanitizeSequence(seq)
	out.Metadata["nested"].(map[string]any)["a"] = 99
	out.AxisOrder[0] = "z"

	assert.Equal(t, 1, seq.Metadata["nested"].(map[string]any)["a"])
	assert.Equal(t, "t", seq.AxisOrder[0])
}

func TestSanitizeSequenceNil(t *testing.T) {
	assert.Nil(t, SanitizeSequence(nil))
}

func TestSanitizeFrameMeta(t *testing.T) {
	seq := &Sequence{
		AxisOrder: []string{"t"},
		Metadata:  map[string]any{HandlerKey: &fakeHandle{}},
	}
	meta := FrameMeta{
		Time:       "2026-01-02T03:04:05Z",
		ExposureMS: 10,
		Event:      &Event{Index: map[string]int{"t": 1}, Sequence: seq},
	}
	out := SanitizeFrameMeta(meta)

	require.NotNil(t, out.Event)
	assert.NotContains(t, out.Event.Sequence.Metadata, HandlerKey)
	assert.Contains(t, seq.Metadata, HandlerKey)

	_, err := json.Marshal(out)
	assert.NoError(t, err)
}
