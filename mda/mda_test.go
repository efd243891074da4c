package mda

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeOfFallsBackToPositions(t *testing.T) {
	seq := &Sequence{
		AxisOrder: []string{"p", "t"},
		Sizes:     map[string]int{"t": 3},
		Positions: []Position{{X: 0}, {X: 1}},
	}
	assert.Equal(t, 2, seq.SizeOf("p"))
	assert.Equal(t, 3, seq.SizeOf("t"))
	assert.Equal(t, 0, seq.SizeOf("z"))
}

func TestRectangular(t *testing.T) {
	seq := &Sequence{
		AxisOrder: []string{"p", "t"},
		Sizes:     map[string]int{"t": 3},
		Positions: []Position{{X: 0}},
	}
	assert.True(t, seq.Rectangular())

	ragged := &Sequence{AxisOrder: []string{"t"}, Sizes: map[string]int{"t": 0}}
	assert.False(t, ragged.Rectangular())

	empty := &Sequence{}
	assert.False(t, empty.Rectangular())
}

func TestEventsRowMajorOrder(t *testing.T) {
	seq := &Sequence{
		AxisOrder: []string{"p", "t", "c"},
		Sizes:     map[string]int{"t": 2, "c": 2},
		Positions: []Position{{X: 0}, {X: 1}},
	}
	evs := seq.Events()
	if len(evs) != 8 {
		t.Fatalf("got %d events, want 8", len(evs))
	}
	// outermost axis (p) varies slowest, innermost (c) fastest
	want := []map[string]int{
		{"p": 0, "t": 0, "c": 0},
		{"p": 0, "t": 0, "c": 1},
		{"p": 0, "t": 1, "c": 0},
		{"p": 0, "t": 1, "c": 1},
		{"p": 1, "t": 0, "c": 0},
		{"p": 1, "t": 0, "c": 1},
		{"p": 1, "t": 1, "c": 0},
		{"p": 1, "t": 1, "c": 1},
	}
	for i, ev := range evs {
		assert.Equal(t, want[i], ev.Index, "event %d", i)
		assert.Same(t, seq, ev.Sequence)
	}
}

func TestEventsRaggedYieldsNone(t *testing.T) {
	seq := &Sequence{AxisOrder: []string{"t"}, Sizes: map[string]int{"t": 0}}
	assert.Nil(t, seq.Events())
}

func TestPosKey(t *testing.T) {
	named := Event{Index: map[string]int{"p": 1}, PosName: "well-A1"}
	assert.Equal(t, "well-A1", named.PosKey())

	anon := Event{Index: map[string]int{"p": 1}}
	assert.Equal(t, "p1", anon.PosKey())

	nop := Event{Index: map[string]int{"t": 3}}
	assert.Equal(t, "p0", nop.PosKey())
}

func TestIndexKeySorted(t *testing.T) {
	ev := Event{Index: map[string]int{"t": 2, "c": 1, "p": 0}}
	assert.Equal(t, "c=1,p=0,t=2", ev.IndexKey())
}

func TestFrameValidate(t *testing.T) {
	good := Frame{Pix: make([]uint16, 12), Width: 4, Height: 3}
	assert.NoError(t, good.Validate())

	bad := Frame{Pix: make([]uint16, 11), Width: 4, Height: 3}
	assert.Error(t, bad.Validate())
}
