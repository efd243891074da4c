package writers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microscope-io/mdastore/mda"
)

// testSeq builds a plan with npos unnamed positions and the given
// trailing axis sizes, axes in the order given.
func testSeq(npos int, sizes map[string]int, axes ...string) *mda.Sequence {
	seq := &mda.Sequence{AxisOrder: axes, Sizes: sizes}
	for i := 0; i < npos; i++ {
		seq.Positions = append(seq.Positions, mda.Position{X: float64(i)})
	}
	return seq
}

// testFrame returns a deterministic frame for an event so tests can
// assert which plane landed where.
func testFrame(ev mda.Event, w, h int) mda.Frame {
	base := uint16(ev.Index["p"]*1000 + ev.Index["t"]*100 + ev.Index["c"]*10 + ev.Index["z"])
	pix := make([]uint16, w*h)
	for i := range pix {
		pix[i] = base + uint16(i%7)
	}
	return mda.Frame{Pix: pix, Width: w, Height: h}
}

func testMeta(ev mda.Event) mda.FrameMeta {
	e := ev
	return mda.FrameMeta{
		Time:       "2026-01-02T03:04:05Z",
		ExposureMS: 10,
		Event:      &e,
	}
}

// runAll drives a full run through h: start, every planned event, finish.
func runAll(t *testing.T, h mda.Handler, seq *mda.Sequence, w, hgt int) int {
	t.Helper()
	require.NoError(t, h.SequenceStarted(seq, mda.SummaryMeta{"engine": "test"}))
	evs := seq.Events()
	for _, ev := range evs {
		require.NoError(t, h.FrameReady(testFrame(ev, w, hgt), ev, testMeta(ev)))
	}
	require.NoError(t, h.SequenceFinished())
	return len(evs)
}
