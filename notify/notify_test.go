package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microscope-io/mdastore/mda"
)

func TestPostRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Post(Event{Status: "finished", Frames: 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Post(Event{Status: "finished"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestPostGivesUpEventually(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	n.MaxElapsed = 100 * time.Millisecond
	assert.Error(t, n.Post(Event{Status: "finished"}))
}

// countingHandler stands in for a writer.
type countingHandler struct {
	started, frames, finished, canceled int
	finishErr                           error
}

func (h *countingHandler) SequenceStarted(*mda.Sequence, mda.SummaryMeta) error {
	h.started++
	return nil
}
func (h *countingHandler) FrameReady(mda.Frame, mda.Event, mda.FrameMeta) error {
	h.frames++
	return nil
}
func (h *countingHandler) SequenceFinished() error {
	h.finished++
	return h.finishErr
}
func (h *countingHandler) SequenceCanceled() error {
	h.canceled++
	return nil
}

func TestHandlerPostsOnFinish(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inner := &countingHandler{}
	h := NewHandler(inner, NewNotifier(srv.URL))
	seq := &mda.Sequence{
		AxisOrder: []string{"t"},
		Sizes:     map[string]int{"t": 2},
		Metadata:  map[string]any{mda.HandlerKey: inner},
	}
	require.NoError(t, h.SequenceStarted(seq, nil))
	for i := 0; i < 2; i++ {
		ev := mda.Event{Index: map[string]int{"t": i}, Sequence: seq}
		frame := mda.Frame{Pix: make([]uint16, 4), Width: 2, Height: 2}
		require.NoError(t, h.FrameReady(frame, ev, mda.FrameMeta{Event: &ev}))
	}
	require.NoError(t, h.SequenceFinished())

	assert.Equal(t, 1, inner.finished)
	assert.Equal(t, "finished", got.Status)
	assert.Equal(t, 2, got.Frames)
	require.NotNil(t, got.Sequence)
	assert.NotContains(t, got.Sequence.Metadata, mda.HandlerKey)
	assert.False(t, got.Started.IsZero())
	assert.False(t, got.Ended.Before(got.Started))
}

func TestHandlerPostsOnCancelAndKeepsInnerError(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inner := &countingHandler{}
	h := NewHandler(inner, NewNotifier(srv.URL))
	seq := &mda.Sequence{AxisOrder: []string{"t"}, Sizes: map[string]int{"t": 1}}
	require.NoError(t, h.SequenceStarted(seq, nil))
	require.NoError(t, h.SequenceCanceled())

	assert.Equal(t, 1, inner.canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}
