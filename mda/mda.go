// Package mda contains the core data model for multi-dimensional
// acquisitions: the sequence plan, per-exposure events, frames, and the
// handler lifecycle that an acquisition engine drives.  Writers in the
// writers package implement Handler; everything here is engine-agnostic.
package mda

import (
	"fmt"
	"sort"
	"strings"
)

// Handler receives the acquisition lifecycle for one run.  Calls arrive
// strictly ordered on a single goroutine: SequenceStarted exactly once,
// zero or more FrameReady, then exactly one of SequenceFinished or
// SequenceCanceled.  A handler instance serves at most one run.
type Handler interface {
	// SequenceStarted is called before any frames are delivered
	SequenceStarted(seq *Sequence, meta SummaryMeta) error

	// FrameReady delivers one exposed frame and its metadata
	FrameReady(frame Frame, event Event, meta FrameMeta) error

	// SequenceFinished is called after the last frame of a completed run
	SequenceFinished() error

	// SequenceCanceled is called instead of SequenceFinished when the run
	// was aborted; data written so far is kept
	SequenceCanceled() error
}

// Position is one stage position in a sequence.
type Position struct {
	Name string  `json:"name,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z,omitempty"`
}

// Sequence is the full acquisition plan: the declared axes, their sizes,
// the stage positions, and free-form user metadata.  A size of zero marks
// an axis whose extent is unknown in advance (ragged runs).
type Sequence struct {
	// AxisOrder lists the acquisition axes outermost first, e.g. p, t, c
	AxisOrder []string `json:"axis_order"`

	// Sizes maps each axis to its planned extent; 0 means unknown
	Sizes map[string]int `json:"sizes,omitempty"`

	// Positions holds the stage positions visited along the p axis
	Positions []Position `json:"stage_positions,omitempty"`

	// Metadata is arbitrary user metadata; see HandlerKey for the one
	// slot that must never be serialized
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Axes returns the declared axis order.
func (s *Sequence) Axes() []string { return s.AxisOrder }

// SizeOf returns the extent of an axis, falling back to the position
// count for the p axis.  Returns 0 for unknown or undeclared axes.
func (s *Sequence) SizeOf(axis string) int {
	if n, ok := s.Sizes[axis]; ok && n > 0 {
		return n
	}
	if axis == "p" {
		return len(s.Positions)
	}
	return 0
}

// HasAxis reports whether axis appears in the declared axis order.
func (s *Sequence) HasAxis(axis string) bool {
	for _, a := range s.AxisOrder {
		if a == axis {
			return true
		}
	}
	return false
}

// Rectangular reports whether every declared axis has a known extent,
// i.e. the run is dense and its full shape is known at start.
func (s *Sequence) Rectangular() bool {
	if len(s.AxisOrder) == 0 {
		return false
	}
	for _, a := range s.AxisOrder {
		if s.SizeOf(a) <= 0 {
			return false
		}
	}
	return true
}

// PosName returns the name of position i, or "" if unnamed or out of range.
func (s *Sequence) PosName(i int) string {
	if i < 0 || i >= len(s.Positions) {
		return ""
	}
	return s.Positions[i].Name
}

// Events enumerates the planned events of a rectangular sequence in
// declared axis order, outermost axis varying slowest.  Non-rectangular
// sequences yield no events; their hosts deliver events as they occur.
func (s *Sequence) Events() []Event {
	if !s.Rectangular() {
		return nil
	}
	sizes := make([]int, len(s.AxisOrder))
	total := 1
	for i, a := range s.AxisOrder {
		sizes[i] = s.SizeOf(a)
		total *= sizes[i]
	}
	evs := make([]Event, 0, total)
	idx := make([]int, len(sizes))
	for n := 0; n < total; n++ {
		ev := Event{Index: map[string]int{}, Sequence: s}
		for i, a := range s.AxisOrder {
			ev.Index[a] = idx[i]
			if a == "p" {
				ev.PosName = s.PosName(idx[i])
			}
		}
		evs = append(evs, ev)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < sizes[i] {
				break
			}
			idx[i] = 0
		}
	}
	return evs
}

// Event is one planned exposure: its multi-axis index, the optional name
// of its stage position, and a back-reference to the owning sequence.
// Events are immutable once emitted by the engine.
type Event struct {
	Index    map[string]int `json:"index"`
	PosName  string         `json:"pos_name,omitempty"`
	Sequence *Sequence      `json:"sequence,omitempty"`
}

// PosKey returns the sub-array key for the event's stage position: the
// position name when one is set, otherwise p<N> from the p axis index.
func (e Event) PosKey() string {
	if e.PosName != "" {
		return e.PosName
	}
	return fmt.Sprintf("p%d", e.Index["p"])
}

// IndexKey returns a canonical string for the event's index with axis
// names sorted, e.g. "c=1,p=0,t=2".  Used to key ragged frame maps.
func (e Event) IndexKey() string {
	axes := make([]string, 0, len(e.Index))
	for a := range e.Index {
		axes = append(axes, a)
	}
	sort.Strings(axes)
	parts := make([]string, len(axes))
	for i, a := range axes {
		parts[i] = fmt.Sprintf("%s=%d", a, e.Index[a])
	}
	return strings.Join(parts, ",")
}

// Frame is one exposed XY plane, row-major, 16 bits per pixel.
type Frame struct {
	Pix    []uint16
	Width  int
	Height int
}

// Validate checks that the pixel buffer matches the stated dimensions.
func (f Frame) Validate() error {
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("frame buffer has %d pixels, want %d (%dx%d)",
			len(f.Pix), f.Width*f.Height, f.Width, f.Height)
	}
	return nil
}

// SummaryMeta is the engine's free-form summary metadata delivered at
// sequence start.
type SummaryMeta map[string]any

// FrameMeta is the per-frame metadata record.  Event carries the
// originating event, including its sequence back-reference; sanitize
// before serializing (see SanitizeFrameMeta).
type FrameMeta struct {
	// Time is the exposure timestamp, RFC3339
	Time string `json:"time,omitempty"`

	// ExposureMS is the exposure duration in milliseconds
	ExposureMS float64 `json:"exposure_ms,omitempty"`

	// Event is the originating acquisition event
	Event *Event `json:"mda_event,omitempty"`

	// Extra holds engine-specific fields
	Extra map[string]any `json:"extra,omitempty"`
}
