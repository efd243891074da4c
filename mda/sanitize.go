package mda

// HandlerKey is the sequence metadata slot that host applications use to
// stash a live writer handle.  The value is a resource handle, not data;
// encoding it to JSON fails.  Every serialization path must go through
// the Sanitize functions below, which strip the slot from a deep copy.
//
// New code should not store handlers in sequence metadata at all; pass
// them to the engine separately.  The sanitizer exists because sequences
// arriving from hosts that follow the old convention still carry one.
const HandlerKey = "mm_handler"

// SanitizeSequence returns a deep copy of seq with the handler slot
// removed from its metadata.  The input is never mutated.  A nil input
// returns nil.
func SanitizeSequence(seq *Sequence) *Sequence {
	if seq == nil {
		return nil
	}
	out := &Sequence{
		AxisOrder: append([]string(nil), seq.AxisOrder...),
		Positions: append([]Position(nil), seq.Positions...),
	}
	if seq.Sizes != nil {
		out.Sizes = make(map[string]int, len(seq.Sizes))
		for k, v := range seq.Sizes {
			out.Sizes[k] = v
		}
	}
	if seq.Metadata != nil {
		out.Metadata = make(map[string]any, len(seq.Metadata))
		for k, v := range seq.Metadata {
			if k == HandlerKey {
				continue
			}
			out.Metadata[k] = copyValue(v)
		}
	}
	return out
}

// SanitizeEvent returns a copy of ev whose sequence back-reference has
// been sanitized.  The input is never mutated.
func SanitizeEvent(ev Event) Event {
	out := ev
	if ev.Index != nil {
		out.Index = make(map[string]int, len(ev.Index))
		for k, v := range ev.Index {
			out.Index[k] = v
		}
	}
	out.Sequence = SanitizeSequence(ev.Sequence)
	return out
}

// SanitizeFrameMeta returns a copy of m with its embedded event (and that
// event's sequence) sanitized.  The input is never mutated.
func SanitizeFrameMeta(m FrameMeta) FrameMeta {
	out := m
	if m.Event != nil {
		ev := SanitizeEvent(*m.Event)
		out.Event = &ev
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = copyValue(v)
		}
	}
	return out
}

// copyValue deep-copies the JSON-shaped subset of values (maps, slices,
// scalars).  Anything else is copied by reference; the caller is only
// protected against mutation through the containers it owns.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = copyValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	default:
		return v
	}
}
