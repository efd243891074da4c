package writers

import (
	"fmt"
	"strings"
)

// axisPads are the zero-pad widths for filename index fields.  Axes not
// listed pad to three digits.
var axisPads = map[string]int{
	"frame": 5,
	"p":     3,
	"t":     4,
	"c":     2,
	"z":     3,
}

const defaultPad = 3

// NameTemplate formats per-frame file names for the sequence writer.
// It is built once per run from the declared axis list; every axis
// contributes a zero-padded field, and an optional running frame
// counter leads the name.  For axes [p t c] with the counter:
//
//	00000_p000_t0000_c00.tif
type NameTemplate struct {
	prefix    string
	extension string
	axes      []string
	counter   bool
}

// NewNameTemplate builds the template for one run.
func NewNameTemplate(axes []string, prefix, extension string, includeCounter bool) *NameTemplate {
	return &NameTemplate{
		prefix:    prefix,
		extension: extension,
		axes:      append([]string(nil), axes...),
		counter:   includeCounter,
	}
}

// Format renders the name for one event index.  Axes missing from the
// index render as zero, so sparse events still produce complete names.
func (t *NameTemplate) Format(index map[string]int, frame int) string {
	parts := make([]string, 0, len(t.axes)+1)
	if t.counter {
		parts = append(parts, fmt.Sprintf("%0*d", axisPads["frame"], frame))
	}
	for _, a := range t.axes {
		pad, ok := axisPads[a]
		if !ok {
			pad = defaultPad
		}
		parts = append(parts, fmt.Sprintf("%s%0*d", a, pad, index[a]))
	}
	return t.prefix + strings.Join(parts, "_") + t.extension
}
