package readers

import "fmt"

// Open probes path with each known format in turn and returns the
// first reader that recognizes it.  The chunked-group layout is tried
// before the flat tensor because a group store also carries array
// documents in its sub-keys.
func Open(path string) (Reader, error) {
	if r, err := OpenOMEZarr(path); err == nil {
		return r, nil
	}
	if r, err := OpenTensor(path); err == nil {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognized, path)
}
