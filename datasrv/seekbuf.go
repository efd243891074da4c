package datasrv

import (
	"errors"
	"io"
)

// seekBuffer adapts an in-memory byte slice to io.WriteSeeker so the
// incremental tiff writer can patch page pointers before the response
// body is sent.
type seekBuffer struct {
	buf []byte
	off int64
}

var _ io.WriteSeeker = (*seekBuffer)(nil)

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.off + int64(len(p))
	if end > int64(len(b.buf)) {
		grown := make([]byte, end)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.off:], p)
	b.off = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.off = offset
	case io.SeekCurrent:
		b.off += offset
	case io.SeekEnd:
		b.off = int64(len(b.buf)) + offset
	}
	if b.off < 0 {
		return 0, errors.New("seek before start of buffer")
	}
	return b.off, nil
}
