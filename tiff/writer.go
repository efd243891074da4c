// Package tiff reads and writes baseline multi-page grayscale TIFF
// files: uncompressed 16-bit samples, one strip per page, little-endian.
// It exists because the acquisition writers need to append pages to an
// open file while frames stream in; single-page encode/decode of the
// same data is covered by golang.org/x/image/tiff.
package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// TIFF tag IDs used by this package.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
)

// field types
const (
	typeShort = 3
	typeLong  = 4
)

const headerSize = 8

// Writer appends Gray16 pages to a TIFF file incrementally.  Pages
// become visible to readers as soon as AppendGray16 returns; earlier
// pages are never rewritten.
type Writer struct {
	ws    io.WriteSeeker
	pages int

	// nextPtrOff is the file offset of the pointer that links in the
	// next IFD: the header slot before the first page, then each IFD's
	// trailing next-pointer
	nextPtrOff int64

	wroteHeader bool
}

// NewWriter returns a Writer over ws.  Nothing is written until the
// first page is appended.
func NewWriter(ws io.WriteSeeker) *Writer {
	return &Writer{ws: ws, nextPtrOff: 4}
}

// Pages returns the number of pages appended so far.
func (w *Writer) Pages() int { return w.pages }

// AppendGray16 writes one page of row-major 16-bit pixels.
func (w *Writer) AppendGray16(pix []uint16, width, height int) error {
	if len(pix) != width*height {
		return fmt.Errorf("tiff: page buffer has %d pixels, want %d", len(pix), width*height)
	}
	if !w.wroteHeader {
		// II, magic 42, first-IFD pointer patched on first append
		hdr := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
		if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if _, err := w.ws.Write(hdr); err != nil {
			return err
		}
		w.wroteHeader = true
	}

	end, err := w.ws.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if end < headerSize {
		end = headerSize
		if _, err := w.ws.Seek(end, io.SeekStart); err != nil {
			return err
		}
	}
	// word-align the pixel data
	if end%2 != 0 {
		if _, err := w.ws.Write([]byte{0}); err != nil {
			return err
		}
		end++
	}

	dataOff := end
	buf := make([]byte, 2*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	if _, err := w.ws.Write(buf); err != nil {
		return err
	}
	ifdOff := dataOff + int64(len(buf))

	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, uint32(width)},
		{tagImageLength, typeLong, 1, uint32(height)},
		{tagBitsPerSample, typeShort, 1, 16},
		{tagCompression, typeShort, 1, 1},
		{tagPhotometric, typeShort, 1, 1},
		{tagStripOffsets, typeLong, 1, uint32(dataOff)},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, uint32(height)},
		{tagStripByteCounts, typeLong, 1, uint32(len(buf))},
	}
	ifd := make([]byte, 2+12*len(entries)+4)
	binary.LittleEndian.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		off := 2 + 12*i
		binary.LittleEndian.PutUint16(ifd[off:], e.tag)
		binary.LittleEndian.PutUint16(ifd[off+2:], e.typ)
		binary.LittleEndian.PutUint32(ifd[off+4:], e.count)
		binary.LittleEndian.PutUint32(ifd[off+8:], e.value)
	}
	// trailing next-IFD pointer is zero until another page arrives
	if _, err := w.ws.Write(ifd); err != nil {
		return err
	}

	// link this IFD in from the previous pointer
	if _, err := w.ws.Seek(w.nextPtrOff, io.SeekStart); err != nil {
		return err
	}
	var ptr [4]byte
	binary.LittleEndian.PutUint32(ptr[:], uint32(ifdOff))
	if _, err := w.ws.Write(ptr[:]); err != nil {
		return err
	}
	if _, err := w.ws.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	w.nextPtrOff = ifdOff + int64(2+12*len(entries))
	w.pages++
	return nil
}

// Close finishes the file.  At least one page must have been appended.
func (w *Writer) Close() error {
	if w.pages == 0 {
		return errors.New("tiff: no pages written")
	}
	return nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32
}
