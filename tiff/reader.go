package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotTIFF is returned when the header magic is wrong.
var ErrNotTIFF = errors.New("tiff: bad magic")

// ReadGray16 parses every page of a grayscale TIFF and returns the
// pixel planes plus the (common) page dimensions.  Pages with differing
// dimensions are rejected; compressed files are rejected.
func ReadGray16(r io.ReaderAt) (pages [][]uint16, width, height int, err error) {
	var hdr [8]byte
	if _, err = r.ReadAt(hdr[:], 0); err != nil {
		return nil, 0, 0, err
	}
	var bo binary.ByteOrder
	switch {
	case hdr[0] == 'I' && hdr[1] == 'I':
		bo = binary.LittleEndian
	case hdr[0] == 'M' && hdr[1] == 'M':
		bo = binary.BigEndian
	default:
		return nil, 0, 0, ErrNotTIFF
	}
	if bo.Uint16(hdr[2:4]) != 42 {
		return nil, 0, 0, ErrNotTIFF
	}

	off := int64(bo.Uint32(hdr[4:8]))
	for off != 0 {
		pix, w, h, next, perr := readPage(r, bo, off)
		if perr != nil {
			return nil, 0, 0, perr
		}
		if width == 0 {
			width, height = w, h
		} else if w != width || h != height {
			return nil, 0, 0, fmt.Errorf("tiff: page %d is %dx%d, want %dx%d",
				len(pages), w, h, width, height)
		}
		pages = append(pages, pix)
		off = next
	}
	if len(pages) == 0 {
		return nil, 0, 0, errors.New("tiff: no pages")
	}
	return pages, width, height, nil
}

func readPage(r io.ReaderAt, bo binary.ByteOrder, off int64) (pix []uint16, w, h int, next int64, err error) {
	var nbuf [2]byte
	if _, err = r.ReadAt(nbuf[:], off); err != nil {
		return
	}
	n := int(bo.Uint16(nbuf[:]))
	raw := make([]byte, 12*n+4)
	if _, err = r.ReadAt(raw, off+2); err != nil {
		return
	}
	next = int64(bo.Uint32(raw[12*n:]))

	var bits, compression uint32 = 0, 1
	var stripOffs, stripCounts []uint32
	for i := 0; i < n; i++ {
		e := raw[12*i : 12*i+12]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := bo.Uint32(e[4:8])
		switch tag {
		case tagImageWidth:
			w = int(entryScalar(bo, e, typ))
		case tagImageLength:
			h = int(entryScalar(bo, e, typ))
		case tagBitsPerSample:
			bits = entryScalar(bo, e, typ)
		case tagCompression:
			compression = entryScalar(bo, e, typ)
		case tagStripOffsets:
			stripOffs, err = entryArray(r, bo, e, typ, count)
		case tagStripByteCounts:
			stripCounts, err = entryArray(r, bo, e, typ, count)
		}
		if err != nil {
			return
		}
	}
	if compression != 1 {
		err = fmt.Errorf("tiff: unsupported compression %d", compression)
		return
	}
	if bits != 16 {
		err = fmt.Errorf("tiff: unsupported bit depth %d", bits)
		return
	}
	if w <= 0 || h <= 0 || len(stripOffs) == 0 || len(stripOffs) != len(stripCounts) {
		err = errors.New("tiff: malformed page")
		return
	}

	pix = make([]uint16, 0, w*h)
	for i := range stripOffs {
		strip := make([]byte, stripCounts[i])
		if _, err = r.ReadAt(strip, int64(stripOffs[i])); err != nil {
			return
		}
		for j := 0; j+1 < len(strip); j += 2 {
			pix = append(pix, bo.Uint16(strip[j:]))
		}
	}
	if len(pix) != w*h {
		err = fmt.Errorf("tiff: page has %d samples, want %d", len(pix), w*h)
	}
	return
}

// entryScalar extracts a single SHORT or LONG value stored inline.
func entryScalar(bo binary.ByteOrder, e []byte, typ uint16) uint32 {
	if typ == typeShort {
		return uint32(bo.Uint16(e[8:10]))
	}
	return bo.Uint32(e[8:12])
}

// entryArray extracts a SHORT or LONG array, inline when it fits in the
// 4-byte value field, otherwise from the pointed-to location.
func entryArray(r io.ReaderAt, bo binary.ByteOrder, e []byte, typ uint16, count uint32) ([]uint32, error) {
	size := uint32(4)
	if typ == typeShort {
		size = 2
	}
	var raw []byte
	if size*count <= 4 {
		raw = e[8 : 8+size*count]
	} else {
		raw = make([]byte, size*count)
		if _, err := r.ReadAt(raw, int64(bo.Uint32(e[8:12]))); err != nil {
			return nil, err
		}
	}
	out := make([]uint32, count)
	for i := range out {
		if typ == typeShort {
			out[i] = uint32(bo.Uint16(raw[2*i:]))
		} else {
			out[i] = bo.Uint32(raw[4*i:])
		}
	}
	return out, nil
}
