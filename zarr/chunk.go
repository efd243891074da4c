package zarr

import (
	"encoding/binary"
	"fmt"
)

// EncodeUint16 packs pixels as little-endian bytes, the raw chunk
// encoding for a DtypeUint16 array with a nil compressor.
func EncodeUint16(pix []uint16) []byte {
	out := make([]byte, 2*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// DecodeUint16 unpacks a raw little-endian chunk blob.
func DecodeUint16(d []byte) ([]uint16, error) {
	if len(d)%2 != 0 {
		return nil, fmt.Errorf("chunk length %d is not a multiple of 2", len(d))
	}
	out := make([]uint16, len(d)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(d[2*i:])
	}
	return out, nil
}
