package storage

import (
	"encoding/binary"
	"math"
)

// EncodeVector packs an embedding as little-endian float32 bytes, the
// layout the similarity scan reads back.
func EncodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a stored embedding blob. A blob whose length is
// not a multiple of four decodes to nil.
func DecodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
