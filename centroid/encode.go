package centroid

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// Encode produces the wire form of a summary, the inverse of Decode.
// Servers and tests use it; the viewer only decodes.
func Encode(s *Summary) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	keys, rows := propsToHeader(s.Props)
	text, err := json.Marshal(header{Query: &queryHeader{
		Count:     max(s.Count, s.Returned),
		Returned:  s.Returned,
		PropsKeys: keys,
		Props:     rows,
		Centroids: true,
	}})
	if err != nil {
		return nil, err
	}

	n := s.Len()
	// The record block is spliced in just before the closing brace.
	split := len(text) - 1
	buf := make([]byte, 0, len(text)+2+n*RecordSize)
	buf = append(buf, text[:split]...)
	buf = append(buf, 0)
	var rec [RecordSize]byte
	for i := 0; i < n; i++ {
		id, err := hex.DecodeString(s.ID[i])
		if err != nil || len(id) != 12 {
			return nil, fmt.Errorf("%w: record %d has id %q", ErrInvalidData, i, s.ID[i])
		}
		copy(rec[0:12], id)
		binary.LittleEndian.PutUint32(rec[12:], math.Float32bits(s.X[i]))
		binary.LittleEndian.PutUint32(rec[16:], math.Float32bits(s.Y[i]))
		binary.LittleEndian.PutUint32(rec[20:], math.Float32bits(s.R[i]))
		binary.LittleEndian.PutUint32(rec[24:], s.S[i])
		buf = append(buf, rec[:]...)
	}
	buf = append(buf, 0)
	buf = append(buf, text[split:]...)
	return buf, nil
}
