// Package centroid decodes and encodes the binary centroid summary of an
// annotation whose element list is too large to transfer.
//
// A summary holds one record per element: its id, the center of its bound,
// a radius derived from the bound diagonal and an index into a table of
// de-duplicated styles.
//
// # Wire format
//
// The payload is a UTF-8 JSON document with the record block spliced into
// it. The first zero byte from the front ends the leading part of the JSON
// text, the last zero byte of the buffer starts the trailing part, and the
// bytes between the two are the records:
//
//	json[:k] 0x00 records 0x00 json[k:]
//
// Each record is 28 bytes: the 12-byte id as three big-endian uint32 words,
// then little-endian float32 x, y and r, and a little-endian uint32 style
// group index.
package centroid

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/annot/element"
)

// RecordSize is the size of one centroid record in bytes.
const RecordSize = 28

// RadiusDivisor converts the stored bound diagonal into a display radius
// (approximately 2 × 4/π).
const RadiusDivisor = 2.5

// Decode errors.
var (
	ErrInvalidData = errors.New("centroid: invalid centroid data")
	ErrInvalidSize = errors.New("centroid: invalid centroid data size")
)

// Summary is a decoded centroid summary. The per-record slices always have
// the same length, Returned.
type Summary struct {
	ID []string
	X  []float32
	Y  []float32
	R  []float32
	S  []uint32

	// Props is the style group table indexed by S.
	Props []element.Style

	// Partial is set when the summary itself was truncated by the server.
	Partial  bool
	Returned int
	Count    int
}

// NewSummary allocates a summary for n records.
func NewSummary(n int) *Summary {
	return &Summary{
		ID:       make([]string, n),
		X:        make([]float32, n),
		Y:        make([]float32, n),
		R:        make([]float32, n),
		S:        make([]uint32, n),
		Returned: n,
		Count:    n,
	}
}

// Len returns the number of records.
func (s *Summary) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ID)
}

// Validate checks that the parallel slices are aligned and every style
// index resolves.
func (s *Summary) Validate() error {
	n := len(s.ID)
	if len(s.X) != n || len(s.Y) != n || len(s.R) != n || len(s.S) != n {
		return fmt.Errorf("%w: record slices have different lengths", ErrInvalidData)
	}
	if s.Returned != n {
		return fmt.Errorf("%w: %d records, %d returned", ErrInvalidSize, n, s.Returned)
	}
	for i, g := range s.S {
		if int(g) >= len(s.Props) {
			return fmt.Errorf("%w: record %d uses style group %d of %d", ErrInvalidData, i, g, len(s.Props))
		}
	}
	return nil
}

// Style returns the resolved style of record i.
func (s *Summary) Style(i int) element.Style {
	if g := int(s.S[i]); g < len(s.Props) {
		return s.Props[g]
	}
	return GenericDefault
}

// DisplayRadius returns the marker radius of record i in base image pixels.
func (s *Summary) DisplayRadius(i int) float64 {
	return float64(s.R[i]) / RadiusDivisor
}

// PixelRadius converts a display radius in base image pixels to screen
// pixels at a zoom level. It must be recomputed on every zoom change.
func PixelRadius(displayRadius, zoom, maxZoom float64) float64 {
	return displayRadius / math.Exp2(maxZoom-zoom)
}
