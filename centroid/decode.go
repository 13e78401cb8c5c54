package centroid

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"unicode/utf8"

	"github.com/gogpu/annot/element"
)

// header is the JSON part of a centroid payload.
type header struct {
	Query       *queryHeader `json:"_elementQuery,omitempty"`
	LegacyQuery *queryHeader `json:"elementQuery,omitempty"`
}

type queryHeader struct {
	Count     int      `json:"count"`
	Returned  int      `json:"returned"`
	PropsKeys []string `json:"propskeys"`
	Props     [][]any  `json:"props"`
	Centroids bool     `json:"centroids,omitempty"`
}

// Decode parses a centroid payload. It fails rather than returning records
// read from a malformed buffer.
func Decode(buf []byte) (*Summary, error) {
	z0 := bytes.IndexByte(buf, 0)
	z1 := bytes.LastIndexByte(buf, 0)
	if z0 < 0 || z0 >= z1 {
		return nil, fmt.Errorf("%w: missing record block delimiters", ErrInvalidData)
	}
	block := buf[z0+1 : z1]
	if len(block)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidSize, len(block), RecordSize)
	}

	text := make([]byte, 0, z0+len(buf)-z1-1)
	text = append(text, buf[:z0]...)
	text = append(text, buf[z1+1:]...)
	h, err := decodeHeader(text)
	if err != nil {
		return nil, err
	}

	n := len(block) / RecordSize
	s := NewSummary(n)
	if q := h.query(); q != nil {
		if q.Returned != n {
			return nil, fmt.Errorf("%w: %d records, header declares %d", ErrInvalidSize, n, q.Returned)
		}
		s.Count = max(q.Count, n)
		s.Partial = q.Count > q.Returned
		s.Props = propsFromHeader(q.PropsKeys, q.Props)
	}

	var id [12]byte
	for i := 0; i < n; i++ {
		rec := block[i*RecordSize : (i+1)*RecordSize]
		binary.BigEndian.PutUint32(id[0:], binary.BigEndian.Uint32(rec[0:]))
		binary.BigEndian.PutUint32(id[4:], binary.BigEndian.Uint32(rec[4:]))
		binary.BigEndian.PutUint32(id[8:], binary.BigEndian.Uint32(rec[8:]))
		s.ID[i] = hex.EncodeToString(id[:])
		s.X[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec[12:]))
		s.Y[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec[16:]))
		s.R[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec[20:]))
		s.S[i] = binary.LittleEndian.Uint32(rec[24:])
	}

	if len(s.Props) == 0 {
		s.Props = []element.Style{resolve(styleOverride{}, "", false)}
	}
	for i, g := range s.S {
		if int(g) >= len(s.Props) {
			return nil, fmt.Errorf("%w: record %d uses style group %d of %d", ErrInvalidData, i, g, len(s.Props))
		}
	}
	return s, nil
}

func (h *header) query() *queryHeader {
	if h.Query != nil {
		return h.Query
	}
	return h.LegacyQuery
}

// decodeHeader parses the JSON text, percent-decoding it first when the
// server sent it escaped.
func decodeHeader(text []byte) (*header, error) {
	if !utf8.Valid(text) {
		return nil, fmt.Errorf("%w: header is not UTF-8", ErrInvalidData)
	}
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) > 0 && trimmed[0] == '%' {
		unescaped, err := url.PathUnescape(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
		trimmed = []byte(unescaped)
	}
	var h header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return &h, nil
}
