package centroid

import (
	"github.com/gogpu/annot/element"
)

// GenericDefault is the style of last resort for a style group.
var GenericDefault = element.Style{
	FillColor:     element.Black,
	FillOpacity:   0,
	StrokeColor:   element.Black,
	StrokeOpacity: 1,
	StrokeWidth:   element.DefaultLineWidth,
}

// styleOverride is a partial style; nil fields are unset.
type styleOverride struct {
	FillColor     *element.RGBA
	FillOpacity   *float64
	StrokeColor   *element.RGBA
	StrokeOpacity *float64
	StrokeWidth   *float64
}

func ptr[T any](v T) *T { return &v }

// Type-dependent defaults. Open polylines are never filled; closed shapes
// get a faint fill so their marker reads as an area.
var typeDefaults = map[string]styleOverride{
	"default": {
		FillColor:   ptr(element.Orange),
		FillOpacity: ptr(0.5),
		StrokeWidth: ptr(1.0),
	},
	"rectangle": {
		FillColor:   ptr(element.Black),
		FillOpacity: ptr(0.25),
		StrokeColor: ptr(element.Red),
		StrokeWidth: ptr(2.0),
	},
	"polyline": {
		FillOpacity:   ptr(0.0),
		StrokeColor:   ptr(element.Orange),
		StrokeOpacity: ptr(1.0),
		StrokeWidth:   ptr(2.0),
	},
	"polyline_closed": {
		FillColor:   ptr(element.Black),
		FillOpacity: ptr(0.25),
		StrokeWidth: ptr(2.0),
	},
}

// defaultsKey picks the type-dependent defaults for a style group.
func defaultsKey(typ string, closed bool) string {
	switch typ {
	case string(element.TypeRectangle):
		return "rectangle"
	case string(element.TypePolyline):
		if closed {
			return "polyline_closed"
		}
		return "polyline"
	}
	return "default"
}

// resolve applies o, then the type defaults, then GenericDefault.
func resolve(o styleOverride, typ string, closed bool) element.Style {
	s := GenericDefault
	for _, layer := range []styleOverride{typeDefaults[defaultsKey(typ, closed)], o} {
		if layer.FillColor != nil {
			s.FillColor = *layer.FillColor
		}
		if layer.FillOpacity != nil {
			s.FillOpacity = *layer.FillOpacity
		}
		if layer.StrokeColor != nil {
			s.StrokeColor = *layer.StrokeColor
		}
		if layer.StrokeOpacity != nil {
			s.StrokeOpacity = *layer.StrokeOpacity
		}
		if layer.StrokeWidth != nil {
			s.StrokeWidth = *layer.StrokeWidth
		}
	}
	return s
}

// Property keys used in the header's style table.
const (
	keyType      = "type"
	keyClosed    = "closed"
	keyFillColor = "fillColor"
	keyLineColor = "lineColor"
	keyLineWidth = "lineWidth"
)

// propsFromHeader builds the style group table from the header rows.
func propsFromHeader(keys []string, rows [][]any) []element.Style {
	props := make([]element.Style, 0, len(rows))
	for _, row := range rows {
		var (
			o      styleOverride
			typ    string
			closed bool
		)
		for i, key := range keys {
			if i >= len(row) || row[i] == nil {
				continue
			}
			switch v := row[i].(type) {
			case string:
				switch key {
				case keyType:
					typ = v
				case keyFillColor:
					if c, ok := element.ParseColor(v); ok {
						o.FillColor, o.FillOpacity = ptr(c.WithAlpha(1)), ptr(c.A)
					}
				case keyLineColor:
					if c, ok := element.ParseColor(v); ok {
						o.StrokeColor, o.StrokeOpacity = ptr(c.WithAlpha(1)), ptr(c.A)
					}
				}
			case float64:
				if key == keyLineWidth {
					o.StrokeWidth = ptr(v)
				}
			case bool:
				if key == keyClosed {
					closed = v
				}
			}
		}
		props = append(props, resolve(o, typ, closed))
	}
	return props
}

// propsToHeader is the inverse of propsFromHeader for fully resolved styles.
func propsToHeader(props []element.Style) ([]string, [][]any) {
	keys := []string{keyFillColor, keyLineColor, keyLineWidth}
	rows := make([][]any, 0, len(props))
	for _, p := range props {
		rows = append(rows, []any{
			p.FillColor.WithAlpha(p.FillOpacity).String(),
			p.StrokeColor.WithAlpha(p.StrokeOpacity).String(),
			p.StrokeWidth,
		})
	}
	return keys, rows
}
