package element

import (
	"image/color"
	"strconv"
	"strings"
)

// RGBA is a color with red, green, blue and alpha components in [0, 1].
// Annotation styles carry opacity in the alpha channel of the color string.
type RGBA struct {
	R, G, B, A float64
}

// Color converts RGBA to the standard color.Color interface.
func (c RGBA) Color() color.Color {
	return color.NRGBA{
		R: uint8(clamp255(c.R * 255)),
		G: uint8(clamp255(c.G * 255)),
		B: uint8(clamp255(c.B * 255)),
		A: uint8(clamp255(c.A * 255)),
	}
}

// WithAlpha returns the color with its alpha replaced.
func (c RGBA) WithAlpha(a float64) RGBA {
	c.A = a
	return c
}

// Lerp performs linear interpolation between two colors.
func (c RGBA) Lerp(other RGBA, t float64) RGBA {
	return RGBA{
		R: c.R + (other.R-c.R)*t,
		G: c.G + (other.G-c.G)*t,
		B: c.B + (other.B-c.B)*t,
		A: c.A + (other.A-c.A)*t,
	}
}

// String formats the color the way the server stores it.
func (c RGBA) String() string {
	return "rgba(" +
		strconv.Itoa(int(clamp255(c.R*255)+0.5)) + ", " +
		strconv.Itoa(int(clamp255(c.G*255)+0.5)) + ", " +
		strconv.Itoa(int(clamp255(c.B*255)+0.5)) + ", " +
		strconv.FormatFloat(c.A, 'g', 4, 64) + ")"
}

// Common colors
var (
	Black       = RGBA{0, 0, 0, 1}
	White       = RGBA{1, 1, 1, 1}
	Red         = RGBA{1, 0, 0, 1}
	Orange      = RGBA{1, 120.0 / 255, 0, 1}
	Transparent = RGBA{0, 0, 0, 0}
)

// ParseColor parses the color notations found in annotation documents:
// "#rgb", "#rgba", "#rrggbb", "#rrggbbaa", "rgb(r, g, b)" and
// "rgba(r, g, b, a)". The second result is false for anything else.
func ParseColor(s string) (RGBA, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[5:len(s)-1], 4)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[4:len(s)-1], 3)
	}
	return RGBA{}, false
}

// MustParseColor is ParseColor returning fallback on failure.
func MustParseColor(s string, fallback RGBA) RGBA {
	if c, ok := ParseColor(s); ok {
		return c
	}
	return fallback
}

func parseHex(hex string) (RGBA, bool) {
	var r, g, b, a uint64
	a = 255
	var err error
	nib := func(s string) uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = strconv.ParseUint(s, 16, 8)
		return v
	}

	switch len(hex) {
	case 3:
		r, g, b = nib(hex[0:1])*17, nib(hex[1:2])*17, nib(hex[2:3])*17
	case 4:
		r, g, b, a = nib(hex[0:1])*17, nib(hex[1:2])*17, nib(hex[2:3])*17, nib(hex[3:4])*17
	case 6:
		r, g, b = nib(hex[0:2]), nib(hex[2:4]), nib(hex[4:6])
	case 8:
		r, g, b, a = nib(hex[0:2]), nib(hex[2:4]), nib(hex[4:6]), nib(hex[6:8])
	default:
		return RGBA{}, false
	}
	if err != nil {
		return RGBA{}, false
	}
	return RGBA{
		R: float64(r) / 255,
		G: float64(g) / 255,
		B: float64(b) / 255,
		A: float64(a) / 255,
	}, true
}

func parseFunc(args string, n int) (RGBA, bool) {
	parts := strings.Split(args, ",")
	if len(parts) != n {
		return RGBA{}, false
	}
	var v [4]float64
	v[3] = 1
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return RGBA{}, false
		}
		v[i] = f
	}
	return RGBA{
		R: clamp255(v[0]) / 255,
		G: clamp255(v[1]) / 255,
		B: clamp255(v[2]) / 255,
		A: clamp01(v[3]),
	}, true
}

// clamp255 restricts a value to [0, 255] range.
func clamp255(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return x
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
