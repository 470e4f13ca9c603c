package flow

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"math/rand"
)

// Saturation and lightness used for every flow color.
const (
	FlowSaturation = 100.0
	FlowLightness  = 50.0
)

// HSL is a display color. H is in degrees, S and L in percent.
type HSL struct {
	H, S, L float64
}

func RandomHue(rng *rand.Rand) HSL {
	return HSL{H: rng.Float64() * 360, S: FlowSaturation, L: FlowLightness}
}

// String formats the color the way CSS expects it.
func (c HSL) String() string {
	return fmt.Sprintf("hsl(%.0f, %.0f%%, %.0f%%)", c.H, c.S, c.L)
}

func (c HSL) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c HSL) RGBA() color.RGBA {
	h := math.Mod(c.H, 360)
	if h < 0 {
		h += 360
	}
	s, l := c.S/100, c.L/100

	chroma := (1 - math.Abs(2*l-1)) * s
	x := chroma * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - chroma/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = chroma, x, 0
	case h < 120:
		r, g, b = x, chroma, 0
	case h < 180:
		r, g, b = 0, chroma, x
	case h < 240:
		r, g, b = 0, x, chroma
	case h < 300:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}
	return color.RGBA{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
		A: 255,
	}
}
