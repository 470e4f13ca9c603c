package flowengine

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/biter777/countries"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/sudorandom/packet-stream/pkg/flow"
)

// maxLabels bounds how many endpoint labels are drawn per frame; the most
// recent records win.
const maxLabels = 12

// dashLength is the on/off length of the dashed flow lines, in pixels.
const dashLength = 8.0

// drawMarkers draws, per record, a dashed line from source to destination
// and a marker at each end.
func (e *Engine) drawMarkers(screen *ebiten.Image, records []flow.FlowRecord) {
	width := float32(1.5)
	markerRadius := float32(3)
	if e.Width > 2000 {
		width, markerRadius = 3, 6
	}

	for _, r := range records {
		x1, y1 := e.projector.Map(r.Start)
		x2, y2 := e.projector.Map(r.End)
		dashedLine(screen, x1, y1, x2, y2, width, ColorLine)
	}
	for _, r := range records {
		for _, c := range []flow.GeoCoordinate{r.Start, r.End} {
			x, y := e.projector.Map(c)
			vector.DrawFilledCircle(screen, float32(x), float32(y), markerRadius, ColorMarker, true)
		}
	}

	if e.fontSource == nil {
		return
	}
	fontSize := 12.0
	if e.Width > 2000 {
		fontSize = 24.0
	}
	face := &text.GoTextFace{Source: e.fontSource, Size: fontSize}
	first := max(len(records)-maxLabels, 0)
	for _, r := range records[first:] {
		x, y := e.projector.Map(r.Start)
		op := &text.DrawOptions{}
		op.GeoM.Translate(x+float64(markerRadius)+4, y-fontSize/2)
		op.ColorScale.Scale(1, 1, 1, 0.7)
		text.Draw(screen, flowLabel(r), face, op)
	}
}

// drawPackets draws every packet as a glowing dot in its flow's color.
func (e *Engine) drawPackets(screen *ebiten.Image) {
	if e.dotImage == nil {
		return
	}
	size := float64(e.dotImage.Bounds().Dx())
	radius := 6.0
	if e.Width > 2000 {
		radius = 12.0
	}
	scale := radius * 2 / size

	op := &ebiten.DrawImageOptions{}
	op.Blend = ebiten.BlendLighter
	for st := range e.session.Animator().Packets() {
		x, y := e.projector.Map(st.Position)
		alpha := 1.0
		if st.Phase == flow.PhaseArrived {
			alpha = 0.5
		}
		c := st.Record.Color.RGBA()
		r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
		op.GeoM.Reset()
		op.GeoM.Translate(-size/2, -size/2)
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(x, y)
		op.ColorScale.Reset()
		op.ColorScale.Scale(float32(r*alpha), float32(g*alpha), float32(b*alpha), float32(alpha))
		screen.DrawImage(e.dotImage, op)
	}
}

func dashedLine(dst *ebiten.Image, x1, y1, x2, y2 float64, width float32, clr color.Color) {
	for _, seg := range dashSegments(x1, y1, x2, y2, dashLength) {
		vector.StrokeLine(dst, float32(seg[0]), float32(seg[1]), float32(seg[2]), float32(seg[3]), width, clr, true)
	}
}

// dashSegments splits a line into drawn segments of length dash separated by
// gaps of the same length.
func dashSegments(x1, y1, x2, y2, dash float64) [][4]float64 {
	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	if length == 0 || dash <= 0 {
		return nil
	}
	ux, uy := dx/length, dy/length
	var segs [][4]float64
	for d := 0.0; d < length; d += 2 * dash {
		end := min(d+dash, length)
		segs = append(segs, [4]float64{x1 + ux*d, y1 + uy*d, x1 + ux*end, y1 + uy*end})
	}
	return segs
}

func flowLabel(r flow.FlowRecord) string {
	return fmt.Sprintf("%s → %s", endpointLabel(r.SourceAddress, r.SourceCountry), endpointLabel(r.DestinationAddress, r.DestinationCountry))
}

func endpointLabel(addr, cc string) string {
	if addr == "" {
		addr = "?"
	}
	if name := countryName(cc); name != "" {
		return fmt.Sprintf("%s (%s)", addr, name)
	}
	return addr
}

// countryName turns an ISO code into a short display name. Unknown codes
// are returned as given.
func countryName(cc string) string {
	if cc == "" {
		return ""
	}
	name := countries.ByName(cc).String()
	if name == "Unknown" {
		return cc
	}
	if idx := strings.Index(name, " ("); idx != -1 {
		name = name[:idx]
	}
	for _, short := range []string{"Hong Kong", "Macao", "Taiwan"} {
		if strings.Contains(name, short) {
			return short
		}
	}
	return name
}
