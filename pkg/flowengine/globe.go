package flowengine

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/sudorandom/packet-stream/pkg/flow"
)

// globeView is an orthographic view of globe space: +Y up, looking down -Z.
type globeView struct {
	cx, cy, radius float64
	angle          float64
}

func (e *Engine) globeView() globeView {
	radius := float64(e.Height) * 0.12
	margin := 40.0
	if e.Width > 2000 {
		margin = 80.0
	}
	return globeView{
		cx:     float64(e.Width) - margin - radius*2,
		cy:     float64(e.Height) - margin - radius,
		radius: radius,
		angle:  e.globeAngle,
	}
}

// toScreen maps a globe-space point to pixels. Points on the far side of
// the sphere report visible=false.
func (v globeView) toScreen(p flow.RenderPosition) (x, y float64, visible bool) {
	return v.cx + p.X*v.radius, v.cy - p.Y*v.radius, p.Z >= 0
}

// wireframe returns the visible segments of the rotated graticule.
func (v globeView) wireframe() [][4]float64 {
	var segs [][4]float64
	add := func(a, b flow.GeoCoordinate) {
		pa, pb := flow.SpherePoint(a).RotateY(v.angle), flow.SpherePoint(b).RotateY(v.angle)
		x1, y1, ok1 := v.toScreen(pa)
		x2, y2, ok2 := v.toScreen(pb)
		if ok1 && ok2 {
			segs = append(segs, [4]float64{x1, y1, x2, y2})
		}
	}
	for lng := -180.0; lng < 180; lng += 30 {
		for lat := -90.0; lat < 90; lat += 10 {
			add(flow.GeoCoordinate{Lng: lng, Lat: lat}, flow.GeoCoordinate{Lng: lng, Lat: lat + 10})
		}
	}
	for lat := -60.0; lat <= 60; lat += 30 {
		for lng := -180.0; lng < 180; lng += 10 {
			add(flow.GeoCoordinate{Lng: lng, Lat: lat}, flow.GeoCoordinate{Lng: lng + 10, Lat: lat})
		}
	}
	return segs
}

// place puts a packet into globe space. Packets on the sphere turn with it;
// packets on the plane stay put while the globe spins behind them.
func (v globeView) place(p *flow.Projector, c flow.GeoCoordinate) flow.RenderPosition {
	pos := p.Project(c)
	if p.Policy == flow.SphereSurface {
		pos = pos.RotateY(v.angle)
	}
	return pos
}

func (e *Engine) drawGlobe(screen *ebiten.Image) {
	v := e.globeView()
	vector.DrawFilledCircle(screen, float32(v.cx), float32(v.cy), float32(v.radius), color.RGBA{0, 0, 0, 160}, true)
	vector.StrokeCircle(screen, float32(v.cx), float32(v.cy), float32(v.radius), 1.5, ColorGlobe, true)
	wire := color.RGBA{0, 255, 255, 60}
	for _, s := range v.wireframe() {
		vector.StrokeLine(screen, float32(s[0]), float32(s[1]), float32(s[2]), float32(s[3]), 1, wire, true)
	}

	for st := range e.session.Animator().Packets() {
		start := v.place(e.projector, st.Record.Start)
		end := v.place(e.projector, st.Record.End)
		x1, y1, ok1 := v.toScreen(start)
		x2, y2, ok2 := v.toScreen(end)
		if ok1 && ok2 {
			vector.StrokeLine(screen, float32(x1), float32(y1), float32(x2), float32(y2), 1, ColorLine, true)
		}
		x, y, ok := v.toScreen(v.place(e.projector, st.Position))
		if !ok {
			continue
		}
		vector.DrawFilledCircle(screen, float32(x), float32(y), 3, st.Record.Color.RGBA(), true)
	}
}
