package flow

import (
	"fmt"
	"math"
	"strings"
)

// SpherePolicy decides where in-flight packets are placed on the globe.
type SpherePolicy int

const (
	// SpherePlane draws packets on the z=0 plane through the globe's center.
	SpherePlane SpherePolicy = iota
	// SphereSurface wraps packets onto the unit sphere.
	SphereSurface
)

func (p SpherePolicy) String() string {
	switch p {
	case SpherePlane:
		return "plane"
	case SphereSurface:
		return "surface"
	}
	return fmt.Sprintf("SpherePolicy(%d)", int(p))
}

func ParseSpherePolicy(s string) (SpherePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plane":
		return SpherePlane, nil
	case "surface", "sphere":
		return SphereSurface, nil
	}
	return SpherePlane, fmt.Errorf("unknown sphere policy: %q", s)
}

// DefaultPlaneScale maps degrees onto roughly [-2,2]x[-1,1] globe units.
const DefaultPlaneScale = 1.0 / 90.0

// RenderPosition is a point in globe space. The unit sphere is centered on
// the origin, +Y is north and +Z faces the viewer at zero rotation.
type RenderPosition struct {
	X, Y, Z float64
}

type Projector struct {
	width, height int
	scale         float64
	Policy        SpherePolicy
	PlaneScale    float64
}

func NewProjector(width, height int, scale float64, policy SpherePolicy) *Projector {
	return &Projector{
		width:      width,
		height:     height,
		scale:      scale,
		Policy:     policy,
		PlaneScale: DefaultPlaneScale,
	}
}

// Map projects a coordinate onto the 2D map surface using the Mollweide
// projection, returning pixel coordinates.
func (p *Projector) Map(c GeoCoordinate) (x, y float64) {
	lat := c.Lat
	if lat > 89.5 {
		lat = 89.5
	}
	if lat < -89.5 {
		lat = -89.5
	}

	latRad, lngRad := lat*math.Pi/180, c.Lng*math.Pi/180
	theta := latRad
	for i := 0; i < 10; i++ {
		denom := 2 + 2*math.Cos(2*theta)
		if math.Abs(denom) < 1e-9 {
			break
		}
		delta := (2*theta + math.Sin(2*theta) - math.Pi*math.Sin(latRad)) / denom
		theta -= delta
		if math.Abs(delta) < 1e-7 {
			break
		}
	}
	r := p.scale
	x = (float64(p.width) / 2) + r*(2*math.Sqrt(2)/math.Pi)*lngRad*math.Cos(theta)
	y = (float64(p.height) / 2) - r*math.Sqrt(2)*math.Sin(theta)
	return x, y
}

// Project places a coordinate in globe space according to the policy.
func (p *Projector) Project(c GeoCoordinate) RenderPosition {
	if p.Policy == SphereSurface {
		return SpherePoint(c)
	}
	k := p.PlaneScale
	if k == 0 {
		k = DefaultPlaneScale
	}
	return RenderPosition{X: c.Lng * k, Y: c.Lat * k}
}

// SpherePoint converts a coordinate to a point on the unit sphere.
func SpherePoint(c GeoCoordinate) RenderPosition {
	phi, lambda := c.Lat*math.Pi/180, c.Lng*math.Pi/180
	return RenderPosition{
		X: math.Cos(phi) * math.Sin(lambda),
		Y: math.Sin(phi),
		Z: math.Cos(phi) * math.Cos(lambda),
	}
}

// RotateY spins a globe-space point around the polar axis.
func (r RenderPosition) RotateY(angle float64) RenderPosition {
	sin, cos := math.Sincos(angle)
	return RenderPosition{
		X: r.X*cos + r.Z*sin,
		Y: r.Y,
		Z: -r.X*sin + r.Z*cos,
	}
}
