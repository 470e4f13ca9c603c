package flow

import (
	"image/color"
	"math"
	"testing"
)

func TestProjectorMap(t *testing.T) {
	p := NewProjector(1920, 1080, 380.0, SpherePlane)

	tests := []struct {
		lat, lng     float64
		wantX, wantY float64
	}{
		{0, 0, 960, 540},
		{90, 0, 960, 3.14},      // Near North Pole
		{-90, 0, 960, 1076.86},  // Near South Pole
		{0, 180, 2034.72, 540},  // Far East
		{0, -180, -114.72, 540}, // Far West
	}

	for _, tt := range tests {
		x, y := p.Map(GeoCoordinate{Lng: tt.lng, Lat: tt.lat})
		if math.Abs(x-tt.wantX) > 1.0 || math.Abs(y-tt.wantY) > 1.0 {
			t.Errorf("Map(%f, %f) = (%f, %f); want (%f, %f)", tt.lat, tt.lng, x, y, tt.wantX, tt.wantY)
		}
	}
}

func closeTo(a, b RenderPosition) bool {
	const tol = 1e-9
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol && math.Abs(a.Z-b.Z) < tol
}

func TestProjectorProject(t *testing.T) {
	tests := []struct {
		policy SpherePolicy
		in     GeoCoordinate
		want   RenderPosition
	}{
		{SphereSurface, GeoCoordinate{0, 0}, RenderPosition{0, 0, 1}},
		{SphereSurface, GeoCoordinate{90, 0}, RenderPosition{1, 0, 0}},
		{SphereSurface, GeoCoordinate{-90, 0}, RenderPosition{-1, 0, 0}},
		{SphereSurface, GeoCoordinate{0, 90}, RenderPosition{0, 1, 0}},
		{SphereSurface, GeoCoordinate{180, 0}, RenderPosition{0, 0, -1}},
		{SpherePlane, GeoCoordinate{0, 0}, RenderPosition{0, 0, 0}},
		{SpherePlane, GeoCoordinate{180, 90}, RenderPosition{2, 1, 0}},
		{SpherePlane, GeoCoordinate{-45, -45}, RenderPosition{-0.5, -0.5, 0}},
	}

	for _, tt := range tests {
		p := NewProjector(100, 100, 10, tt.policy)
		if got := p.Project(tt.in); !closeTo(got, tt.want) {
			t.Errorf("%v Project(%v) = %+v; want %+v", tt.policy, tt.in, got, tt.want)
		}
	}
}

func TestSpherePointIsUnitLength(t *testing.T) {
	for lng := -180.0; lng <= 180; lng += 15 {
		for lat := -90.0; lat <= 90; lat += 15 {
			p := SpherePoint(GeoCoordinate{Lng: lng, Lat: lat})
			if r := math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z); math.Abs(r-1) > 1e-9 {
				t.Errorf("SpherePoint(%v, %v) has length %v", lng, lat, r)
			}
		}
	}
}

func TestRotateY(t *testing.T) {
	got := RenderPosition{Z: 1}.RotateY(math.Pi / 2)
	if want := (RenderPosition{X: 1}); !closeTo(got, want) {
		t.Errorf("RotateY(pi/2) = %+v; want %+v", got, want)
	}
	p := SpherePoint(GeoCoordinate{Lng: 30, Lat: 20})
	if got := p.RotateY(2 * math.Pi); !closeTo(got, p) {
		t.Errorf("full rotation = %+v; want %+v", got, p)
	}
}

func TestParseSpherePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    SpherePolicy
		wantErr bool
	}{
		{"", SpherePlane, false},
		{"plane", SpherePlane, false},
		{"Surface", SphereSurface, false},
		{" sphere ", SphereSurface, false},
		{"cube", SpherePlane, true},
	}
	for _, tt := range tests {
		got, err := ParseSpherePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSpherePolicy(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestHSL(t *testing.T) {
	tests := []struct {
		in      HSL
		wantStr string
		wantRGB color.RGBA
	}{
		{HSL{0, 100, 50}, "hsl(0, 100%, 50%)", color.RGBA{255, 0, 0, 255}},
		{HSL{120, 100, 50}, "hsl(120, 100%, 50%)", color.RGBA{0, 255, 0, 255}},
		{HSL{240, 100, 50}, "hsl(240, 100%, 50%)", color.RGBA{0, 0, 255, 255}},
		{HSL{60, 100, 50}, "hsl(60, 100%, 50%)", color.RGBA{255, 255, 0, 255}},
		{HSL{300, 100, 50}, "hsl(300, 100%, 50%)", color.RGBA{255, 0, 255, 255}},
		{HSL{0, 0, 100}, "hsl(0, 0%, 100%)", color.RGBA{255, 255, 255, 255}},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.wantStr {
			t.Errorf("String() = %q; want %q", got, tt.wantStr)
		}
		if got := tt.in.RGBA(); got != tt.wantRGB {
			t.Errorf("%s RGBA() = %v; want %v", tt.wantStr, got, tt.wantRGB)
		}
	}
}
