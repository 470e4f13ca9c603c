package flowengine

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"sort"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/packet-stream/pkg/flow"
	"github.com/sudorandom/packet-stream/pkg/sources"
	"github.com/sudorandom/packet-stream/pkg/utils"
)

func loadWorldGeoJSON() ([]byte, error) {
	r, err := utils.GetCachedReader(sources.WorldGeoJSONURL, true, "[WORLD]")
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// canvas rasterizes map geometry into a CPU image before it is uploaded as
// the static background.
type canvas struct {
	img           *image.RGBA
	width, height int
	project       func(flow.GeoCoordinate) (float64, float64)
}

func (e *Engine) renderBackground(world []byte) (*image.RGBA, error) {
	c := &canvas{
		img:     image.NewRGBA(image.Rect(0, 0, e.Width, e.Height)),
		width:   e.Width,
		height:  e.Height,
		project: e.projector.Map,
	}
	draw.Draw(c.img, c.img.Bounds(), &image.Uniform{ColorBackground}, image.Point{}, draw.Src)
	c.drawGraticule(ColorOutline)
	if len(world) == 0 {
		return c.img, nil
	}

	fc, err := geojson.UnmarshalFeatureCollection(world)
	if err != nil {
		return nil, fmt.Errorf("failed to parse world outlines: %w", err)
	}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if f.Geometry.IsPolygon() {
			c.fillPolygon(f.Geometry.Polygon, ColorLand)
			for _, ring := range f.Geometry.Polygon {
				c.drawRing(ring, ColorOutline)
			}
		} else if f.Geometry.IsMultiPolygon() {
			for _, poly := range f.Geometry.MultiPolygon {
				c.fillPolygon(poly, ColorLand)
				for _, ring := range poly {
					c.drawRing(ring, ColorOutline)
				}
			}
		}
	}
	return c.img, nil
}

// drawGraticule draws the map border plus parallels and meridians every 30
// degrees.
func (c *canvas) drawGraticule(clr color.RGBA) {
	for lng := -180.0; lng <= 180; lng += 30 {
		var ring [][]float64
		for lat := -90.0; lat <= 90; lat += 2 {
			ring = append(ring, []float64{lng, lat})
		}
		c.drawRing(ring, clr)
	}
	for lat := -60.0; lat <= 60; lat += 30 {
		var ring [][]float64
		for lng := -180.0; lng <= 180; lng += 2 {
			ring = append(ring, []float64{lng, lat})
		}
		c.drawRing(ring, clr)
	}
}

func (c *canvas) fillPolygon(rings [][][]float64, clr color.RGBA) {
	if len(rings) == 0 {
		return
	}
	type point struct{ x, y float64 }
	projected := make([][]point, len(rings))
	minY, maxY := float64(c.height), 0.0
	for i, ring := range rings {
		projected[i] = make([]point, len(ring))
		for j, p := range ring {
			x, y := c.project(flow.GeoCoordinate{Lng: p[0], Lat: p[1]})
			projected[i][j] = point{x, y}
			minY = math.Min(minY, y)
			maxY = math.Max(maxY, y)
		}
	}
	for y := int(minY); y <= int(maxY); y++ {
		if y < 0 || y >= c.height {
			continue
		}
		var nodes []int
		fy := float64(y)
		for _, ring := range projected {
			for i := 0; i < len(ring); i++ {
				j := (i + 1) % len(ring)
				if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
					nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
					nodes = append(nodes, int(nodeX))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i+1 < len(nodes); i += 2 {
			xs, xe := max(nodes[i], 0), min(nodes[i+1], c.width-1)
			for x := xs; x < xe; x++ {
				c.set(x, y, clr)
			}
		}
	}
}

func (c *canvas) drawRing(coords [][]float64, clr color.RGBA) {
	for i := 0; i < len(coords)-1; i++ {
		x1, y1 := c.project(flow.GeoCoordinate{Lng: coords[i][0], Lat: coords[i][1]})
		x2, y2 := c.project(flow.GeoCoordinate{Lng: coords[i+1][0], Lat: coords[i+1][1]})
		c.drawLine(int(x1), int(y1), int(x2), int(y2), clr)
	}
}

// drawLine is Bresenham; pixels outside the canvas are dropped.
func (c *canvas) drawLine(x1, y1, x2, y2 int, clr color.RGBA) {
	dx, dy := math.Abs(float64(x2-x1)), math.Abs(float64(y2-y1))
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		c.set(x1, y1, clr)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func (c *canvas) set(x, y int, clr color.RGBA) {
	if x < 0 || x >= c.width || y < 0 || y >= c.height {
		return
	}
	off := y*c.img.Stride + x*4
	c.img.Pix[off], c.img.Pix[off+1], c.img.Pix[off+2], c.img.Pix[off+3] = clr.R, clr.G, clr.B, 255
}
