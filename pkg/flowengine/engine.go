// Package flowengine renders the packet flows of a flow.Session with ebiten:
// a world map with endpoint markers, connecting lines and moving packets, a
// rotating globe inset and a status panel.
package flowengine

import (
	"bytes"
	"image/color"
	"log"
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/packet-stream/pkg/config"
	"github.com/sudorandom/packet-stream/pkg/flow"
)

var (
	ColorBackground = color.RGBA{8, 10, 15, 255}
	ColorLand       = color.RGBA{26, 29, 35, 255}
	ColorOutline    = color.RGBA{36, 42, 53, 255}
	ColorLine       = color.RGBA{255, 255, 255, 90}
	ColorMarker     = color.RGBA{0, 191, 255, 255} // Sky Blue
	ColorGlobe      = color.RGBA{0, 255, 255, 255} // Cyan
)

// maxFrameDelta caps the time credited to one Update after a stall so
// packets do not jump across the map.
const maxFrameDelta = 250 * time.Millisecond

type Engine struct {
	Width, Height int
	Scale         float64

	// FrameCaptureDir, when set, receives a PNG of the screen every
	// CaptureInterval.
	FrameCaptureDir string
	CaptureInterval time.Duration
	// OnFrame is called at the end of every Draw.
	OnFrame func(screen *ebiten.Image)

	cfg       *config.Config
	session   *flow.Session
	projector *flow.Projector
	hub       *FrameHub

	bgImage    *ebiten.Image
	dotImage   *ebiten.Image
	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource

	worldGeoJSON []byte

	lastUpdate  time.Time
	lastCapture time.Time
	globeAngle  float64
	showGlobe   bool
}

func NewEngine(cfg *config.Config, session *flow.Session, hub *FrameHub) *Engine {
	s, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	m, _ := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))

	policy, err := flow.ParseSpherePolicy(cfg.Animation.SpherePolicy)
	if err != nil {
		log.Printf("Unknown sphere policy %q, using %s", cfg.Animation.SpherePolicy, policy)
	}

	return &Engine{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		Scale:           cfg.Render.Scale,
		FrameCaptureDir: cfg.Render.CaptureDir,
		CaptureInterval: cfg.PollInterval,
		cfg:             cfg,
		session:         session,
		projector:       flow.NewProjector(cfg.Render.Width, cfg.Render.Height, cfg.Render.Scale, policy),
		hub:             hub,
		fontSource:      s,
		monoSource:      m,
		showGlobe:       cfg.Render.Globe,
	}
}

func (e *Engine) Session() *flow.Session      { return e.session }
func (e *Engine) Projector() *flow.Projector { return e.projector }

// Update is the frame loop: it picks up the latest poll cycle, advances
// every moving packet and pushes the frame to websocket subscribers.
func (e *Engine) Update() error {
	if !e.session.Alive() {
		return ebiten.Termination
	}
	now := time.Now()
	e.tick(now)
	if e.hub != nil {
		e.hub.Publish(e.session.Animator().Frame())
	}
	return nil
}

func (e *Engine) tick(now time.Time) {
	dt := now.Sub(e.lastUpdate)
	if e.lastUpdate.IsZero() {
		dt = flow.ReferenceFrame
	}
	if dt > maxFrameDelta {
		dt = maxFrameDelta
	}
	e.lastUpdate = now
	e.session.Tick(dt)

	// Passive spin, one fixed increment per frame.
	e.globeAngle = math.Mod(e.globeAngle+e.cfg.Animation.GlobeRotation, 2*math.Pi)
}

func (e *Engine) Draw(screen *ebiten.Image) {
	if e.bgImage != nil {
		screen.DrawImage(e.bgImage, nil)
	} else {
		screen.Fill(ColorBackground)
	}

	records := e.session.Animator().Records()
	e.drawMarkers(screen, records)
	e.drawPackets(screen)
	if e.showGlobe {
		e.drawGlobe(screen)
	}
	e.drawStatus(screen)

	now := time.Now()
	if e.FrameCaptureDir != "" && now.Sub(e.lastCapture) >= e.CaptureInterval {
		e.lastCapture = now
		e.captureFrame(screen, "frame", now)
	}
	if e.OnFrame != nil {
		e.OnFrame(screen)
	}
}

func (e *Engine) Layout(w, h int) (int, int) { return e.Width, e.Height }

// InitPacketTexture builds the soft dot drawn for every packet and marker.
func (e *Engine) InitPacketTexture() {
	size := 64
	if e.Width > 2000 {
		size = 128
	}
	e.dotImage = ebiten.NewImage(size, size)
	pixels := make([]byte, size*size*4)
	center := float64(size) / 2.0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			dist := math.Sqrt(dx*dx+dy*dy) / center
			if dist >= 1 {
				continue
			}
			// Solid core fading into a glow.
			val := 1.0
			if dist > 0.35 {
				val = math.Cos((dist - 0.35) / 0.65 * (math.Pi / 2))
			}
			off := (y*size + x) * 4
			pixels[off], pixels[off+1], pixels[off+2] = 255, 255, 255
			pixels[off+3] = uint8(val * 255)
		}
	}
	e.dotImage.WritePixels(pixels)
}

// LoadData prepares the map background. A missing world outline is not
// fatal; the map is then drawn without land masses.
func (e *Engine) LoadData() error {
	if e.worldGeoJSON == nil {
		data, err := loadWorldGeoJSON()
		if err != nil {
			log.Printf("[WORLD] Drawing map without land outlines: %v", err)
		}
		e.worldGeoJSON = data
	}
	img, err := e.renderBackground(e.worldGeoJSON)
	if err != nil {
		return err
	}
	e.bgImage = ebiten.NewImageFromImage(img)
	return nil
}

// Close tears the session down; the next Update ends the ebiten loop.
func (e *Engine) Close() error {
	if e.hub != nil {
		e.hub.Close()
	}
	return e.session.Close()
}
