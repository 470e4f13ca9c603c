package flowengine

import (
	"fmt"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/sudorandom/packet-stream/pkg/flow"
)

var (
	ColorAccent = color.RGBA{57, 255, 20, 255} // Hacker green
	ColorError  = color.RGBA{255, 50, 50, 255}
)

// statusLines renders the session state as the text shown in the panel.
func statusLines(stats flow.Stats, records, moving, arrived int, now time.Time) []string {
	lines := []string{
		fmt.Sprintf("Flows     %d", records),
		fmt.Sprintf("Moving    %d", moving),
		fmt.Sprintf("Arrived   %d", arrived),
		fmt.Sprintf("Polls     %d ok / %d failed", stats.Polls-stats.Failures, stats.Failures),
	}
	if stats.LastPoll.IsZero() {
		lines = append(lines, "Last poll never")
	} else {
		lines = append(lines, fmt.Sprintf("Last poll %s ago", now.Sub(stats.LastPoll).Truncate(time.Second)))
	}
	if stats.LastError != "" {
		msg := stats.LastError
		const maxLen = 40
		if len(msg) > maxLen {
			msg = msg[:maxLen-3] + "..."
		}
		lines = append(lines, msg)
	}
	return lines
}

func (e *Engine) drawStatus(screen *ebiten.Image) {
	if e.monoSource == nil {
		return
	}
	margin, fontSize := 40.0, 16.0
	boxW := 360.0
	if e.Width > 2000 {
		margin, fontSize, boxW = 80.0, 32.0, 720.0
	}

	stats := e.session.Stats()
	moving, arrived := e.session.Animator().Counts()
	lines := statusLines(stats, e.session.Animator().Len(), moving, arrived, time.Now())

	lineH := fontSize * 1.4
	boxH := fontSize*2 + lineH*float64(len(lines)) + 10
	x, y := margin, margin

	vector.DrawFilledRect(screen, float32(x-10), float32(y-10), float32(boxW), float32(boxH), color.RGBA{0, 0, 0, 100}, false)
	vector.StrokeRect(screen, float32(x-10), float32(y-10), float32(boxW), float32(boxH), 1, ColorOutline, false)

	accent := ColorAccent
	if stats.LastError != "" {
		accent = ColorError
	}
	vector.DrawFilledRect(screen, float32(x-10), float32(y-10), 4, float32(fontSize+10), accent, false)

	titleFace := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.8}
	titleOp := &text.DrawOptions{}
	titleOp.GeoM.Translate(x+5, y-5)
	titleOp.ColorScale.Scale(1, 1, 1, 0.5)
	text.Draw(screen, "PACKET FLOWS", titleFace, titleOp)

	face := &text.GoTextFace{Source: e.monoSource, Size: fontSize}
	for i, line := range lines {
		op := &text.DrawOptions{}
		op.GeoM.Translate(x, y+fontSize*1.5+float64(i)*lineH)
		op.ColorScale.Scale(1, 1, 1, 0.8)
		text.Draw(screen, line, face, op)
	}
}
