package flowengine

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

func captureFileName(suffix string, timestamp time.Time) string {
	return fmt.Sprintf("flows-%s-%s.png", timestamp.Format("20060102-150405"), suffix)
}

// captureFrame snapshots img and writes it as PNG in the background.
func (e *Engine) captureFrame(img *ebiten.Image, suffix string, timestamp time.Time) {
	if e.FrameCaptureDir == "" {
		return
	}
	if err := os.MkdirAll(e.FrameCaptureDir, 0o755); err != nil {
		log.Printf("Error creating capture directory: %v", err)
		return
	}

	// ReadPixels copies, so the encode can run after the frame moves on.
	rgba := image.NewRGBA(img.Bounds())
	img.ReadPixels(rgba.Pix)

	path := filepath.Join(e.FrameCaptureDir, captureFileName(suffix, timestamp))
	go func() {
		if err := writePNG(path, rgba); err != nil {
			log.Printf("Error writing capture: %v", err)
			return
		}
		log.Printf("Captured frame: %s", path)
	}()
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, img)
}
