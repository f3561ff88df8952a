package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FallbackGenerator produces a synthetic placeholder artifact carrying
// diagnostic text when every capture strategy fails. It cannot fail: the
// pipeline always gets something to persist.
type FallbackGenerator struct {
	Width  int
	Height int
}

// NewFallbackGenerator builds a generator with the original 800x600 canvas.
func NewFallbackGenerator() *FallbackGenerator {
	return &FallbackGenerator{Width: 800, Height: 600}
}

// Generate renders the diagnostic placeholder as a JPEG.
func (g *FallbackGenerator) Generate(userID, sessionID, reason string, now time.Time) []byte {
	w, h := g.Width, g.Height
	if w <= 0 || h <= 0 {
		w, h = 800, 600
	}
	if len(reason) > 120 {
		reason = reason[:117] + "..."
	}

	// Light coral marks the artifact as an error placeholder at a glance.
	img := imaging.New(w, h, color.NRGBA{R: 240, G: 128, B: 128, A: 255})

	lines := []string{
		fmt.Sprintf("User ID: %s", userID),
		fmt.Sprintf("Session ID: %s", sessionID),
		fmt.Sprintf("Capture Time: %s", now.UTC().Format("2006-01-02 15:04:05")),
		"Status: CAPTURE FAILED",
		fmt.Sprintf("Error: %s", reason),
		"Fallback: generated placeholder",
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	y := 50
	for _, line := range lines {
		drawer.Dot = fixed.P(50, y)
		drawer.DrawString(line)
		y += 40
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		// Writes to a bytes.Buffer cannot fail in practice; keep the promise
		// of an artifact with a bare canvas if encoding ever does.
		buf.Reset()
		_ = imaging.Encode(buf, imaging.New(400, 300, color.NRGBA{R: 200, G: 60, B: 60, A: 255}), imaging.JPEG)
	}
	return buf.Bytes()
}
