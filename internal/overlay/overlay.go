package overlay

import (
	"fmt"
	"image"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/fogleman/gg"
)

// Box outline and label styling
const (
	lineWidth  = 2.0
	labelInset = 3.0
)

// Draw renders frame with an outline and confidence label for every detection.
// It is meant for inspecting what the locator found; frame itself is not modified.
func Draw(frame *types.Frame, dets types.DetectionResult) image.Image {
	dc := gg.NewContextForImage(frame)
	dc.SetLineWidth(lineWidth)

	for _, d := range dets {
		b := d.Box
		dc.SetRGB(0, 1, 0)
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()

		label := fmt.Sprintf("%.2f", d.Score)
		y := float64(b.Y) - labelInset
		anchorY := 0.0
		if y < 10 {
			// No room above the box, draw the label just inside it
			y = float64(b.Y) + labelInset
			anchorY = 1
		}
		dc.SetRGB(1, 1, 0)
		dc.DrawStringAnchored(label, float64(b.X), y, 0, anchorY)
	}
	return dc.Image()
}
