// Package annotator renders stored detection results onto their source
// image: one rectangle per face plus landmark dots.
package annotator

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/manupriyaaa/tracelens/internal/model"
)

// Render draws the detection result over the image and returns the
// annotated copy. The source image is not modified.
func Render(img image.Image, res model.DetectionResult) image.Image {
	dc := gg.NewContextForImage(img)

	for _, face := range res.Faces {
		box := face.BoundingBox

		dc.SetRGBA(0.2, 0.9, 0.3, 1)
		dc.SetLineWidth(3)
		dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
		dc.Stroke()

		dc.SetRGBA(1, 0.85, 0.1, 1)
		for _, lm := range face.Landmarks {
			dc.DrawCircle(float64(lm.X), float64(lm.Y), 3)
			dc.Fill()
		}
	}

	return dc.Image()
}

// RenderJPEG decodes the source image, draws the result and encodes the
// annotated copy as JPEG.
func RenderJPEG(src io.Reader, res model.DetectionResult) (*bytes.Buffer, error) {
	img, err := imaging.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("annotate: failed to decode image: %w", err)
	}

	annotated := Render(img, res)

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, annotated, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("annotate: failed to encode image: %w", err)
	}

	return buf, nil
}
