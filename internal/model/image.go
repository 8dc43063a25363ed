package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ImageRecord represents a single uploaded image owned by a user.
// A record is created on upload and mutated only when detection results
// are attached or when the owner deletes it.
type ImageRecord struct {
	ID           uuid.UUID        `json:"id"`
	OwnerID      uuid.UUID        `json:"owner_id"`
	Filename     string           `json:"filename"`      // stored object name
	OriginalName string           `json:"original_name"` // name as uploaded by the client
	Size         int64            `json:"size"`
	MimeType     string           `json:"mime_type"`
	Path         string           `json:"-"` // storage object path, never exposed
	UploadedAt   time.Time        `json:"uploaded_at"`
	Processed    bool             `json:"processed"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	Detection    *DetectionResult `json:"detection,omitempty"`
}

// DetectionResult holds the outcome of one face-detection pass over an image.
// Faces are kept sorted by descending confidence; FaceCount always equals
// len(Faces).
type DetectionResult struct {
	FaceCount    int             `json:"face_count"`
	Faces        []FaceDetection `json:"faces"`
	Confidence   float64         `json:"confidence"` // mean over faces, 0 when none
	ProcessingMS int64           `json:"processing_ms"`
	ImageWidth   int             `json:"image_width"`
	ImageHeight  int             `json:"image_height"`
	Provider     string          `json:"provider"`
}

// FaceDetection is one detected face within a result.
type FaceDetection struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
	Landmarks   []Landmark  `json:"landmarks,omitempty"`
}

// BoundingBox is an axis-aligned rectangle in pixel coordinates of the
// original image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Landmark is a named 2D point inside a face bounding box.
type Landmark struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Landmark type names produced by detectors.
const (
	LandmarkLeftEye  = "left_eye"
	LandmarkRightEye = "right_eye"
	LandmarkNose     = "nose"
	LandmarkMouth    = "mouth"
)

// Clamp confines the box to an imageWidth x imageHeight frame. Boxes that
// stick out are moved and shrunk rather than rejected.
func (b *BoundingBox) Clamp(imageWidth, imageHeight int) {
	if b.X < 0 {
		b.X = 0
	}
	if b.Y < 0 {
		b.Y = 0
	}
	if b.Width < 0 {
		b.Width = 0
	}
	if b.Height < 0 {
		b.Height = 0
	}
	if b.X+b.Width > imageWidth {
		b.Width = imageWidth - b.X
		if b.Width < 0 {
			b.X, b.Width = imageWidth, 0
		}
	}
	if b.Y+b.Height > imageHeight {
		b.Height = imageHeight - b.Y
		if b.Height < 0 {
			b.Y, b.Height = imageHeight, 0
		}
	}
}

// Normalize restores the invariants of a detection result: boxes clamped to
// image bounds, faces sorted by descending confidence, face count and
// aggregate confidence recomputed from the face list.
func (r *DetectionResult) Normalize() {
	for i := range r.Faces {
		r.Faces[i].BoundingBox.Clamp(r.ImageWidth, r.ImageHeight)
	}

	sort.SliceStable(r.Faces, func(i, j int) bool {
		return r.Faces[i].Confidence > r.Faces[j].Confidence
	})

	r.FaceCount = len(r.Faces)

	var sum float64
	for _, f := range r.Faces {
		sum += f.Confidence
	}
	if r.FaceCount > 0 {
		r.Confidence = roundTo(sum/float64(r.FaceCount), 2)
	} else {
		r.Confidence = 0
	}
}

func roundTo(v float64, digits int) float64 {
	pow := 1.0
	for i := 0; i < digits; i++ {
		pow *= 10
	}
	if v >= 0 {
		return float64(int64(v*pow+0.5)) / pow
	}
	return float64(int64(v*pow-0.5)) / pow
}
