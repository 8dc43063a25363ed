// Package detector provides face-detection providers behind a single
// interface: a pseudo-random mock for development and a remote adapter
// that delegates to an external inference service.
package detector

import (
	"context"
	"errors"
	"io"

	"github.com/manupriyaaa/tracelens/internal/model"
)

// Default dimensions used when the source image cannot be decoded.
const (
	DefaultImageWidth  = 800
	DefaultImageHeight = 600
)

// ErrProvider is wrapped by every provider-side failure so callers can
// classify them without knowing the backend.
var ErrProvider = errors.New("detection provider error")

// Detector runs face detection over raw image bytes. Implementations must
// return faces sorted by descending confidence and must not outlive the
// passed context.
type Detector interface {
	Detect(ctx context.Context, r io.Reader) (model.DetectionResult, error)
	Provider() string
}
