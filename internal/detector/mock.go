package detector

import (
	"context"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"

	"github.com/manupriyaaa/tracelens/internal/model"
)

const mockProviderID = "mock"

// Mock generates plausible pseudo-random detection results. The interface
// is deterministic, the content is not: face count follows a weighted
// distribution (20% zero, 30% one, 30% two, 15% three, 5% four), boxes stay
// inside image bounds and confidences land in [0.70, 0.95], biased upward
// with box size. The random source is injectable so tests can seed it.
type Mock struct {
	mu      sync.Mutex
	rng     *rand.Rand
	latency time.Duration
}

// NewMock creates a mock detector seeded from the wall clock.
func NewMock() *Mock {
	return NewMockWithSource(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewMockWithSource creates a mock detector over the given random source.
func NewMockWithSource(rng *rand.Rand) *Mock {
	return &Mock{rng: rng}
}

// WithLatency makes Detect sleep up to d per call, simulating inference time.
func (m *Mock) WithLatency(d time.Duration) *Mock {
	m.latency = d
	return m
}

// Provider returns the provider identifier recorded in results.
func (m *Mock) Provider() string {
	return mockProviderID
}

// Detect decodes the image to learn its dimensions (falling back to
// 800x600 when undecodable) and fabricates a sorted face list.
func (m *Mock) Detect(ctx context.Context, r io.Reader) (model.DetectionResult, error) {
	width, height := DefaultImageWidth, DefaultImageHeight

	img, err := imaging.Decode(r)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("mock detector: image not decodable, using default dimensions")
	} else {
		bounds := img.Bounds()
		width, height = bounds.Dx(), bounds.Dy()
	}

	if err := m.sleep(ctx); err != nil {
		return model.DetectionResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := model.DetectionResult{
		ImageWidth:  width,
		ImageHeight: height,
		Provider:    mockProviderID,
	}

	count := m.faceCount()
	for i := 0; i < count; i++ {
		result.Faces = append(result.Faces, m.face(width, height))
	}

	result.Normalize()

	return result, nil
}

// sleep simulates inference latency while honoring cancellation.
func (m *Mock) sleep(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}

	m.mu.Lock()
	d := time.Duration(float64(m.latency) * (0.5 + m.rng.Float64()*0.5))
	m.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// faceCount draws from the weighted distribution. Caller holds m.mu.
func (m *Mock) faceCount() int {
	switch r := m.rng.Float64(); {
	case r < 0.20:
		return 0
	case r < 0.50:
		return 1
	case r < 0.80:
		return 2
	case r < 0.95:
		return 3
	default:
		return 4
	}
}

// face fabricates one detection confined to the image. Caller holds m.mu.
func (m *Mock) face(imageWidth, imageHeight int) model.FaceDetection {
	w, h := float64(imageWidth), float64(imageHeight)

	minSize := math.Min(80, math.Min(w*0.1, h*0.1))
	maxSize := math.Min(200, math.Min(w*0.3, h*0.3))
	if maxSize < minSize {
		maxSize = minSize
	}

	faceWidth := minSize + m.rng.Float64()*(maxSize-minSize)
	faceHeight := faceWidth * (1.2 + m.rng.Float64()*0.3) // faces run taller than wide

	const margin = 10.0
	x := m.place(w, faceWidth, margin)
	y := m.place(h, faceHeight, margin)

	sizeBonus := 0.0
	if maxSize > 0 {
		sizeBonus = faceWidth / maxSize * 0.10
	}
	confidence := math.Min(0.95, 0.70+m.rng.Float64()*0.15+sizeBonus)
	confidence = math.Round(confidence*100) / 100

	box := model.BoundingBox{
		X:      int(math.Round(x)),
		Y:      int(math.Round(y)),
		Width:  int(math.Round(faceWidth)),
		Height: int(math.Round(faceHeight)),
	}

	return model.FaceDetection{
		BoundingBox: box,
		Confidence:  confidence,
		Landmarks:   m.landmarks(x, y, faceWidth, faceHeight),
	}
}

// place picks a coordinate keeping the face inside [margin, dim-margin].
func (m *Mock) place(dim, size, margin float64) float64 {
	span := dim - size - 2*margin
	if span <= 0 {
		return 0
	}
	return margin + m.rng.Float64()*span
}

// landmarks positions eyes, nose and mouth at fixed fractional offsets
// within the box, with a small jitter. Caller holds m.mu.
func (m *Mock) landmarks(x, y, width, height float64) []model.Landmark {
	xVar := width * 0.05
	yVar := height * 0.05

	point := func(name string, fx, fy float64) model.Landmark {
		return model.Landmark{
			Type: name,
			X:    int(math.Round(x + width*fx + (m.rng.Float64()-0.5)*xVar)),
			Y:    int(math.Round(y + height*fy + (m.rng.Float64()-0.5)*yVar)),
		}
	}

	return []model.Landmark{
		point(model.LandmarkLeftEye, 0.3, 0.35),
		point(model.LandmarkRightEye, 0.7, 0.35),
		point(model.LandmarkNose, 0.5, 0.55),
		point(model.LandmarkMouth, 0.5, 0.75),
	}
}
