package annotator

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/manupriyaaa/tracelens/internal/model"
)

func sampleResult() model.DetectionResult {
	return model.DetectionResult{
		FaceCount: 1,
		Faces: []model.FaceDetection{
			{
				BoundingBox: model.BoundingBox{X: 20, Y: 20, Width: 60, Height: 80},
				Confidence:  0.9,
				Landmarks: []model.Landmark{
					{Type: model.LandmarkLeftEye, X: 38, Y: 48},
					{Type: model.LandmarkRightEye, X: 62, Y: 48},
					{Type: model.LandmarkNose, X: 50, Y: 64},
					{Type: model.LandmarkMouth, X: 50, Y: 80},
				},
			},
		},
		ImageWidth:  200,
		ImageHeight: 200,
	}
}

func TestRender_DrawsOnCopy(t *testing.T) {
	src := imaging.New(200, 200, color.NRGBA{R: 10, G: 10, B: 10, A: 255})

	annotated := Render(src, sampleResult())
	require.Equal(t, src.Bounds(), annotated.Bounds())

	// The box edge must differ from the background now.
	before := src.At(20, 20)
	after := annotated.At(20, 20)
	require.NotEqual(t, before, after)

	// The source must be left untouched.
	require.Equal(t, color.NRGBA{R: 10, G: 10, B: 10, A: 255}, src.At(20, 20))
}

func TestRenderJPEG(t *testing.T) {
	var buf bytes.Buffer
	src := imaging.New(120, 90, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	require.NoError(t, imaging.Encode(&buf, src, imaging.PNG))

	out, err := RenderJPEG(&buf, sampleResult())
	require.NoError(t, err)
	require.NotZero(t, out.Len())

	// The output must decode as a valid image of the same dimensions.
	decoded, err := imaging.Decode(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 120, decoded.Bounds().Dx())
	require.Equal(t, 90, decoded.Bounds().Dy())
}

func TestRenderJPEG_Undecodable(t *testing.T) {
	_, err := RenderJPEG(bytes.NewReader([]byte("not an image")), sampleResult())
	require.Error(t, err)
}
