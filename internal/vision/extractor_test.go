package vision

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	detections []Detection
	err        error
	panicWith  any
	calls      int
}

func (f *fakeDetector) Detect(image.Image) ([]Detection, error) {
	f.calls++
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.detections, f.err
}

// fakeEmbedder encodes the crop size so tests can tell which box was embedded.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(face image.Image) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := face.Bounds()
	return []float32{float32(b.Dx()), float32(b.Dy())}, nil
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 150, B: 100, A: 255})
		}
	}
	return img
}

func box(x1, y1, x2, y2 float32) Detection {
	return Detection{BBox: [4]float32{x1, y1, x2, y2}, Confidence: 0.9}
}

func TestExtractSelectsLargestFace(t *testing.T) {
	det := &fakeDetector{detections: []Detection{
		box(0, 0, 40, 40),
		box(100, 100, 200, 200),
		box(50, 50, 60, 60),
	}}
	ex := NewExtractor(det, &fakeEmbedder{}, 0)

	face, err := ex.Extract(solidImage(320, 240))
	require.NoError(t, err)
	assert.Equal(t, [4]float32{100, 100, 200, 200}, face.BBox)
	assert.NotNil(t, face.Crop)
	// 100px box plus 10% padding on each side
	assert.Equal(t, []float32{120, 120}, face.Signature)
}

func TestExtractTieBreaksLeftmost(t *testing.T) {
	det := &fakeDetector{detections: []Detection{
		box(150, 10, 200, 60),
		box(20, 10, 70, 60),
		box(90, 10, 140, 60),
	}}
	ex := NewExtractor(det, &fakeEmbedder{}, 0)

	face, err := ex.Extract(solidImage(320, 240))
	require.NoError(t, err)
	assert.Equal(t, float32(20), face.BBox[0])
}

func TestExtractNoFace(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
		det  *fakeDetector
	}{
		{"nil image", nil, &fakeDetector{}},
		{"too small", solidImage(31, 200), &fakeDetector{detections: []Detection{box(0, 0, 10, 10)}}},
		{"empty image", image.NewRGBA(image.Rect(0, 0, 0, 0)), &fakeDetector{}},
		{"no detections", solidImage(64, 64), &fakeDetector{}},
		{"degenerate box", solidImage(64, 64), &fakeDetector{detections: []Detection{box(10, 10, 10, 30)}}},
		{"detector panic", solidImage(64, 64), &fakeDetector{panicWith: "index out of range"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := NewExtractor(tt.det, &fakeEmbedder{}, 32)
			_, err := ex.Extract(tt.img)
			assert.ErrorIs(t, err, ErrNoFaceFound)
		})
	}
}

func TestExtractSkipsDetectorForSmallImages(t *testing.T) {
	det := &fakeDetector{}
	ex := NewExtractor(det, &fakeEmbedder{}, 32)

	_, err := ex.Extract(solidImage(16, 16))
	assert.ErrorIs(t, err, ErrNoFaceFound)
	assert.Zero(t, det.calls)
}

func TestExtractPropagatesInferenceErrors(t *testing.T) {
	boom := errors.New("session closed")

	ex := NewExtractor(&fakeDetector{err: boom}, &fakeEmbedder{}, 0)
	_, err := ex.Extract(solidImage(64, 64))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoFaceFound)

	ex = NewExtractor(&fakeDetector{detections: []Detection{box(0, 0, 40, 40)}}, &fakeEmbedder{err: boom}, 0)
	_, err = ex.Extract(solidImage(64, 64))
	assert.ErrorIs(t, err, boom)
}

func TestExtractBytesRejectsGarbage(t *testing.T) {
	det := &fakeDetector{}
	ex := NewExtractor(det, &fakeEmbedder{}, 0)
	_, err := ex.ExtractBytes([]byte("not an image"))
	assert.ErrorIs(t, err, ErrNoFaceFound)
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Zero(t, det.calls)
}

func TestExtractBytesJPEG(t *testing.T) {
	data, err := EncodeJPEG(solidImage(128, 96), 90)
	require.NoError(t, err)

	ex := NewExtractor(&fakeDetector{detections: []Detection{box(10, 10, 60, 60)}}, &fakeEmbedder{}, 0)
	face, err := ex.ExtractBytes(data)
	require.NoError(t, err)
	assert.Equal(t, float32(10), face.BBox[0])
}
