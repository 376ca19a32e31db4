package vision

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/your-org/attend/internal/observability"
)

// ErrNoFaceFound is returned when an image holds no usable face. It is an
// expected outcome, not a failure.
var ErrNoFaceFound = errors.New("no face found")

// DefaultMinImageSide is the smallest width or height Extract will look at.
const DefaultMinImageSide = 32

type FaceDetector interface {
	Detect(img image.Image) ([]Detection, error)
}

type FaceEmbedder interface {
	Embed(face image.Image) ([]float32, error)
}

// Face is the primary face found in an image.
type Face struct {
	Signature  []float32
	BBox       [4]float32
	Confidence float32
	Crop       image.Image
}

// Extractor turns a frame into the signature of its primary face.
type Extractor struct {
	detector FaceDetector
	embedder FaceEmbedder
	minSide  int
}

func NewExtractor(detector FaceDetector, embedder FaceEmbedder, minSide int) *Extractor {
	if minSide <= 0 {
		minSide = DefaultMinImageSide
	}
	return &Extractor{detector: detector, embedder: embedder, minSide: minSide}
}

// Extract detects faces in img, picks the primary one and returns its signature.
// Images below the minimum side, images without faces and images the
// detector chokes on all yield ErrNoFaceFound.
func (e *Extractor) Extract(img image.Image) (face Face, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extractor panic", "panic", r)
			face, err = Face{}, fmt.Errorf("%w: recovered from %v", ErrNoFaceFound, r)
		}
	}()

	if img == nil {
		return Face{}, ErrNoFaceFound
	}
	bounds := img.Bounds()
	if bounds.Dx() < e.minSide || bounds.Dy() < e.minSide {
		return Face{}, ErrNoFaceFound
	}

	start := time.Now()
	detections, err := e.detector.Detect(img)
	if err != nil {
		return Face{}, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	primary, ok := selectPrimary(detections)
	if !ok {
		return Face{}, ErrNoFaceFound
	}

	crop := cropFace(img, primary.BBox)
	if crop == nil {
		return Face{}, ErrNoFaceFound
	}

	start = time.Now()
	signature, err := e.embedder.Embed(crop)
	if err != nil {
		return Face{}, fmt.Errorf("embed: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	observability.FacesDetected.Inc()

	return Face{
		Signature:  signature,
		BBox:       primary.BBox,
		Confidence: primary.Confidence,
		Crop:       crop,
	}, nil
}

// ExtractBytes decodes an encoded image and extracts its primary face.
// Undecodable bytes hold no face: the error matches both ErrNoFaceFound
// and ErrInvalidImage.
func (e *Extractor) ExtractBytes(data []byte) (Face, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return Face{}, fmt.Errorf("%w: %w", ErrNoFaceFound, err)
	}
	return e.Extract(img)
}

// selectPrimary returns the largest detection; equal areas go to the leftmost box.
func selectPrimary(detections []Detection) (Detection, bool) {
	var (
		best  Detection
		found bool
	)
	for _, d := range detections {
		area := d.Area()
		if area == 0 {
			continue
		}
		if !found || area > best.Area() || (area == best.Area() && d.BBox[0] < best.BBox[0]) {
			best = d
			found = true
		}
	}
	return best, found
}
