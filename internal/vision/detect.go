package vision

import (
	"cmp"
	"fmt"
	"image"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32    // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
	Landmarks  [5][2]float32 // eyes, nose, mouth corners
}

// Width of the bounding box in pixels.
func (d Detection) Width() float32 { return d.BBox[2] - d.BBox[0] }

// Height of the bounding box in pixels.
func (d Detection) Height() float32 { return d.BBox[3] - d.BBox[1] }

// Area of the bounding box; degenerate boxes have zero area.
func (d Detection) Area() float32 {
	w, h := d.Width(), d.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

const (
	detectorInputName = "input.1"
	detectorInputSide = 640
	anchorsPerCell    = 2
	nmsIoUThreshold   = 0.4
)

// headOutputs names the det_10g outputs of one feature-map stride.
type headOutputs struct {
	stride               int
	scores, boxes, marks string
}

var detectorHeads = []headOutputs{
	{stride: 8, scores: "448", boxes: "451", marks: "454"},
	{stride: 16, scores: "471", boxes: "474", marks: "477"},
	{stride: 32, scores: "494", boxes: "497", marks: "500"},
}

// head holds the output tensors of one stride. Rows = cells * anchorsPerCell.
type head struct {
	stride               int
	cells                int // feature map side
	scores, boxes, marks *ort.Tensor[float32]
}

// Detector runs SCRFD (det_10g) face detection on a letterboxed square input.
// A session is not safe for concurrent Run calls, so Detect serializes.
type Detector struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	heads     []head
	threshold float32
	side      int
}

// NewDetector loads the detection model. opts may be nil for ORT defaults.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, side: detectorInputSide}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.side), int64(d.side)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Outputs are grouped by kind across strides: all scores, then boxes, then landmarks.
	var (
		names  []string
		values []ort.Value
	)
	d.heads = make([]head, len(detectorHeads))
	for kind, width := range []int64{1, 4, 10} {
		for i, ho := range detectorHeads {
			cells := d.side / ho.stride
			rows := int64(cells * cells * anchorsPerCell)
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, width))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("create stride %d output tensor: %w", ho.stride, err)
			}
			h := &d.heads[i]
			h.stride, h.cells = ho.stride, cells
			switch kind {
			case 0:
				h.scores = t
				names = append(names, ho.scores)
			case 1:
				h.boxes = t
				names = append(names, ho.boxes)
			case 2:
				h.marks = t
				names = append(names, ho.marks)
			}
			values = append(values, t)
		}
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{detectorInputName}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect finds faces in img. Boxes are in img's pixel coordinates relative
// to its bounds origin, sorted by confidence.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	canvas, scale := letterbox(img, d.side)
	input := imageToFloat32CHW(canvas, d.side, d.side, detectionMean, detectionStd)

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.input.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	limit := [2]float32{float32(bounds.Dx()), float32(bounds.Dy())}
	var found []Detection
	for _, h := range d.heads {
		found = append(found, decodeHead(h.scores.GetData(), h.boxes.GetData(), h.marks.GetData(),
			h.stride, h.cells, d.threshold, 1/scale, limit)...)
	}
	return nms(found, nmsIoUThreshold), nil
}

// decodeHead turns one stride's raw outputs into detections. Box and
// landmark offsets are in stride units from the anchor centre; inv maps
// model pixels back to image pixels and limit clamps the box.
func decodeHead(scores, boxes, marks []float32, stride, cells int, threshold, inv float32, limit [2]float32) []Detection {
	var out []Detection
	st := float32(stride)
	for row, score := range scores {
		if score < threshold {
			continue
		}
		cell := row / anchorsPerCell
		ax := float32(cell%cells) * st
		ay := float32(cell/cells) * st

		b := boxes[row*4 : row*4+4]
		det := Detection{
			Confidence: score,
			BBox: [4]float32{
				clampF((ax-b[0]*st)*inv, 0, limit[0]),
				clampF((ay-b[1]*st)*inv, 0, limit[1]),
				clampF((ax+b[2]*st)*inv, 0, limit[0]),
				clampF((ay+b[3]*st)*inv, 0, limit[1]),
			},
		}
		if marks != nil {
			m := marks[row*10 : row*10+10]
			for k := range det.Landmarks {
				det.Landmarks[k] = [2]float32{(ax + m[2*k]*st) * inv, (ay + m[2*k+1]*st) * inv}
			}
		}
		out = append(out, det)
	}
	return out
}

func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	for i := range d.heads {
		for _, t := range []*ort.Tensor[float32]{d.heads[i].scores, d.heads[i].boxes, d.heads[i].marks} {
			if t != nil {
				t.Destroy()
			}
		}
	}
	d.heads = nil
}

// nms keeps the most confident box of every overlapping group. The result
// is ordered by descending confidence.
func nms(detections []Detection, iouThreshold float32) []Detection {
	sorted := slices.Clone(detections)
	slices.SortStableFunc(sorted, func(a, b Detection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	kept := make([]Detection, 0, len(sorted))
	for _, cand := range sorted {
		overlaps := slices.ContainsFunc(kept, func(k Detection) bool {
			return iou(k.BBox, cand.BBox) > iouThreshold
		})
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	w := max(0, min(a[2], b[2])-max(a[0], b[0]))
	h := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := w * h
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
