package vision

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrDegenerateEmbedding is returned when the model yields an all-zero vector.
var ErrDegenerateEmbedding = errors.New("degenerate embedding")

// ArcFace defaults, used when the model does not declare static shapes.
const (
	defaultEmbedSide = 112
	defaultEmbedDim  = 512
)

// embedderIO describes the single input and output of a recognition model.
type embedderIO struct {
	input, output string
	side, dim     int
}

func inspectEmbedder(modelPath string) (embedderIO, error) {
	ins, outs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return embedderIO{}, fmt.Errorf("inspect %s: %w", modelPath, err)
	}
	if len(ins) != 1 || len(outs) != 1 {
		return embedderIO{}, fmt.Errorf("inspect %s: want 1 input and 1 output, got %d and %d",
			modelPath, len(ins), len(outs))
	}
	return embedderShape(ins[0].Name, outs[0].Name, ins[0].Dimensions, outs[0].Dimensions), nil
}

// embedderShape reads the square input side from an NCHW input and the
// vector length from an [N, D] output. Dynamic (-1) dimensions fall back to
// the ArcFace defaults.
func embedderShape(input, output string, in, out ort.Shape) embedderIO {
	io := embedderIO{input: input, output: output, side: defaultEmbedSide, dim: defaultEmbedDim}
	if len(in) == 4 && in[2] > 0 && in[2] == in[3] {
		io.side = int(in[2])
	}
	if len(out) == 2 && out[1] > 0 {
		io.dim = int(out[1])
	}
	return io
}

// Embedder turns an aligned face crop into an L2-normalized signature.
type Embedder struct {
	mu      sync.Mutex
	io      embedderIO
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewEmbedder loads a recognition model (ArcFace w600k_r50 or compatible).
// opts may be nil for ORT defaults.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	io, err := inspectEmbedder(modelPath)
	if err != nil {
		return nil, err
	}
	e := &Embedder{io: io}

	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(io.side), int64(io.side)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(io.dim)))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{io.input}, []string{io.output},
		[]ort.Value{e.input}, []ort.Value{e.output},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Embed returns the signature of a face crop.
func (e *Embedder) Embed(face image.Image) ([]float32, error) {
	input := imageToFloat32CHW(face, e.io.side, e.io.side, embeddingMean, embeddingStd)

	e.mu.Lock()
	copy(e.input.GetData(), input)
	err := e.session.Run()
	signature := append([]float32(nil), e.output.GetData()...)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	if normalize(signature) == 0 {
		return nil, ErrDegenerateEmbedding
	}
	return signature, nil
}

// EmbeddingDim returns the signature length.
func (e *Embedder) EmbeddingDim() int {
	return e.io.dim
}

func (e *Embedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{e.input, e.output} {
		if t != nil {
			t.Destroy()
		}
	}
	e.input, e.output = nil, nil
}

// normalize scales v to unit length in place and returns its original norm.
// A zero vector is left unchanged.
func normalize(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return norm
}
