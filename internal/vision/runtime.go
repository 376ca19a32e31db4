package vision

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/attend/internal/config"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// InitRuntime loads the ONNX Runtime shared library. libPath may be empty to
// use the platform default name. Callers must call ort.DestroyEnvironment on exit.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// Models holds the loaded ONNX models backing an Extractor.
type Models struct {
	Detector *Detector
	Embedder *Embedder
}

// LoadModels loads the detector and embedder from cfg.ModelsDir.
func LoadModels(cfg config.VisionConfig) (*Models, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	if cfg.EmbeddingDim != 0 && cfg.EmbeddingDim != emb.EmbeddingDim() {
		det.Close()
		emb.Close()
		return nil, fmt.Errorf("embedding dimension mismatch: config %d, model %d",
			cfg.EmbeddingDim, emb.EmbeddingDim())
	}

	return &Models{Detector: det, Embedder: emb}, nil
}

// Extractor builds an Extractor over the loaded models.
func (m *Models) Extractor(minSide int) *Extractor {
	return NewExtractor(m.Detector, m.Embedder, minSide)
}

// Close releases all ONNX sessions.
func (m *Models) Close() {
	if m.Detector != nil {
		m.Detector.Close()
	}
	if m.Embedder != nil {
		m.Embedder.Close()
	}
}

// defaultONNXLibPath returns the ONNX Runtime shared library name for the OS.
func defaultONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
