// Package inference - ONNX runtime sessions for Fast R-CNN detection graphs.
package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/detector"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitializeRuntime loads the onnxruntime shared library once per process.
//
// Arguments:
//   - libPath: The shared library path. Empty selects SharedLibraryPath().
//
// Returns:
//   - error: An error if the library cannot be located or initialized.
func InitializeRuntime(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			libPath, envErr = SharedLibraryPath()
			if envErr != nil {
				return
			}
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrapf(err, "cannot initialize onnxruntime from %s", libPath)
		}
	})

	return envErr
}

// Session runs an exported Fast R-CNN graph. It implements detector.Runner.
type Session struct {
	session     *ort.DynamicAdvancedSession
	numClasses  int
	inputNames  []string
	outputNames []string
	log         logrus.FieldLogger

	mu             sync.Mutex
	inferenceCount int64
	totalTime      float64
}

// NewSession opens the model described by cfg.
//
// Arguments:
//   - cfg: The model path, library path, tensor names and thread count.
//   - numClasses: The number of classes including background.
//   - logger: Receives session diagnostics. Defaults to the standard logger.
//
// Returns:
//   - *Session: The session.
//   - error: An error if the runtime or the model cannot be loaded.
func NewSession(cfg config.Inference, numClasses int, logger logrus.FieldLogger) (*Session, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(cfg.InputNames) != 2 || len(cfg.OutputNames) != 2 {
		return nil, errors.Errorf("expected 2 inputs and 2 outputs, got %v and %v", cfg.InputNames, cfg.OutputNames)
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid class count %d", numClasses)
	}
	if err := InitializeRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	options, err := SessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, cfg.InputNames, cfg.OutputNames, options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create ONNX session for %s", cfg.ModelPath)
	}

	logger.WithFields(logrus.Fields{
		"model":    cfg.ModelPath,
		"inputs":   cfg.InputNames,
		"outputs":  cfg.OutputNames,
		"provider": cfg.Provider,
	}).Info("Loaded detection network")

	return &Session{
		session:     session,
		numClasses:  numClasses,
		inputNames:  cfg.InputNames,
		outputNames: cfg.OutputNames,
		log:         logger,
	}, nil
}

var _ detector.Runner = (*Session)(nil)

func toShape(dims tensor.Shape) ort.Shape {
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	return ort.NewShape(shape...)
}

// Run feeds the image and ROI blobs and returns the box deltas and class
// probabilities.
func (s *Session) Run(ctx context.Context, images, rois *tensor.Dense) (*detector.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imageData, ok := images.Data().([]float32)
	if !ok {
		return nil, errors.New("image blob must hold float32 values")
	}
	roiData, ok := rois.Data().([]float32)
	if !ok {
		return nil, errors.New("roi blob must hold float32 values")
	}
	numROIs := rois.Shape()[0]

	imageTensor, err := ort.NewTensor(toShape(images.Shape()), imageData)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create image tensor")
	}
	defer imageTensor.Destroy()

	roiTensor, err := ort.NewTensor(toShape(rois.Shape()), roiData)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create roi tensor")
	}
	defer roiTensor.Destroy()

	deltas, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(numROIs), int64(4*s.numClasses)))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create delta tensor")
	}
	defer deltas.Destroy()

	probs, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(numROIs), int64(s.numClasses)))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create probability tensor")
	}
	defer probs.Destroy()

	s.mu.Lock()
	start := time.Now()
	err = s.session.Run([]ort.Value{imageTensor, roiTensor}, []ort.Value{deltas, probs})
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e6
	s.inferenceCount++
	s.totalTime += elapsed
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "onnxruntime run failed")
	}

	s.log.WithFields(logrus.Fields{"rois": numROIs, "ms": elapsed}).Debug("Network forward pass")

	return &detector.Output{
		Deltas: append([]float32(nil), deltas.GetData()...),
		Probs:  append([]float32(nil), probs.GetData()...),
	}, nil
}

// GetPerformanceMetrics returns inference counters.
//
// Returns:
//   - map[string]interface{}: Performance metrics and statistics
func (s *Session) GetPerformanceMetrics() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics := map[string]interface{}{
		"inference_count": s.inferenceCount,
		"total_time_ms":   s.totalTime,
	}
	if s.inferenceCount > 0 {
		metrics["average_time_ms"] = s.totalTime / float64(s.inferenceCount)
	}

	return metrics
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}
