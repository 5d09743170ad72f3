// Package config - Typed configuration for database construction, sampling and detection.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrBatchSizing is returned when the batch size is not divisible by the
// number of images per batch.
var ErrBatchSizing = errors.New("batch_size must be divisible by ims_per_batch")

// Train holds the training-time sampling parameters.
type Train struct {
	// Scales are the candidate lengths of the shorter image side.
	Scales []int `json:"scales" yaml:"scales"`
	// MaxSize bounds the longer image side.
	MaxSize int `json:"max_size" yaml:"max_size"`
	// ImsPerBatch is the number of images per batch.
	ImsPerBatch int `json:"ims_per_batch" yaml:"ims_per_batch"`
	// BatchSize is the number of ROI rows per batch.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// FGFraction is the target share of foreground rows per image.
	FGFraction float64 `json:"fg_fraction" yaml:"fg_fraction"`
	// FGThresh is the minimum overlap of a foreground ROI.
	FGThresh float64 `json:"fg_thresh" yaml:"fg_thresh"`
	// BGThreshHi is the exclusive upper overlap bound of a background ROI.
	BGThreshHi float64 `json:"bg_thresh_hi" yaml:"bg_thresh_hi"`
	// BGThreshLo is the inclusive lower overlap bound of a background ROI.
	BGThreshLo float64 `json:"bg_thresh_lo" yaml:"bg_thresh_lo"`
	// UseFlipped appends horizontally mirrored records to the database.
	UseFlipped bool `json:"use_flipped" yaml:"use_flipped"`
	// BBoxReg enables regression targets.
	BBoxReg bool `json:"bbox_reg" yaml:"bbox_reg"`
	// BBoxThresh is the minimum overlap for a box to receive a regression target.
	BBoxThresh float64 `json:"bbox_thresh" yaml:"bbox_thresh"`
	// SnapshotIters is the snapshot interval of the training loop.
	SnapshotIters int `json:"snapshot_iters" yaml:"snapshot_iters"`
	// SnapshotInfix is inserted in snapshot file names.
	SnapshotInfix string `json:"snapshot_infix" yaml:"snapshot_infix"`
}

// RoisPerImage is the number of batch rows reserved for each image.
func (t Train) RoisPerImage() int {
	return t.BatchSize / t.ImsPerBatch
}

// Test holds evaluation parameters.
type Test struct {
	Scales  []int   `json:"scales" yaml:"scales"`
	MaxSize int     `json:"max_size" yaml:"max_size"`
	NMS     float64 `json:"nms" yaml:"nms"`
	SVM     bool    `json:"svm" yaml:"svm"`
	BBoxReg bool    `json:"bbox_reg" yaml:"bbox_reg"`
}

// Inference configures the ONNX runtime session used for detection.
type Inference struct {
	// ModelPath is the exported detector graph.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath is the onnxruntime shared library. Empty selects a
	// platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputNames are the image blob and ROI blob input names.
	InputNames []string `json:"input_names" yaml:"input_names"`
	// OutputNames are the box delta and class probability output names.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// IntraOpThreads parallelizes execution within graph nodes, 0 for default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// Provider selects the execution provider: "cpu", "cuda" or "coreml".
	Provider string `json:"provider" yaml:"provider"`
	// DeviceID is the accelerator index for the cuda and coreml providers.
	DeviceID int `json:"device_id" yaml:"device_id"`
}

// Deploy holds detection-time parameters.
type Deploy struct {
	Scales     []int   `json:"scales" yaml:"scales"`
	MaxSize    int     `json:"max_size" yaml:"max_size"`
	NMS        float64 `json:"nms" yaml:"nms"`
	ConfThresh float64 `json:"conf_thresh" yaml:"conf_thresh"`
	// MinBoxSize zeroes the score of decoded boxes narrower or shorter than it.
	MinBoxSize int `json:"min_box_size" yaml:"min_box_size"`
	// ResultsDir receives annotated detection images.
	ResultsDir string    `json:"results_dir" yaml:"results_dir"`
	Inference  Inference `json:"inference" yaml:"inference"`
}

// Common holds dataset locations and shared parameters.
type Common struct {
	DedupBoxes float64   `json:"dedup_boxes" yaml:"dedup_boxes"`
	PixelMeans []float32 `json:"pixel_means" yaml:"pixel_means"`
	RNGSeed    uint64    `json:"rng_seed" yaml:"rng_seed"`
	RootDir    string    `json:"root_dir" yaml:"root_dir"`
	ExpDir     string    `json:"exp_dir" yaml:"exp_dir"`
	// ImgsList is the image list file.
	ImgsList string `json:"imgs_list" yaml:"imgs_list"`
	// ClassesList is the vocabulary file.
	ClassesList string `json:"classes_list" yaml:"classes_list"`
	// Proposals is the region proposal archive.
	Proposals string `json:"proposals" yaml:"proposals"`
	// DirImgs holds <image><ImageExt> files.
	DirImgs string `json:"dir_imgs" yaml:"dir_imgs"`
	// DirAnnotations holds <image>.xml files.
	DirAnnotations string `json:"dir_annotations" yaml:"dir_annotations"`
	ImageExt       string `json:"image_ext" yaml:"image_ext"`
	// CacheDir receives the persisted regression statistics.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
	// UseOpenCV selects the OpenCV image preparer over the pure Go one.
	UseOpenCV bool `json:"use_opencv" yaml:"use_opencv"`
}

// Means returns the pixel means as a fixed BGR triple.
func (c Common) Means() [3]float32 {
	var m [3]float32
	copy(m[:], c.PixelMeans)
	return m
}

// Config is the complete configuration.
type Config struct {
	Train  Train  `json:"train" yaml:"train"`
	Test   Test   `json:"test" yaml:"test"`
	Deploy Deploy `json:"deploy" yaml:"deploy"`
	Common Common `json:"common" yaml:"common"`
}

// Default returns the configuration with every documented initial value.
//
// Returns:
//   - Config: The default configuration.
func Default() Config {
	return Config{
		Train: Train{
			Scales:        []int{600},
			MaxSize:       1000,
			ImsPerBatch:   2,
			BatchSize:     128,
			FGFraction:    0.25,
			FGThresh:      0.5,
			BGThreshHi:    0.5,
			BGThreshLo:    0.1,
			UseFlipped:    true,
			BBoxReg:       true,
			BBoxThresh:    0.5,
			SnapshotIters: 10000,
		},
		Test: Test{
			Scales:  []int{600},
			MaxSize: 1000,
			NMS:     0.3,
			BBoxReg: true,
		},
		Deploy: Deploy{
			Scales:     []int{600},
			MaxSize:    1000,
			NMS:        0.3,
			ConfThresh: 0.8,
			MinBoxSize: 32,
			ResultsDir: "data/results",
			Inference: Inference{
				InputNames:  []string{"data", "rois"},
				OutputNames: []string{"bbox_pred", "cls_prob"},
				Provider:    "cpu",
			},
		},
		Common: Common{
			DedupBoxes: 0.0625,
			PixelMeans: []float32{102.9801, 115.9465, 122.7717},
			RNGSeed:    3,
			ImageExt:   ".jpg",
			CacheDir:   "data/cache",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults and validates it.
//
// Arguments:
//   - path: The YAML file path.
//
// Returns:
//   - Config: The validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "cannot open config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "cannot parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config file %s", path)
	}

	return cfg, nil
}

// Validate checks every field once so downstream code can rely on them.
func (c Config) Validate() error {
	t := c.Train
	switch {
	case len(t.Scales) == 0:
		return errors.New("train.scales is empty")
	case t.MaxSize <= 0:
		return errors.New("train.max_size must be positive")
	case t.ImsPerBatch <= 0:
		return errors.New("train.ims_per_batch must be positive")
	case t.BatchSize <= 0:
		return errors.New("train.batch_size must be positive")
	case t.BatchSize%t.ImsPerBatch != 0:
		return errors.Wrapf(ErrBatchSizing, "batch_size=%d ims_per_batch=%d", t.BatchSize, t.ImsPerBatch)
	}
	for _, s := range t.Scales {
		if s <= 0 {
			return errors.Errorf("train.scales contains non-positive scale %d", s)
		}
	}
	for name, v := range map[string]float64{
		"train.fg_fraction":  t.FGFraction,
		"train.fg_thresh":    t.FGThresh,
		"train.bg_thresh_hi": t.BGThreshHi,
		"train.bg_thresh_lo": t.BGThreshLo,
		"train.bbox_thresh":  t.BBoxThresh,
		"test.nms":           c.Test.NMS,
		"deploy.nms":         c.Deploy.NMS,
		"deploy.conf_thresh": c.Deploy.ConfThresh,
	} {
		if v < 0 || v > 1 {
			return errors.Errorf("%s=%v is outside [0, 1]", name, v)
		}
	}
	if t.BGThreshLo > t.BGThreshHi {
		return errors.Errorf("train.bg_thresh_lo=%v exceeds train.bg_thresh_hi=%v", t.BGThreshLo, t.BGThreshHi)
	}
	if len(c.Deploy.Scales) == 0 || c.Deploy.MaxSize <= 0 {
		return errors.New("deploy.scales and deploy.max_size are required")
	}
	if len(c.Common.PixelMeans) != 3 {
		return errors.Errorf("common.pixel_means must have 3 values, got %d", len(c.Common.PixelMeans))
	}
	switch c.Deploy.Inference.Provider {
	case "", "cpu", "cuda", "coreml":
	default:
		return errors.Errorf("unsupported deploy.inference.provider %q", c.Deploy.Inference.Provider)
	}

	return nil
}
