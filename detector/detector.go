// Package detector - Region-based object detection over precomputed proposals.
package detector

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/nvr-ai/go-frcnn/roidb"
)

// ReferenceArea is the ROI area, in scaled pixels, that multi-scale level
// assignment aims for.
const ReferenceArea = 224 * 224

// Output is the raw network output for R ROIs and C classes.
type Output struct {
	// Deltas holds R×4C regression deltas.
	Deltas []float32
	// Probs holds R×C class probabilities.
	Probs []float32
}

// Runner executes the detection network.
type Runner interface {
	// Run feeds the [N,3,H,W] image blob and the [R,5] ROI blob.
	Run(ctx context.Context, images, rois *tensor.Dense) (*Output, error)
}

// Options configures a Detector.
type Options struct {
	Deploy     config.Deploy
	Preparer   images.Preparer
	Runner     Runner
	Vocabulary *models.Vocabulary
	// Stats de-normalizes predicted deltas when set.
	Stats  *roidb.Stats
	Logger logrus.FieldLogger
}

// Detector turns an image and its proposals into final detections.
type Detector struct {
	deploy   config.Deploy
	preparer images.Preparer
	runner   Runner
	vocab    *models.Vocabulary
	stats    *roidb.Stats
	log      logrus.FieldLogger
}

// New creates a detector.
func New(opts Options) (*Detector, error) {
	if opts.Preparer == nil || opts.Runner == nil {
		return nil, errors.New("detector requires a preparer and a runner")
	}
	if opts.Vocabulary == nil || opts.Vocabulary.Len() == 0 {
		return nil, models.ErrEmptyVocabulary
	}
	if len(opts.Deploy.Scales) == 0 {
		return nil, errors.New("no deploy scales")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Detector{
		deploy:   opts.Deploy,
		preparer: opts.Preparer,
		runner:   opts.Runner,
		vocab:    opts.Vocabulary,
		stats:    opts.Stats,
		log:      log,
	}, nil
}

// Detect runs the network over one image and its proposals.
//
// The image is prepared at every deploy scale, each proposal is assigned a
// scale level, the predicted deltas are decoded per class and each class
// c >= 1 is merged with the deploy confidence and NMS thresholds.
//
// Arguments:
//   - ctx: Cancels the network run.
//   - path: The image file.
//   - proposals: The region proposals in original image coordinates.
//
// Returns:
//   - []postprocess.Result: Detections ordered by class, then by descending score.
//   - error: An error if the image cannot be prepared or the network fails.
func (d *Detector) Detect(ctx context.Context, path string, proposals []images.Box) ([]postprocess.Result, error) {
	if len(proposals) == 0 {
		return nil, nil
	}

	width, height, err := d.preparer.Size(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot size image %s", path)
	}

	prepared := make([]*images.Prepared, len(d.deploy.Scales))
	scales := make([]float64, len(d.deploy.Scales))
	for i, target := range d.deploy.Scales {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := d.preparer.Prepare(path, false, target)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot prepare image %s", path)
		}
		prepared[i] = p
		scales[i] = p.Scale
	}

	blob, err := images.BuildBlob(prepared)
	if err != nil {
		return nil, err
	}
	rois := ROIBlob(proposals, scales)

	out, err := d.runner.Run(ctx, blob, rois)
	if err != nil {
		return nil, errors.Wrap(err, "detection network failed")
	}

	numClasses := d.vocab.Len()
	deltas := out.Deltas
	if d.stats != nil {
		deltas = d.denormalize(deltas, numClasses)
	}

	decoded, err := postprocess.DecodePredictions(proposals, deltas, out.Probs, numClasses, width, height, d.deploy.MinBoxSize)
	if err != nil {
		return nil, err
	}

	var results []postprocess.Result
	for c := 1; c < numClasses; c++ {
		boxes, scores := decoded.Class(c)
		for _, i := range postprocess.MergeClass(boxes, scores, float32(d.deploy.ConfThresh), d.deploy.NMS) {
			results = append(results, postprocess.Result{Box: boxes[i], Score: scores[i], Class: c, ROI: i})
		}
	}

	d.log.WithFields(logrus.Fields{
		"image":      path,
		"proposals":  len(proposals),
		"detections": len(results),
	}).Debug("Detected objects")

	return results, nil
}

func (d *Detector) denormalize(deltas []float32, numClasses int) []float32 {
	out := make([]float32, len(deltas))
	for k := 0; k < len(deltas)/4; k++ {
		var v [4]float64
		for j := 0; j < 4; j++ {
			v[j] = float64(deltas[k*4+j])
		}
		v = d.stats.Denormalize(k%numClasses, v)
		for j := 0; j < 4; j++ {
			out[k*4+j] = float32(v[j])
		}
	}
	return out
}

// ROIBlob builds the [R,5] ROI input of (level, x1, y1, x2, y2).
//
// With one scale every ROI uses level 0. With several scales each ROI uses
// the level whose scaled area is closest to ReferenceArea, the first level
// winning ties. Coordinates are multiplied by the chosen level's scale.
func ROIBlob(proposals []images.Box, scales []float64) *tensor.Dense {
	data := make([]float32, len(proposals)*5)
	for i, box := range proposals {
		level := 0
		if len(scales) > 1 {
			best := math.Inf(1)
			area := box.Area()
			for j, s := range scales {
				if diff := math.Abs(area*s*s - ReferenceArea); diff < best {
					best = diff
					level = j
				}
			}
		}
		scaled := box.Scale(scales[level])
		copy(data[i*5:], []float32{float32(level), float32(scaled.X1), float32(scaled.Y1), float32(scaled.X2), float32(scaled.Y2)})
	}

	return tensor.New(tensor.WithShape(len(proposals), 5), tensor.WithBacking(data))
}
