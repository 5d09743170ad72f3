package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-frcnn/images"
)

// Decoded holds per-class boxes and scores for every ROI, ROI-major: entry
// r*NumClasses+c belongs to ROI r and class c.
type Decoded struct {
	NumClasses int
	Boxes      []images.Box
	Scores     []float32
}

// NumROIs returns the number of decoded ROIs.
func (d *Decoded) NumROIs() int {
	if d.NumClasses == 0 {
		return 0
	}
	return len(d.Scores) / d.NumClasses
}

// Class returns the boxes and scores of class c for every ROI.
func (d *Decoded) Class(c int) ([]images.Box, []float32) {
	n := d.NumROIs()
	boxes := make([]images.Box, n)
	scores := make([]float32, n)
	for r := 0; r < n; r++ {
		boxes[r] = d.Boxes[r*d.NumClasses+c]
		scores[r] = d.Scores[r*d.NumClasses+c]
	}
	return boxes, scores
}

// DecodePredictions applies the predicted regression deltas to every ROI.
//
// For each ROI and class the predicted center is ctr + d*size and the
// predicted size is exp(d)*size, where size = x2-x1+1. The resulting edges
// are truncated to integers and clipped to the image. When a clipped box is
// narrower or shorter than minSize its score is set to zero.
//
// Arguments:
//   - rois: The ROIs in original image coordinates.
//   - deltas: R×4C regression deltas.
//   - probs: R×C class probabilities.
//   - numClasses: The number of classes C including background.
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//   - minSize: The minimum side of a kept box.
//
// Returns:
//   - *Decoded: The decoded boxes and adjusted scores.
//   - error: An error if the buffer sizes disagree with rois and numClasses.
func DecodePredictions(rois []images.Box, deltas, probs []float32, numClasses, width, height, minSize int) (*Decoded, error) {
	r := len(rois)
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid class count %d", numClasses)
	}
	if len(deltas) != r*numClasses*4 {
		return nil, errors.Errorf("deltas length %d, want %d", len(deltas), r*numClasses*4)
	}
	if len(probs) != r*numClasses {
		return nil, errors.Errorf("probs length %d, want %d", len(probs), r*numClasses)
	}

	out := &Decoded{
		NumClasses: numClasses,
		Boxes:      make([]images.Box, r*numClasses),
		Scores:     make([]float32, r*numClasses),
	}

	for i, roi := range rois {
		cx := float32(roi.X1+roi.X2) / 2
		cy := float32(roi.Y1+roi.Y2) / 2
		w := float32(roi.Width())
		h := float32(roi.Height())

		for c := 0; c < numClasses; c++ {
			d := deltas[(i*numClasses+c)*4 : (i*numClasses+c)*4+4]
			pcx := d[0]*w + cx
			pcy := d[1]*h + cy
			pw := math32.Exp(d[2]) * w
			ph := math32.Exp(d[3]) * h

			left := int(pcx - 0.5*pw)
			right := int(pcx + 0.5*pw)
			top := int(pcy - 0.5*ph)
			bottom := int(pcy + 0.5*ph)

			if left < 0 {
				left = 0
			}
			if right >= width {
				right = width - 1
			}
			if top < 0 {
				top = 0
			}
			if bottom >= height {
				bottom = height - 1
			}

			k := i*numClasses + c
			out.Scores[k] = probs[k]
			if right-left < minSize || bottom-top < minSize {
				out.Scores[k] = 0
			}
			out.Boxes[k] = images.Box{X1: float64(left), Y1: float64(top), X2: float64(right), Y2: float64(bottom)}
		}
	}

	return out, nil
}
