// Package postprocess - Postprocessing utilities for region-based detectors.
package postprocess

import "github.com/nvr-ai/go-frcnn/images"

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result.
	Box images.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
	// The index of the ROI that produced the result.
	ROI int
}
