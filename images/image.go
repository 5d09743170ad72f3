// Package images - Image preparation for detector input blobs.
package images

import (
	"math"
)

// Prepared is an image that has been decoded, optionally mirrored, mean
// subtracted and resized for a detector input blob.
type Prepared struct {
	// Data holds Height*Width*3 float32 values in row-major HWC order with BGR
	// channel ordering.
	Data []float32 `json:"-" yaml:"-"`
	// The width of the resized image.
	Width int `json:"width" yaml:"width"`
	// The height of the resized image.
	Height int `json:"height" yaml:"height"`
	// Scale is the resize ratio applied to the original image. Boxes in the
	// original image space are multiplied by it.
	Scale float64 `json:"scale" yaml:"scale"`
}

// Preparer loads images and prepares them for a detector blob.
type Preparer interface {
	// Prepare loads the image at path, mirrors it horizontally when flipped is
	// set, subtracts the pixel means and resizes it so that its shorter side
	// matches targetSize (bounded by the preparer's maximum size).
	Prepare(path string, flipped bool, targetSize int) (*Prepared, error)
	// Size returns the original width and height of the image at path.
	Size(path string) (width, height int, err error)
}

// ScaleFactor computes the resize ratio for an image of the given size.
//
// The shorter side is scaled to targetSize. When that would push the longer
// side above maxSize (after rounding), the ratio is reduced so that the longer
// side equals maxSize instead.
//
// Arguments:
//   - width: The original image width.
//   - height: The original image height.
//   - targetSize: The desired length of the shorter side.
//   - maxSize: The upper bound for the longer side.
//
// Returns:
//   - float64: The resize ratio.
func ScaleFactor(width, height, targetSize, maxSize int) float64 {
	sizeMin := float64(min(width, height))
	sizeMax := float64(max(width, height))

	scale := float64(targetSize) / sizeMin
	if math.Round(scale*sizeMax) > float64(maxSize) {
		scale = float64(maxSize) / sizeMax
	}

	return scale
}

// ScaledSize returns the resized dimensions for a ratio, rounded to pixels.
func ScaledSize(width, height int, scale float64) (int, int) {
	return int(math.Round(scale * float64(width))), int(math.Round(scale * float64(height)))
}
