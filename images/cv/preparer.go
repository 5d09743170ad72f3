// Package cv - OpenCV backed image preparation.
package cv

import (
	"image"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Preparer loads and resizes images with OpenCV.
type Preparer struct {
	// PixelMeans are subtracted from the B, G and R channels.
	PixelMeans [3]float32
	// MaxSize bounds the longer side of a prepared image.
	MaxSize int
}

// NewPreparer creates an OpenCV preparer.
func NewPreparer(pixelMeans [3]float32, maxSize int) *Preparer {
	return &Preparer{PixelMeans: pixelMeans, MaxSize: maxSize}
}

// Size returns the original image dimensions.
func (p *Preparer) Size(path string) (int, int, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return 0, 0, errors.Errorf("cannot open %s", path)
	}
	defer img.Close()

	return img.Cols(), img.Rows(), nil
}

// Prepare implements images.Preparer.
//
// The image is read as 8-bit BGR, mirrored around the vertical axis when
// flipped is set, converted to float32, mean subtracted and resized with
// bilinear interpolation.
func (p *Preparer) Prepare(path string, flipped bool, targetSize int) (*images.Prepared, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return nil, errors.Errorf("cannot open %s", path)
	}
	defer img.Close()

	if flipped {
		gocv.Flip(img, &img, 1)
	}

	floats := gocv.NewMat()
	defer floats.Close()
	img.ConvertTo(&floats, gocv.MatTypeCV32FC3)

	scale := images.ScaleFactor(img.Cols(), img.Rows(), targetSize, p.MaxSize)
	width, height := images.ScaledSize(img.Cols(), img.Rows(), scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(floats, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	raw, err := resized.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pixels of %s", path)
	}

	data := make([]float32, len(raw))
	for i := 0; i < len(raw); i += images.Channels {
		data[i] = raw[i] - p.PixelMeans[0]
		data[i+1] = raw[i+1] - p.PixelMeans[1]
		data[i+2] = raw[i+2] - p.PixelMeans[2]
	}

	return &images.Prepared{Data: data, Width: width, Height: height, Scale: scale}, nil
}
