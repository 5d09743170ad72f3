package images

import (
	"bytes"
	"image"
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// FormatFromPath infers the image format from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".webp":
		return FormatWebP, nil
	default:
		return "", errors.Errorf("unsupported image extension: %q", filepath.Ext(path))
	}
}

// NativePreparer prepares images in pure Go: decoding through the standard
// codecs (plus WebP) and resizing with nfnt/resize.
type NativePreparer struct {
	// PixelMeans are subtracted from the B, G and R channels.
	PixelMeans [3]float32
	// MaxSize bounds the longer side of a prepared image.
	MaxSize int
	// Interpolation is the resampling function.
	Interpolation resize.InterpolationFunction
}

// NewNativePreparer creates a pure Go preparer.
//
// Arguments:
//   - pixelMeans: The per-channel means in BGR order.
//   - maxSize: The upper bound for the longer side.
//
// Returns:
//   - *NativePreparer: The preparer.
func NewNativePreparer(pixelMeans [3]float32, maxSize int) *NativePreparer {
	return &NativePreparer{PixelMeans: pixelMeans, MaxSize: maxSize, Interpolation: resize.Bilinear}
}

// Size returns the original dimensions without decoding pixel data.
func (p *NativePreparer) Size(path string) (int, int, error) {
	data, format, err := readImageFile(path)
	if err != nil {
		return 0, 0, err
	}

	var cfg image.Config
	if format == FormatWebP {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to decode image header %s", path)
	}

	return cfg.Width, cfg.Height, nil
}

// Prepare implements Preparer.
func (p *NativePreparer) Prepare(path string, flipped bool, targetSize int) (*Prepared, error) {
	img, err := decodeImageFile(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	scale := ScaleFactor(bounds.Dx(), bounds.Dy(), targetSize, p.MaxSize)
	width, height := ScaledSize(bounds.Dx(), bounds.Dy(), scale)
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid resized dimensions %dx%d for %s", width, height, path)
	}

	resized := resize.Resize(uint(width), uint(height), img, p.Interpolation)

	return &Prepared{
		Data:   toBGRFloats(resized, flipped, p.PixelMeans),
		Width:  width,
		Height: height,
		Scale:  scale,
	}, nil
}

// toBGRFloats converts an image to HWC BGR float32 values minus the pixel means.
// When flipped is set the columns are read right to left.
func toBGRFloats(img image.Image, flipped bool, means [3]float32) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, width*height*Channels)

	idx := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx := x
			if flipped {
				sx = width - 1 - x
			}
			r, g, b, _ := img.At(bounds.Min.X+sx, bounds.Min.Y+y).RGBA()
			data[idx] = float32(b>>8) - means[0]
			data[idx+1] = float32(g>>8) - means[1]
			data[idx+2] = float32(r>>8) - means[2]
			idx += Channels
		}
	}

	return data
}

func readImageFile(path string) ([]byte, ImageFormat, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to read image %s", path)
	}
	if len(data) == 0 {
		return nil, "", errors.Errorf("empty image data: %s", path)
	}

	return data, format, nil
}

func decodeImageFile(path string) (image.Image, error) {
	data, format, err := readImageFile(path)
	if err != nil {
		return nil, err
	}

	var img image.Image
	if format == FormatWebP {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}

	return img, nil
}
