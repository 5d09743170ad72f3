package images

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Channels is the number of color channels in a prepared image.
const Channels = 3

// CanvasSize returns the largest height and width across the prepared images.
func CanvasSize(prepared []*Prepared) (height, width int) {
	for _, p := range prepared {
		height = max(height, p.Height)
		width = max(width, p.Width)
	}

	return height, width
}

// BuildBlob packs prepared images into a single [N, 3, H, W] float32 tensor.
//
// H and W are the largest height and width in the batch. Every image is placed
// at the top-left corner of its slot and the rest of the slot stays zero.
//
// Arguments:
//   - prepared: The prepared images in batch slot order.
//
// Returns:
//   - *tensor.Dense: The image blob in CHW layout.
//   - error: An error if the batch is empty or an image has an inconsistent buffer.
func BuildBlob(prepared []*Prepared) (*tensor.Dense, error) {
	if len(prepared) == 0 {
		return nil, errors.New("cannot build a blob from zero images")
	}

	height, width := CanvasSize(prepared)
	plane := height * width
	data := make([]float32, len(prepared)*Channels*plane)

	for n, p := range prepared {
		if len(p.Data) != p.Width*p.Height*Channels {
			return nil, errors.Errorf("image %d has %d values, expected %d", n, len(p.Data), p.Width*p.Height*Channels)
		}
		base := n * Channels * plane
		for y := 0; y < p.Height; y++ {
			row := p.Data[y*p.Width*Channels : (y+1)*p.Width*Channels]
			for x := 0; x < p.Width; x++ {
				for c := 0; c < Channels; c++ {
					data[base+c*plane+y*width+x] = row[x*Channels+c]
				}
			}
		}
	}

	return tensor.New(
		tensor.WithShape(len(prepared), Channels, height, width),
		tensor.WithBacking(data),
	), nil
}
