package sampler

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-frcnn/roidb"
)

// Batch is one training minibatch.
//
// Rows are grouped per image: image k owns rows [k*RoisPerImage,
// (k+1)*RoisPerImage), foreground rows first, then background rows, then
// zero rows when the pools run short.
type Batch struct {
	// Indices are the database records in batch slot order.
	Indices []int
	// Scales are the resize ratios of each slot.
	Scales []float64
	// Images is the [N, 3, Height, Width] image blob, nil without a preparer.
	Images *tensor.Dense
	// Height and Width are the canvas dimensions.
	Height, Width int

	NumClasses   int
	RoisPerImage int

	// Labels holds one class per row.
	Labels []float32
	// ROIs holds (slot, x1, y1, x2, y2) per row in scaled coordinates.
	ROIs []float32
	// Targets holds 4*NumClasses values per row; only the block of the
	// row's class is set.
	Targets []float32
	// Weights is 1 where Targets is set.
	Weights []float32

	// FG and BG count the sampled rows of each slot.
	FG, BG []int
}

func newBatch(indices []int, numClasses, roisPerImage int) *Batch {
	n := len(indices)
	rows := n * roisPerImage
	return &Batch{
		Indices:      indices,
		Scales:       make([]float64, n),
		NumClasses:   numClasses,
		RoisPerImage: roisPerImage,
		Labels:       make([]float32, rows),
		ROIs:         make([]float32, rows*5),
		Targets:      make([]float32, rows*4*numClasses),
		Weights:      make([]float32, rows*4*numClasses),
		FG:           make([]int, n),
		BG:           make([]int, n),
	}
}

// Rows returns the number of rows in the batch.
func (b *Batch) Rows() int {
	return len(b.Labels)
}

// fill writes the rows of slot k.
func (b *Batch) fill(k int, rec *roidb.Record, fg, bg []int, scale float64) {
	b.FG[k] = len(fg)
	b.BG[k] = len(bg)

	width := 4 * b.NumClasses
	row := k * b.RoisPerImage
	write := func(i int, foreground bool) {
		box := rec.Boxes[i].Scale(scale)
		copy(b.ROIs[row*5:], []float32{float32(k), float32(box.X1), float32(box.Y1), float32(box.X2), float32(box.Y2)})

		if foreground {
			b.Labels[row] = float32(rec.Overlaps[i].Class)
			if i < len(rec.Targets) && rec.Targets[i].Example {
				t := rec.Targets[i]
				off := row*width + 4*t.Class
				for j := 0; j < 4; j++ {
					b.Targets[off+j] = float32(t.Delta[j])
					b.Weights[off+j] = 1
				}
			}
		}
		row++
	}

	for _, i := range fg {
		write(i, true)
	}
	for _, i := range bg {
		write(i, false)
	}
}

// Tensors exposes the row buffers as tensors shaped for a Fast R-CNN data
// layer: labels [R], rois [R,5], targets and weights [R,4C].
func (b *Batch) Tensors() (labels, rois, targets, weights *tensor.Dense) {
	r := b.Rows()
	w := 4 * b.NumClasses

	labels = tensor.New(tensor.WithShape(r), tensor.WithBacking(b.Labels))
	rois = tensor.New(tensor.WithShape(r, 5), tensor.WithBacking(b.ROIs))
	targets = tensor.New(tensor.WithShape(r, w), tensor.WithBacking(b.Targets))
	weights = tensor.New(tensor.WithShape(r, w), tensor.WithBacking(b.Weights))

	return labels, rois, targets, weights
}
