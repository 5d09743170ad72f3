package images

import (
	"gonum.org/v1/gonum/mat"
)

// Overlaps computes the pairwise IoU between boxes and gtBoxes.
//
// The result is an N×M matrix where element (i, j) is the IoU of boxes[i] and
// gtBoxes[j]. When either input is empty there is nothing to compare and nil
// is returned; this is not an error.
//
// Arguments:
//   - boxes: The N candidate boxes, one matrix row each.
//   - gtBoxes: The M ground-truth boxes, one matrix column each.
//
// Returns:
//   - *mat.Dense: The N×M IoU matrix, or nil when N or M is zero.
func Overlaps(boxes, gtBoxes []Box) *mat.Dense {
	if len(boxes) == 0 || len(gtBoxes) == 0 {
		return nil
	}

	overlaps := mat.NewDense(len(boxes), len(gtBoxes), nil)
	for i, box := range boxes {
		for j, gt := range gtBoxes {
			overlaps.Set(i, j, CalculateIoU(box, gt))
		}
	}

	return overlaps
}

// ArgMaxRow returns the column holding the largest value of row i and that
// value. The search starts at column 0 and only moves on a strictly greater
// value, so the lowest column wins ties.
func ArgMaxRow(m mat.Matrix, i int) (int, float64) {
	_, cols := m.Dims()
	best := 0
	val := m.At(i, 0)
	for j := 1; j < cols; j++ {
		if v := m.At(i, j); v > val {
			best = j
			val = v
		}
	}

	return best, val
}
