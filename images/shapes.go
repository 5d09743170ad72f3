// Package images - Box geometry and image preparation utilities.
package images

import "fmt"

// Box is an axis-aligned box in pixel coordinates.
//
// Coordinates are inclusive: a box covering a single pixel has X1 == X2 and
// Y1 == Y2, so its area is 1. Callers are expected to keep X1 <= X2 and
// Y1 <= Y2; malformed boxes are not corrected.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the inclusive width of the box.
func (b Box) Width() float64 {
	return b.X2 - b.X1 + 1
}

// Height returns the inclusive height of the box.
func (b Box) Height() float64 {
	return b.Y2 - b.Y1 + 1
}

// Area returns the inclusive-pixel area (x2-x1+1)*(y2-y1+1).
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Scale multiplies every coordinate by factor.
func (b Box) Scale(factor float64) Box {
	return Box{X1: b.X1 * factor, Y1: b.Y1 * factor, X2: b.X2 * factor, Y2: b.Y2 * factor}
}

// FlipHorizontal mirrors the box inside an image of the given width.
//
// Each x coordinate becomes width - x - 1. X1 and X2 are mirrored in place and
// are not swapped, so the mirrored box keeps the coordinate order produced by
// the formula even when that leaves X1 > X2.
//
// Arguments:
//   - width: The width in pixels of the image containing the box.
//
// Returns:
//   - Box: The mirrored box.
func (b Box) FlipHorizontal(width int) Box {
	w := float64(width)
	return Box{X1: w - b.X1 - 1, Y1: b.Y1, X2: w - b.X2 - 1, Y2: b.Y2}
}

func (b Box) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f, %.1f)", b.X1, b.Y1, b.X2, b.Y2)
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// IoU = Area of Intersection / Area of Union, using the inclusive-pixel
// convention for both the intersection extent and the areas:
//
//	dx = max(0, min(r.X2, o.X2) - max(r.X1, o.X1) + 1)
//	dy = max(0, min(r.Y2, o.Y2) - max(r.Y1, o.Y1) + 1)
//	IoU = dx*dy / (area(r) + area(o) - dx*dy)
//
// Degenerate boxes are not rejected. Because of the +1 terms a well-formed
// pair never produces a zero denominator.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float64: The IoU score, 1.0 for identical boxes and 0.0 for disjoint ones.
//
// Example Usage:
// ```go
//
//	gt := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	proposal := Box{X1: 1, Y1: 1, X2: 9, Y2: 9}
//
//	iou := CalculateIoU(proposal, gt) // 81 / 121 ≈ 0.669
//
// ```
func CalculateIoU(r, o Box) float64 {
	dx := max(min(r.X2, o.X2)-max(r.X1, o.X1)+1, 0)
	dy := max(min(r.Y2, o.Y2)-max(r.Y1, o.Y1)+1, 0)
	inter := dx * dy

	return inter / (r.Area() + o.Area() - inter)
}
