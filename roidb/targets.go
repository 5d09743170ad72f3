package roidb

import (
	"math"

	"github.com/nvr-ai/go-frcnn/images"
)

// EPS keeps box widths and heights away from zero in target encoding and
// keeps standard deviations positive.
const EPS = 2.220446049250313e-16

// DefaultBBoxThresh is the default minimum overlap of a regression example.
const DefaultBBoxThresh = 0.5

func center(b images.Box) (cx, cy, w, h float64) {
	w = b.X2 - b.X1 + EPS
	h = b.Y2 - b.Y1 + EPS
	return b.X1 + 0.5*w, b.Y1 + 0.5*h, w, h
}

// ComputeTarget returns (dx, dy, dw, dh) mapping the example box ex onto the
// ground-truth box gt.
func ComputeTarget(ex, gt images.Box) [4]float64 {
	ecx, ecy, ew, eh := center(ex)
	gcx, gcy, gw, gh := center(gt)

	return [4]float64{
		(gcx - ecx) / ew,
		(gcy - ecy) / eh,
		math.Log(gw / ew),
		math.Log(gh / eh),
	}
}

// ApplyDelta is the inverse of ComputeTarget: it returns the box reached by
// applying delta to ex.
func ApplyDelta(ex images.Box, delta [4]float64) images.Box {
	ecx, ecy, ew, eh := center(ex)
	w := math.Exp(delta[2]) * ew
	h := math.Exp(delta[3]) * eh
	cx := delta[0]*ew + ecx
	cy := delta[1]*eh + ecy
	x1 := cx - 0.5*w
	y1 := cy - 0.5*h

	return images.Box{X1: x1, Y1: y1, X2: x1 + w - EPS, Y2: y1 + h - EPS}
}

// EncodeTargets returns copies of records with Targets filled in.
//
// A box is an example when its best overlap is at least thresh; ground-truth
// boxes always qualify. Each example is encoded against the ground-truth box
// its overlap points at. Every other box gets a Target with Example unset.
//
// Arguments:
//   - records: The records to encode. They are not modified.
//   - thresh: The minimum overlap of an example.
//
// Returns:
//   - []*Record: The encoded records.
func EncodeTargets(records []*Record, thresh float64) []*Record {
	out := make([]*Record, len(records))
	for i, rec := range records {
		enc := rec.Clone()
		enc.Targets = make([]Target, len(enc.Boxes))
		for j, ov := range enc.Overlaps {
			if ov.IoU < thresh || ov.GTIndex >= enc.NumGT {
				continue
			}
			enc.Targets[j] = Target{
				Class:   ov.Class,
				Delta:   ComputeTarget(enc.Boxes[j], enc.Boxes[ov.GTIndex]),
				Example: true,
			}
		}
		out[i] = enc
	}

	return out
}
