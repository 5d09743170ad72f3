// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"
	"sync"

	"github.com/nvr-ai/go-frcnn/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold  float64 // Overlap threshold for suppression, exclusive.
	ConfThreshold float32 // Candidates scoring below this are dropped first.
	ClassAware    bool    // If true, suppress only within same class.
	NumWorkers    int     // Number of goroutines running per-class suppression.
}

// Suppress runs greedy Non-Maximum Suppression over the scored boxes of one
// class.
//
// Boxes are visited by descending score; equal scores keep their input order.
// Each visited box that survives is kept, and every remaining box whose IoU
// with it is strictly greater than threshold is removed. A box overlapping a
// kept box by exactly threshold survives.
//
// Arguments:
//   - boxes: The candidate boxes.
//   - scores: One score per box.
//   - threshold: IoU above which a lower-scored box is suppressed.
//
// Returns:
//   - []int: Indices into boxes in selection order, highest score first.
func Suppress(boxes []images.Box, scores []float32, threshold float64) []int {
	n := len(boxes)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	removed := make([]bool, n)
	keep := make([]int, 0, n)
	for oi, i := range order {
		if removed[oi] {
			continue
		}
		keep = append(keep, i)
		for oj := oi + 1; oj < n; oj++ {
			if removed[oj] {
				continue
			}
			if images.CalculateIoU(boxes[i], boxes[order[oj]]) > threshold {
				removed[oj] = true
			}
		}
	}

	return keep
}

// MergeClass selects the final detections of one class.
//
// Candidates scoring below confThreshold are dropped, the rest are suppressed
// with Suppress, and the survivors are returned as indices into the input.
//
// Arguments:
//   - boxes: Per-ROI boxes decoded for the class.
//   - scores: Per-ROI class scores.
//   - confThreshold: Minimum score of a candidate.
//   - nmsThreshold: IoU above which a candidate is suppressed.
//
// Returns:
//   - []int: Kept ROI indices, highest score first.
func MergeClass(boxes []images.Box, scores []float32, confThreshold float32, nmsThreshold float64) []int {
	candidates := make([]int, 0, len(scores))
	for i, s := range scores {
		if s < confThreshold {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil
	}

	cb := make([]images.Box, len(candidates))
	cs := make([]float32, len(candidates))
	for k, i := range candidates {
		cb[k] = boxes[i]
		cs[k] = scores[i]
	}

	kept := Suppress(cb, cs, nmsThreshold)
	for k, idx := range kept {
		kept[k] = candidates[idx]
	}

	return kept
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression over
// results of any class.
//
// Arguments:
//   - detections: Slice of detections in any order.
//   - config: NMS configuration. ClassAware restricts suppression to results
//     sharing a class.
//
// Returns:
//   - Filtered slice of detections, highest score first.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := make([]Result, 0, n)
	for _, d := range detections {
		if d.Score < config.ConfThreshold {
			continue
		}
		sorted = append(sorted, d)
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Score > sorted[b].Score
	})

	filtered := make([]Result, 0, len(sorted))
	used := make([]bool, len(sorted))

	for i := range sorted {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < len(sorted); j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Class != sorted[j].Class {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, sorted[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// ApplyNMS filters detections class by class, running the classes on a pool
// of config.NumWorkers goroutines. Classes never suppress each other.
//
// Arguments:
//   - detections: Slice of detections in any order.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections ordered by class, then by descending score.
//     If no detections are provided, returns nil.
func ApplyNMS(detections []Result, config *NMSConfig) []Result {
	if len(detections) == 0 {
		return nil
	}

	byClass := make(map[int][]Result)
	classes := make([]int, 0)
	for _, d := range detections {
		if _, ok := byClass[d.Class]; !ok {
			classes = append(classes, d.Class)
		}
		byClass[d.Class] = append(byClass[d.Class], d)
	}
	sort.Ints(classes)

	workers := config.NumWorkers
	if workers < 1 {
		workers = 1
	}

	perClass := make([][]Result, len(classes))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				group := byClass[classes[k]]
				boxes := make([]images.Box, len(group))
				scores := make([]float32, len(group))
				for i, d := range group {
					boxes[i] = d.Box
					scores[i] = d.Score
				}
				kept := MergeClass(boxes, scores, config.ConfThreshold, config.IoUThreshold)
				out := make([]Result, len(kept))
				for i, idx := range kept {
					out[i] = group[idx]
				}
				perClass[k] = out
			}
		}()
	}

	for k := range classes {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	filtered := make([]Result, 0, len(detections))
	for _, group := range perClass {
		filtered = append(filtered, group...)
	}

	return filtered
}
