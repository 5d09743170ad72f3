// Package roidb - Region-of-interest database construction for Fast R-CNN training.
//
// A Database holds one Record per image, plus one mirrored Record per image when
// flip augmentation is enabled. Each Record lists the ground-truth boxes first,
// followed by the region proposals, and carries for every box its best
// ground-truth match and regression target.
package roidb

import (
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models"
)

// Overlap is the best ground-truth match of one box.
type Overlap struct {
	// GTIndex is the arg-max ground-truth column, kept even when IoU is 0.
	GTIndex int
	// Class is the class of the matched ground truth, 0 when IoU is 0.
	Class int
	// IoU is the overlap with the matched ground truth.
	IoU float64
}

// Target is the regression target of one box.
type Target struct {
	// Class is the assigned class of the example.
	Class int
	// Delta is (dx, dy, dw, dh).
	Delta [4]float64
	// Example is false for boxes whose overlap is below the example threshold.
	Example bool
}

// Record is the database entry of one image or one mirrored image.
type Record struct {
	// Image is the image identifier from the image list.
	Image string
	// Path is the image file path.
	Path string
	// Width and Height are the original image dimensions, 0 when unknown.
	Width, Height int
	// Boxes lists the NumGT ground-truth boxes followed by the proposals.
	Boxes []images.Box
	// GTClasses holds the ground-truth classes, zero-padded to len(Boxes).
	GTClasses []int
	// NumGT is the number of ground-truth boxes at the front of Boxes.
	NumGT int
	// Overlaps holds one entry per box.
	Overlaps []Overlap
	// Targets holds one entry per box once targets are encoded.
	Targets []Target
	// Flipped marks a horizontally mirrored record.
	Flipped bool
	// Skipped marks a record whose annotation was unusable.
	Skipped bool
}

// Len returns the number of boxes in the record.
func (r *Record) Len() int {
	return len(r.Boxes)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Boxes = append([]images.Box(nil), r.Boxes...)
	c.GTClasses = append([]int(nil), r.GTClasses...)
	c.Overlaps = append([]Overlap(nil), r.Overlaps...)
	if r.Targets != nil {
		c.Targets = append([]Target(nil), r.Targets...)
	}
	return &c
}

// Mirror returns a horizontally flipped copy of the record.
func (r *Record) Mirror() *Record {
	m := r.Clone()
	m.Flipped = !r.Flipped
	for i, b := range m.Boxes {
		m.Boxes[i] = b.FlipHorizontal(r.Width)
	}
	return m
}

// Database is the finalized ROI database. It is immutable once built and
// safe to share between samplers.
type Database struct {
	Records    []*Record
	Vocabulary *models.Vocabulary
	// Stats are the per-class target statistics used for normalization,
	// nil when regression targets were not computed.
	Stats *Stats
}

// Len returns the number of records.
func (db *Database) Len() int {
	return len(db.Records)
}

// NumClasses returns the number of classes including background.
func (db *Database) NumClasses() int {
	return db.Vocabulary.Len()
}
