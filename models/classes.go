// Package models - Class vocabularies for region-based detectors.
package models

import (
	"fmt"

	"github.com/nvr-ai/go-frcnn/util"
	"github.com/pkg/errors"
)

// BackgroundIndex is the class index reserved for background.
const BackgroundIndex = 0

// ErrEmptyVocabulary is returned when a vocabulary has no classes.
var ErrEmptyVocabulary = errors.New("classes list is empty")

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index used by the detector.
	Index int
	// The human-readable label.
	Name string
}

// Vocabulary maps class names to indices and back. The order of the names
// defines the indices; index 0 is background.
type Vocabulary struct {
	// Classes that are supported and mappable.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewVocabulary builds both directions of the label/index map.
//
// Arguments:
// - names: Class names in index order, background first.
//
// Returns:
// - *Vocabulary: The vocabulary.
// - error: ErrEmptyVocabulary if names is empty.
func NewVocabulary(names []string) (*Vocabulary, error) {
	if len(names) == 0 {
		return nil, ErrEmptyVocabulary
	}

	v := &Vocabulary{
		Classes:   make([]OutputClass, len(names)),
		nameToIdx: make(map[string]int, len(names)),
	}
	for i, name := range names {
		v.Classes[i] = OutputClass{Index: i, Name: name}
		v.nameToIdx[name] = i
	}

	return v, nil
}

// LoadVocabulary reads a vocabulary file with one class name per line.
func LoadVocabulary(path string) (*Vocabulary, error) {
	names, err := util.LoadLines(path)
	if err != nil {
		return nil, err
	}
	v, err := NewVocabulary(names)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return v, nil
}

// Len returns the number of classes including background.
func (v *Vocabulary) Len() int {
	return len(v.Classes)
}

// Index returns the class index for name.
func (v *Vocabulary) Index(name string) (int, bool) {
	idx, ok := v.nameToIdx[name]
	return idx, ok
}

// Name returns the class name for an index.
func (v *Vocabulary) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(v.Classes) {
		return "", fmt.Errorf("index %d out of range for %d classes", idx, len(v.Classes))
	}
	return v.Classes[idx].Name, nil
}

// PascalVOCClasses is the 20 Pascal VOC classes + "__background__" at index 0.
var PascalVOCClasses = []string{
	"__background__",
	"aeroplane",
	"bicycle",
	"bird",
	"boat",
	"bottle",
	"bus",
	"car",
	"cat",
	"chair",
	"cow",
	"diningtable",
	"dog",
	"horse",
	"motorbike",
	"person",
	"pottedplant",
	"sheep",
	"sofa",
	"train",
	"tvmonitor",
}
