package roidb

import (
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-frcnn/images"
)

// ErrLabelBoxMismatch is returned when an annotation has a different number
// of labels and boxes.
var ErrLabelBoxMismatch = errors.New("annotation label and box counts differ")

// Object is one annotated ground-truth object.
type Object struct {
	Label string
	Box   images.Box
}

// AnnotationSource returns the ground-truth objects of an image.
type AnnotationSource interface {
	Objects(image string) ([]Object, error)
}

// VOCAnnotations reads Pascal VOC annotations from <Dir>/<image>.xml.
type VOCAnnotations struct {
	Dir string
}

type vocBndBox struct {
	XMin float64 `xml:"xmin"`
	YMin float64 `xml:"ymin"`
	XMax float64 `xml:"xmax"`
	YMax float64 `xml:"ymax"`
}

type vocAnnotation struct {
	XMLName xml.Name `xml:"annotation"`
	Objects []struct {
		Name   *string    `xml:"name"`
		BndBox *vocBndBox `xml:"bndbox"`
	} `xml:"object"`
}

// Objects loads the objects of an image. VOC coordinates are 1-based and are
// shifted to 0-based.
//
// Arguments:
//   - image: The image identifier.
//
// Returns:
//   - []Object: The objects in document order.
//   - error: An error if the file cannot be read or parsed, or
//     ErrLabelBoxMismatch if an object lacks a name or a bndbox.
func (v VOCAnnotations) Objects(image string) ([]Object, error) {
	name := filepath.Join(v.Dir, image+".xml")
	fi, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open annotation")
	}
	defer fi.Close()

	var data vocAnnotation
	if err := xml.NewDecoder(fi).Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "cannot parse annotation %s", name)
	}

	var labels int
	var boxes int
	objs := make([]Object, 0, len(data.Objects))
	for _, raw := range data.Objects {
		if raw.Name != nil {
			labels++
		}
		if raw.BndBox != nil {
			boxes++
		}
		if raw.Name == nil || raw.BndBox == nil {
			continue
		}
		b := raw.BndBox
		objs = append(objs, Object{
			Label: *raw.Name,
			Box:   images.Box{X1: b.XMin - 1, Y1: b.YMin - 1, X2: b.XMax - 1, Y2: b.YMax - 1},
		})
	}
	if labels != boxes {
		return nil, errors.Wrapf(ErrLabelBoxMismatch, "%s: %d labels, %d boxes", name, labels, boxes)
	}

	return objs, nil
}
