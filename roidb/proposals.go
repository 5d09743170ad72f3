package roidb

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"

	"github.com/nvr-ai/go-frcnn/images"
)

// ErrProposalCountMismatch is returned when the proposal set and the image
// list have different lengths.
var ErrProposalCountMismatch = errors.New("dimensions do not match between ground truth and object proposal")

// ProposalSource returns the region proposals of every image, in image-list
// order.
type ProposalSource interface {
	Proposals() ([][]images.Box, error)
}

// StaticProposals is an in-memory ProposalSource.
type StaticProposals [][]images.Box

// Proposals returns the proposals.
func (s StaticProposals) Proposals() ([][]images.Box, error) {
	return s, nil
}

// NPZProposals reads proposals from a NumPy .npz archive.
//
// The archive holds one array per image named arr_<i>. Each array has N rows
// of (y1, x1, y2, x2) in 1-based pixel coordinates.
type NPZProposals struct {
	Path string
}

// Proposals loads every arr_<i> array until the archive runs out.
func (p NPZProposals) Proposals() ([][]images.Box, error) {
	r, err := npz.Open(p.Path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open proposal archive")
	}
	defer r.Close()

	keys := make(map[string]bool)
	for _, k := range r.Keys() {
		keys[k] = true
	}

	var out [][]images.Box
	for i := 0; ; i++ {
		key := fmt.Sprintf("arr_%d", i)
		if !keys[key] {
			if !keys[key+".npy"] {
				break
			}
			key += ".npy"
		}

		hdr := r.Header(key)
		if hdr == nil {
			return nil, errors.Errorf("%s: missing header for %s", p.Path, key)
		}
		shape := hdr.Descr.Shape
		n := 1
		for _, d := range shape {
			n *= d
		}
		if n == 0 {
			out = append(out, nil)
			continue
		}
		if n%4 != 0 || (len(shape) == 2 && shape[1] != 4) {
			return nil, errors.Errorf("%s: %s has shape %v, want Nx4", p.Path, key, shape)
		}

		var data []float64
		if err := r.Read(key, &data); err != nil {
			return nil, errors.Wrapf(err, "%s: cannot read %s", p.Path, key)
		}

		rows := n / 4
		at := func(row, col int) float64 {
			if hdr.Descr.Fortran {
				return data[col*rows+row]
			}
			return data[row*4+col]
		}

		boxes := make([]images.Box, rows)
		for j := range boxes {
			boxes[j] = images.Box{
				X1: at(j, 1) - 1,
				Y1: at(j, 0) - 1,
				X2: at(j, 3) - 1,
				Y2: at(j, 2) - 1,
			}
		}
		out = append(out, boxes)
	}

	if len(out) == 0 {
		return nil, errors.Errorf("%s: no arr_<i> arrays", p.Path)
	}

	return out, nil
}
