package roidb

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// StatsFile is the name of the persisted statistics table inside the cache
// directory.
const StatsFile = "mean_std.txt"

// Stats holds per-class mean and standard deviation of regression targets.
// Index 0 is background and is never accumulated.
type Stats struct {
	Counts []int
	Means  [][4]float64
	Stds   [][4]float64
}

// NumClasses returns the number of classes in the table.
func (s *Stats) NumClasses() int {
	return len(s.Means)
}

// ComputeStats accumulates the targets of every example with class > 0.
//
// mean = sum/count and std = sqrt(sumsq/count - mean^2 + EPS). Classes without
// examples get mean 0 and std sqrt(EPS).
//
// Arguments:
//   - records: Records with encoded targets.
//   - numClasses: The number of classes including background.
//
// Returns:
//   - *Stats: The per-class statistics.
func ComputeStats(records []*Record, numClasses int) *Stats {
	s := &Stats{
		Counts: make([]int, numClasses),
		Means:  make([][4]float64, numClasses),
		Stds:   make([][4]float64, numClasses),
	}
	sums := make([][]float64, numClasses)
	squares := make([][]float64, numClasses)
	for c := range sums {
		sums[c] = make([]float64, 4)
		squares[c] = make([]float64, 4)
	}

	sq := make([]float64, 4)
	for _, rec := range records {
		for _, t := range rec.Targets {
			if !t.Example || t.Class <= 0 || t.Class >= numClasses {
				continue
			}
			d := t.Delta[:]
			s.Counts[t.Class]++
			floats.Add(sums[t.Class], d)
			floats.MulTo(sq, d, d)
			floats.Add(squares[t.Class], sq)
		}
	}

	for c := 0; c < numClasses; c++ {
		for k := 0; k < 4; k++ {
			var mean, variance float64
			if n := float64(s.Counts[c]); n > 0 {
				mean = sums[c][k] / n
				variance = squares[c][k]/n - mean*mean
			}
			s.Means[c][k] = mean
			s.Stds[c][k] = math.Sqrt(variance + EPS)
		}
	}

	return s
}

// Normalize returns copies of records whose example targets are replaced by
// (delta - mean) / std of their class. Non-examples and targets with
// class <= 0 are copied unchanged.
func Normalize(records []*Record, s *Stats) []*Record {
	out := make([]*Record, len(records))
	for i, rec := range records {
		norm := rec.Clone()
		for j, t := range norm.Targets {
			if !t.Example || t.Class <= 0 || t.Class >= s.NumClasses() {
				continue
			}
			for k := 0; k < 4; k++ {
				t.Delta[k] = (t.Delta[k] - s.Means[t.Class][k]) / s.Stds[t.Class][k]
			}
			norm.Targets[j] = t
		}
		out[i] = norm
	}

	return out
}

// Denormalize maps a normalized delta of class c back to target space.
func (s *Stats) Denormalize(c int, delta [4]float64) [4]float64 {
	if c <= 0 || c >= s.NumClasses() {
		return delta
	}
	for k := 0; k < 4; k++ {
		delta[k] = delta[k]*s.Stds[c][k] + s.Means[c][k]
	}
	return delta
}

// Write encodes the table as little-endian int32 numClasses followed, per
// class, by 4 float64 means and 4 float64 stds.
func (s *Stats) Write(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, int32(s.NumClasses())); err != nil {
		return errors.Wrap(err, "cannot write class count")
	}
	for c := 0; c < s.NumClasses(); c++ {
		if err := binary.Write(w, binary.LittleEndian, s.Means[c]); err != nil {
			return errors.Wrapf(err, "cannot write means of class %d", c)
		}
		if err := binary.Write(w, binary.LittleEndian, s.Stds[c]); err != nil {
			return errors.Wrapf(err, "cannot write stds of class %d", c)
		}
	}
	return nil
}

// Save writes the table to path, creating its directory.
func (s *Stats) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "cannot create cache directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "cannot create stats file")
	}

	bw := bufio.NewWriter(f)
	if err := s.Write(bw); err != nil {
		f.Close()
		return errors.Wrap(err, path)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, path)
	}

	return errors.Wrap(f.Close(), path)
}

// ReadStats decodes a table written by Write. Counts are not persisted and
// are left nil.
func ReadStats(r io.Reader) (*Stats, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errors.Wrap(err, "cannot read class count")
	}
	if n < 0 {
		return nil, errors.Errorf("invalid class count %d", n)
	}

	s := &Stats{
		Means: make([][4]float64, n),
		Stds:  make([][4]float64, n),
	}
	for c := 0; c < int(n); c++ {
		if err := binary.Read(r, binary.LittleEndian, &s.Means[c]); err != nil {
			return nil, errors.Wrapf(err, "cannot read means of class %d", c)
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Stds[c]); err != nil {
			return nil, errors.Wrapf(err, "cannot read stds of class %d", c)
		}
	}

	return s, nil
}

// LoadStats reads the table at path.
func LoadStats(path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open stats file")
	}
	defer f.Close()

	s, err := ReadStats(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return s, nil
}
