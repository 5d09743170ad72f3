package roidb

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	records := []*Record{{
		Targets: []Target{
			{Class: 1, Delta: [4]float64{1, 2, 3, 4}, Example: true},
			{Class: 1, Delta: [4]float64{3, 2, 1, 0}, Example: true},
			{Class: 0, Delta: [4]float64{100, 100, 100, 100}, Example: true},
			{Class: 2, Delta: [4]float64{9, 9, 9, 9}},
		},
	}}

	s := ComputeStats(records, 3)
	assert.Equal(t, []int{0, 2, 0}, s.Counts)
	assert.Equal(t, [4]float64{2, 2, 2, 2}, s.Means[1])
	assert.InDelta(t, 1, s.Stds[1][0], 1e-7)
	assert.InDelta(t, math.Sqrt(EPS), s.Stds[1][1], 1e-12)

	for _, c := range []int{0, 2} {
		assert.Equal(t, [4]float64{}, s.Means[c])
		for k := 0; k < 4; k++ {
			assert.Equal(t, math.Sqrt(EPS), s.Stds[c][k])
		}
	}
}

func TestNormalize_RoundTrip(t *testing.T) {
	encoded := EncodeTargets(sampleRecords(), 0.5)
	s := ComputeStats(encoded, 3)
	normalized := Normalize(encoded, s)

	for i, rec := range normalized {
		for j, tg := range rec.Targets {
			raw := encoded[i].Targets[j]
			if !raw.Example || raw.Class <= 0 {
				assert.Equal(t, raw, tg)
				continue
			}
			back := s.Denormalize(tg.Class, tg.Delta)
			assert.InDeltaSlice(t, raw.Delta[:], back[:], 1e-9)
		}
	}

	// Normalized examples of a class have zero mean.
	var sum [4]float64
	var n float64
	for _, rec := range normalized {
		for _, tg := range rec.Targets {
			if tg.Example && tg.Class == 1 {
				for k := range sum {
					sum[k] += tg.Delta[k]
				}
				n++
			}
		}
	}
	require.Equal(t, float64(s.Counts[1]), n)
	for k := range sum {
		assert.InDelta(t, 0, sum[k]/n, 1e-9)
	}
}

func TestDenormalize_Background(t *testing.T) {
	s := &Stats{Means: make([][4]float64, 2), Stds: [][4]float64{{2, 2, 2, 2}, {2, 2, 2, 2}}}
	d := [4]float64{1, 1, 1, 1}
	assert.Equal(t, d, s.Denormalize(0, d))
	assert.Equal(t, d, s.Denormalize(5, d))
	assert.Equal(t, [4]float64{2, 2, 2, 2}, s.Denormalize(1, d))
}

func TestStats_WriteRead(t *testing.T) {
	s := &Stats{
		Means: [][4]float64{{}, {0.1, -0.2, 0.3, -0.4}},
		Stds:  [][4]float64{{1, 1, 1, 1}, {0.5, 0.6, 0.7, 0.8}},
	}

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf))
	assert.Equal(t, 4+2*8*8, buf.Len())
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf.Bytes()[:4]))
	assert.Equal(t, 0.1, math.Float64frombits(binary.LittleEndian.Uint64(buf.Bytes()[4+64:])))
	assert.Equal(t, 0.5, math.Float64frombits(binary.LittleEndian.Uint64(buf.Bytes()[4+64+32:])))

	got, err := ReadStats(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, s.Means, got.Means)
	assert.Equal(t, s.Stds, got.Stds)

	_, err = ReadStats(bytes.NewReader(buf.Bytes()[:10]))
	assert.Error(t, err)
}
