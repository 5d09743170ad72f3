package detector

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models"
	"github.com/nvr-ai/go-frcnn/roidb"
)

type fakePreparer struct {
	width, height int
}

func (f fakePreparer) Prepare(_ string, _ bool, target int) (*images.Prepared, error) {
	scale := images.ScaleFactor(f.width, f.height, target, 1000)
	w, h := images.ScaledSize(f.width, f.height, scale)
	return &images.Prepared{Data: make([]float32, w*h*images.Channels), Width: w, Height: h, Scale: scale}, nil
}

func (f fakePreparer) Size(string) (int, int, error) {
	return f.width, f.height, nil
}

// fakeRunner returns zero deltas and fixed per-ROI probabilities, and keeps
// the blobs it was given.
type fakeRunner struct {
	probs  []float32
	images *tensor.Dense
	rois   *tensor.Dense
	err    error
}

func (f *fakeRunner) Run(_ context.Context, images, rois *tensor.Dense) (*Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.images, f.rois = images, rois
	return &Output{Deltas: make([]float32, len(f.probs)*4), Probs: f.probs}, nil
}

func vocabulary(t *testing.T) *models.Vocabulary {
	t.Helper()
	v, err := models.NewVocabulary([]string{"__background__", "cat", "dog"})
	require.NoError(t, err)
	return v
}

func TestDetect(t *testing.T) {
	proposals := []images.Box{
		{X1: 10, Y1: 10, X2: 109, Y2: 109},
		{X1: 12, Y1: 12, X2: 111, Y2: 111},
		{X1: 200, Y1: 100, X2: 299, Y2: 199},
		{X1: 0, Y1: 0, X2: 9, Y2: 9},
	}
	runner := &fakeRunner{probs: []float32{
		0.05, 0.90, 0.05,
		0.05, 0.85, 0.10,
		0.10, 0.05, 0.85,
		0.00, 0.95, 0.05,
	}}
	logger, _ := test.NewNullLogger()

	d, err := New(Options{
		Deploy:     config.Default().Deploy,
		Preparer:   fakePreparer{width: 400, height: 300},
		Runner:     runner,
		Vocabulary: vocabulary(t),
		Logger:     logger,
	})
	require.NoError(t, err)

	results, err := d.Detect(context.Background(), "img.jpg", proposals)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The overlapping cat proposal is suppressed and the tiny one is rejected
	// by the minimum box size.
	assert.Equal(t, 1, results[0].Class)
	assert.Equal(t, 0, results[0].ROI)
	assert.Equal(t, float32(0.90), results[0].Score)
	assert.Equal(t, images.Box{X1: 9, Y1: 9, X2: 109, Y2: 109}, results[0].Box)

	assert.Equal(t, 2, results[1].Class)
	assert.Equal(t, 2, results[1].ROI)

	assert.Equal(t, []int{1, images.Channels, 600, 800}, []int(runner.images.Shape()))
	assert.Equal(t, []int{4, 5}, []int(runner.rois.Shape()))
	roi := runner.rois.Data().([]float32)
	assert.Equal(t, []float32{0, 20, 20, 218, 218}, roi[:5])
}

func TestDetect_Errors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(Options{Preparer: fakePreparer{}, Vocabulary: vocabulary(t)})
	assert.Error(t, err)

	_, err = New(Options{Preparer: fakePreparer{}, Runner: &fakeRunner{}, Vocabulary: &models.Vocabulary{}})
	assert.True(t, errors.Is(err, models.ErrEmptyVocabulary))

	d, err := New(Options{
		Deploy:     config.Default().Deploy,
		Preparer:   fakePreparer{width: 100, height: 100},
		Runner:     &fakeRunner{err: errors.New("boom")},
		Vocabulary: vocabulary(t),
		Logger:     logger,
	})
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), "img.jpg", []images.Box{{X1: 0, Y1: 0, X2: 50, Y2: 50}})
	assert.Error(t, err)

	results, err := d.Detect(context.Background(), "img.jpg", nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestDetect_Cancelled(t *testing.T) {
	runner := &fakeRunner{probs: []float32{0, 1, 0}}
	d, err := New(Options{
		Deploy:     config.Default().Deploy,
		Preparer:   fakePreparer{width: 100, height: 100},
		Runner:     runner,
		Vocabulary: vocabulary(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.Detect(ctx, "img.jpg", []images.Box{{X1: 0, Y1: 0, X2: 50, Y2: 50}})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, runner.images)
}

func TestDetect_Denormalize(t *testing.T) {
	stats := &roidb.Stats{
		Means: [][4]float64{{}, {0.5, 0, 0, 0}, {}},
		Stds:  [][4]float64{{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}},
	}
	logger, _ := test.NewNullLogger()

	d, err := New(Options{
		Deploy:     config.Default().Deploy,
		Preparer:   fakePreparer{width: 400, height: 300},
		Runner:     &fakeRunner{probs: []float32{0, 1, 0}},
		Vocabulary: vocabulary(t),
		Stats:      stats,
		Logger:     logger,
	})
	require.NoError(t, err)

	results, err := d.Detect(context.Background(), "img.jpg", []images.Box{{X1: 10, Y1: 10, X2: 109, Y2: 109}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	// A zero prediction de-normalizes to a half-width shift to the right.
	assert.Equal(t, images.Box{X1: 59, Y1: 9, X2: 159, Y2: 109}, results[0].Box)
}

func TestROIBlob(t *testing.T) {
	boxes := []images.Box{
		{X1: 0, Y1: 0, X2: 99, Y2: 99},
		{X1: 0, Y1: 0, X2: 449, Y2: 449},
	}

	single := ROIBlob(boxes, []float64{2}).Data().([]float32)
	assert.Equal(t, []float32{0, 0, 0, 198, 198, 0, 0, 0, 898, 898}, single)

	// A 100x100 box lands on scale 2 and a 450x450 box on scale 0.5.
	multi := ROIBlob(boxes, []float64{0.5, 1, 2}).Data().([]float32)
	assert.Equal(t, []float32{2, 0, 0, 198, 198}, multi[:5])
	assert.Equal(t, []float32{0, 0, 0, 224.5, 224.5}, multi[5:])
}
