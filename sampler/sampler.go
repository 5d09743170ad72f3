// Package sampler - Minibatch sampling over a ROI database.
package sampler

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/roidb"
)

// ErrNotEnoughRecords is returned when the database holds fewer records than
// one batch needs.
var ErrNotEnoughRecords = errors.New("database has fewer records than ims_per_batch")

// Options configures a Sampler.
type Options struct {
	// Train holds the sampling parameters.
	Train config.Train
	// Seed seeds the sampler's generator.
	Seed uint64
	// Preparer loads and resizes images. When nil, batches carry no image blob.
	Preparer images.Preparer
	// Logger defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Sampler draws minibatches from a database. It owns the permutation, the
// cursor and the generator; Next is safe for concurrent use.
type Sampler struct {
	db       *roidb.Database
	train    config.Train
	preparer images.Preparer
	log      logrus.FieldLogger

	roisPerImage int
	fgPerImage   int

	mu     sync.Mutex
	rng    *rand.Rand
	perm   []int
	cursor int
}

// New creates a sampler over db.
//
// Arguments:
//   - db: The ROI database, shared read-only.
//   - opts: The sampler options.
//
// Returns:
//   - *Sampler: The sampler, with a freshly shuffled permutation.
//   - error: config.ErrBatchSizing or ErrNotEnoughRecords.
func New(db *roidb.Database, opts Options) (*Sampler, error) {
	t := opts.Train
	if t.ImsPerBatch <= 0 || t.BatchSize <= 0 || t.BatchSize%t.ImsPerBatch != 0 {
		return nil, errors.Wrapf(config.ErrBatchSizing, "batch_size=%d ims_per_batch=%d", t.BatchSize, t.ImsPerBatch)
	}
	if len(t.Scales) == 0 {
		return nil, errors.New("no training scales")
	}
	if db.Len() < t.ImsPerBatch {
		return nil, errors.Wrapf(ErrNotEnoughRecords, "%d records, %d per batch", db.Len(), t.ImsPerBatch)
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	rois := t.RoisPerImage()
	s := &Sampler{
		db:           db,
		train:        t,
		preparer:     opts.Preparer,
		log:          log,
		roisPerImage: rois,
		fgPerImage:   int(math.Round(t.FGFraction * float64(rois))),
		rng:          rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
		perm:         make([]int, db.Len()),
	}
	for i := range s.perm {
		s.perm[i] = i
	}
	s.shuffle()

	return s, nil
}

// RoisPerImage returns the number of batch rows reserved for each image.
func (s *Sampler) RoisPerImage() int {
	return s.roisPerImage
}

// FGPerImage returns the foreground row quota of each image.
func (s *Sampler) FGPerImage() int {
	return s.fgPerImage
}

func (s *Sampler) shuffle() {
	s.rng.Shuffle(len(s.perm), func(i, j int) {
		s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
	})
	s.cursor = 0
}

type draw struct {
	indices []int
	scales  []int
	seed    uint64
}

// nextDraw takes everything the batch needs from the shared state.
func (s *Sampler) nextDraw() draw {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.train.ImsPerBatch
	if s.cursor+n >= len(s.perm) {
		s.log.WithField("records", len(s.perm)).Debug("Reshuffling database permutation")
		s.shuffle()
	}

	d := draw{
		indices: append([]int(nil), s.perm[s.cursor:s.cursor+n]...),
		scales:  make([]int, n),
	}
	s.cursor += n
	for i := range d.scales {
		d.scales[i] = s.train.Scales[s.rng.IntN(len(s.train.Scales))]
	}
	d.seed = s.rng.Uint64()

	return d
}

// NextIndices returns the database indices of the next batch and advances
// the cursor.
func (s *Sampler) NextIndices() []int {
	return s.nextDraw().indices
}

// Next draws and builds the next minibatch.
//
// Arguments:
//   - ctx: Cancels image preparation.
//
// Returns:
//   - *Batch: The batch.
//   - error: An error if an image cannot be prepared.
func (s *Sampler) Next(ctx context.Context) (*Batch, error) {
	d := s.nextDraw()
	rng := rand.New(rand.NewPCG(d.seed, d.seed))

	prepared, err := s.prepare(ctx, d)
	if err != nil {
		return nil, err
	}

	b := newBatch(d.indices, s.db.NumClasses(), s.roisPerImage)
	for k, idx := range d.indices {
		scale := 1.0
		if prepared != nil {
			scale = prepared[k].Scale
		}
		b.Scales[k] = scale

		fg, bg := SampleROIs(s.db.Records[idx], s.train, s.fgPerImage, rng)
		b.fill(k, s.db.Records[idx], fg, bg, scale)
	}

	if prepared != nil {
		b.Height, b.Width = images.CanvasSize(prepared)
		blob, err := images.BuildBlob(prepared)
		if err != nil {
			return nil, err
		}
		b.Images = blob
	}

	return b, nil
}

// prepare loads the batch images concurrently.
func (s *Sampler) prepare(ctx context.Context, d draw) ([]*images.Prepared, error) {
	if s.preparer == nil {
		return nil, nil
	}

	prepared := make([]*images.Prepared, len(d.indices))
	errs := make([]error, len(d.indices))

	var wg sync.WaitGroup
	for k, idx := range d.indices {
		wg.Add(1)
		go func(k int, rec *roidb.Record, target int) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[k] = err
				return
			}
			p, err := s.preparer.Prepare(rec.Path, rec.Flipped, target)
			if err != nil {
				errs[k] = errors.Wrapf(err, "cannot prepare image %s", rec.Image)
				return
			}
			prepared[k] = p
		}(k, s.db.Records[idx], d.scales[k])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return prepared, nil
}

// SampleROIs picks the foreground and background boxes of one record.
//
// Foreground boxes overlap a ground truth by at least FGThresh; background
// boxes lie in [BGThreshLo, BGThreshHi). Both pools are shuffled, then up to
// fgPerImage foreground boxes and up to RoisPerImage minus that many
// background boxes are taken.
//
// Arguments:
//   - rec: The record.
//   - t: The training parameters.
//   - fgPerImage: The foreground quota.
//   - rng: The generator used for shuffling.
//
// Returns:
//   - fg: Foreground box indices.
//   - bg: Background box indices.
func SampleROIs(rec *roidb.Record, t config.Train, fgPerImage int, rng *rand.Rand) (fg, bg []int) {
	// The pools overlap when FGThresh < BGThreshHi.
	for i, ov := range rec.Overlaps {
		if ov.IoU >= t.FGThresh {
			fg = append(fg, i)
		}
		if ov.IoU >= t.BGThreshLo && ov.IoU < t.BGThreshHi {
			bg = append(bg, i)
		}
	}

	rng.Shuffle(len(fg), func(i, j int) { fg[i], fg[j] = fg[j], fg[i] })
	rng.Shuffle(len(bg), func(i, j int) { bg[i], bg[j] = bg[j], bg[i] })

	fgCount := min(len(fg), fgPerImage)
	bgCount := min(len(bg), t.RoisPerImage()-fgCount)

	return fg[:fgCount], bg[:max(bgCount, 0)]
}
