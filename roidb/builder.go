package roidb

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models"
	"github.com/nvr-ai/go-frcnn/util"
)

// ErrEmptyImageList is returned when there are no images to build from.
var ErrEmptyImageList = errors.New("image list is empty")

// Sizer reports the dimensions of an image file. images.Preparer
// implementations satisfy it.
type Sizer interface {
	Size(path string) (width, height int, err error)
}

// Options configures Build.
type Options struct {
	// ImageIDs lists the images in database order.
	ImageIDs []string
	// Vocabulary maps labels to class indices.
	Vocabulary *models.Vocabulary
	// Annotations provides ground truth per image.
	Annotations AnnotationSource
	// Proposals provides region proposals in ImageIDs order.
	Proposals ProposalSource
	// Sizer reads image dimensions. Required when UseFlipped is set.
	Sizer Sizer
	// ImageDir and ImageExt locate <ImageDir>/<id><ImageExt>.
	ImageDir string
	ImageExt string
	// UseFlipped appends a mirrored copy of every record.
	UseFlipped bool
	// BBoxReg enables target encoding and normalization.
	BBoxReg bool
	// BBoxThresh is the minimum overlap of a regression example.
	BBoxThresh float64
	// StatsPath receives the statistics table when non-empty.
	StatsPath string
	// Logger receives progress messages. Defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Build constructs the ROI database.
//
// Ground-truth boxes are prepended to each image's proposals, every box is
// matched to its best ground truth, mirrored records are appended after all
// originals, then targets are encoded and normalized by class.
//
// Arguments:
//   - opts: The build options.
//
// Returns:
//   - *Database: The finalized database.
//   - error: ErrEmptyImageList, models.ErrEmptyVocabulary,
//     ErrProposalCountMismatch, or an I/O error from one of the sources.
func Build(opts Options) (*Database, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(opts.ImageIDs) == 0 {
		return nil, ErrEmptyImageList
	}
	if opts.Vocabulary == nil || opts.Vocabulary.Len() == 0 {
		return nil, models.ErrEmptyVocabulary
	}
	if opts.UseFlipped && opts.Sizer == nil {
		return nil, errors.New("flip augmentation requires an image sizer")
	}

	log.Info("Parse annotation files")
	records := make([]*Record, len(opts.ImageIDs))
	for i, id := range opts.ImageIDs {
		rec, err := groundTruth(id, opts, log)
		if err != nil {
			return nil, err
		}
		rec.Path = util.ImagePath(opts.ImageDir, id, opts.ImageExt)
		records[i] = rec
	}

	log.Info("Parse object proposals")
	proposals, err := opts.Proposals.Proposals()
	if err != nil {
		return nil, errors.Wrap(err, "cannot load proposals")
	}
	if len(proposals) != len(records) {
		return nil, errors.Wrapf(ErrProposalCountMismatch, "%d images, %d proposal sets", len(records), len(proposals))
	}

	log.Info("Compute overlaps")
	var wg sync.WaitGroup
	for i := range records {
		if records[i].Skipped {
			continue
		}
		wg.Add(1)
		go func(rec *Record, boxes []images.Box) {
			defer wg.Done()
			appendProposals(rec, boxes)
		}(records[i], proposals[i])
	}
	wg.Wait()

	if opts.UseFlipped {
		log.Info("Appending horizontally-flipped training examples")
		for _, rec := range records {
			w, h, err := opts.Sizer.Size(rec.Path)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot size image %s", rec.Image)
			}
			rec.Width, rec.Height = w, h
		}
		n := len(records)
		for i := 0; i < n; i++ {
			records = append(records, records[i].Mirror())
		}
	}

	db := &Database{Records: records, Vocabulary: opts.Vocabulary}

	if opts.BBoxReg {
		thresh := opts.BBoxThresh
		if thresh <= 0 {
			thresh = DefaultBBoxThresh
		}

		log.Info("Compute regression targets")
		encoded := EncodeTargets(db.Records, thresh)

		log.Info("Compute mean and stdev")
		db.Stats = ComputeStats(encoded, opts.Vocabulary.Len())
		db.Records = Normalize(encoded, db.Stats)

		if opts.StatsPath != "" {
			if err := db.Stats.Save(opts.StatsPath); err != nil {
				return nil, err
			}
			log.WithField("path", opts.StatsPath).Debug("Saved target statistics")
		}
	}

	log.Infof("Number of training examples: %d", db.Len())

	return db, nil
}

// groundTruth builds the ground-truth prefix of one record. An annotation
// whose labels and boxes disagree yields an empty record that also receives
// no proposals.
func groundTruth(id string, opts Options, log logrus.FieldLogger) (*Record, error) {
	rec := &Record{Image: id}

	objs, err := opts.Annotations.Objects(id)
	if errors.Is(err, ErrLabelBoxMismatch) {
		log.WithField("image", id).WithError(err).Warn("Skipping annotation")
		rec.Skipped = true
		return rec, nil
	}
	if err != nil {
		return nil, err
	}

	rec.NumGT = len(objs)
	for j, obj := range objs {
		cls, ok := opts.Vocabulary.Index(obj.Label)
		if !ok {
			log.WithFields(logrus.Fields{"image": id, "label": obj.Label}).Warn("Unknown label mapped to background")
			cls = models.BackgroundIndex
		}
		rec.Boxes = append(rec.Boxes, obj.Box)
		rec.GTClasses = append(rec.GTClasses, cls)
		rec.Overlaps = append(rec.Overlaps, Overlap{GTIndex: j, Class: cls, IoU: 1})
	}

	return rec, nil
}

// appendProposals matches every proposal to its best ground truth and appends
// it after the ground-truth prefix.
func appendProposals(rec *Record, proposals []images.Box) {
	overlaps := images.Overlaps(proposals, rec.Boxes[:rec.NumGT])

	for j, box := range proposals {
		ov := Overlap{}
		if overlaps != nil {
			idx, iou := images.ArgMaxRow(overlaps, j)
			ov.GTIndex = idx
			ov.IoU = iou
			if iou > 0 {
				ov.Class = rec.GTClasses[idx]
			}
		}
		rec.Boxes = append(rec.Boxes, box)
		rec.GTClasses = append(rec.GTClasses, 0)
		rec.Overlaps = append(rec.Overlaps, ov)
	}
}
