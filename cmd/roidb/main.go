package main

import (
	"context"
	"flag"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/images/cv"
	"github.com/nvr-ai/go-frcnn/models"
	"github.com/nvr-ai/go-frcnn/profiler"
	"github.com/nvr-ai/go-frcnn/roidb"
	"github.com/nvr-ai/go-frcnn/sampler"
	"github.com/nvr-ai/go-frcnn/util"
)

func main() {
	var (
		configPath string
		batches    int
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "YAML configuration file (defaults are used when empty)")
	flag.IntVar(&batches, "batches", 1, "Number of minibatches to draw after building the database")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			log.WithError(err).Fatal("Cannot load configuration")
		}
	}

	imageIDs, err := util.LoadLines(cfg.Common.ImgsList)
	if err != nil {
		log.WithError(err).Fatal("Cannot load image list")
	}
	vocab, err := models.LoadVocabulary(cfg.Common.ClassesList)
	if err != nil {
		log.WithError(err).Fatal("Cannot load classes list")
	}

	var prep images.Preparer = images.NewNativePreparer(cfg.Common.Means(), cfg.Train.MaxSize)
	if cfg.Common.UseOpenCV {
		prep = cv.NewPreparer(cfg.Common.Means(), cfg.Train.MaxSize)
	}

	prof := profiler.New()

	done := prof.StartOperation("build")
	db, err := roidb.Build(roidb.Options{
		ImageIDs:    imageIDs,
		Vocabulary:  vocab,
		Annotations: roidb.VOCAnnotations{Dir: cfg.Common.DirAnnotations},
		Proposals:   roidb.NPZProposals{Path: cfg.Common.Proposals},
		Sizer:       prep,
		ImageDir:    cfg.Common.DirImgs,
		ImageExt:    cfg.Common.ImageExt,
		UseFlipped:  cfg.Train.UseFlipped,
		BBoxReg:     cfg.Train.BBoxReg,
		BBoxThresh:  cfg.Train.BBoxThresh,
		StatsPath:   filepath.Join(cfg.Common.CacheDir, roidb.StatsFile),
		Logger:      log,
	})
	done()
	if err != nil {
		log.WithError(err).Fatal("Cannot build ROI database")
	}

	s, err := sampler.New(db, sampler.Options{
		Train:    cfg.Train,
		Seed:     cfg.Common.RNGSeed,
		Preparer: prep,
		Logger:   log,
	})
	if err != nil {
		log.WithError(err).Fatal("Cannot create sampler")
	}

	ctx := context.Background()
	for i := 0; i < batches; i++ {
		done := prof.StartOperation("batch")
		b, err := s.Next(ctx)
		done()
		if err != nil {
			log.WithError(err).Fatal("Cannot draw batch")
		}

		fields := logrus.Fields{
			"batch":   i,
			"records": b.Indices,
			"fg":      b.FG,
			"bg":      b.BG,
			"rows":    b.Rows(),
		}
		if b.Images != nil {
			fields["blob"] = b.Images.Shape()
		}
		log.WithFields(fields).Info("Drew minibatch")

		fg := 0
		for _, n := range b.FG {
			fg += n
		}
		prof.RecordMetric("fg_rows", float64(fg))
	}

	prof.Report(log)
}
