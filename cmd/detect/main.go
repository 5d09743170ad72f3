package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/detector"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/images/cv"
	"github.com/nvr-ai/go-frcnn/inference"
	"github.com/nvr-ai/go-frcnn/models"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/nvr-ai/go-frcnn/profiler"
	"github.com/nvr-ai/go-frcnn/roidb"
	"github.com/nvr-ai/go-frcnn/util"
)

func main() {
	var (
		configPath string
		limit      int
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "YAML configuration file (defaults are used when empty)")
	flag.IntVar(&limit, "limit", 0, "Process at most this many images, 0 for all")
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
	proposals, err := roidb.NPZProposals{Path: cfg.Common.Proposals}.Proposals()
	if err != nil {
		log.WithError(err).Fatal("Cannot load proposals")
	}
	if len(proposals) != len(imageIDs) {
		log.WithFields(logrus.Fields{"images": len(imageIDs), "proposals": len(proposals)}).Fatal(roidb.ErrProposalCountMismatch)
	}

	var stats *roidb.Stats
	statsPath := filepath.Join(cfg.Common.CacheDir, roidb.StatsFile)
	if _, err := os.Stat(statsPath); err == nil {
		if stats, err = roidb.LoadStats(statsPath); err != nil {
			log.WithError(err).Fatal("Cannot load target statistics")
		}
		log.WithField("path", statsPath).Info("De-normalizing deltas with cached statistics")
	}

	session, err := inference.NewSession(cfg.Deploy.Inference, vocab.Len(), log)
	if err != nil {
		log.WithError(err).Fatal("Cannot open detection network")
	}
	defer session.Close()

	var prep images.Preparer = images.NewNativePreparer(cfg.Common.Means(), cfg.Deploy.MaxSize)
	if cfg.Common.UseOpenCV {
		prep = cv.NewPreparer(cfg.Common.Means(), cfg.Deploy.MaxSize)
	}

	det, err := detector.New(detector.Options{
		Deploy:     cfg.Deploy,
		Preparer:   prep,
		Runner:     session,
		Vocabulary: vocab,
		Stats:      stats,
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Fatal("Cannot create detector")
	}

	if err := os.MkdirAll(cfg.Deploy.ResultsDir, 0o755); err != nil {
		log.WithError(err).Fatal("Cannot create results directory")
	}

	prof := profiler.New()
	ctx := context.Background()
	for i, id := range imageIDs {
		if limit > 0 && i >= limit {
			break
		}
		path := util.ImagePath(cfg.Common.DirImgs, id, cfg.Common.ImageExt)

		done := prof.StartOperation("detect")
		results, err := det.Detect(ctx, path, proposals[i])
		done()
		if err != nil {
			log.WithError(err).WithField("image", id).Error("Detection failed")
			continue
		}
		prof.RecordMetric("detections", float64(len(results)))

		if err := writeResults(cfg.Deploy.ResultsDir, id, path, results, vocab); err != nil {
			log.WithError(err).WithField("image", id).Error("Cannot write results")
		}
	}

	prof.Report(log)
	log.WithFields(logrus.Fields(session.GetPerformanceMetrics())).Info("Network performance")
}

// writeResults saves one annotated copy of the image per detected class as
// <dir>/<image>_<class>.jpg.
func writeResults(dir, id, path string, results []postprocess.Result, vocab *models.Vocabulary) error {
	byClass := make(map[int][]postprocess.Result)
	for _, r := range results {
		byClass[r.Class] = append(byClass[r.Class], r)
	}

	red := color.RGBA{255, 0, 0, 0}
	for class, rs := range byClass {
		name, err := vocab.Name(class)
		if err != nil {
			return err
		}

		img := gocv.IMRead(path, gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			return fmt.Errorf("cannot read image %s", path)
		}

		for _, r := range rs {
			rect := image.Rect(int(r.Box.X1), int(r.Box.Y1), int(r.Box.X2), int(r.Box.Y2))
			gocv.Rectangle(&img, rect, red, 2)
			gocv.PutText(&img, fmt.Sprintf("%.3f", r.Score), image.Pt(rect.Min.X, rect.Min.Y+12), gocv.FontHersheyPlain, 1.0, red, 1)
		}

		out := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", id, name))
		ok := gocv.IMWrite(out, img)
		img.Close()
		if !ok {
			return fmt.Errorf("cannot write %s", out)
		}
	}

	return nil
}
