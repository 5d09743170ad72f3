package roidb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models"
)

type fakeSizer struct {
	width, height int
}

func (f fakeSizer) Size(string) (int, int, error) {
	return f.width, f.height, nil
}

// writeVOC writes <dir>/<image>.xml. Each object is "label x1 y1 x2 y2" in
// 1-based VOC coordinates; "label" alone writes an object without a bndbox.
func writeVOC(t *testing.T, dir, image string, objects ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("<annotation>\n<filename>" + image + ".jpg</filename>\n")
	for _, o := range objects {
		f := strings.Fields(o)
		b.WriteString("<object><name>" + f[0] + "</name>")
		if len(f) == 5 {
			fmt.Fprintf(&b, "<bndbox><xmin>%s</xmin><ymin>%s</ymin><xmax>%s</xmax><ymax>%s</ymax></bndbox>", f[1], f[2], f[3], f[4])
		}
		b.WriteString("</object>\n")
	}
	b.WriteString("</annotation>\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, image+".xml"), []byte(b.String()), 0o644))
}

func catDogVocabulary(t *testing.T) *models.Vocabulary {
	t.Helper()
	v, err := models.NewVocabulary([]string{"__background__", "cat", "dog"})
	require.NoError(t, err)
	return v
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestBuild_CatScenario(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0", "cat 1 1 11 11")

	db, err := Build(Options{
		ImageIDs:    []string{"img0"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{{{X1: 1, Y1: 1, X2: 9, Y2: 9}}},
		ImageDir:    "JPEGImages",
		ImageExt:    ".jpg",
		BBoxReg:     true,
		BBoxThresh:  0.5,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, db.Len())
	assert.Equal(t, 3, db.NumClasses())

	rec := db.Records[0]
	assert.Equal(t, "img0", rec.Image)
	assert.Equal(t, filepath.Join("JPEGImages", "img0.jpg"), rec.Path)
	assert.Equal(t, 1, rec.NumGT)
	assert.Equal(t, []images.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}, {X1: 1, Y1: 1, X2: 9, Y2: 9}}, rec.Boxes)
	assert.Equal(t, []int{1, 0}, rec.GTClasses)
	require.Len(t, rec.Overlaps, 2)
	require.Len(t, rec.Targets, 2)

	assert.Equal(t, Overlap{GTIndex: 0, Class: 1, IoU: 1}, rec.Overlaps[0])
	assert.Equal(t, 0, rec.Overlaps[1].GTIndex)
	assert.Equal(t, 1, rec.Overlaps[1].Class)
	assert.InDelta(t, 81.0/121.0, rec.Overlaps[1].IoU, 1e-12)

	for _, tg := range rec.Targets {
		assert.True(t, tg.Example)
		assert.Equal(t, 1, tg.Class)
	}

	require.NotNil(t, db.Stats)
	assert.Equal(t, 2, db.Stats.Counts[1])
	assert.Equal(t, 0, db.Stats.Counts[2])
}

func TestBuild_NoBBoxReg(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0", "dog 1 1 11 11")

	db, err := Build(Options{
		ImageIDs:    []string{"img0"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{{{X1: 1, Y1: 1, X2: 9, Y2: 9}}},
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	assert.Nil(t, db.Stats)
	assert.Nil(t, db.Records[0].Targets)
	assert.Equal(t, 2, db.Records[0].Overlaps[1].Class)
}

func TestBuild_FlipLayout(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "a", "cat 11 6 31 26")
	writeVOC(t, dir, "b", "dog 1 1 51 51")

	db, err := Build(Options{
		ImageIDs:    []string{"a", "b"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals: StaticProposals{
			{{X1: 12, Y1: 6, X2: 30, Y2: 24}},
			{},
		},
		Sizer:      fakeSizer{width: 100, height: 80},
		UseFlipped: true,
		BBoxReg:    true,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	require.Equal(t, 4, db.Len())

	assert.Equal(t, "a", db.Records[0].Image)
	assert.Equal(t, "b", db.Records[1].Image)
	assert.Equal(t, "a", db.Records[2].Image)
	assert.Equal(t, "b", db.Records[3].Image)
	assert.False(t, db.Records[0].Flipped)
	assert.False(t, db.Records[1].Flipped)
	assert.True(t, db.Records[2].Flipped)
	assert.True(t, db.Records[3].Flipped)

	orig, mirror := db.Records[0], db.Records[2]
	require.Equal(t, orig.Len(), mirror.Len())
	assert.Equal(t, images.Box{X1: 89, Y1: 5, X2: 69, Y2: 25}, mirror.Boxes[0])
	for i := range orig.Boxes {
		assert.Equal(t, orig.Boxes[i].FlipHorizontal(100), mirror.Boxes[i])
		assert.Equal(t, orig.Overlaps[i], mirror.Overlaps[i])
	}
	assert.Equal(t, orig.GTClasses, mirror.GTClasses)
	assert.Equal(t, 100, mirror.Width)
}

func TestBuild_EmptyProposals(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0", "cat 1 1 11 11", "dog 21 21 41 41")

	db, err := Build(Options{
		ImageIDs:    []string{"img0"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{nil},
		BBoxReg:     true,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)

	rec := db.Records[0]
	assert.Equal(t, 2, rec.NumGT)
	assert.Equal(t, 2, rec.Len())
	assert.Equal(t, []int{1, 2}, rec.GTClasses)
	for _, ov := range rec.Overlaps {
		assert.Equal(t, 1.0, ov.IoU)
	}
}

func TestBuild_ZeroGroundTruth(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0")

	db, err := Build(Options{
		ImageIDs:    []string{"img0"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{{{X1: 0, Y1: 0, X2: 5, Y2: 5}, {X1: 3, Y1: 3, X2: 9, Y2: 9}}},
		BBoxReg:     true,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)

	rec := db.Records[0]
	assert.Equal(t, 0, rec.NumGT)
	assert.Equal(t, []int{0, 0}, rec.GTClasses)
	for i, ov := range rec.Overlaps {
		assert.Equal(t, Overlap{}, ov)
		assert.False(t, rec.Targets[i].Example)
	}
}

func TestBuild_SkippedRecord(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "good", "cat 1 1 11 11")
	writeVOC(t, dir, "bad", "cat 1 1 11 11", "dog")

	logger, hook := test.NewNullLogger()
	db, err := Build(Options{
		ImageIDs:    []string{"good", "bad"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{{{X1: 1, Y1: 1, X2: 9, Y2: 9}}, {{X1: 1, Y1: 1, X2: 9, Y2: 9}}},
		Logger:      logger,
	})
	require.NoError(t, err)
	require.Equal(t, 2, db.Len())

	assert.False(t, db.Records[0].Skipped)
	bad := db.Records[1]
	assert.True(t, bad.Skipped)
	assert.Equal(t, "bad", bad.Image)
	assert.Equal(t, 0, bad.NumGT)
	assert.Equal(t, 0, bad.Len())
	assert.Empty(t, bad.Overlaps)
	assert.Empty(t, bad.Targets)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["image"] == "bad" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestBuild_UnknownLabel(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0", "zebra 1 1 11 11")

	db, err := Build(Options{
		ImageIDs:    []string{"img0"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{nil},
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, db.Records[0].GTClasses)
}

func TestBuild_Errors(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0", "cat 1 1 11 11")
	vocab := catDogVocabulary(t)

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{
			name: "empty image list",
			opts: Options{Vocabulary: vocab, Annotations: VOCAnnotations{Dir: dir}, Proposals: StaticProposals{}},
			want: ErrEmptyImageList,
		},
		{
			name: "empty vocabulary",
			opts: Options{ImageIDs: []string{"img0"}, Vocabulary: &models.Vocabulary{}, Annotations: VOCAnnotations{Dir: dir}, Proposals: StaticProposals{nil}},
			want: models.ErrEmptyVocabulary,
		},
		{
			name: "proposal count mismatch",
			opts: Options{ImageIDs: []string{"img0"}, Vocabulary: vocab, Annotations: VOCAnnotations{Dir: dir}, Proposals: StaticProposals{nil, nil}},
			want: ErrProposalCountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = quietLogger()
			_, err := Build(tt.opts)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("missing annotation", func(t *testing.T) {
		_, err := Build(Options{
			ImageIDs:    []string{"img0", "missing"},
			Vocabulary:  vocab,
			Annotations: VOCAnnotations{Dir: dir},
			Proposals:   StaticProposals{nil, nil},
			Logger:      quietLogger(),
		})
		assert.Error(t, err)
	})

	t.Run("flip without sizer", func(t *testing.T) {
		_, err := Build(Options{
			ImageIDs:    []string{"img0"},
			Vocabulary:  vocab,
			Annotations: VOCAnnotations{Dir: dir},
			Proposals:   StaticProposals{nil},
			UseFlipped:  true,
			Logger:      quietLogger(),
		})
		assert.Error(t, err)
	})
}

func TestBuild_SavesStats(t *testing.T) {
	dir := t.TempDir()
	writeVOC(t, dir, "img0", "cat 1 1 11 11")
	statsPath := filepath.Join(dir, "cache", StatsFile)

	db, err := Build(Options{
		ImageIDs:    []string{"img0"},
		Vocabulary:  catDogVocabulary(t),
		Annotations: VOCAnnotations{Dir: dir},
		Proposals:   StaticProposals{{{X1: 1, Y1: 1, X2: 9, Y2: 9}}},
		BBoxReg:     true,
		StatsPath:   statsPath,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)

	info, err := os.Stat(statsPath)
	require.NoError(t, err)
	assert.Equal(t, int64(4+3*64), info.Size())

	loaded, err := LoadStats(statsPath)
	require.NoError(t, err)
	assert.Equal(t, db.Stats.Means, loaded.Means)
	assert.Equal(t, db.Stats.Stds, loaded.Stds)
}
