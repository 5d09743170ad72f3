package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []int{600}, cfg.Train.Scales)
	assert.Equal(t, 1000, cfg.Train.MaxSize)
	assert.Equal(t, 2, cfg.Train.ImsPerBatch)
	assert.Equal(t, 128, cfg.Train.BatchSize)
	assert.Equal(t, 64, cfg.Train.RoisPerImage())
	assert.Equal(t, 0.25, cfg.Train.FGFraction)
	assert.Equal(t, 0.5, cfg.Train.FGThresh)
	assert.Equal(t, 0.5, cfg.Train.BGThreshHi)
	assert.Equal(t, 0.1, cfg.Train.BGThreshLo)
	assert.True(t, cfg.Train.UseFlipped)
	assert.Equal(t, 0.3, cfg.Deploy.NMS)
	assert.Equal(t, 0.8, cfg.Deploy.ConfThresh)
	assert.Equal(t, [3]float32{102.9801, 115.9465, 122.7717}, cfg.Common.Means())
	assert.Equal(t, uint64(3), cfg.Common.RNGSeed)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
train:
  scales: [480, 576, 688]
  ims_per_batch: 1
  batch_size: 64
  use_flipped: false
common:
  imgs_list: data/trainval.txt
  classes_list: data/classes.txt
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{480, 576, 688}, cfg.Train.Scales)
	assert.Equal(t, 1, cfg.Train.ImsPerBatch)
	assert.Equal(t, 64, cfg.Train.RoisPerImage())
	assert.False(t, cfg.Train.UseFlipped)
	assert.Equal(t, "data/trainval.txt", cfg.Common.ImgsList)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 0.25, cfg.Train.FGFraction)
	assert.Equal(t, 1000, cfg.Train.MaxSize)
	assert.Equal(t, "data/cache", cfg.Common.CacheDir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non divisible batch", "train:\n  ims_per_batch: 3\n  batch_size: 128\n"},
		{"threshold out of range", "train:\n  fg_thresh: 1.5\n"},
		{"inverted background range", "train:\n  bg_thresh_lo: 0.6\n  bg_thresh_hi: 0.5\n"},
		{"empty scales", "train:\n  scales: []\n"},
		{"bad pixel means", "common:\n  pixel_means: [1, 2]\n"},
		{"unknown provider", "deploy:\n  inference:\n    provider: tpu\n"},
		{"malformed yaml", "train: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_BatchSizing(t *testing.T) {
	cfg := Default()
	cfg.Train.ImsPerBatch = 3
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrBatchSizing))
}
