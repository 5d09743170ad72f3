package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	p := New()
	p.RecordOperation("batch", 10*time.Millisecond)
	p.RecordOperation("batch", 30*time.Millisecond)

	op, ok := p.Operation("batch")
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count())
	assert.Equal(t, 20*time.Millisecond, op.Average())
	assert.Equal(t, 10*time.Millisecond, op.minTime)
	assert.Equal(t, 30*time.Millisecond, op.maxTime)

	_, ok = p.Operation("missing")
	assert.False(t, ok)
}

func TestStartOperation_Concurrent(t *testing.T) {
	p := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := p.StartOperation("build")
			done()
		}()
	}
	wg.Wait()

	op, ok := p.Operation("build")
	require.True(t, ok)
	assert.Equal(t, int64(16), op.Count())
}

func TestReport(t *testing.T) {
	p := New()
	p.RecordOperation("detect", time.Millisecond)
	p.RecordMetric("detections", 3)
	p.RecordMetric("detections", 5)

	logger, hook := test.NewNullLogger()
	p.Report(logger)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "detect", entries[0].Data["operation"])
	assert.Equal(t, "detections", entries[1].Data["metric"])
	assert.Equal(t, 4.0, entries[1].Data["avg"])
	assert.Equal(t, "Memory usage", entries[2].Message)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
