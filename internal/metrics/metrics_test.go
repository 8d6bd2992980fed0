package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordIteration(t *testing.T) {
	c := NewCollector("era5daily")
	c.RecordIteration(ResultSuccess)
	c.RecordIteration(ResultSuccess)
	c.RecordIteration(ResultFailure)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.IterationsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.IterationsTotal.WithLabelValues(ResultFailure)))
	assert.Positive(t, testutil.ToFloat64(c.LastSuccessTimestamp))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector("era5daily")
	c.ObserveStage(StageRetrieve, time.Now().Add(-time.Second))
	c.DailyBytesWritten.Add(1024)

	path := filepath.Join(t.TempDir(), "era5daily.prom")
	require.NoError(t, c.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "era5daily_daily_bytes_written_total 1024")
	assert.Contains(t, string(b), `era5daily_stage_duration_seconds_count{stage="retrieve"} 1`)
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors must not collide on registration.
	a := NewCollector("era5daily")
	b := NewCollector("era5daily")
	a.RecordIteration(ResultSkipped)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.IterationsTotal.WithLabelValues(ResultSkipped)))
}
