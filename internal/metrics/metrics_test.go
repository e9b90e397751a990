package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ipibench/internal/benchmark"
)

var _ benchmark.Observer = (*Recorder)(nil)

func TestRecorderObservesReports(t *testing.T) {
	r := NewRecorder()
	configs := benchmark.DefaultConfigurations()

	report := benchmark.Aggregate([]benchmark.Tally{
		{Count: 100, Skipped: 2, Elapsed: time.Second},
		{Count: 100, Elapsed: 1200 * time.Millisecond},
	}, 2)
	report.Configuration = configs[0]
	report.WallTime = 1300 * time.Millisecond

	r.ObserveReport(&report)
	r.ObserveReport(&report)
	r.ObserveFailure(configs[1], errors.New("boom"))

	name := configs[0].Name()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues(name, "ok")))
	assert.Equal(t, 400.0, testutil.ToFloat64(r.detections.WithLabelValues(name)))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.skipped.WithLabelValues(name)))
	assert.Equal(t, 182.0, testutil.ToFloat64(r.detectionsPerSecond.WithLabelValues(name)))
	assert.InDelta(t, 5.5, testutil.ToFloat64(r.millisPerDetection.WithLabelValues(name)), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(configs[1].Name(), "failed")))
}

func TestRecorderJobs(t *testing.T) {
	r := NewRecorder()

	r.JobStarted()
	r.JobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.jobsRunning))

	r.JobFinished("completed")
	r.JobFinished("failed")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.jobsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobs.WithLabelValues("failed")))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.JobStarted()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ipibench_jobs_running 1")
	assert.Contains(t, string(body), "go_goroutines")
}
