package benchmark

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ipibench/internal/engine/enginetest"
	"github.com/user/ipibench/internal/evidence"
)

func TestRunOnceWaitsForEveryWorker(t *testing.T) {
	var finished atomic.Int64
	fake := &enginetest.Fake{
		Value:     "x",
		Delay:     20 * time.Millisecond,
		OnProcess: func() { finished.Add(1) },
	}
	c := &Coordinator{Workers: 4, Iterations: 1, Property: DefaultProperty}

	tallies, err := c.RunOnce(fake, testSource("1.1.1.1"))

	require.NoError(t, err)
	assert.Equal(t, int64(4), finished.Load())
	require.Len(t, tallies, 4)
	for i, tally := range tallies {
		assert.Equal(t, i, tally.Worker)
		assert.Equal(t, int64(1), tally.Count)
	}
	assert.Zero(t, fake.Live())
}

func TestRunOnceCountsInvariant(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8} {
		for _, iterations := range []int{1, 5, 17} {
			fake := &enginetest.Fake{
				Value: "x",
				Fail: func(rec evidence.Record) bool {
					ip, _ := rec.Get(evidence.KeyQueryClientIP)
					return ip == "2.2.2.2"
				},
			}
			c := &Coordinator{Workers: workers, Iterations: iterations}

			tallies, err := c.RunOnce(fake, testSource("1.1.1.1", "2.2.2.2", "3.3.3.3"))
			require.NoError(t, err)

			var total int64
			for _, tally := range tallies {
				assert.LessOrEqual(t, tally.Count, int64(iterations))
				assert.Equal(t, int64(iterations), tally.Count+tally.Skipped)
				total += tally.Count
			}
			assert.Equal(t, fake.Processed.Load(), total)
			assert.Equal(t, total, Aggregate(tallies, workers).TotalCount)
		}
	}
}

func TestRunOnceFailingDetectionsDoNotAbort(t *testing.T) {
	fake := &enginetest.Fake{Fail: func(evidence.Record) bool { return true }}
	c := &Coordinator{Workers: 3, Iterations: 4}

	tallies, err := c.RunOnce(fake, testSource("1.1.1.1"))

	require.NoError(t, err)
	require.Len(t, tallies, 3)
	for _, tally := range tallies {
		assert.Zero(t, tally.Count)
		assert.Equal(t, int64(4), tally.Skipped)
	}
}

func TestRunOncePanicIsWorkerFatal(t *testing.T) {
	var fired atomic.Bool
	fake := &enginetest.Fake{
		Value: "x",
		Panic: func(evidence.Record) bool { return fired.CompareAndSwap(false, true) },
	}
	c := &Coordinator{Workers: 4, Iterations: 10}

	tallies, err := c.RunOnce(fake, testSource("1.1.1.1"))

	require.Error(t, err)
	failures := WorkerFailures(err)
	require.Len(t, failures, 1)
	assert.Equal(t, "enginetest: injected panic", failures[0].Value)
	assert.NotEmpty(t, failures[0].Stack)

	completed := 0
	for i, tally := range tallies {
		if i == failures[0].Worker {
			continue
		}
		assert.Equal(t, int64(10), tally.Count)
		completed++
	}
	assert.Equal(t, 3, completed)
	assert.Zero(t, fake.Live(), "the panicking session must still be closed")
}

func TestRunOnceValidation(t *testing.T) {
	fake := &enginetest.Fake{}

	_, err := (&Coordinator{Workers: 0, Iterations: 1}).RunOnce(fake, testSource("1.1.1.1"))
	assert.Error(t, err)

	_, err = (&Coordinator{Workers: 1, Iterations: 0}).RunOnce(fake, testSource("1.1.1.1"))
	assert.Error(t, err)

	_, err = (&Coordinator{Workers: 1, Iterations: 1}).RunOnce(fake, evidence.New(nil))
	assert.True(t, errors.Is(err, evidence.ErrNoEvidence))
}

func TestCoordinatorRunPhases(t *testing.T) {
	fake := &enginetest.Fake{Value: "x"}
	var phases []Phase
	var iterations atomic.Int64
	c := &Coordinator{
		Workers:     2,
		Iterations:  5,
		OnPhase:     func(p Phase) { phases = append(phases, p) },
		OnIteration: func() { iterations.Add(1) },
	}

	pass, err := c.Run(fake, testSource("1.1.1.1"))

	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseWarmup, PhaseTimed}, phases)
	assert.Equal(t, int64(20), iterations.Load())
	assert.Equal(t, int64(20), fake.Processed.Load())
	require.Len(t, pass.Tallies, 2)
	assert.Greater(t, pass.WallTime, time.Duration(0))
}

func TestCoordinatorRunWarmupFailure(t *testing.T) {
	fake := &enginetest.Fake{Panic: func(evidence.Record) bool { return true }}
	var phases []Phase
	c := &Coordinator{Workers: 2, Iterations: 1, OnPhase: func(p Phase) { phases = append(phases, p) }}

	_, err := c.Run(fake, testSource("1.1.1.1"))

	require.Error(t, err)
	assert.Len(t, WorkerFailures(err), 2)
	assert.Equal(t, []Phase{PhaseWarmup}, phases)
}

func TestCoordinatorRunMeasuresCPUOverTimedPass(t *testing.T) {
	var events []string
	var intervals []time.Duration
	old := cpuPercent
	cpuPercent = func(interval time.Duration, percpu bool) ([]float64, error) {
		intervals = append(intervals, interval)
		events = append(events, "cpu")
		return []float64{37.5}, nil
	}
	t.Cleanup(func() { cpuPercent = old })

	c := &Coordinator{
		Workers:    1,
		Iterations: 3,
		OnPhase:    func(p Phase) { events = append(events, string(p)) },
	}
	pass, err := c.Run(&enginetest.Fake{Value: "x"}, testSource("1.1.1.1"))

	require.NoError(t, err)
	assert.Equal(t, []string{"warmup", "cpu", "timed", "cpu"}, events)
	assert.Equal(t, []time.Duration{0, 0}, intervals)
	assert.Equal(t, 37.5, pass.CPUUsage)
}
