package benchmark

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/engine/enginetest"
	"github.com/user/ipibench/internal/evidence"
)

// journal records engine loads and closes in the order they happen.
type journal struct {
	mu      sync.Mutex
	events  []string
	times   []time.Time
	engines []*trackedEngine
}

func (j *journal) add(event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	j.times = append(j.times, time.Now())
}

type trackedEngine struct {
	*enginetest.Fake
	id int
	j  *journal
}

func (e *trackedEngine) Close() error {
	e.j.add(fmt.Sprintf("close %d", e.id))
	return e.Fake.Close()
}

// loader returns a Loader handing out tracked fakes. Loads listed in fail
// return an engine load error instead.
func (j *journal) loader(fail ...int) engine.Loader {
	n := 0
	return func(dataFile string, opts engine.Options) (engine.Engine, error) {
		id := n
		n++
		j.add(fmt.Sprintf("load %d", id))
		for _, f := range fail {
			if f == id {
				return nil, &engine.EngineLoadError{Path: dataFile, Err: errors.New("corrupt")}
			}
		}
		e := &trackedEngine{Fake: &enginetest.Fake{Value: "x"}, id: id, j: j}
		j.mu.Lock()
		j.engines = append(j.engines, e)
		j.mu.Unlock()
		return e, nil
	}
}

func testMatrix(load engine.Loader) *Matrix {
	return &Matrix{
		DataFile:    "test.yaml",
		Load:        load,
		Coordinator: &Coordinator{Workers: 2, Iterations: 3, Property: DefaultProperty},
	}
}

func TestMatrixRunsSequentially(t *testing.T) {
	j := &journal{}
	m := testMatrix(j.loader())
	configs := DefaultConfigurations()

	var reports []*Report
	for report, err := range m.RunAll(configs, testSource("1.1.1.1")) {
		require.NoError(t, err)
		reports = append(reports, report)
	}

	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, configs[i], r.Configuration)
		assert.Equal(t, int64(6), r.TotalCount)
		assert.Equal(t, 2, r.Workers)
		assert.False(t, r.CompletedAt.IsZero())
	}

	assert.Equal(t, []string{"load 0", "close 0", "load 1", "close 1", "load 2", "close 2"}, j.events)
	for i := 1; i < len(j.times); i++ {
		assert.False(t, j.times[i].Before(j.times[i-1]))
	}
	for _, e := range j.engines {
		assert.True(t, e.Closed())
		assert.Zero(t, e.Live())
	}
}

func TestMatrixLoadErrorSkipsConfiguration(t *testing.T) {
	j := &journal{}
	m := testMatrix(j.loader(1))
	configs := DefaultConfigurations()

	var reports []*Report
	var errs []error
	for report, err := range m.RunAll(configs, testSource("1.1.1.1")) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}

	require.Len(t, reports, 2)
	require.Len(t, errs, 1)
	assert.Equal(t, configs[0], reports[0].Configuration)
	assert.Equal(t, configs[2], reports[1].Configuration)

	var ce *ConfigurationError
	require.True(t, errors.As(errs[0], &ce))
	assert.Equal(t, configs[1], ce.Configuration)
	var le *engine.EngineLoadError
	assert.True(t, errors.As(errs[0], &le))
}

func TestMatrixWorkerPanicFailsConfiguration(t *testing.T) {
	calls := 0
	load := func(string, engine.Options) (engine.Engine, error) {
		calls++
		fake := &enginetest.Fake{Value: "x"}
		if calls == 1 {
			fake.Panic = func(evidence.Record) bool { return true }
		}
		return fake, nil
	}
	m := testMatrix(load)

	var errs []error
	var reports int
	for report, err := range m.RunAll(DefaultConfigurations()[:2], testSource("1.1.1.1")) {
		if err != nil {
			errs = append(errs, err)
		} else if report != nil {
			reports++
		}
	}

	require.Len(t, errs, 1)
	assert.Len(t, WorkerFailures(errs[0]), 2)
	assert.Equal(t, 1, reports)
}

func TestMatrixStopsWhenConsumerBreaks(t *testing.T) {
	j := &journal{}
	m := testMatrix(j.loader())

	for report, err := range m.RunAll(DefaultConfigurations(), testSource("1.1.1.1")) {
		require.NoError(t, err)
		require.NotNil(t, report)
		break
	}

	assert.Equal(t, []string{"load 0", "close 0"}, j.events)
}

func TestMatrixPassesOptions(t *testing.T) {
	var got []engine.Options
	load := func(_ string, opts engine.Options) (engine.Engine, error) {
		got = append(got, opts)
		return &enginetest.Fake{Value: "x"}, nil
	}
	m := testMatrix(load)

	for _, err := range m.RunAll(DefaultConfigurations(), testSource("1.1.1.1")) {
		require.NoError(t, err)
	}

	require.Len(t, got, 3)
	assert.Equal(t, []string{DefaultProperty}, got[0].Properties)
	assert.True(t, got[0].PredictiveGraph)
	assert.True(t, got[1].PerformanceGraph)
	assert.Nil(t, got[2].Properties)
	for _, opts := range got {
		assert.Equal(t, engine.MaxPerformance, opts.Profile)
		assert.Equal(t, 2, opts.Concurrency)
	}
}
