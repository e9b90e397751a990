package benchmark

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/evidence"
)

type Phase string

const (
	PhaseWarmup Phase = "warmup"
	PhaseTimed  Phase = "timed"
)

// WorkerFatalError is a panic that escaped a worker.
type WorkerFatalError struct {
	Worker int
	Value  any
	Stack  []byte
}

func (e *WorkerFatalError) Error() string {
	return fmt.Sprintf("worker %d failed: %v", e.Worker, e.Value)
}

// Pass is the outcome of a timed run.
type Pass struct {
	Tallies    []Tally
	WallTime   time.Duration
	CPUUsage   float64
	MemoryUsed uint64
}

// Coordinator runs a fixed number of workers against one engine.
type Coordinator struct {
	Workers     int
	Iterations  int
	Property    string
	WarmupPause time.Duration
	Logger      *zap.Logger

	// OnPhase is called before each pass starts.
	OnPhase func(Phase)
	// OnIteration is handed to every worker, see Worker.OnIteration.
	OnIteration func()
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Coordinator) validate(src *evidence.Source) error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if src == nil || src.Size() == 0 {
		return evidence.ErrNoEvidence
	}
	return nil
}

// RunOnce starts Workers goroutines and waits for all of them. Tallies are
// returned in worker order. A worker that panics does not stop the others;
// every such failure is reported once all workers have finished.
func (c *Coordinator) RunOnce(eng engine.Engine, src *evidence.Source) ([]Tally, error) {
	if err := c.validate(src); err != nil {
		return nil, err
	}

	tallies := make([]Tally, c.Workers)
	failures := make([]error, c.Workers)

	var wg sync.WaitGroup
	for i := 0; i < c.Workers; i++ {
		w := &Worker{
			ID:          i,
			Engine:      eng,
			Evidence:    src,
			Iterations:  c.Iterations,
			Property:    c.Property,
			Logger:      c.Logger,
			OnIteration: c.OnIteration,
		}

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					failures[id] = &WorkerFatalError{Worker: id, Value: v, Stack: debug.Stack()}
				}
			}()
			tallies[id] = w.Run()
		}(i)
	}
	wg.Wait()

	var err error
	for _, f := range failures {
		err = multierr.Append(err, f)
	}
	return tallies, err
}

var cpuPercent = cpu.Percent

// Run performs an untimed warm-up pass, lets the runtime settle, then
// performs the timed pass.
func (c *Coordinator) Run(eng engine.Engine, src *evidence.Source) (*Pass, error) {
	if err := c.validate(src); err != nil {
		return nil, err
	}
	log := c.logger()

	log.Info("warming up", zap.Int("workers", c.Workers), zap.Int("iterations", c.Iterations))
	c.phase(PhaseWarmup)
	if _, err := c.RunOnce(eng, src); err != nil {
		return nil, fmt.Errorf("warm-up: %w", err)
	}

	runtime.GC()
	if c.WarmupPause > 0 {
		time.Sleep(c.WarmupPause)
	}

	// With a zero interval the next call reports usage since this one.
	cpuPercent(0, false)
	initialMem, _ := mem.VirtualMemory()

	log.Info("running")
	c.phase(PhaseTimed)
	start := time.Now()
	tallies, err := c.RunOnce(eng, src)
	wall := time.Since(start)
	if err != nil {
		return nil, err
	}
	log.Info("finished", zap.Duration("execution_time", wall))

	pass := &Pass{Tallies: tallies, WallTime: wall}

	passCPU, _ := cpuPercent(0, false)
	finalMem, _ := mem.VirtualMemory()
	if len(passCPU) > 0 {
		pass.CPUUsage = passCPU[0]
	}
	if initialMem != nil && finalMem != nil && finalMem.Used > initialMem.Used {
		pass.MemoryUsed = finalMem.Used - initialMem.Used
	}

	return pass, nil
}

func (c *Coordinator) phase(p Phase) {
	if c.OnPhase != nil {
		c.OnPhase(p)
	}
}

// WorkerFailures extracts every worker failure from err, looking through
// wrapped and combined errors.
func WorkerFailures(err error) []*WorkerFatalError {
	var out []*WorkerFatalError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *WorkerFatalError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}
