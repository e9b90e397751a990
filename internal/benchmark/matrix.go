package benchmark

import (
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/evidence"
)

// ConfigurationError ties a failure to the configuration it happened in.
type ConfigurationError struct {
	Configuration Configuration
	Err           error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Configuration.Name(), e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Matrix benchmarks configurations one after another, each against a
// freshly loaded engine.
type Matrix struct {
	DataFile    string
	Load        engine.Loader
	Coordinator *Coordinator
	Logger      *zap.Logger

	// OnConfiguration is called before the engine for a configuration is
	// loaded.
	OnConfiguration func(index int, cfg Configuration)
}

// RunAll yields one report per configuration, in order. A configuration
// that fails yields its error and the next configuration still runs.
// Each engine is closed before its report is yielded.
func (m *Matrix) RunAll(configs []Configuration, src *evidence.Source) iter.Seq2[*Report, error] {
	return func(yield func(*Report, error) bool) {
		for i, cfg := range configs {
			if m.OnConfiguration != nil {
				m.OnConfiguration(i, cfg)
			}
			report, err := m.runConfiguration(cfg, src)
			if err != nil {
				err = &ConfigurationError{Configuration: cfg, Err: err}
			}
			if !yield(report, err) {
				return
			}
		}
	}
}

func (m *Matrix) runConfiguration(cfg Configuration, src *evidence.Source) (*Report, error) {
	log := zap.NewNop()
	if m.Logger != nil {
		log = m.Logger
	}
	log = log.With(zap.String("configuration", cfg.Name()))
	log.Info("benchmarking", zap.Stringer("settings", cfg))

	load := m.Load
	if load == nil {
		load = engine.Open
	}

	coord := *m.Coordinator
	coord.Logger = log

	eng, err := load(m.DataFile, cfg.Options(coord.Property, coord.Workers))
	if err != nil {
		log.Error("engine load failed", zap.Error(err))
		return nil, err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("engine close failed", zap.Error(err))
		}
	}()

	info := eng.Info()
	engine.LogInfo(log, info, time.Now())

	pass, err := coord.Run(eng, src)
	if err != nil {
		for _, wf := range WorkerFailures(err) {
			log.Error("worker failed",
				zap.Int("worker", wf.Worker),
				zap.Any("panic", wf.Value),
				zap.ByteString("stack", wf.Stack))
		}
		return nil, err
	}

	report := Aggregate(pass.Tallies, coord.Workers)
	report.Configuration = cfg
	report.WallTime = pass.WallTime
	report.CPUUsage = pass.CPUUsage
	report.MemoryUsed = pass.MemoryUsed
	report.DataFile = info
	report.CompletedAt = time.Now()
	return &report, nil
}
