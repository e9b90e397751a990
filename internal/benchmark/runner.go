package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/evidence"
)

// ProgressUpdate is published while a pass is running.
type ProgressUpdate struct {
	Configuration string  `json:"configuration"`
	Index         int     `json:"index"`
	Count         int     `json:"count"`
	Phase         Phase   `json:"phase"`
	Current       int64   `json:"current"`
	Total         int64   `json:"total"`
	Percentage    float64 `json:"percentage"`
	Rate          float64 `json:"rate"`
}

// Observer receives every configuration outcome.
type Observer interface {
	ObserveReport(r *Report)
	ObserveFailure(cfg Configuration, err error)
}

// Runner executes a JobConfig end to end.
type Runner struct {
	config   JobConfig
	logger   *zap.Logger
	load     engine.Loader
	progress chan<- ProgressUpdate
	observer Observer
}

func NewRunner(config JobConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		config: config.WithDefaults(),
		logger: logger,
		load:   engine.Open,
	}
}

func (r *Runner) Config() JobConfig {
	return r.config
}

// SetLoader replaces the engine loader.
func (r *Runner) SetLoader(load engine.Loader) {
	r.load = load
}

func (r *Runner) SetProgressChannel(ch chan<- ProgressUpdate) {
	r.progress = ch
}

func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// Setup resolves the data file and loads the evidence. Its errors are
// fatal: no worker has started yet.
func (r *Runner) Setup() (string, *evidence.Source, error) {
	if err := r.config.Validate(); err != nil {
		return "", nil, err
	}

	dataFile, err := evidence.ResolvePath(r.config.DataFile, DefaultDataFile)
	if err != nil {
		return "", nil, fmt.Errorf("data file: %w", err)
	}

	if r.config.UseSample {
		return dataFile, evidence.Sample(), nil
	}

	evidenceFile, err := evidence.ResolvePath(r.config.EvidenceFile, DefaultEvidence)
	if err != nil {
		return "", nil, fmt.Errorf("evidence file: %w", err)
	}
	src, err := evidence.Load(evidenceFile, r.config.MaxEvidence)
	if err != nil {
		return "", nil, err
	}
	r.logger.Info("loaded evidence", zap.String("path", evidenceFile), zap.Int("records", src.Size()))
	return dataFile, src, nil
}

// Run benchmarks every configuration. Reports of successful
// configurations are returned even when others failed; the failures are
// combined into the returned error.
func (r *Runner) Run() ([]Report, error) {
	return r.RunContext(context.Background())
}

// RunContext is Run, stopping before the next configuration once ctx is
// done. A configuration already running is allowed to finish.
func (r *Runner) RunContext(ctx context.Context) ([]Report, error) {
	dataFile, src, err := r.Setup()
	if err != nil {
		return nil, err
	}

	tracker := &progressTracker{
		workers:    r.config.Workers,
		iterations: r.config.Iterations,
		count:      len(r.config.Configurations),
		showBar:    r.config.ShowProgress,
		ch:         r.progress,
	}

	matrix := &Matrix{
		DataFile: dataFile,
		Load:     r.load,
		Logger:   r.logger,
		Coordinator: &Coordinator{
			Workers:     r.config.Workers,
			Iterations:  r.config.Iterations,
			Property:    r.config.Property,
			WarmupPause: r.config.WarmupPause(),
			OnPhase:     tracker.begin,
			OnIteration: tracker.tick,
		},
		OnConfiguration: tracker.configuration,
	}

	r.logger.Info("running performance benchmark",
		zap.String("data_file", dataFile),
		zap.Int("configurations", len(r.config.Configurations)),
		zap.Int("workers", r.config.Workers),
		zap.Int("iterations", r.config.Iterations))

	var (
		reports []Report
		errs    error
	)
	for report, err := range matrix.RunAll(r.config.Configurations, src) {
		tracker.finish()
		if err != nil {
			errs = multierr.Append(errs, err)
			if r.observer != nil {
				var cfg Configuration
				var ce *ConfigurationError
				if errors.As(err, &ce) {
					cfg = ce.Configuration
				}
				r.observer.ObserveFailure(cfg, err)
			}
		} else {
			reports = append(reports, *report)
			if r.observer != nil {
				r.observer.ObserveReport(report)
			}
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, fmt.Errorf("benchmark stopped: %w", ctx.Err()))
			break
		}
	}

	r.logger.Info("finished performance benchmark",
		zap.Int("reports", len(reports)),
		zap.Int("failures", len(multierr.Errors(errs))))
	return reports, errs
}

// progressTracker feeds a progress bar and an update channel from worker
// iterations. begin and configuration are called between passes, tick
// concurrently from workers.
type progressTracker struct {
	workers    int
	iterations int
	count      int
	showBar    bool
	ch         chan<- ProgressUpdate

	mu    sync.Mutex
	name  string
	index int
	phase Phase
	start time.Time
	total int64
	every int64
	sent  int64
	done  atomic.Int64
	bar   *progressbar.ProgressBar
}

func (p *progressTracker) configuration(index int, cfg Configuration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = index
	p.name = cfg.Name()
}

func (p *progressTracker) begin(phase Phase) {
	p.finish()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	p.start = time.Now()
	p.total = int64(p.workers) * int64(p.iterations)
	p.every = p.total / 100
	if p.every < 1 {
		p.every = 1
	}
	p.sent = 0
	p.done.Store(0)

	if p.showBar && phase == PhaseTimed {
		p.bar = progressbar.NewOptions64(p.total,
			progressbar.OptionSetDescription(fmt.Sprintf("[%s]", p.name)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}
}

func (p *progressTracker) tick() {
	n := p.done.Add(1)
	if n%p.every != 0 && n != p.total {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Ticks may arrive out of order; only move forward.
	if n <= p.sent {
		return
	}
	if p.bar != nil {
		p.bar.Add64(n - p.sent)
	}
	p.sent = n
	if p.ch == nil {
		return
	}

	update := ProgressUpdate{
		Configuration: p.name,
		Index:         p.index,
		Count:         p.count,
		Phase:         p.phase,
		Current:       n,
		Total:         p.total,
		Percentage:    float64(n) / float64(p.total) * 100,
	}
	if elapsed := time.Since(p.start).Seconds(); elapsed > 0 {
		update.Rate = float64(n) / elapsed
	}
	select {
	case p.ch <- update:
	default:
	}
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
