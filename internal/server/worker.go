package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/ipibench/internal/benchmark"
	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/metrics"
	"github.com/user/ipibench/internal/output"
	"github.com/user/ipibench/internal/storage"
)

var (
	ErrPoolStopped = errors.New("worker pool is shutting down")
	ErrQueueFull   = errors.New("job queue is full")
)

type PoolOptions struct {
	Workers     int
	QueueSize   int
	JobStore    *JobStore
	ReportStore *storage.ReportStore
	Recorder    *metrics.Recorder
	Loader      engine.Loader
	Logger      *zap.Logger
}

type WorkerPool struct {
	workers     int
	jobQueue    chan *BenchmarkJob
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	jobStore    *JobStore
	reportStore *storage.ReportStore
	recorder    *metrics.Recorder
	loader      engine.Loader
	logger      *zap.Logger

	mu         sync.Mutex
	stopped    bool
	activeJobs map[string]context.CancelFunc
	terminated map[string]bool
}

func NewWorkerPool(opts PoolOptions) *WorkerPool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:     opts.Workers,
		jobQueue:    make(chan *BenchmarkJob, opts.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		jobStore:    opts.JobStore,
		reportStore: opts.ReportStore,
		recorder:    opts.Recorder,
		loader:      opts.Loader,
		logger:      opts.Logger,
		activeJobs:  make(map[string]context.CancelFunc),
		terminated:  make(map[string]bool),
	}
}

func (wp *WorkerPool) Start() {
	wp.logger.Info("starting worker pool", zap.Int("workers", wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	wp.logger.Info("stopping worker pool")
	wp.cancel()
	close(wp.jobQueue)
	wp.wg.Wait()
	wp.logger.Info("worker pool stopped")
}

func (wp *WorkerPool) Submit(job *BenchmarkJob) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.logger.With(zap.Int("job_worker", id))
	log.Debug("job worker started")

	for {
		select {
		case job, ok := <-wp.jobQueue:
			if !ok {
				log.Debug("job worker stopping")
				return
			}

			log.Info("processing job", zap.String("job_id", job.ID))
			wp.processJob(job)

		case <-wp.ctx.Done():
			log.Debug("job worker stopping due to context cancellation")
			return
		}
	}
}

// TerminateJob stops a job before its next configuration. A queued job is
// terminated as soon as a worker picks it up.
func (wp *WorkerPool) TerminateJob(jobID string) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	wp.terminated[jobID] = true
	if cancel, exists := wp.activeJobs[jobID]; exists {
		cancel()
	}
}

func (wp *WorkerPool) processJob(job *BenchmarkJob) {
	jobCtx, jobCancel := context.WithCancel(wp.ctx)

	wp.mu.Lock()
	wp.activeJobs[job.ID] = jobCancel
	if wp.terminated[job.ID] {
		jobCancel()
	}
	wp.mu.Unlock()

	defer func() {
		wp.mu.Lock()
		delete(wp.activeJobs, job.ID)
		delete(wp.terminated, job.ID)
		wp.mu.Unlock()
		jobCancel()
		if job.Progress != nil {
			close(job.Progress)
		}
	}()

	if jobCtx.Err() != nil {
		wp.jobStore.CompleteJob(job.ID, StatusTerminated, nil, nil, fmt.Errorf("job terminated by user"))
		return
	}

	wp.jobStore.UpdateStatus(job.ID, StatusRunning)
	if wp.recorder != nil {
		wp.recorder.JobStarted()
	}

	log := wp.logger.With(zap.String("job_id", job.ID))
	runner := benchmark.NewRunner(job.Config, log)
	if wp.loader != nil {
		runner.SetLoader(wp.loader)
	}
	if job.Progress != nil {
		runner.SetProgressChannel(job.Progress)
	}
	if wp.recorder != nil {
		runner.SetObserver(wp.recorder)
	}

	reports, err := runner.RunContext(jobCtx)

	reportIDs := make([]string, 0, len(reports))
	for _, r := range reports {
		stored := wp.reportStore.Store(job.ID, r)
		reportIDs = append(reportIDs, stored.ID)
	}

	var failures []output.Failure
	for _, e := range multierr.Errors(err) {
		var ce *benchmark.ConfigurationError
		if errors.As(e, &ce) {
			failures = append(failures, output.Failure{Configuration: ce.Configuration, Error: ce.Err.Error()})
		}
	}

	status := StatusCompleted
	switch {
	case errors.Is(err, context.Canceled):
		status = StatusTerminated
	case err != nil && len(reports) == 0:
		status = StatusFailed
	}

	if err != nil {
		log.Warn("job finished with errors", zap.String("status", status), zap.Error(err))
	} else {
		log.Info("job completed", zap.Int("reports", len(reports)))
	}

	wp.jobStore.CompleteJob(job.ID, status, reportIDs, failures, err)
	if wp.recorder != nil {
		wp.recorder.JobFinished(status)
	}
}

func (js *JobStore) UpdateStatus(jobID, status string) {
	js.mu.Lock()
	defer js.mu.Unlock()

	if job, exists := js.jobs[jobID]; exists {
		job.Status = status
		job.UpdatedAt = time.Now()
	}
}

func (js *JobStore) CompleteJob(jobID, status string, reportIDs []string, failures []output.Failure, err error) {
	js.mu.Lock()
	defer js.mu.Unlock()

	if job, exists := js.jobs[jobID]; exists {
		completedAt := time.Now()
		job.CompletedAt = &completedAt
		job.UpdatedAt = completedAt
		job.Status = status
		job.ReportIDs = reportIDs
		job.Failures = failures
		if err != nil {
			job.Error = err.Error()
		}
	}
}
