package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/user/ipibench/internal/benchmark"
	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/metrics"
	"github.com/user/ipibench/internal/output"
	"github.com/user/ipibench/internal/storage"
	"github.com/user/ipibench/pkg/sysinfo"
)

const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTerminated = "terminated"
)

type Options struct {
	Port       string
	JobWorkers int
	QueueSize  int
	// Defaults fills the fields a submitted job leaves empty.
	Defaults benchmark.JobConfig
	// Loader replaces engine.Open when set.
	Loader engine.Loader
	Logger *zap.Logger
}

type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	reportStore *storage.ReportStore
	jobStore    *JobStore
	workerPool  *WorkerPool
	recorder    *metrics.Recorder
	sysInfo     *sysinfo.SystemInfo
	defaults    benchmark.JobConfig
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	port        string
}

type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*BenchmarkJob
}

type BenchmarkJob struct {
	ID          string                        `json:"id"`
	Config      benchmark.JobConfig           `json:"config"`
	Status      string                        `json:"status"`
	StartedAt   time.Time                     `json:"started_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty"`
	ReportIDs   []string                      `json:"report_ids,omitempty"`
	Failures    []output.Failure              `json:"failures,omitempty"`
	Error       string                        `json:"error,omitempty"`
	Progress    chan benchmark.ProgressUpdate `json:"-"`
}

func (j *BenchmarkJob) finished() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

func NewServer(opts Options) (*Server, error) {
	if opts.JobWorkers < 1 {
		// Jobs running side by side would skew each other's timings.
		opts.JobWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	sysInfo, err := sysinfo.Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to collect system info: %w", err)
	}

	reportStore := storage.NewReportStore()
	jobStore := &JobStore{
		jobs: make(map[string]*BenchmarkJob),
	}
	recorder := metrics.NewRecorder()

	s := &Server{
		router:      mux.NewRouter(),
		reportStore: reportStore,
		jobStore:    jobStore,
		recorder:    recorder,
		sysInfo:     sysInfo,
		defaults:    opts.Defaults,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: opts.Logger,
		port:   opts.Port,
	}

	s.workerPool = NewWorkerPool(PoolOptions{
		Workers:     opts.JobWorkers,
		QueueSize:   opts.QueueSize,
		JobStore:    jobStore,
		ReportStore: reportStore,
		Recorder:    recorder,
		Loader:      opts.Loader,
		Logger:      opts.Logger,
	})

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/system-info", s.handleSystemInfo).Methods("GET")
	api.HandleFunc("/configurations", s.handleConfigurations).Methods("GET")
	api.HandleFunc("/benchmarks", s.handleCreateBenchmark).Methods("POST")
	api.HandleFunc("/benchmarks", s.handleListBenchmarks).Methods("GET")
	api.HandleFunc("/benchmarks/{id}", s.handleGetBenchmark).Methods("GET")
	api.HandleFunc("/benchmarks/{id}/progress", s.handleBenchmarkProgress).Methods("GET")
	api.HandleFunc("/benchmarks/{id}/terminate", s.handleTerminateBenchmark).Methods("POST")
	api.HandleFunc("/benchmarks/{id}/report", s.handleRenderReport).Methods("GET")
	api.HandleFunc("/reports", s.handleListReports).Methods("GET")
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods("GET")
	api.HandleFunc("/reports/{id}", s.handleDeleteReport).Methods("DELETE")

	s.router.Handle("/metrics", s.recorder.Handler()).Methods("GET")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the job workers and serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.workerPool.Start()

	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("ipibench web server starting",
		zap.String("url", "http://localhost:"+s.port),
		zap.Int("job_workers", s.workerPool.workers))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for running jobs to stop.
// Jobs stop between configurations.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.workerPool.Stop()
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sysInfo)
}

func (s *Server) handleConfigurations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"configurations": benchmark.DefaultConfigurations(),
		"profiles": []engine.Profile{
			engine.LowMemory,
			engine.Balanced,
			engine.BalancedTemp,
			engine.HighPerformance,
			engine.MaxPerformance,
		},
		"properties": engine.AllProperties,
	})
}

// withDefaults fills what a submitted config leaves empty from the
// server defaults, then from the package defaults.
func (s *Server) withDefaults(config benchmark.JobConfig) benchmark.JobConfig {
	d := s.defaults
	if config.DataFile == "" {
		config.DataFile = d.DataFile
	}
	if config.EvidenceFile == "" && !config.UseSample {
		config.EvidenceFile = d.EvidenceFile
		config.UseSample = d.UseSample
	}
	if config.Workers == 0 {
		config.Workers = d.Workers
	}
	if config.Iterations == 0 {
		config.Iterations = d.Iterations
	}
	if config.MaxEvidence == 0 {
		config.MaxEvidence = d.MaxEvidence
	}
	if config.WarmupPauseMs == 0 {
		config.WarmupPauseMs = d.WarmupPauseMs
	}
	if len(config.Configurations) == 0 {
		config.Configurations = d.Configurations
	}
	// Progress goes to the websocket, never to the server's terminal.
	config.ShowProgress = false
	return config.WithDefaults()
}

func (s *Server) handleCreateBenchmark(w http.ResponseWriter, r *http.Request) {
	var config benchmark.JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	config = s.withDefaults(config)
	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("creating benchmark job",
		zap.Int("workers", config.Workers),
		zap.Int("iterations", config.Iterations),
		zap.Int("configurations", len(config.Configurations)))

	now := time.Now()
	job := &BenchmarkJob{
		ID:        uuid.New().String(),
		Config:    config,
		Status:    StatusQueued,
		StartedAt: now,
		UpdatedAt: now,
		Progress:  make(chan benchmark.ProgressUpdate, 100),
	}

	s.jobStore.Add(job)

	if err := s.workerPool.Submit(job); err != nil {
		s.jobStore.Remove(job.ID)
		http.Error(w, "Server is busy, please try again later", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, map[string]string{
		"job_id": job.ID,
		"status": StatusQueued,
	})
}

func (s *Server) handleListBenchmarks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.jobStore.List())
}

func (s *Server) handleGetBenchmark(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobStore.Get(mux.Vars(r)["id"])
	if !exists {
		http.Error(w, "Benchmark not found", http.StatusNotFound)
		return
	}
	writeJSON(w, job)
}

func (s *Server) handleTerminateBenchmark(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, exists := s.jobStore.Get(id)
	if !exists {
		http.Error(w, "Benchmark not found", http.StatusNotFound)
		return
	}
	if job.finished() {
		http.Error(w, "Benchmark already finished", http.StatusConflict)
		return
	}

	s.workerPool.TerminateJob(id)

	writeJSON(w, map[string]string{
		"status":  StatusTerminated,
		"message": "Benchmark termination initiated, the running configuration will finish first",
	})
}

func (s *Server) handleBenchmarkProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, exists := s.jobStore.Get(id)
	if !exists {
		http.Error(w, "Benchmark not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	progress := job.Progress
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			err := conn.WriteJSON(map[string]any{
				"status":        StatusRunning,
				"completed":     false,
				"configuration": update.Configuration,
				"index":         update.Index,
				"count":         update.Count,
				"phase":         update.Phase,
				"current":       update.Current,
				"total":         update.Total,
				"percentage":    update.Percentage,
				"rate":          update.Rate,
			})
			if err != nil {
				return
			}

		case <-ticker.C:
			current, exists := s.jobStore.Get(id)
			if !exists {
				return
			}
			if current.finished() {
				conn.WriteJSON(map[string]any{
					"status":     current.Status,
					"completed":  true,
					"report_ids": current.ReportIDs,
					"error":      current.Error,
				})
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleRenderReport renders the reports of a job with one of the CLI
// formatters.
func (s *Server) handleRenderReport(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobStore.Get(mux.Vars(r)["id"])
	if !exists {
		http.Error(w, "Benchmark not found", http.StatusNotFound)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "text"
	}
	formatter, err := output.NewFormatter(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := output.Data{
		SystemInfo: s.sysInfo,
		Failures:   job.Failures,
		Config:     job.Config,
	}
	for _, stored := range s.reportStore.ByJob(job.ID) {
		data.Reports = append(data.Reports, stored.Report)
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	if err := formatter.Format(w, data); err != nil {
		s.logger.Warn("rendering report failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")

	var reports []*storage.StoredReport
	if jobID != "" {
		reports = s.reportStore.ByJob(jobID)
	} else {
		reports = s.reportStore.All()
	}
	if reports == nil {
		reports = []*storage.StoredReport{}
	}
	writeJSON(w, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, exists := s.reportStore.Get(mux.Vars(r)["id"])
	if !exists {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if !s.reportStore.Delete(mux.Vars(r)["id"]) {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (js *JobStore) Add(job *BenchmarkJob) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.jobs[job.ID] = job
}

func (js *JobStore) Remove(jobID string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	delete(js.jobs, jobID)
}

// Get returns a snapshot of the job.
func (js *JobStore) Get(jobID string) (BenchmarkJob, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return BenchmarkJob{}, false
	}
	return *job, true
}

// List returns snapshots of every job, oldest first.
func (js *JobStore) List() []BenchmarkJob {
	js.mu.RLock()
	jobs := make([]BenchmarkJob, 0, len(js.jobs))
	for _, job := range js.jobs {
		jobs = append(jobs, *job)
	}
	js.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}
