package benchmark

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/ipibench/internal/engine"
)

const (
	DefaultWorkers     = 4
	DefaultIterations  = 10000
	DefaultWarmupPause = 300 * time.Millisecond
	DefaultProperty    = engine.PropRegisteredName
	DefaultDataFile    = "ip-intelligence-data/51Degrees-LiteV41.yaml"
	DefaultEvidence    = "ip-intelligence-data/evidence.yml"
)

// JobConfig describes one benchmark run over a list of configurations.
type JobConfig struct {
	DataFile       string          `json:"data_file"`
	EvidenceFile   string          `json:"evidence_file"`
	UseSample      bool            `json:"use_sample"`
	Workers        int             `json:"workers"`
	Iterations     int             `json:"iterations"`
	MaxEvidence    int             `json:"max_evidence"`
	Property       string          `json:"property"`
	WarmupPauseMs  int             `json:"warmup_pause_ms"`
	Configurations []Configuration `json:"configurations,omitempty"`
	ShowProgress   bool            `json:"show_progress"`
	Verbose        bool            `json:"verbose"`
}

// WithDefaults fills unset fields.
func (c JobConfig) WithDefaults() JobConfig {
	if c.DataFile == "" {
		c.DataFile = DefaultDataFile
	}
	if c.EvidenceFile == "" {
		c.EvidenceFile = DefaultEvidence
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Iterations == 0 {
		c.Iterations = DefaultIterations
	}
	if c.Property == "" {
		c.Property = DefaultProperty
	}
	if c.WarmupPauseMs == 0 {
		c.WarmupPauseMs = int(DefaultWarmupPause / time.Millisecond)
	}
	if len(c.Configurations) == 0 {
		c.Configurations = DefaultConfigurations()
	}
	return c
}

func (c JobConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.MaxEvidence < 0 {
		return fmt.Errorf("max evidence must not be negative, got %d", c.MaxEvidence)
	}
	for _, cfg := range c.Configurations {
		if _, err := engine.ParseProfile(string(cfg.Profile)); err != nil {
			return err
		}
	}
	return nil
}

func (c JobConfig) WarmupPause() time.Duration {
	if c.WarmupPauseMs < 0 {
		return 0
	}
	return time.Duration(c.WarmupPauseMs) * time.Millisecond
}

// Configuration is one engine setup to benchmark.
type Configuration struct {
	Profile          engine.Profile `json:"profile"`
	AllProperties    bool           `json:"all_properties"`
	PerformanceGraph bool           `json:"performance_graph"`
	PredictiveGraph  bool           `json:"predictive_graph"`
}

// DefaultConfigurations returns a new copy of the standard set.
func DefaultConfigurations() []Configuration {
	return []Configuration{
		{Profile: engine.MaxPerformance, AllProperties: false, PerformanceGraph: false, PredictiveGraph: true},
		{Profile: engine.MaxPerformance, AllProperties: false, PerformanceGraph: true, PredictiveGraph: false},
		{Profile: engine.MaxPerformance, AllProperties: true, PerformanceGraph: true, PredictiveGraph: false},
	}
}

// Options converts the configuration into engine options. Unless every
// property is requested only property is loaded.
func (c Configuration) Options(property string, concurrency int) engine.Options {
	opts := engine.Options{
		Profile:          c.Profile,
		PerformanceGraph: c.PerformanceGraph,
		PredictiveGraph:  c.PredictiveGraph,
		Concurrency:      concurrency,
	}
	if !c.AllProperties {
		opts.Properties = []string{property}
	}
	return opts
}

// Name is a compact label used in tables.
func (c Configuration) Name() string {
	props := "single"
	if c.AllProperties {
		props = "all"
	}
	var graphs []string
	if c.PerformanceGraph {
		graphs = append(graphs, "performance")
	}
	if c.PredictiveGraph {
		graphs = append(graphs, "predictive")
	}
	if len(graphs) == 0 {
		graphs = append(graphs, "none")
	}
	return fmt.Sprintf("%s/%s/%s", c.Profile, props, strings.Join(graphs, "+"))
}

func (c Configuration) String() string {
	return fmt.Sprintf("profile: %s AllProperties: %t, performanceGraph: %t, predictiveGraph: %t",
		c.Profile, c.AllProperties, c.PerformanceGraph, c.PredictiveGraph)
}
