package output

import (
	"encoding/json"
	"io"
	"time"
)

type JSONFormatter struct{}

type JSONOutput struct {
	Timestamp  time.Time `json:"timestamp"`
	SystemInfo any       `json:"system_info"`
	Config     any       `json:"config"`
	Reports    any       `json:"reports"`
	Failures   []Failure `json:"failures,omitempty"`
	Summary    struct {
		Configurations  int     `json:"configurations"`
		Failed          int     `json:"failed"`
		TotalDetections int64   `json:"total_detections"`
		TotalSkipped    int64   `json:"total_skipped"`
		WallTimeSeconds float64 `json:"wall_time_seconds"`
		Throughput      float64 `json:"throughput_detections_per_sec"`
	} `json:"summary"`
}

func (j *JSONFormatter) Format(w io.Writer, data Data) error {
	output := JSONOutput{
		Timestamp:  time.Now(),
		SystemInfo: data.SystemInfo,
		Config: map[string]any{
			"data_file":      data.Config.DataFile,
			"evidence_file":  data.Config.EvidenceFile,
			"use_sample":     data.Config.UseSample,
			"workers":        data.Config.Workers,
			"iterations":     data.Config.Iterations,
			"max_evidence":   data.Config.MaxEvidence,
			"property":       data.Config.Property,
			"warmup_pause":   data.Config.WarmupPause().String(),
			"configurations": data.Config.Configurations,
		},
		Reports:  data.Reports,
		Failures: data.Failures,
	}

	s := summarize(data.Reports)
	output.Summary.Configurations = len(data.Reports) + len(data.Failures)
	output.Summary.Failed = len(data.Failures)
	output.Summary.TotalDetections = s.detections
	output.Summary.TotalSkipped = s.skipped
	output.Summary.WallTimeSeconds = s.wallTime
	if s.wallTime > 0 {
		output.Summary.Throughput = float64(s.detections) / s.wallTime
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
