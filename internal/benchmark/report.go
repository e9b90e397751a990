package benchmark

import (
	"math"
	"time"

	"github.com/user/ipibench/internal/engine"
)

// Report summarises the timed pass of one configuration.
type Report struct {
	Configuration       Configuration       `json:"configuration"`
	Workers             int                 `json:"workers"`
	Tallies             []Tally             `json:"tallies"`
	TotalCount          int64               `json:"total_count"`
	TotalSkipped        int64               `json:"total_skipped"`
	TotalElapsed        time.Duration       `json:"total_elapsed"`
	Checksum            uint64              `json:"checksum"`
	MillisPerDetection  float64             `json:"millis_per_detection"`
	DetectionsPerSecond int64               `json:"detections_per_second"`
	WallTime            time.Duration       `json:"wall_time"`
	CPUUsage            float64             `json:"cpu_usage"`
	MemoryUsed          uint64              `json:"memory_used"`
	DataFile            engine.DataFileInfo `json:"data_file"`
	CompletedAt         time.Time           `json:"completed_at"`
}

// Aggregate combines worker tallies. TotalElapsed is the sum of the
// workers' own elapsed times, not wall-clock time, and the per-detection
// figure divides it by workers × detections. Rates are zero when nothing
// was detected.
func Aggregate(tallies []Tally, workers int) Report {
	r := Report{
		Workers: workers,
		Tallies: make([]Tally, len(tallies)),
	}
	copy(r.Tallies, tallies)

	for _, t := range tallies {
		r.TotalCount += t.Count
		r.TotalSkipped += t.Skipped
		r.TotalElapsed += t.Elapsed
		r.Checksum += t.Checksum
	}

	if workers < 1 || r.TotalCount == 0 {
		return r
	}

	ms := float64(r.TotalElapsed) / float64(time.Millisecond)
	r.MillisPerDetection = ms / (float64(workers) * float64(r.TotalCount))
	if r.MillisPerDetection > 0 {
		r.DetectionsPerSecond = int64(math.Round(1000 / r.MillisPerDetection))
	}
	return r
}
