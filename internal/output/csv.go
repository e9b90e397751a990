package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/user/ipibench/pkg/sysinfo"
)

type CSVFormatter struct{}

func (c *CSVFormatter) Format(w io.Writer, data Data) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"Timestamp",
		"Configuration",
		"Profile",
		"AllProperties",
		"PerformanceGraph",
		"PredictiveGraph",
		"Workers",
		"Detections",
		"Skipped",
		"TotalElapsed(ms)",
		"WallTime(ms)",
		"MillisPerDetection",
		"DetectionsPerSecond",
		"Checksum",
		"CPUUsage(%)",
		"MemoryUsed(MB)",
		"DataFileTier",
		"OS",
		"Architecture",
		"CPUModel",
		"CPUCores",
		"TotalMemory(GB)",
	}

	if err := writer.Write(header); err != nil {
		return err
	}

	si := data.SystemInfo
	if si == nil {
		si = &sysinfo.SystemInfo{}
	}

	for _, r := range data.Reports {
		cfg := r.Configuration
		row := []string{
			r.CompletedAt.Format(time.RFC3339),
			cfg.Name(),
			string(cfg.Profile),
			fmt.Sprintf("%t", cfg.AllProperties),
			fmt.Sprintf("%t", cfg.PerformanceGraph),
			fmt.Sprintf("%t", cfg.PredictiveGraph),
			fmt.Sprintf("%d", r.Workers),
			fmt.Sprintf("%d", r.TotalCount),
			fmt.Sprintf("%d", r.TotalSkipped),
			fmt.Sprintf("%.2f", float64(r.TotalElapsed.Nanoseconds())/1e6),
			fmt.Sprintf("%.2f", float64(r.WallTime.Nanoseconds())/1e6),
			fmt.Sprintf("%f", r.MillisPerDetection),
			fmt.Sprintf("%d", r.DetectionsPerSecond),
			fmt.Sprintf("%x", r.Checksum),
			fmt.Sprintf("%.2f", r.CPUUsage),
			fmt.Sprintf("%.2f", float64(r.MemoryUsed)/(1024*1024)),
			r.DataFile.Tier,
			si.OS,
			si.Architecture,
			si.CPUModel,
			fmt.Sprintf("%d", si.CPUCores),
			fmt.Sprintf("%.2f", float64(si.TotalMemory)/(1024*1024*1024)),
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}
