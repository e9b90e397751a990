package output

import (
	"fmt"
	"io"

	"github.com/user/ipibench/internal/benchmark"
	"github.com/user/ipibench/pkg/sysinfo"
)

type Data struct {
	SystemInfo *sysinfo.SystemInfo
	Reports    []benchmark.Report
	Failures   []Failure
	Config     benchmark.JobConfig
}

// Failure is a configuration that produced no report.
type Failure struct {
	Configuration benchmark.Configuration `json:"configuration"`
	Error         string                  `json:"error"`
}

type Formatter interface {
	Format(w io.Writer, data Data) error
}

func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "table":
		return &TableFormatter{}, nil
	case "text":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	case "csv":
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Formats lists the names accepted by NewFormatter.
func Formats() []string {
	return []string{"table", "text", "json", "csv"}
}

type summary struct {
	detections int64
	skipped    int64
	wallTime   float64
}

func summarize(reports []benchmark.Report) summary {
	var s summary
	for _, r := range reports {
		s.detections += r.TotalCount
		s.skipped += r.TotalSkipped
		s.wallTime += r.WallTime.Seconds()
	}
	return s
}
