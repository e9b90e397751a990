package output

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

type TableFormatter struct{}

func (t *TableFormatter) Format(w io.Writer, data Data) error {
	fmt.Fprintln(w, "\nBenchmark Results")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{
		"Configuration",
		"Workers",
		"Detections",
		"Skipped",
		"Wall Time",
		"Ms/Detection",
		"Detections/Sec",
		"Checksum",
		"CPU %",
		"Memory",
	})

	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range data.Reports {
		row := []string{
			r.Configuration.Name(),
			fmt.Sprintf("%d", r.Workers),
			humanize.Comma(r.TotalCount),
			humanize.Comma(r.TotalSkipped),
			formatDuration(r.WallTime),
			fmt.Sprintf("%.6f", r.MillisPerDetection),
			humanize.Comma(r.DetectionsPerSecond),
			fmt.Sprintf("%x", r.Checksum),
			fmt.Sprintf("%.1f", r.CPUUsage),
			humanize.IBytes(r.MemoryUsed),
		}
		table.Append(row)
	}

	table.Render()

	if len(data.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed Configurations")
		fmt.Fprintln(w, "---------------------")
		for _, f := range data.Failures {
			fmt.Fprintf(w, "%s: %s\n", f.Configuration.Name(), f.Error)
		}
	}

	// Summary statistics
	fmt.Fprintln(w, "\nSummary")
	fmt.Fprintln(w, "-------")

	s := summarize(data.Reports)
	fmt.Fprintf(w, "Configurations: %d run, %d failed\n", len(data.Reports), len(data.Failures))
	fmt.Fprintf(w, "Total detections: %s\n", humanize.Comma(s.detections))
	if s.skipped > 0 {
		fmt.Fprintf(w, "Skipped detections: %s\n", humanize.Comma(s.skipped))
	}
	fmt.Fprintf(w, "Total time: %s\n", formatDuration(time.Duration(s.wallTime*float64(time.Second))))
	if s.wallTime > 0 {
		fmt.Fprintf(w, "Overall throughput: %.2f detections/sec\n", float64(s.detections)/s.wallTime)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	} else if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.2fm", d.Minutes())
}
