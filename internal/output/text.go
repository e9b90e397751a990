package output

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// TextFormatter prints per-worker and overall lines for every configuration.
type TextFormatter struct{}

func (t *TextFormatter) Format(w io.Writer, data Data) error {
	if data.SystemInfo != nil {
		si := data.SystemInfo
		fmt.Fprintf(w, "System: %s/%s, %s, %d cores, %s memory\n",
			si.OS, si.Architecture, si.CPUModel, si.CPUCores, humanize.IBytes(si.TotalMemory))
		fmt.Fprintln(w)
	}

	for _, r := range data.Reports {
		fmt.Fprintf(w, "Benchmarking with %s\n", r.Configuration)
		if r.DataFile.Path != "" {
			fmt.Fprintf(w, "Data file: %s (%s, published %s)\n",
				r.DataFile.Path, r.DataFile.Tier, r.DataFile.Published.Format(time.DateOnly))
		}
		for _, tally := range r.Tallies {
			fmt.Fprintf(w, "Thread:  %s detections, elapsed %f seconds, %s Detections per second\n",
				humanize.Comma(tally.Count),
				tally.Elapsed.Seconds(),
				humanize.Comma(tally.DetectionsPerSecond()))
		}
		fmt.Fprintf(w, "Overall: %s detections, Average millisecs per detection: %f, Detections per second: %s\n",
			humanize.Comma(r.TotalCount), r.MillisPerDetection, humanize.Comma(r.DetectionsPerSecond))
		fmt.Fprintf(w, "Overall: Concurrent threads: %d, Checksum: %x\n", r.Workers, r.Checksum)
		if r.TotalSkipped > 0 {
			fmt.Fprintf(w, "Overall: %s detections failed and were skipped\n", humanize.Comma(r.TotalSkipped))
		}
		fmt.Fprintln(w)
	}

	for _, f := range data.Failures {
		fmt.Fprintf(w, "Failed %s: %s\n", f.Configuration.Name(), f.Error)
	}
	return nil
}
