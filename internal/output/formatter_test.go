package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ipibench/internal/benchmark"
	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/pkg/sysinfo"
)

func testData() Data {
	configs := benchmark.DefaultConfigurations()
	report := benchmark.Aggregate([]benchmark.Tally{
		{Worker: 0, Count: 100, Elapsed: 1000 * time.Millisecond, Checksum: 0xa},
		{Worker: 1, Count: 100, Elapsed: 1200 * time.Millisecond, Checksum: 0x5},
	}, 2)
	report.Configuration = configs[0]
	report.WallTime = 1300 * time.Millisecond
	report.CPUUsage = 50.5
	report.MemoryUsed = 1048576
	report.DataFile = engine.DataFileInfo{
		Path:      "data.yaml",
		Tier:      engine.TierLite,
		Published: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Ranges:    12,
	}
	report.CompletedAt = time.Now()

	return Data{
		SystemInfo: &sysinfo.SystemInfo{
			OS:           "linux",
			Architecture: "amd64",
			CPUModel:     "Test CPU",
			CPUCores:     8,
			TotalMemory:  16000000000,
		},
		Reports: []benchmark.Report{report},
		Failures: []Failure{
			{Configuration: configs[1], Error: "engine load failed"},
		},
		Config: benchmark.JobConfig{Workers: 2, Iterations: 100}.WithDefaults(),
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format    string
		expectErr bool
	}{
		{"table", false},
		{"text", false},
		{"json", false},
		{"csv", false},
		{"xml", true},
		{"invalid", true},
	}

	for _, test := range tests {
		_, err := NewFormatter(test.format)
		if test.expectErr {
			assert.Error(t, err, test.format)
		} else {
			assert.NoError(t, err, test.format)
		}
	}
	for _, f := range Formats() {
		_, err := NewFormatter(f)
		assert.NoError(t, err)
	}
}

func TestTextFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&TextFormatter{}).Format(buf, testData()))

	output := buf.String()
	assert.Contains(t, output, "Benchmarking with profile: MaxPerformance AllProperties: false")
	assert.Contains(t, output, "Thread:  100 detections, elapsed 1.000000 seconds, 100 Detections per second")
	assert.Contains(t, output, "Thread:  100 detections, elapsed 1.200000 seconds, 83 Detections per second")
	assert.Contains(t, output, "Overall: 200 detections, Average millisecs per detection: 5.500000, Detections per second: 182")
	assert.Contains(t, output, "Overall: Concurrent threads: 2, Checksum: f")
	assert.Contains(t, output, "Data file: data.yaml (Lite, published 2026-10-01)")
	assert.Contains(t, output, "Failed MaxPerformance/single/performance: engine load failed")
	assert.Contains(t, output, "System: linux/amd64, Test CPU, 8 cores")
}

func TestJSONFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&JSONFormatter{}).Format(buf, testData()))

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))

	assert.Contains(t, result, "system_info")
	assert.Contains(t, result, "reports")
	assert.Contains(t, result, "failures")

	summary, ok := result["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), summary["configurations"])
	assert.Equal(t, float64(1), summary["failed"])
	assert.Equal(t, float64(200), summary["total_detections"])

	reports := result["reports"].([]any)
	require.Len(t, reports, 1)
	first := reports[0].(map[string]any)
	assert.Equal(t, float64(182), first["detections_per_second"])
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&CSVFormatter{}).Format(buf, testData()))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	header, row := records[0], records[1]
	require.Len(t, row, len(header))
	assert.Equal(t, "Configuration", header[1])
	assert.Equal(t, "MaxPerformance/single/predictive", row[1])
	assert.Equal(t, "200", row[7])
	assert.Equal(t, "182", row[12])
	assert.Equal(t, "f", row[13])
	assert.Equal(t, "Lite", row[16])
}

func TestCSVFormatterWithoutSystemInfo(t *testing.T) {
	data := testData()
	data.SystemInfo = nil

	buf := &bytes.Buffer{}
	assert.NoError(t, (&CSVFormatter{}).Format(buf, data))
}

func TestTableFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&TableFormatter{}).Format(buf, testData()))

	output := buf.String()
	assert.Contains(t, output, "Benchmark Results")
	assert.Contains(t, output, "MaxPerformance/single/predictive")
	assert.Contains(t, output, "Failed Configurations")
	assert.Contains(t, output, "Summary")
	assert.Contains(t, output, "Total detections: 200")
	assert.Contains(t, output, "1 run, 1 failed")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Nanosecond, "0.50µs"},
		{1500 * time.Microsecond, "1.50ms"},
		{2500 * time.Millisecond, "2.50s"},
		{150 * time.Second, "2.50m"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, formatDuration(test.duration), test.duration.String())
	}
}
