package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ipibench/internal/benchmark"
)

const testData = `tier: Enterprise
published: 2026-10-01T00:00:00Z
ranges:
  - network: 116.0.0.0/8
    registered_name: One Sixteen
`

func parse(t *testing.T, args ...string) (*options, error) {
	t.Helper()

	v := viper.New()
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(args))
	require.NoError(t, initConfig(v, cmd))
	return parseOptions(v, cmd.Flags().Args())
}

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, benchmark.DefaultDataFile, opts.job.DataFile)
	assert.Equal(t, benchmark.DefaultEvidence, opts.job.EvidenceFile)
	assert.Equal(t, benchmark.DefaultWorkers, opts.job.Workers)
	assert.Equal(t, benchmark.DefaultIterations, opts.job.Iterations)
	assert.Equal(t, benchmark.DefaultWarmupPause, opts.job.WarmupPause())
	assert.Equal(t, "text", opts.format)
	assert.False(t, opts.web)
	assert.Equal(t, 1, opts.jobWorkers)
}

func TestParseOptionsPositional(t *testing.T) {
	opts, err := parse(t, "data.yaml", "ev.yml", "8", "-i", "50", "--warmup-pause", "0s")
	require.NoError(t, err)

	assert.Equal(t, "data.yaml", opts.job.DataFile)
	assert.Equal(t, "ev.yml", opts.job.EvidenceFile)
	assert.Equal(t, 8, opts.job.Workers)
	assert.Equal(t, 50, opts.job.Iterations)
	assert.Zero(t, opts.job.WarmupPause())

	_, err = parse(t, "data.yaml", "ev.yml", "many")
	assert.Error(t, err)

	_, err = parse(t, "data.yaml", "ev.yml", "0")
	assert.ErrorContains(t, err, "at least 1")

	_, err = parse(t, "data.yaml", "ev.yml", "4", "-i", "-1")
	assert.Error(t, err)
}

func TestParseOptionsEnvironment(t *testing.T) {
	t.Setenv("IPIBENCH_ITERATIONS", "77")
	t.Setenv("IPIBENCH_DATA_FILE", "env.yaml")
	t.Setenv("IPIBENCH_JOB_WORKERS", "3")

	opts, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, 77, opts.job.Iterations)
	assert.Equal(t, "env.yaml", opts.job.DataFile)
	assert.Equal(t, 3, opts.jobWorkers)

	opts, err = parse(t, "-i", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, opts.job.Iterations, "flags win over the environment")
}

func TestParseOptionsConfigFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "ipibench.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("iterations: 12\nformat: csv\nworkers: 6\n"), 0o644))

	opts, err := parse(t, "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, 12, opts.job.Iterations)
	assert.Equal(t, 6, opts.job.Workers)
	assert.Equal(t, "csv", opts.format)

	_, err = parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("loud", false)
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "data.yaml")
	require.NoError(t, os.WriteFile(dataFile, []byte(testData), 0o644))
	outFile := filepath.Join(dir, "out.json")

	cmd := newRootCmd()
	cmd.SetArgs([]string{dataFile, "unused.yml", "2",
		"--sample", "-i", "10", "--warmup-pause", "0s",
		"-f", "json", "-o", outFile, "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	raw, err := os.ReadFile(outFile)
	require.NoError(t, err)

	var result struct {
		Reports []benchmark.Report `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Reports, 3)
	for _, r := range result.Reports {
		assert.Equal(t, int64(20), r.TotalCount)
		assert.Equal(t, 2, r.Workers)
	}
}

func TestRunCommandSetupError(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"/does/not/exist.yaml", "--sample", "--log-level", "error"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark failed")
}
