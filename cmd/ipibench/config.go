package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/user/ipibench/internal/benchmark"
	"github.com/user/ipibench/internal/evidence"
)

const envPrefix = "IPIBENCH"

type options struct {
	job        benchmark.JobConfig
	format     string
	outputFile string
	logLevel   string
	web        bool
	port       string
	jobWorkers int
}

func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntP("iterations", "i", benchmark.DefaultIterations, "Detections per worker per pass")
	flags.Int("max-evidence", evidence.DefaultMaxRecords, "Maximum evidence records to load")
	flags.StringP("format", "f", "text", "Output format (table, text, json, csv)")
	flags.StringP("output", "o", "", "Output file (default: stdout)")
	flags.Bool("progress", false, "Show a progress bar for each timed pass")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Duration("warmup-pause", benchmark.DefaultWarmupPause, "Pause between the warm-up and the timed pass")
	flags.Bool("sample", false, "Use the built-in sample evidence instead of an evidence file")
	flags.String("property", benchmark.DefaultProperty, "Property folded into the checksum")
	flags.BoolP("web", "w", false, "Run in web server mode")
	flags.String("port", "8080", "Web server port")
	flags.Int("job-workers", 1, "Benchmark jobs run at once in web mode")
	flags.String("config", "", "Config file (yaml, json or toml)")
}

// initConfig wires the config file and IPIBENCH_* environment variables
// under the command-line flags.
func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfg := v.GetString("config"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfg, err)
		}
	}
	return nil
}

// parseOptions combines viper settings with the optional positional
// arguments [dataFile] [evidenceFile] [workers].
func parseOptions(v *viper.Viper, args []string) (*options, error) {
	o := &options{
		job: benchmark.JobConfig{
			DataFile:      v.GetString("data-file"),
			EvidenceFile:  v.GetString("evidence-file"),
			UseSample:     v.GetBool("sample"),
			Workers:       v.GetInt("workers"),
			Iterations:    v.GetInt("iterations"),
			MaxEvidence:   v.GetInt("max-evidence"),
			Property:      v.GetString("property"),
			WarmupPauseMs: int(v.GetDuration("warmup-pause").Milliseconds()),
			ShowProgress:  v.GetBool("progress"),
			Verbose:       v.GetBool("verbose"),
		},
		format:     v.GetString("format"),
		outputFile: v.GetString("output"),
		logLevel:   v.GetString("log-level"),
		web:        v.GetBool("web"),
		port:       v.GetString("port"),
		jobWorkers: v.GetInt("job-workers"),
	}

	if len(args) > 0 {
		o.job.DataFile = args[0]
	}
	if len(args) > 1 {
		o.job.EvidenceFile = args[1]
	}
	if len(args) > 2 {
		workers, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("workers must be a number, got %q", args[2])
		}
		if workers < 1 {
			return nil, fmt.Errorf("workers must be at least 1, got %d", workers)
		}
		o.job.Workers = workers
	}

	// A zero pause would be replaced by the default.
	if o.job.WarmupPauseMs == 0 {
		o.job.WarmupPauseMs = -1
	}

	o.job = o.job.WithDefaults()
	if err := o.job.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// newLogger builds a console logger on stderr. Verbose mode uses the
// development config, which does not sample repeated entries.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func openOutput(path string) (*os.File, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
