package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/ipibench/internal/benchmark"
	"github.com/user/ipibench/internal/output"
	"github.com/user/ipibench/internal/server"
	"github.com/user/ipibench/pkg/sysinfo"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "ipibench [dataFile] [evidenceFile] [workers]",
		Short: "A concurrent performance benchmark for IP-intelligence detection",
		Long: `ipibench measures how fast an IP-intelligence engine answers detections.

For every engine configuration it loads a fresh engine, runs an untimed
warm-up pass followed by a timed pass on a fixed number of workers, and
reports per-worker and overall throughput.

Settings can also be given in a config file (--config) or through
environment variables prefixed with IPIBENCH_, e.g. IPIBENCH_ITERATIONS=500.
IPIBENCH_DATA_FILE, IPIBENCH_EVIDENCE_FILE and IPIBENCH_WORKERS stand in for
the positional arguments. Flags take precedence over environment variables.`,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(v, args)
			if err != nil {
				return err
			}

			logger, err := newLogger(opts.logLevel, opts.job.Verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if opts.web {
				return runServer(opts, logger)
			}
			return runBenchmark(opts, logger)
		},
	}

	setupFlags(cmd)
	return cmd
}

func runServer(opts *options, logger *zap.Logger) error {
	srv, err := server.NewServer(server.Options{
		Port:       opts.port,
		JobWorkers: opts.jobWorkers,
		Defaults:   opts.job,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runBenchmark(opts *options, logger *zap.Logger) error {
	formatter, err := output.NewFormatter(opts.format)
	if err != nil {
		return fmt.Errorf("invalid output format: %w", err)
	}

	sysInfo, err := sysinfo.Collect()
	if err != nil {
		return fmt.Errorf("failed to collect system info: %w", err)
	}
	logger.Info("system", zap.String("summary", sysInfo.Summary()))

	runner := benchmark.NewRunner(opts.job, logger)
	reports, runErr := runner.Run()

	var failures []output.Failure
	for _, e := range multierr.Errors(runErr) {
		var ce *benchmark.ConfigurationError
		if !errors.As(e, &ce) {
			// Setup failed before any configuration ran.
			return fmt.Errorf("benchmark failed: %w", runErr)
		}
		failures = append(failures, output.Failure{Configuration: ce.Configuration, Error: ce.Err.Error()})
	}

	writer, closeOutput, err := openOutput(opts.outputFile)
	if err != nil {
		return err
	}
	defer closeOutput()

	data := output.Data{
		SystemInfo: sysInfo,
		Reports:    reports,
		Failures:   failures,
		Config:     runner.Config(),
	}
	if err := formatter.Format(writer, data); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d configurations failed", len(failures), len(runner.Config().Configurations))
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
