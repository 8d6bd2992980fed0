package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rtm0/era5daily/internal/cds"
	"github.com/rtm0/era5daily/internal/config"
	"github.com/rtm0/era5daily/internal/metrics"
	"github.com/rtm0/era5daily/internal/pipeline"
	"github.com/rtm0/era5daily/internal/publish"
)

var (
	cfgFile string
	verbose bool
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "era5daily",
	Short: "Download hourly ERA5 data and reduce it to daily means",
	Long: `era5daily retrieves hourly ERA5 reanalysis data from the Climate Data Store
one month at a time, averages it into daily means, writes the daily NetCDF file
and deletes the hourly download.

Example usage:
  era5daily run                   # Sweep the configured years and months
  era5daily plan                  # Show which months are done
  era5daily run --data-dir /data  # Use another data directory`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Retrieve, aggregate and write every configured month",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./era5daily.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding hourly and daily files (default NetCDF)")
	rootCmd.AddCommand(runCmd, planCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// loggedError marks an error the sweep already logged.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// reportError prints errors raised before the logger existed, such as
// config and flag errors.
func reportError(w io.Writer, err error) {
	var le *loggedError
	if errors.As(err, &le) {
		return
	}
	fmt.Fprintln(w, "Error:", err)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := make(map[string]any)
	if cmd.Flags().Changed("data-dir") {
		overrides["data_dir"] = dataDir
	}
	if verbose {
		overrides["logging.level"] = "debug"
	}
	return config.Load(cfgFile, overrides)
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Spec:                   cfg.RequestSpec(),
		StartYear:              cfg.Years.Start,
		EndYear:                cfg.Years.End,
		Months:                 cfg.Months,
		DataDir:                cfg.DataDir,
		OnError:                cfg.OnError,
		SkipExisting:           cfg.SkipExisting,
		MaxConsecutiveFailures: cfg.Breaker.MaxConsecutiveFailures,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stdout).With("run", uuid.NewString())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cdsCli, err := cds.NewClient(logger, cds.Options{
		URL:             cfg.CDS.URL,
		Key:             cfg.CDS.Key,
		PollInterval:    cfg.CDS.PollInterval,
		MaxPollInterval: cfg.CDS.MaxPollInterval,
	})
	if err != nil {
		logger.Error("Could not create a CDS client", "err", err)
		return &loggedError{err}
	}

	var pub pipeline.Publisher
	if cfg.Publish.Bucket != "" {
		gcs, err := publish.NewGCS(ctx, logger, cfg.Publish.Bucket, cfg.Publish.Prefix)
		if err != nil {
			logger.Error("Could not create a publisher", "err", err)
			return &loggedError{err}
		}
		defer gcs.Close()
		pub = gcs
	}

	m := metrics.NewCollector("era5daily")
	p := pipeline.New(logger, pipelineOptions(cfg), cdsCli, pub, m)

	logger.Info("Sweep started",
		"years", fmt.Sprintf("%d-%d", cfg.Years.Start, cfg.Years.End),
		"months", cfg.Months,
		"dataDir", cfg.DataDir,
		"onError", cfg.OnError,
	)
	start := time.Now()
	err = p.Run(ctx)
	if cfg.Metrics.Textfile != "" {
		if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Error("Could not write metrics", "file", cfg.Metrics.Textfile, "err", werr)
		}
	}
	if err != nil {
		logger.Error("Sweep failed", "err", err)
		return &loggedError{err}
	}
	logger.Info("Sweep finished", "in", time.Since(start).Round(time.Second))
	return nil
}
