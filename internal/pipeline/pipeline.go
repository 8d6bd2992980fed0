// Package pipeline runs the monthly retrieve, aggregate, write and cleanup
// sweep over a range of years.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rtm0/era5daily/internal/era5"
	"github.com/rtm0/era5daily/internal/metrics"
)

var (
	// ErrDataDir is returned when the data directory does not exist.
	ErrDataDir = errors.New("data directory unavailable")
	// ErrTooManyFailures is returned when consecutive retrieval failures
	// stopped the sweep.
	ErrTooManyFailures = errors.New("too many consecutive retrieval failures")
)

// Failure policies.
const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip"
)

// Retriever downloads the data of a request to a local file, blocking until
// the file is complete.
type Retriever interface {
	Retrieve(ctx context.Context, req era5.Request, target string) error
}

// Publisher copies a finished daily file somewhere else.
type Publisher interface {
	Publish(ctx context.Context, filePath string) error
}

// Options configures a Pipeline.
type Options struct {
	Spec      era5.RequestSpec
	StartYear int
	EndYear   int
	Months    []int
	DataDir   string

	// OnError is OnErrorAbort or OnErrorSkip.
	OnError      string
	SkipExisting bool

	MaxConsecutiveFailures uint32
}

// Pipeline processes one (year, month) iteration at a time.
type Pipeline struct {
	logger    *slog.Logger
	opts      Options
	retriever Retriever
	publisher Publisher
	metrics   *metrics.Collector
	breaker   *gobreaker.CircuitBreaker
}

// New creates a pipeline. publisher may be nil.
func New(logger *slog.Logger, opts Options, retriever Retriever, publisher Publisher, m *metrics.Collector) *Pipeline {
	maxFailures := max(opts.MaxConsecutiveFailures, 1)
	p := &Pipeline{
		logger:    logger,
		opts:      opts,
		retriever: retriever,
		publisher: publisher,
		metrics:   m,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "retrieve",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

// Run processes every configured year and month in order. With OnErrorAbort
// the first failure stops the sweep. With OnErrorSkip failures are logged
// and returned together at the end, unless the circuit breaker opens.
func (p *Pipeline) Run(ctx context.Context) error {
	fi, err := os.Stat(p.opts.DataDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDataDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDataDir, p.opts.DataDir)
	}

	var errs []error
	for year := p.opts.StartYear; year <= p.opts.EndYear; year++ {
		for _, month := range p.opts.Months {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			err := p.Process(ctx, year, month)
			if err == nil {
				continue
			}
			errs = append(errs, err)
			if p.opts.OnError != OnErrorSkip || ctx.Err() != nil {
				return errors.Join(errs...)
			}
			if p.breaker.State() == gobreaker.StateOpen {
				errs = append(errs, ErrTooManyFailures)
				return errors.Join(errs...)
			}
			p.logger.Error("Iteration failed, continuing", "year", year, "month", month, "err", err)
		}
	}
	return errors.Join(errs...)
}

// Process runs one iteration: retrieve the hourly file, reduce it to daily
// means, write the daily file and only then remove the hourly file.
func (p *Pipeline) Process(ctx context.Context, year, month int) error {
	err := p.process(ctx, year, month)
	switch {
	case errors.Is(err, errSkipped):
		p.metrics.RecordIteration(metrics.ResultSkipped)
		return nil
	case err != nil:
		p.metrics.RecordIteration(metrics.ResultFailure)
		return err
	default:
		p.metrics.RecordIteration(metrics.ResultSuccess)
		return nil
	}
}

var errSkipped = errors.New("skipped")

func (p *Pipeline) process(ctx context.Context, year, month int) error {
	logger := p.logger.With("year", year, "month", fmt.Sprintf("%02d", month))
	hourly := filepath.Join(p.opts.DataDir, era5.HourlyName(year, month))
	daily := filepath.Join(p.opts.DataDir, era5.DailyName(year, month))

	if p.opts.SkipExisting && fileExists(daily) {
		if !fileExists(hourly) {
			logger.Info("Daily file exists, skipping", "daily", daily)
			return errSkipped
		}
		// An earlier run wrote the daily file but stopped before the
		// hourly file was removed.
		logger.Info("Daily file exists, finishing interrupted iteration", "daily", daily, "hourly", hourly)
		return p.finish(ctx, logger, hourly, daily)
	}

	req := era5.NewRequest(p.opts.Spec, year, month)
	logger.Info("Retrieving", "days", len(req.Days), "hourly", hourly)
	start := time.Now()
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.retriever.Retrieve(ctx, req, hourly)
	})
	if err != nil {
		return fmt.Errorf("retrieving %s: %w", hourly, err)
	}
	p.metrics.ObserveStage(metrics.StageRetrieve, start)

	start = time.Now()
	ds, err := aggregate(logger, hourly, year, month)
	if err != nil {
		return fmt.Errorf("aggregating %s: %w", hourly, err)
	}
	p.metrics.ObserveStage(metrics.StageAggregate, start)

	start = time.Now()
	n, err := era5.WriteDaily(daily, ds)
	if err != nil {
		return err
	}
	p.metrics.ObserveStage(metrics.StageWrite, start)
	p.metrics.DailyBytesWritten.Add(float64(n))
	logger.Info("Daily file written", "daily", daily, "days", len(ds.Days), "bytes", n)
	return p.finish(ctx, logger, hourly, daily)
}

// finish publishes a written daily file and removes its hourly source.
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, hourly, daily string) error {
	if p.publisher != nil {
		start := time.Now()
		if err := p.publisher.Publish(ctx, daily); err != nil {
			return fmt.Errorf("publishing %s: %w", daily, err)
		}
		p.metrics.ObserveStage(metrics.StagePublish, start)
	}

	if err := os.Remove(hourly); err != nil {
		return fmt.Errorf("removing hourly file: %w", err)
	}
	logger.Info("Hourly file removed", "hourly", hourly)
	return nil
}

func aggregate(logger *slog.Logger, hourly string, year, month int) (*era5.DailyDataset, error) {
	h, err := era5.OpenHourly(hourly)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	logger.Info("ERA5 summary", h.Summary()...)
	return era5.Aggregate(h, year, month)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
