// Package summary builds the dashboard read model from the store.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Hilda2312/iot-uts/internal/metrics"
	"github.com/Hilda2312/iot-uts/internal/store"
	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

// ErrStoreUnavailable means at least one of the reads failed or timed out.
var ErrStoreUnavailable = errors.New("sensor store unavailable")

// DefaultLimit caps both the latest readings and the monthly maxima.
const DefaultLimit = 2

// Reader is the read side of store.Gateway.
type Reader interface {
	Extremes(ctx context.Context) (telemetry.Extremes, error)
	Latest(ctx context.Context, limit int) ([]telemetry.Reading, error)
	MonthlyMaxima(ctx context.Context, limit int) ([]telemetry.MonthlyMax, error)
}

// Engine assembles the dashboard summary from the store. Every call reads
// afresh and nothing is cached, so Engine is safe for concurrent use.
type Engine struct {
	reader  Reader
	timeout time.Duration
	limit   int
	logger  *slog.Logger
}

// NewEngine returns an engine that bounds every summary by timeout.
// A non-positive timeout falls back to store.DefaultTimeout.
func NewEngine(reader Reader, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = store.DefaultTimeout
	}
	return &Engine{reader: reader, timeout: timeout, limit: DefaultLimit, logger: logger}
}

// Summary runs the three reads concurrently and merges them.
// Either all three succeed or the result is empty and the error matches ErrStoreUnavailable.
func (e *Engine) Summary(ctx context.Context) (telemetry.Summary, error) {
	start := time.Now()
	defer func() {
		metrics.SummarySeconds.Observe(time.Since(start).Seconds())
	}()

	// 1. One deadline covers all three reads
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		extremes telemetry.Extremes
		latest   []telemetry.Reading
		monthly  []telemetry.MonthlyMax
	)

	// 2. Run the reads concurrently; the first failure cancels the others
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		extremes, err = e.reader.Extremes(gctx)
		if err != nil {
			return fmt.Errorf("extremes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		latest, err = e.reader.Latest(gctx, e.limit)
		if err != nil {
			return fmt.Errorf("latest: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		monthly, err = e.reader.MonthlyMaxima(gctx, e.limit)
		if err != nil {
			return fmt.Errorf("monthly maxima: %w", err)
		}
		return nil
	})

	// 3. Merge, or fail as a whole
	if err := g.Wait(); err != nil {
		e.logger.Error("Failed to build sensor summary", "error", err)
		return telemetry.Summary{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// Empty arrays, not null, in the JSON response.
	if latest == nil {
		latest = []telemetry.Reading{}
	}
	if monthly == nil {
		monthly = []telemetry.MonthlyMax{}
	}
	return telemetry.Summary{Extremes: extremes, Latest: latest, MonthlyMaxima: monthly}, nil
}
