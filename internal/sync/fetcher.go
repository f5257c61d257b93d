package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/svanecode/shelter-updater/internal/bbr"
)

// ErrTooManyFailures means the consecutive-failure ceiling was reached and
// the run must stop. Something systemic is wrong with the registry or the
// network; hammering on is pointless.
var ErrTooManyFailures = errors.New("sync: too many consecutive fetch failures")

// PageFetcher wraps a PageSource with pacing, per-kind exponential backoff,
// and the run-wide consecutive-failure counter. The counter survives page
// boundaries: a success resets it, but failures accumulate across pages so
// a systemically failing registry stops the run instead of limping along.
type PageFetcher struct {
	source         PageSource
	policy         BackoffPolicy
	limiter        *rate.Limiter
	maxConsecutive int
	consecutive    int
	sleep          sleepFunc
	logger         *slog.Logger
}

// NewPageFetcher builds a fetcher. limiter may be nil to disable pacing.
func NewPageFetcher(source PageSource, policy BackoffPolicy, maxConsecutive int, limiter *rate.Limiter, logger *slog.Logger) *PageFetcher {
	return &PageFetcher{
		source:         source,
		policy:         policy,
		limiter:        limiter,
		maxConsecutive: maxConsecutive,
		sleep:          timeSleep,
		logger:         logger,
	}
}

// Consecutive returns the current consecutive-failure count.
func (f *PageFetcher) Consecutive() int {
	return f.consecutive
}

// FetchPage fetches one page, retrying retryable failures with backoff
// until it succeeds, the failure ceiling is hit, or the context ends.
// Non-retryable errors (bad credentials, malformed request) surface
// immediately: no amount of waiting fixes those.
func (f *PageFetcher) FetchPage(ctx context.Context, page, pageSize int) (bbr.Page, error) {
	for {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return bbr.Page{}, err
			}
		}

		pg, err := f.source.List(ctx, page, pageSize)
		if err == nil {
			f.consecutive = 0
			return pg, nil
		}

		if ctx.Err() != nil {
			return bbr.Page{}, ctx.Err()
		}

		if !bbr.IsRetryable(err) {
			return bbr.Page{}, fmt.Errorf("sync: fetching page %d: %w", page, err)
		}

		f.consecutive++
		if f.consecutive >= f.maxConsecutive {
			f.logger.Error("fetch failure ceiling reached",
				slog.Int("page", page),
				slog.Int("consecutive", f.consecutive),
				slog.String("error", err.Error()),
			)

			return bbr.Page{}, fmt.Errorf("%w: page %d failed %d times in a row: %v",
				ErrTooManyFailures, page, f.consecutive, err)
		}

		kind := classifyFailure(err)
		delay := f.policy.Delay(kind, f.consecutive)
		f.logger.Warn("page fetch failed, backing off",
			slog.Int("page", page),
			slog.String("kind", kind.String()),
			slog.Int("consecutive", f.consecutive),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		if err := f.sleep(ctx, delay); err != nil {
			return bbr.Page{}, err
		}
	}
}
