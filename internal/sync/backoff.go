package sync

import (
	"errors"
	"time"

	"github.com/svanecode/shelter-updater/internal/bbr"
)

// FailureKind classifies a retryable fetch failure for backoff selection.
// Each kind carries its own base delay: a rate-limited request should wait
// much longer than a flaky connection.
type FailureKind int

const (
	KindTimeout FailureKind = iota
	KindConnection
	KindRateLimit
	KindServer
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// classifyFailure maps a transport error onto its backoff kind. Anything
// unrecognized is treated as a connection problem.
func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, bbr.ErrTimeout):
		return KindTimeout
	case errors.Is(err, bbr.ErrThrottled):
		return KindRateLimit
	case errors.Is(err, bbr.ErrServerError):
		return KindServer
	default:
		return KindConnection
	}
}

// BackoffPolicy computes retry delays per failure kind. The delay for the
// n-th consecutive failure is base * 2^(n-1), capped at MaxDelay.
type BackoffPolicy struct {
	TimeoutBase     time.Duration
	ConnectionBase  time.Duration
	RateLimitBase   time.Duration
	ServerErrorBase time.Duration
	MaxDelay        time.Duration
}

func (p BackoffPolicy) base(kind FailureKind) time.Duration {
	switch kind {
	case KindTimeout:
		return p.TimeoutBase
	case KindRateLimit:
		return p.RateLimitBase
	case KindServer:
		return p.ServerErrorBase
	default:
		return p.ConnectionBase
	}
}

// Delay returns the pause before retrying after the given number of
// consecutive failures. A count below 1 is treated as 1.
func (p BackoffPolicy) Delay(kind FailureKind, consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}

	d := p.base(kind)
	for i := 1; i < consecutive; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}

	return d
}
