package breaker

import (
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// NewCircuitBreaker creates a breaker that opens after 3 consecutive failures.
// Outbound calls to telephony and email providers go through one of these.
func NewCircuitBreaker(name string, logg *zap.SugaredLogger) *gobreaker.CircuitBreaker {
	return NewCircuitBreakerIgnoring(name, nil, logg)
}

// NewCircuitBreakerIgnoring is NewCircuitBreaker, except errors for which
// 'ignore' returns true count as successes and never open the breaker.
func NewCircuitBreakerIgnoring(name string, ignore func(error) bool, logg *zap.SugaredLogger) *gobreaker.CircuitBreaker {
	logg = logger.OrNop(logg)

	isSuccessful := func(err error) bool { return err == nil }
	if ignore != nil {
		isSuccessful = func(err error) bool { return err == nil || ignore(err) }
	}

	var timeout time.Duration
	switch name {
	case "twilio-dialer":
		timeout = 15 * time.Second
	default:
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logg.Warnf(colors.Red("[circuit breaker] ")+"%s: %s -> %s", name, from, to)
		},
	})
}
