package xert

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// breakerThreshold is the number of consecutive failures that opens the
// circuit.
const breakerThreshold = 5

// newBreaker opens after repeated transport errors or server errors and
// probes again after two minutes. Client errors (401, 404) and malformed
// bodies mean the API is reachable, so they do not count against it.
func newBreaker(name string) *gobreaker.CircuitBreaker[map[string]any] {
	return gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
		},
	})
}

func countsAsOutage(err error) bool {
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
