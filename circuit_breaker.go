package binmc

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/binmc/binmc/binproto"
)

// NewCircuitBreakerConfig returns a factory creating one circuit
// breaker per server, for use as PoolConfig.NewCircuitBreaker.
//
// A breaker trips when at least 3 requests were seen in the interval
// and 60% of them failed. Server statuses like a cache miss or a CAS
// conflict do not count as failures: the server answered, so the
// circuit is healthy.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[bool] {
	return func(serverAddr string) *gobreaker.CircuitBreaker[bool] {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				var se *binproto.ServerError
				return errors.As(err, &se)
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
