// Package coarsetime provides a cheap, coarse-grained clock for code
// that stamps every operation. The current time is refreshed every
// 50ms by a background goroutine, so Now is a single atomic load.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const resolution = 50 * time.Millisecond

var now atomic.Value

func init() {
	now.Store(time.Now())

	ticker := time.NewTicker(resolution)
	go func() {
		for range ticker.C {
			now.Store(time.Now())
		}
	}()
}

// Now returns the current time, accurate to within the refresh
// resolution.
func Now() time.Time {
	return now.Load().(time.Time)
}
