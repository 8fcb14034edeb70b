package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is implemented by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a connection pool.
func Ping(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineCountCheck fails when more than threshold goroutines run.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("%d goroutines, threshold %d", n, threshold)
		}
		return nil
	}
}
