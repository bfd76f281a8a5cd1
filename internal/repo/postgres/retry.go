package postgres

import (
	"context"
	"math/rand"
	"time"

	"github.com/mkowalczyk/sheethub/internal/observability"
)

const maxReadAttempts = 3

// RetryRead re-runs a read-only query a bounded number of times when
// the failure class looks transient. Writes are never routed through
// here: retrying a write risks duplicate side effects.
func RetryRead(ctx context.Context, fn func() error) error {
	var err error

	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		err = fn()

		if err == nil || !isRetryable(err) {
			return err
		}

		// small jittered pause between attempts
		delay := time.Duration(50*(attempt+1))*time.Millisecond + time.Duration(rand.Intn(25))*time.Millisecond

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}

	return err
}

func isRetryable(err error) bool {
	switch observability.ClassifyDBErr(err) {
	case "timeout", "connection", "serialization_failure", "deadlock":
		return true
	default:
		return false
	}
}
