package sender

import (
	"context"
	"log"
	"time"
)

// Backoff configures retries around a single publish.
type Backoff struct {
	Attempts int
	Initial  time.Duration
}

// Execute calls send until it succeeds or attempts run out, doubling the
// wait after every failure. The last error is returned. Cancelling ctx
// aborts the wait.
func (b Backoff) Execute(ctx context.Context, send func() error) error {
	var err error
	backoff := b.Initial
	attempts := max(b.Attempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		err = send()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		log.Printf("send failed (attempt=%d), retrying in %s: %v", attempt, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return err
}
