package publisher

import (
	"context"
	"errors"
	"time"
)

// PollState is what a poll check reports back.
type PollState int

const (
	PollPending PollState = iota
	PollComplete
	PollFailed
)

// ErrPollBudgetExhausted is returned when the attempt budget runs out
// before the check reaches a terminal state. Callers wrap it into a
// timeout error attributed to their platform.
var ErrPollBudgetExhausted = errors.New("poll attempt budget exhausted")

// PollUntil runs check every interval until it reports a terminal state
// or maxAttempts checks have been made. The first check runs immediately.
// A PollFailed state returns the check's error; never reaching a terminal
// state returns ErrPollBudgetExhausted, not a silent success.
func PollUntil(ctx context.Context, interval time.Duration, maxAttempts int, check func(ctx context.Context) (PollState, error)) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		state, err := check(ctx)
		switch state {
		case PollComplete:
			return nil
		case PollFailed:
			if err == nil {
				err = errors.New("poll check reported failure")
			}
			return err
		}
		if err != nil {
			return err
		}
	}
	return ErrPollBudgetExhausted
}
