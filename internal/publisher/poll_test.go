package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollUntilCompletesOnFirstCheck(t *testing.T) {
	calls := 0
	err := PollUntil(context.Background(), time.Hour, 5, func(ctx context.Context) (PollState, error) {
		calls++
		return PollComplete, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls, "first check should run without waiting an interval")
}

func TestPollUntilRetriesUntilComplete(t *testing.T) {
	calls := 0
	err := PollUntil(context.Background(), time.Millisecond, 10, func(ctx context.Context) (PollState, error) {
		calls++
		if calls < 3 {
			return PollPending, nil
		}
		return PollComplete, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollUntilReturnsCheckErrorOnFailure(t *testing.T) {
	wantErr := errors.New("processing failed")
	err := PollUntil(context.Background(), time.Millisecond, 10, func(ctx context.Context) (PollState, error) {
		return PollFailed, wantErr
	})

	assert.Equal(t, wantErr, err)
}

func TestPollUntilBudgetExhaustion(t *testing.T) {
	calls := 0
	err := PollUntil(context.Background(), time.Millisecond, 4, func(ctx context.Context) (PollState, error) {
		calls++
		return PollPending, nil
	})

	assert.ErrorIs(t, err, ErrPollBudgetExhausted)
	assert.Equal(t, 4, calls)
}

func TestPollUntilStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := PollUntil(ctx, time.Minute, 10, func(ctx context.Context) (PollState, error) {
		return PollPending, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}
