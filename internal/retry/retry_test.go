package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy(tries uint) Policy {
	return Policy{MaxTries: tries, InitialDelay: time.Millisecond, MaxElapsed: time.Second}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(5), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
}

func TestDo_StopsAtMaxTries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func() (int, error) {
		calls++
		return 0, errors.New("still broken")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_PermanentAbortsImmediately(t *testing.T) {
	sentinel := errors.New("hard failure")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func() (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastPolicy(0), func() (int, error) {
		return 0, errors.New("transient")
	})
	require.Error(t, err)
}
