package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
	"github.com/DeafMist/opportunity-indexer/internal/retry"
)

var fast = config.Retry{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := retry.Do(context.Background(), fast, logger.Discard(), "flaky", func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, calls)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fast, nil, "down", func() (int, error) {
		calls++
		return 0, errors.New("still down")
	})
	require.EqualError(t, err, "still down")
	require.Equal(t, 3, calls)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	_, err := retry.Do(context.Background(), fast, nil, "reject", func() (int, error) {
		calls++
		return 0, backoff.Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}
