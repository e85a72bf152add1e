package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterOneRetry(t *testing.T) {
	calls := 0
	err := Once(time.Millisecond).Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoGivesUpAfterRetries(t *testing.T) {
	errLocked := errors.New("database is locked")
	calls := 0
	err := Once(time.Millisecond).Do(context.Background(), func() error {
		calls++
		return errLocked
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 2, calls)
}

func TestDoZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Once(time.Hour).Do(ctx, func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
