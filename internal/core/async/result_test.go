package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lorrc/carenet-sync/internal/core/async"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Go(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		r := async.Go(ctx, func(ctx context.Context) (int, error) {
			return 7, nil
		})

		value, err := r.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, value)
	})

	t.Run("failure", func(t *testing.T) {
		r := async.Go(ctx, func(ctx context.Context) (int, error) {
			return 0, apperrors.ErrNetwork
		})

		_, err := r.Await(ctx)
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
	})

	t.Run("panic becomes unknown error", func(t *testing.T) {
		r := async.Go(ctx, func(ctx context.Context) (int, error) {
			panic("boom")
		})

		_, err := r.Await(ctx)
		assert.ErrorIs(t, err, apperrors.ErrUnknown)
	})

	t.Run("await honours context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		r := async.Go(ctx, func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		})

		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := r.Await(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestResult_OnCompleteRunsOnce(t *testing.T) {
	r := async.Resolved("done")

	calls := 0
	r.OnComplete(func(v string, err error) {
		calls++
		assert.Equal(t, "done", v)
		assert.NoError(t, err)
	})

	assert.Equal(t, 1, calls)
	select {
	case <-r.Done():
	default:
		t.Fatal("resolved result should be done")
	}
}

func TestThen(t *testing.T) {
	ctx := context.Background()

	t.Run("runs stages sequentially", func(t *testing.T) {
		stage1 := async.Go(ctx, func(ctx context.Context) ([]string, error) {
			return []string{"u1", "u2"}, nil
		})
		composite := async.Then(stage1, func(ids []string) *async.Result[int] {
			return async.Go(ctx, func(ctx context.Context) (int, error) {
				return len(ids), nil
			})
		})

		count, err := composite.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("stage one failure skips stage two", func(t *testing.T) {
		stage2Ran := false
		composite := async.Then(async.Failed[int](apperrors.ErrNotFound), func(int) *async.Result[int] {
			stage2Ran = true
			return async.Resolved(1)
		})

		_, err := composite.Await(ctx)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.False(t, stage2Ran)
	})

	t.Run("stage two failure propagates", func(t *testing.T) {
		stageErr := errors.New("owners unavailable")
		composite := async.Then(async.Resolved(1), func(int) *async.Result[string] {
			return async.Failed[string](stageErr)
		})

		_, err := composite.Await(ctx)
		assert.ErrorIs(t, err, stageErr)
	})
}
