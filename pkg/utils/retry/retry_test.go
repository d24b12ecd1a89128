package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/retry"
)

var fast = retry.WithInterval(time.Millisecond, 2*time.Millisecond)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), "flaky", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	}, fast)

	gt.NoError(t, err)
	gt.Equal(t, v, "ok")
	gt.Equal(t, calls, 3)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), "broken", func(ctx context.Context) (int, error) {
		calls++
		return 0, goerr.New("quota exceeded", goerr.T(model.ErrTagProvider))
	}, fast, retry.WithMaxTries(2))

	gt.Error(t, err)
	gt.Equal(t, calls, 2)
	gt.True(t, goerr.HasTag(err, model.ErrTagProvider))
}

func TestDoDoesNotRetryConfigError(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), "misconfigured", func(ctx context.Context) (int, error) {
		calls++
		return 0, goerr.New("no project", goerr.T(model.ErrTagConfig))
	}, fast)

	gt.Error(t, err)
	gt.Equal(t, calls, 1)
	gt.True(t, goerr.HasTag(err, model.ErrTagConfig))
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retry.Do(ctx, "cancelled", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	}, fast)

	gt.Error(t, err)
	gt.Equal(t, calls, 1)
	gt.True(t, errors.Is(err, context.Canceled))
}
