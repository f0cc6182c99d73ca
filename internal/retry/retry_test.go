package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
)

func fakeClock(p *Policy, waits *[]time.Duration) {
	p.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	p.jitter = func(time.Duration) time.Duration { return 100 * time.Millisecond }
}

func TestPolicyRetriesRateLimits(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxRetries: 2, BaseDelay: 600 * time.Millisecond, Factor: 1.6, Jitter: 200 * time.Millisecond},
		ContainsAny("429", "list_status_", "detail_status_"))
	var waits []time.Duration
	fakeClock(&p, &waits)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		return errors.New("list_status_429")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "one initial attempt plus two retries")
	require.Len(t, waits, 2)
	assert.Equal(t, 700*time.Millisecond, waits[0])
	assert.Equal(t, 960*time.Millisecond+100*time.Millisecond, waits[1])
}

func TestPolicyStopsOnNonRetryable(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Millisecond, Factor: 2, Retryable: ContainsAny("429")}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("musinsa_window_missing")
	})
	assert.EqualError(t, err, "musinsa_window_missing")
	assert.Equal(t, 1, calls)
}

func TestPolicySucceedsAfterRetry(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, Factor: 1.6, Retryable: ContainsAny("detail_status_")}
	var waits []time.Duration
	fakeClock(&p, &waits)

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls == 1 {
			return errors.New("detail_status_503")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPolicyHonorsContext(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Hour, Factor: 1, Retryable: ContainsAny("429")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("429")
	})
	assert.EqualError(t, err, "429")
	assert.Equal(t, 1, calls)
}

func TestContainsAny(t *testing.T) {
	match := ContainsAny("429", "list_status_")
	assert.True(t, match(errors.New("status 429 too many")))
	assert.True(t, match(errors.New("list_status_500")))
	assert.False(t, match(errors.New("exception")))
	assert.False(t, match(nil))
}
