package loadercache

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/mpapenbr/racestate-live/pkg/utils/cache"
)

func TestLoadOnceUntilExpired(t *testing.T) {
	now := time.Date(2024, 5, 26, 0, 0, 0, 0, time.UTC)
	calls := 0
	c := New(
		WithExpiration[string, int](time.Minute),
		WithClock[string, int](func() time.Time { return now }),
		WithLoader[string, int](func(_ context.Context, key string) (*int, error) {
			calls++
			v := len(key)
			return &v, nil
		}),
	)
	ctx := context.Background()
	v, err := c.Get(ctx, "monaco")
	assert.NilError(t, err)
	assert.Equal(t, 6, *v)
	_, _ = c.Get(ctx, "monaco")
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, _ = c.Get(ctx, "monaco")
	assert.Equal(t, 2, calls)

	c.Invalidate(ctx, "monaco")
	_, _ = c.Get(ctx, "monaco")
	assert.Equal(t, 3, calls)
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	fail := true
	c := New(WithLoader[string, string](func(_ context.Context, key string) (*string, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return &key, nil
	}))
	_, err := c.Get(context.Background(), "x")
	assert.ErrorContains(t, err, "boom")
	fail = false
	v, err := c.Get(context.Background(), "x")
	assert.NilError(t, err)
	assert.Equal(t, "x", *v)
}

func TestNoLoader(t *testing.T) {
	c := New[string, string]()
	_, err := c.Get(context.Background(), "x")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
