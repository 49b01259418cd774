package quotes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	inner   Provider
	fetches int
	fail    bool
}

func (p *countingProvider) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	p.fetches++
	if p.fail {
		return nil, errors.New("feed unavailable")
	}
	return p.inner.GetQuotes(ctx, symbols)
}

func TestCacheServesFreshEntriesWithoutRefetch(t *testing.T) {
	static := NewStatic(nil)
	static.Set("AAPL", 185, 0.5)
	upstream := &countingProvider{inner: static}
	cache := NewCache(upstream, time.Minute)

	first, err := cache.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Contains(t, first, "AAPL")
	assert.Equal(t, 1, upstream.fetches)

	second, err := cache.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, first["AAPL"].Price, second["AAPL"].Price)
	assert.Equal(t, 1, upstream.fetches, "fresh entry served from cache")
}

func TestCacheRefreshesExpiredEntries(t *testing.T) {
	static := NewStatic(nil)
	static.Set("AAPL", 185, 0.5)
	upstream := &countingProvider{inner: static}
	cache := NewCache(upstream, time.Nanosecond)

	_, err := cache.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	static.Set("AAPL", 190, 1.0)
	refreshed, err := cache.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 190.0, refreshed["AAPL"].Price)
	assert.Equal(t, 2, upstream.fetches)
}

func TestCacheFallsBackToStaleOnUpstreamFailure(t *testing.T) {
	static := NewStatic(nil)
	static.Set("AAPL", 185, 0.5)
	upstream := &countingProvider{inner: static}
	cache := NewCache(upstream, time.Nanosecond)

	_, err := cache.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	upstream.fail = true
	result, err := cache.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	assert.Error(t, err)

	require.Contains(t, result, "AAPL")
	assert.True(t, result["AAPL"].Stale, "served entry is tagged stale")
	assert.Equal(t, 185.0, result["AAPL"].Price)
	assert.NotContains(t, result, "MSFT", "never-seen symbol stays absent")
}

func TestStaticAbsenceMeansNoData(t *testing.T) {
	static := NewStatic(nil)
	static.Set("AAPL", 185, 0)

	result, err := static.GetQuotes(context.Background(), []string{"AAPL", "GOOG"})
	require.NoError(t, err)
	assert.Contains(t, result, "AAPL")
	assert.NotContains(t, result, "GOOG")

	static.Delete("AAPL")
	result, err = static.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSimulatedFeedDriftsFromOpen(t *testing.T) {
	feed := NewSimulated(map[string]float64{"AAPL": 100})
	feed.dropRate = 0

	for i := 0; i < 20; i++ {
		result, err := feed.GetQuotes(context.Background(), []string{"AAPL", "UNKNOWN"})
		require.NoError(t, err)
		require.Contains(t, result, "AAPL")
		assert.NotContains(t, result, "UNKNOWN")

		quote := result["AAPL"]
		assert.Greater(t, quote.Price, 0.0)
		assert.InDelta(t, (quote.Price-100)/100*100, quote.ChangePercent, 1e-9)
	}
}
