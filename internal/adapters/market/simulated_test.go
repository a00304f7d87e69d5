package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/pmfund/internal/adapters/market"
	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var day = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func TestHistory_DeterministicPerDay(t *testing.T) {
	ctx := context.Background()
	a := market.NewSimulated(7, market.WithClock(fixedClock(day)))
	b := market.NewSimulated(7, market.WithClock(fixedClock(day.Add(3*time.Hour))))

	h1, err := a.History(ctx, "SPY", 60)
	require.NoError(t, err)
	h2, err := b.History(ctx, "SPY", 60)
	require.NoError(t, err)
	require.Len(t, h1, 61)
	assert.Equal(t, h1, h2)

	next := market.NewSimulated(7, market.WithClock(fixedClock(day.Add(24*time.Hour))))
	h3, err := next.History(ctx, "SPY", 60)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHistory_WindowsAgreeOnOverlap(t *testing.T) {
	ctx := context.Background()
	s := market.NewSimulated(1, market.WithClock(fixedClock(day)))
	long, err := s.History(ctx, "BTC-USD", 60)
	require.NoError(t, err)
	short, err := s.History(ctx, "BTC-USD", 10)
	require.NoError(t, err)
	assert.Equal(t, long[len(long)-len(short):], short)
}

func TestHistory_AnchoredNearBase(t *testing.T) {
	s := market.NewSimulated(3, market.WithClock(fixedClock(day)))
	h, err := s.History(context.Background(), "ETH-USD", 5)
	require.NoError(t, err)
	last := h[len(h)-1]
	assert.InDelta(t, 3500, last, 3500*0.3)
	for _, p := range h {
		assert.Greater(t, p, 0.0)
	}
}

func TestHistory_InvalidDays(t *testing.T) {
	_, err := market.NewSimulated(1).History(context.Background(), "SPY", 0)
	assert.Error(t, err)
}

func TestCurrentPrice(t *testing.T) {
	ctx := context.Background()
	exact := market.NewSimulated(9, market.WithClock(fixedClock(day)), market.WithoutJitter())
	h, err := exact.History(ctx, "QQQ", 60)
	require.NoError(t, err)
	p, err := exact.CurrentPrice(ctx, "QQQ")
	require.NoError(t, err)
	assert.Equal(t, h[len(h)-1], p)

	jittered := market.NewSimulated(9, market.WithClock(fixedClock(day)))
	for i := 0; i < 50; i++ {
		q, err := jittered.CurrentPrice(ctx, "QQQ")
		require.NoError(t, err)
		assert.InDelta(t, p, q, p*0.02+1e-9)
	}
}

func TestWatchlistFor(t *testing.T) {
	assert.Equal(t, []string{"X"}, market.WatchlistFor(domain.Agent{ID: "atlas", Watchlist: []string{"X"}}))
	assert.Equal(t, market.Watchlists["atlas"], market.WatchlistFor(domain.Agent{ID: "atlas"}))
	assert.Equal(t, []string{"BTC-USD"}, market.WatchlistFor(domain.Agent{ID: "new", AssetClass: domain.AssetCrypto}))
	assert.Equal(t, []string{"SPY"}, market.WatchlistFor(domain.Agent{ID: "new"}))
}
