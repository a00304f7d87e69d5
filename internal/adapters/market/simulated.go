// Package market provides the simulated price feed and the default agent
// watchlists.
package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/pmfund/internal/ports"
)

const (
	DefaultBasePrice = 100.0

	dailyDrift  = 0.0003
	dailySigma  = 0.015
	quoteJitter = 0.02

	// spread of today's close around the base price
	dailyLevelSigma = 0.05
)

// BasePrices are the anchors of the simulated random walks.
var BasePrices = map[string]float64{
	"SPY": 485, "QQQ": 415, "TLT": 95, "GLD": 185, "UUP": 28,
	"AAPL": 175, "MSFT": 415, "GOOGL": 165, "AMZN": 185, "NVDA": 850,
	"TSLA": 185, "META": 515, "COIN": 185, "MSTR": 1500,
	"EWJ": 68, "EWY": 60, "FXI": 25, "EWT": 40, "AAXJ": 65,
	"IWM": 200, "DIA": 385, "VTI": 240,
	"VIX": 15, "UVXY": 8, "SQQQ": 12, "SH": 15,
	"GME": 15, "AMC": 4, "BBBY": 0.5,
	"BTC-USD": 65000, "ETH-USD": 3500, "SOL-USD": 150, "BNB-USD": 620,
	"XRP-USD": 0.55, "ADA-USD": 0.45, "DOGE-USD": 0.08,
}

// Simulated is a deterministic PriceProvider. A symbol's history depends only
// on the symbol, the UTC day and the seed, so every caller in the same day sees
// the same series. Quotes add a bounded jitter to the last close.
type Simulated struct {
	seed uint64
	now  func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Simulated feed.
type Option func(*Simulated)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulated) { s.now = now }
}

// WithoutJitter makes CurrentPrice return the last close exactly.
func WithoutJitter() Option {
	return func(s *Simulated) { s.rng = nil }
}

// NewSimulated creates a feed for seed.
func NewSimulated(seed uint64, opts ...Option) *Simulated {
	s := &Simulated{
		seed: seed,
		now:  time.Now,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ ports.PriceProvider = (*Simulated)(nil)

// History returns days+1 closes ending today, oldest first. The walk is drawn
// backwards from today's close, so any two windows agree on their overlap.
func (s *Simulated) History(ctx context.Context, symbol string, days int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("market.History: days must be positive, got %d", days)
	}
	walk := rand.New(rand.NewPCG(s.seed, s.daySeed(symbol)))
	price := basePrice(symbol) * math.Exp(dailyLevelSigma*walk.NormFloat64())

	closes := make([]float64, days+1)
	closes[days] = price
	for i := days - 1; i >= 0; i-- {
		price /= 1 + dailyDrift + dailySigma*walk.NormFloat64()
		closes[i] = price
	}
	return closes, nil
}

// CurrentPrice returns the latest simulated close with up to ±2% jitter.
func (s *Simulated) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	closes, err := s.History(ctx, symbol, 1)
	if err != nil {
		return 0, err
	}
	last := closes[len(closes)-1]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng == nil {
		return last, nil
	}
	jitter := (s.rng.Float64()*2 - 1) * quoteJitter
	return last * (1 + jitter), nil
}

func (s *Simulated) daySeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	day := uint64(s.now().UTC().Unix() / 86400)
	return h.Sum64() ^ day
}

func basePrice(symbol string) float64 {
	if p, ok := BasePrices[strings.ToUpper(symbol)]; ok {
		return p
	}
	return DefaultBasePrice
}
