package quotes

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Simulated is a random-walk quote feed for the simulation binary. Each
// symbol drifts from its seeded open price; change_percent is measured
// against the open.
type Simulated struct {
	mu       sync.Mutex
	open     map[string]float64
	last     map[string]float64
	maxStep  float64 // per-fetch drift, fraction of last price
	dropRate float64 // probability a symbol is missing from a batch
	rng      *rand.Rand
}

// NewSimulated seeds a simulated feed with opening prices per symbol.
func NewSimulated(open map[string]float64) *Simulated {
	last := make(map[string]float64, len(open))
	for symbol, price := range open {
		last[symbol] = price
	}
	return &Simulated{
		open:     open,
		last:     last,
		maxStep:  0.02,
		dropRate: 0.05,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) GetQuotes(_ context.Context, symbols []string) (map[string]Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().Str("component", "simulated_quotes").Logger()
	now := time.Now()
	result := make(map[string]Quote, len(symbols))

	for _, symbol := range symbols {
		openPrice, known := s.open[symbol]
		if !known {
			continue
		}
		if s.rng.Float64() < s.dropRate {
			logger.Debug().Str("symbol", symbol).Msg("simulated feed dropped symbol this batch")
			continue
		}

		price := s.last[symbol] * (1 + (s.rng.Float64()*2-1)*s.maxStep)
		s.last[symbol] = price

		result[symbol] = Quote{
			Symbol:        symbol,
			Price:         price,
			ChangePercent: (price - openPrice) / openPrice * 100,
			AsOf:          now,
		}
	}

	return result, nil
}
