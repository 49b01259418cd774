package quotes

import (
	"context"
	"sync"
	"time"
)

// Quote is the last-known market data for one symbol. Stale marks entries
// served past their freshness window; callers decide whether to act on them.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	AsOf          time.Time `json:"as_of"`
	Stale         bool      `json:"stale"`
}

// Provider fetches quotes for a batch of symbols. Entries may be absent;
// absence means "no data", never a zero price.
type Provider interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Snapshot is one cycle's view of the market, keyed by symbol.
type Snapshot map[string]Quote

// Lookup returns the quote for symbol and whether one is present.
func (s Snapshot) Lookup(symbol string) (Quote, bool) {
	q, ok := s[symbol]
	return q, ok
}

// Cache wraps a Provider with a freshness window. Fetch failures fall back
// to the last-known entry, tagged stale, so a flapping upstream degrades to
// stale data instead of no data.
type Cache struct {
	upstream Provider
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]Quote
}

// NewCache creates a quote cache serving entries fresh for ttl.
func NewCache(upstream Provider, ttl time.Duration) *Cache {
	return &Cache{
		upstream: upstream,
		ttl:      ttl,
		entries:  make(map[string]Quote),
	}
}

// GetQuotes returns quotes for the requested symbols, refreshing expired
// entries from the upstream provider in one batch.
func (c *Cache) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	now := time.Now()
	result := make(map[string]Quote, len(symbols))

	var misses []string
	c.mu.RLock()
	for _, symbol := range symbols {
		entry, ok := c.entries[symbol]
		if ok && now.Sub(entry.AsOf) <= c.ttl {
			result[symbol] = entry
			continue
		}
		misses = append(misses, symbol)
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.upstream.GetQuotes(ctx, misses)
	if err != nil {
		// Serve what we have, stale-tagged. A symbol with no prior entry
		// is simply absent from the result.
		c.mu.RLock()
		for _, symbol := range misses {
			if entry, ok := c.entries[symbol]; ok {
				entry.Stale = true
				result[symbol] = entry
			}
		}
		c.mu.RUnlock()
		return result, err
	}

	c.mu.Lock()
	for symbol, quote := range fetched {
		quote.Stale = false
		if quote.AsOf.IsZero() {
			quote.AsOf = now
		}
		c.entries[symbol] = quote
		result[symbol] = quote
	}
	c.mu.Unlock()

	return result, nil
}

// Static is a fixed-map Provider used by tests and the simulation seed
// phase. Set replaces a symbol's quote.
type Static struct {
	mu      sync.RWMutex
	entries map[string]Quote
}

// NewStatic creates a Static provider from the given quotes.
func NewStatic(entries map[string]Quote) *Static {
	if entries == nil {
		entries = make(map[string]Quote)
	}
	return &Static{entries: entries}
}

func (s *Static) Set(symbol string, price, changePercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[symbol] = Quote{
		Symbol:        symbol,
		Price:         price,
		ChangePercent: changePercent,
		AsOf:          time.Now(),
	}
}

func (s *Static) Delete(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, symbol)
}

func (s *Static) GetQuotes(_ context.Context, symbols []string) (map[string]Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]Quote, len(symbols))
	for _, symbol := range symbols {
		if q, ok := s.entries[symbol]; ok {
			result[symbol] = q
		}
	}
	return result, nil
}
