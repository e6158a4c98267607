package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// CachedProvider records every fetched price in a shared PriceCache and,
// when MaxStale is positive, serves the cached price after an upstream
// failure as long as it is younger than MaxStale.
type CachedProvider struct {
	next     Provider
	cache    domain.PriceCache
	maxStale time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	names map[string]string
}

// NewCachedProvider wraps next with cache.
func NewCachedProvider(next Provider, cache domain.PriceCache, maxStale time.Duration, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{
		next:     next,
		cache:    cache,
		maxStale: maxStale,
		logger:   logger.With(slog.String("component", "marketdata_cache")),
		now:      time.Now,
		names:    make(map[string]string),
	}
}

// Snapshot fetches from the wrapped provider and falls back to the cache.
func (p *CachedProvider) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	snap, err := p.next.Snapshot(ctx, symbol)
	if err == nil {
		if snap.Name != "" {
			p.mu.Lock()
			p.names[symbol] = snap.Name
			p.mu.Unlock()
		}
		if cerr := p.cache.SetPrice(ctx, symbol, snap.Price, snap.FetchedAt); cerr != nil {
			p.logger.WarnContext(ctx, "price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", cerr.Error()),
			)
		}
		return snap, nil
	}

	if p.maxStale <= 0 {
		return domain.MarketSnapshot{}, err
	}
	price, ts, cerr := p.cache.GetPrice(ctx, symbol)
	if cerr != nil {
		return domain.MarketSnapshot{}, err
	}
	if age := p.now().Sub(ts); age > p.maxStale {
		return domain.MarketSnapshot{}, fmt.Errorf("%w (cached price is %s old)", err, age.Round(time.Second))
	}

	p.mu.RLock()
	name := p.names[symbol]
	p.mu.RUnlock()

	p.logger.WarnContext(ctx, "serving cached price after upstream failure",
		slog.String("symbol", symbol),
		slog.String("price", price.String()),
		slog.Time("cached_at", ts),
		slog.String("error", err.Error()),
	)
	return domain.MarketSnapshot{
		Symbol:    symbol,
		Name:      name,
		Price:     price,
		FetchedAt: ts,
		Stale:     true,
	}, nil
}

var _ Provider = (*CachedProvider)(nil)
