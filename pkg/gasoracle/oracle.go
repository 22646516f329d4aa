// Package gasoracle provides a middleware layer that prices transaction
// drafts from a pluggable gas price source behind a short-lived cache.
package gasoracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/tinoh9/txstack/pkg/provider"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Category selects how aggressively a transaction should be priced.
type Category string

const (
	// CategoryFast targets inclusion within the next block or two
	CategoryFast Category = "fast"
	// CategoryStandard targets inclusion within a few blocks
	CategoryStandard Category = "standard"
	// CategorySlow tolerates waiting for a quiet spell
	CategorySlow Category = "slow"
)

// Source produces a gas price in wei for a category. Implementations may ask
// a node, a remote estimation API, or a static table.
type Source interface {
	Price(ctx context.Context, category Category) (*big.Int, error)
}

// Config holds gas oracle settings.
type Config struct {
	// Source supplies prices. Nil defaults to the wrapped provider's own
	// eth_gasPrice suggestion.
	Source Source

	// Category used when filling transaction drafts
	Category Category

	// TTL is how long a fetched price stays fresh
	TTL time.Duration

	// MaxStale is how far beyond the TTL a cached price may still be served
	// when the source is unavailable
	MaxStale time.Duration

	// RefreshInterval is the minimum spacing between upstream fetches.
	// Zero disables the limit.
	RefreshInterval time.Duration

	// Logger instance, a default logger is created when nil
	Logger *logrus.Logger
}

// DefaultConfig returns oracle settings suitable for mainnet-like block times.
func DefaultConfig(source Source) Config {
	return Config{
		Source:          source,
		Category:        CategoryStandard,
		TTL:             30 * time.Second,
		MaxStale:        150 * time.Second,
		RefreshInterval: time.Second,
	}
}

// Oracle is a middleware layer that fills the gas price of outgoing drafts and
// answers SuggestGasPrice from a cached source. A price set by the caller is
// never overridden. On source failure the oracle falls back to the last cached
// price as long as it is within the staleness bound.
type Oracle struct {
	provider.Passthrough

	source   Source
	category Category
	ttl      time.Duration
	maxStale time.Duration
	limiter  *rate.Limiter
	group    singleflight.Group
	log      *logrus.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[Category]cacheEntry
}

type cacheEntry struct {
	price     *big.Int
	fetchedAt time.Time
}

// New creates a gas oracle layer over inner.
func New(inner provider.Provider, config Config) *Oracle {
	return NewWithClock(inner, config, time.Now)
}

// NewWithClock creates a gas oracle layer with an injected time source so
// cache expiry is testable.
func NewWithClock(inner provider.Provider, config Config, now func() time.Time) *Oracle {
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}
	source := config.Source
	if source == nil {
		source = NewProviderSource(inner)
	}
	category := config.Category
	if category == "" {
		category = CategoryStandard
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	maxStale := config.MaxStale
	if maxStale <= 0 {
		maxStale = 5 * ttl
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RefreshInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(config.RefreshInterval), 1)
	}

	return &Oracle{
		Passthrough: provider.NewPassthrough(inner),
		source:      source,
		category:    category,
		ttl:         ttl,
		maxStale:    maxStale,
		limiter:     limiter,
		log:         log,
		now:         now,
		cache:       make(map[Category]cacheEntry),
	}
}

// GasPrice returns the current price for a category, serving from cache while
// fresh and refetching otherwise. Concurrent cache misses for the same
// category share one source call. An empty category uses the oracle's default.
func (o *Oracle) GasPrice(ctx context.Context, category Category) (*big.Int, error) {
	if category == "" {
		category = o.category
	}

	if price := o.cached(category, o.ttl); price != nil {
		return price, nil
	}
	return o.refresh(ctx, category)
}

// SuggestGasPrice answers with the oracle's price for its default category, so
// layers beneath asking for a suggestion see the oracle's view rather than the
// node's.
func (o *Oracle) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return o.GasPrice(ctx, o.category)
}

// SendTransaction fills the draft's gas price when unset and delegates.
// A caller-chosen price always wins.
func (o *Oracle) SendTransaction(ctx context.Context, req *provider.TxRequest) (common.Hash, error) {
	if req == nil {
		return common.Hash{}, provider.NewError(provider.ErrCodeInvalidRequest, "transaction request is nil", nil, "eth_sendTransaction")
	}
	if req.GasPrice != nil {
		return o.Inner().SendTransaction(ctx, req)
	}

	price, err := o.GasPrice(ctx, o.category)
	if err != nil {
		return common.Hash{}, err
	}

	out := req.Copy()
	out.GasPrice = price

	o.log.WithFields(logrus.Fields{
		"address":   req.From.Hex(),
		"gas_price": price.String(),
		"category":  string(o.category),
	}).Debug("Priced transaction draft")

	return o.Inner().SendTransaction(ctx, out)
}

// refresh fetches a category price from the source, deduplicating concurrent
// callers. When the rate limit is saturated or the source fails, a cached
// price within the staleness bound is served instead.
func (o *Oracle) refresh(ctx context.Context, category Category) (*big.Int, error) {
	v, err, _ := o.group.Do(string(category), func() (interface{}, error) {
		// A flight that queued behind a completed refresh can serve the
		// price that refresh just stored.
		if price := o.cached(category, o.ttl); price != nil {
			return price, nil
		}

		if !o.limiter.Allow() {
			if stale := o.cached(category, o.maxStale); stale != nil {
				return stale, nil
			}
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		price, err := o.source.Price(ctx, category)
		if err != nil {
			if stale := o.cached(category, o.maxStale); stale != nil {
				o.log.WithFields(logrus.Fields{
					"category":  string(category),
					"gas_price": stale.String(),
				}).WithError(err).Warn("Gas price source failed, serving stale price")
				return stale, nil
			}
			return nil, err
		}

		o.store(category, price)
		return price, nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.(*big.Int)), nil
}

// cached returns a copy of the stored price for a category if its age is
// within maxAge, nil otherwise.
func (o *Oracle) cached(category Category, maxAge time.Duration) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	entry, ok := o.cache[category]
	if !ok {
		return nil
	}
	if o.now().Sub(entry.fetchedAt) > maxAge {
		return nil
	}
	return new(big.Int).Set(entry.price)
}

func (o *Oracle) store(category Category, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cache[category] = cacheEntry{
		price:     new(big.Int).Set(price),
		fetchedAt: o.now(),
	}
}
