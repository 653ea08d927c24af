package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/solana"
)

const (
	// nearestSearchWindowSec bounds the nearest-timestamp fallback search.
	nearestSearchWindowSec = 10

	// historyKeep bounds the per-market snapshot history ring.
	historyKeep = 512

	// cacheGraceSec is the window within which identical (market, ts)
	// queries return the identical snapshot, enabling replay safety.
	cacheGraceSec = 30
)

// AccountPort implements Port by reading the market's legacy Pyth price
// account over RPC. Concurrent identical requests are coalesced through a
// single-flight group; every fetched snapshot is recorded into a history
// ring that serves the nearest-timestamp fallback.
type AccountPort struct {
	rpc       solana.RPCClient
	maxAgeSec int64
	now       func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	history map[string][]*domain.OracleSnapshot // keyed by market symbol
	cache   map[string]*domain.OracleSnapshot   // keyed by market|ts
}

// AccountPortOption configures AccountPort.
type AccountPortOption func(*AccountPort)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) AccountPortOption {
	return func(p *AccountPort) { p.now = now }
}

// NewAccountPort creates a new AccountPort.
func NewAccountPort(rpc solana.RPCClient, maxAgeSec int64, opts ...AccountPortOption) *AccountPort {
	p := &AccountPort{
		rpc:       rpc,
		maxAgeSec: maxAgeSec,
		now:       time.Now,
		history:   make(map[string][]*domain.OracleSnapshot),
		cache:     make(map[string]*domain.OracleSnapshot),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Compile-time interface check.
var _ Port = (*AccountPort)(nil)

// PriceAt returns a snapshot for the market near unixTS.
//
// Resolution order:
//  1. cached result for the identical (market, ts) query within grace
//  2. live account read, if its publish time is within tolerance of unixTS
//  3. nearest recorded snapshot within ±10s of unixTS
//
// A live read with a mismatched owner fails the query outright: silently
// falling back could mask an oracle substitution.
func (p *AccountPort) PriceAt(ctx context.Context, market *domain.Market, unixTS int64) (*domain.OracleSnapshot, error) {
	cacheKey := fmt.Sprintf("%s|%d", market.Symbol, unixTS)

	p.mu.Lock()
	if snap, ok := p.cache[cacheKey]; ok {
		p.mu.Unlock()
		return snap, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(cacheKey, func() (interface{}, error) {
		return p.resolve(ctx, market, unixTS, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.OracleSnapshot), nil
}

func (p *AccountPort) resolve(ctx context.Context, market *domain.Market, unixTS int64, cacheKey string) (*domain.OracleSnapshot, error) {
	snap, liveErr := p.fetchLive(ctx, market)
	if liveErr != nil && errors.Is(liveErr, ErrOwnerMismatch) {
		return nil, liveErr
	}

	if snap != nil {
		p.record(market.Symbol, snap)
		if withinTolerance(snap.PublishTime, unixTS, p.maxAgeSec) {
			p.remember(cacheKey, snap)
			return snap, nil
		}
	}

	// Live read stale or unavailable: nearest-timestamp search over the
	// recorded history.
	if nearest := p.nearest(market.Symbol, unixTS); nearest != nil {
		p.remember(cacheKey, nearest)
		return nearest, nil
	}

	if liveErr != nil {
		return nil, liveErr
	}
	return nil, fmt.Errorf("%w: no snapshot within ±%ds of %d for %s",
		ErrStale, nearestSearchWindowSec, unixTS, market.Symbol)
}

// fetchLive reads and validates the market's price account.
func (p *AccountPort) fetchLive(ctx context.Context, market *domain.Market) (*domain.OracleSnapshot, error) {
	info, err := p.rpc.GetAccountInfo(ctx, market.OracleAccount)
	if err != nil {
		if errors.Is(err, solana.ErrUnreachable) {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: account %s not found", ErrInvalidAccount, market.OracleAccount)
	}
	if info.Owner != market.OracleOwner {
		return nil, fmt.Errorf("%w: account owned by %s, expected %s",
			ErrOwnerMismatch, info.Owner, market.OracleOwner)
	}

	parsed, err := parseLegacyPythPrice(info.Data)
	if err != nil {
		return nil, err
	}

	publishTime := parsed.timestamp
	if publishTime == 0 {
		// Some feeds leave the unix timestamp unset; fall back to the
		// block time of the publishing slot.
		bt, err := p.rpc.GetBlockTime(ctx, int64(parsed.pubSlot))
		if err == nil && bt != nil {
			publishTime = *bt
		}
	}

	return &domain.OracleSnapshot{
		Price:       parsed.price,
		Expo:        parsed.expo,
		PublishTime: publishTime,
		Confidence:  parsed.conf,
		Owner:       info.Owner,
	}, nil
}

// record appends a snapshot to the market's history ring.
func (p *AccountPort) record(symbol string, snap *domain.OracleSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hist := p.history[symbol]
	if n := len(hist); n > 0 && hist[n-1].PublishTime == snap.PublishTime {
		return
	}
	hist = append(hist, snap)
	if len(hist) > historyKeep {
		hist = hist[len(hist)-historyKeep:]
	}
	p.history[symbol] = hist
}

// nearest returns the recorded snapshot closest to unixTS within the
// search window, or nil.
func (p *AccountPort) nearest(symbol string, unixTS int64) *domain.OracleSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	hist := p.history[symbol]
	if len(hist) == 0 {
		return nil
	}

	idx := sort.Search(len(hist), func(i int) bool {
		return hist[i].PublishTime >= unixTS
	})

	var best *domain.OracleSnapshot
	bestDist := int64(nearestSearchWindowSec) + 1
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(hist) {
			continue
		}
		dist := hist[i].PublishTime - unixTS
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best = hist[i]
			bestDist = dist
		}
	}
	return best
}

// remember pins the resolved snapshot for the identical query and prunes
// expired pins.
func (p *AccountPort) remember(cacheKey string, snap *domain.OracleSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache[cacheKey] = snap
	if len(p.cache) > 4*historyKeep {
		cutoff := p.now().Unix() - cacheGraceSec
		for k, s := range p.cache {
			if s.PublishTime < cutoff {
				delete(p.cache, k)
			}
		}
	}
}

func withinTolerance(publishTime, target, maxAgeSec int64) bool {
	age := target - publishTime
	if age < 0 {
		age = -age
	}
	return age <= maxAgeSec
}
