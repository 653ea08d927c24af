// Package claims tracks on-chain claim execution. A claim submitted by a
// wallet is final only when the program emits a Claimed event; the watcher
// observes program logs and folds the claimed flags back into the ledger,
// so an unconfirmed claim is resolved on the next refresh.
package claims

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"pancho-pvp/internal/chain"
	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/solana"
	"pancho-pvp/internal/storage"
)

// cacheCycles is how many past cycles the round-address cache covers, in
// addition to the current and the next cycle.
const cacheCycles = 24

// Subscriber is the log-subscription surface of the WebSocket client.
type Subscriber interface {
	SubscribeLogs(ctx context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error)
}

// Watcher consumes settlement program logs and marks claimed positions.
type Watcher struct {
	ws        Subscriber
	positions storage.PositionStore
	markets   *domain.MarketRegistry
	cfg       round.Config

	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	addrCache map[string]string // round pubkey -> round id
	cachedAt  int64             // aligned start the cache was built around
}

// Options configures the Watcher.
type Options struct {
	WS        Subscriber
	Positions storage.PositionStore
	Markets   *domain.MarketRegistry
	Config    round.Config
	Logger    *log.Logger
	Clock     func() time.Time
}

// NewWatcher creates a claims watcher.
func NewWatcher(opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Watcher{
		ws:        opts.WS,
		positions: opts.Positions,
		markets:   opts.Markets,
		cfg:       opts.Config,
		logger:    logger,
		now:       now,
		addrCache: make(map[string]string),
	}
}

// Run subscribes to program logs and processes events until the context is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ch, err := w.ws.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions: []string{chain.ProgramID},
	})
	if err != nil {
		return err
	}
	w.logger.Printf("claims watcher subscribed to %s", chain.ProgramID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notif, ok := <-ch:
			if !ok {
				return errors.New("claims: log subscription closed")
			}
			if notif.Err != nil {
				continue
			}
			w.process(ctx, notif)
		}
	}
}

func (w *Watcher) process(ctx context.Context, notif solana.LogNotification) {
	_, claimed, _ := chain.DecodeEvents(notif.Logs)

	for _, ev := range claimed {
		roundID, ok := w.resolveRound(ev.Round)
		if !ok {
			w.logger.Printf("claims: unknown round account %s (tx %s)", ev.Round, notif.Signature)
			continue
		}

		marked, err := w.positions.MarkClaimed(ctx, roundID, ev.User, domain.Side(ev.Side))
		if err != nil {
			w.logger.Printf("claims: mark %s/%s: %v", roundID, ev.User, err)
			continue
		}
		if marked {
			w.logger.Printf("claimed %s by %s: stake=%d payout=%d", roundID, ev.User, ev.Stake, ev.Payout)
		}
	}
}

// resolveRound maps a round PDA back to its wire identity using a derived
// address cache covering the cycles around now.
func (w *Watcher) resolveRound(roundKey string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cycle := w.cfg.CycleSeconds()
	current := domain.AlignedStart(w.now().Unix(), cycle)

	if w.cachedAt != current {
		w.rebuildCacheLocked(current, cycle)
	}

	id, ok := w.addrCache[roundKey]
	return id, ok
}

func (w *Watcher) rebuildCacheLocked(current, cycle int64) {
	w.addrCache = make(map[string]string)
	w.cachedAt = current

	for _, symbol := range w.markets.Symbols() {
		market := w.markets.Get(symbol)
		for i := -cacheCycles; i <= 1; i++ {
			startSec := current + int64(i)*cycle
			addr, _, err := chain.RoundAddress(market.Code, startSec)
			if err != nil {
				continue
			}
			w.addrCache[addr] = domain.FormatRoundID(symbol, startSec)
		}
	}
}
