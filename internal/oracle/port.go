// Package oracle provides validated price snapshots for (market, instant)
// queries. The port is deliberately narrow: caching, request coalescing and
// transport retry are internal, so callers see deterministic results for
// identical queries within a grace window.
package oracle

import (
	"context"
	"errors"

	"pancho-pvp/internal/domain"
)

// Failure modes surfaced to callers.
var (
	// ErrUnreachable is retryable: the next tick should try again.
	ErrUnreachable = errors.New("oracle: unreachable")

	// ErrStale means no snapshot within tolerance exists, even after the
	// nearest-timestamp search. Settlement falls back to REFUND.
	ErrStale = errors.New("oracle: snapshot stale")

	// ErrOwnerMismatch is fatal for the round's settlement attempt: the
	// price account is not owned by the expected oracle program.
	ErrOwnerMismatch = errors.New("oracle: price account owner mismatch")

	// ErrInvalidAccount means the account data does not parse as a price.
	ErrInvalidAccount = errors.New("oracle: invalid price account")
)

// Port answers price queries for a market at a wall-clock instant.
type Port interface {
	// PriceAt returns a snapshot whose publish time is within the
	// configured tolerance of unixTS. Callers verify the Owner field
	// against the market's expected oracle program.
	PriceAt(ctx context.Context, market *domain.Market, unixTS int64) (*domain.OracleSnapshot, error)
}
