package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Market binds a tradable symbol to its oracle feed identity and the
// program expected to own the oracle price account. Immutable per deployment.
type Market struct {
	Symbol        string   // "SOL", "BTC", "ETH"
	Code          uint8    // on-chain market code, used in round PDA seeds
	FeedID        [32]byte // oracle feed identity
	OracleAccount string   // base58 pubkey of the price account
	OracleOwner   string   // base58 pubkey of the owning oracle program
}

// MarketRegistry is the immutable set of markets a deployment serves.
type MarketRegistry struct {
	bySymbol map[string]*Market
}

// NewMarketRegistry builds a registry from the given markets.
// Duplicate symbols or codes are rejected.
func NewMarketRegistry(markets []Market) (*MarketRegistry, error) {
	bySymbol := make(map[string]*Market, len(markets))
	codes := make(map[uint8]string, len(markets))

	for i := range markets {
		m := markets[i]
		if m.Symbol == "" {
			return nil, fmt.Errorf("market with empty symbol")
		}
		if _, exists := bySymbol[m.Symbol]; exists {
			return nil, fmt.Errorf("duplicate market symbol %q", m.Symbol)
		}
		if prev, exists := codes[m.Code]; exists {
			return nil, fmt.Errorf("market code %d shared by %s and %s", m.Code, prev, m.Symbol)
		}
		bySymbol[m.Symbol] = &m
		codes[m.Code] = m.Symbol
	}

	return &MarketRegistry{bySymbol: bySymbol}, nil
}

// Get returns the market for a symbol, or nil if unknown.
func (r *MarketRegistry) Get(symbol string) *Market {
	return r.bySymbol[symbol]
}

// Symbols returns all registered symbols in unspecified order.
func (r *MarketRegistry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	return out
}

// ValidateWallet checks that a wallet address is well-formed:
// base58 decodable to exactly 32 bytes.
func ValidateWallet(wallet string) error {
	raw, err := base58.Decode(wallet)
	if err != nil {
		return fmt.Errorf("wallet %q: %w", wallet, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("wallet %q: decoded to %d bytes, want 32", wallet, len(raw))
	}
	return nil
}
