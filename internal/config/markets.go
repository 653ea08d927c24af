package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"pancho-pvp/internal/domain"
)

// Legacy Pyth mainnet price accounts and the owning oracle program.
const (
	pythOracleProgram = "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH"

	solPriceAccount = "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG"
	btcPriceAccount = "GVXRSBjFk6e6J3NbVPXohDJetcTjaeeuykUpbQF8UoMU"
	ethPriceAccount = "JBu1AL4obBcCMqKBBxhpWCNUt136ijcuMZLFvTP7iWdB"

	solFeedID = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
	btcFeedID = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	ethFeedID = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
)

// defaultMarkets builds the SOL/BTC/ETH registry. Price accounts can be
// overridden per market via {SYMBOL}_ORACLE_ACCOUNT for devnet deployments.
func defaultMarkets() (*domain.MarketRegistry, error) {
	specs := []struct {
		symbol  string
		code    uint8
		feedID  string
		account string
	}{
		{"SOL", 0, solFeedID, solPriceAccount},
		{"BTC", 1, btcFeedID, btcPriceAccount},
		{"ETH", 2, ethFeedID, ethPriceAccount},
	}

	markets := make([]domain.Market, 0, len(specs))
	for _, s := range specs {
		feed, err := parseFeedID(s.feedID)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", s.symbol, err)
		}

		account := s.account
		if override := os.Getenv(s.symbol + "_ORACLE_ACCOUNT"); override != "" {
			account = override
		}

		markets = append(markets, domain.Market{
			Symbol:        s.symbol,
			Code:          s.code,
			FeedID:        feed,
			OracleAccount: account,
			OracleOwner:   pythOracleProgram,
		})
	}

	return domain.NewMarketRegistry(markets)
}

// parseFeedID decodes a 64-char hex feed identity.
func parseFeedID(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("bad feed id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("bad feed id %q: %d bytes", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// FeedIDHex renders a market's feed identity the way the API exposes it.
func FeedIDHex(m *domain.Market) string {
	return hex.EncodeToString(m.FeedID[:])
}
