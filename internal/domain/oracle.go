package domain

import "github.com/shopspring/decimal"

// OracleSnapshot is the validated price observation returned for a
// (market, timestamp) query.
type OracleSnapshot struct {
	Price       int64  // integer mantissa
	Expo        int32  // decimal exponent, typically negative
	PublishTime int64  // unix seconds the price was published
	Confidence  uint64 // confidence interval in mantissa units
	Owner       string // base58 pubkey of the program owning the price account
}

// DisplayPrice renders mantissa×10^expo as a decimal string for API output.
func (s *OracleSnapshot) DisplayPrice() string {
	return decimal.New(s.Price, s.Expo).String()
}
