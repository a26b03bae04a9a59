package oracle

import (
	"fmt"

	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricePoint is one oracle reading: a fixed-point value at PriceConfig
// scale and the feed's own timestamp.
type PricePoint struct {
	Value     int64 `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// PriceState holds the latest reading per symbol. Feeds are gap-tolerant:
// only the newest reading matters, older out-of-order updates are dropped
// by the caller's sequence validation, not here.
type PriceState struct {
	prices map[string]PricePoint
}

func NewPriceState() *PriceState {
	return &PriceState{prices: make(map[string]PricePoint)}
}

// Set stores a reading. Readings older than the stored one are ignored so
// out-of-order feed delivery cannot roll a price back. Zero values are
// stored as-is; they are rejected at read time so a poisoned feed surfaces
// as OracleFailure on use.
func (ps *PriceState) Set(symbol string, value, timestamp int64) {
	if existing, ok := ps.prices[symbol]; ok && timestamp < existing.Timestamp {
		return
	}
	ps.prices[symbol] = PricePoint{Value: value, Timestamp: timestamp}
}

// Get returns a usable reading, rejecting missing, zero, or zero-timestamp
// entries.
func (ps *PriceState) Get(symbol string) (PricePoint, error) {
	p, ok := ps.prices[symbol]
	if !ok {
		return PricePoint{}, fmt.Errorf("no price for %s", symbol)
	}
	if p.Value <= 0 {
		return PricePoint{}, fmt.Errorf("zero price for %s", symbol)
	}
	if p.Timestamp == 0 {
		return PricePoint{}, fmt.Errorf("stale price for %s: zero timestamp", symbol)
	}
	return p, nil
}

// Snapshot returns a copy of all readings.
func (ps *PriceState) Snapshot() map[string]PricePoint {
	out := make(map[string]PricePoint, len(ps.prices))
	for k, v := range ps.prices {
		out[k] = v
	}
	return out
}

// Restore replaces all readings from a snapshot.
func (ps *PriceState) Restore(snapshot map[string]PricePoint) {
	ps.prices = make(map[string]PricePoint, len(snapshot))
	for k, v := range snapshot {
		ps.prices[k] = v
	}
}

// ParsePrice converts a decimal price string from a feed into the internal
// fixed-point representation, truncating below PriceConfig precision.
func ParsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("malformed price %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("negative price %q", s)
	}

	scaled := d.Mul(decimal.NewFromInt(fpmath.PriceConfig.Scale)).Truncate(0)
	if !scaled.IsInteger() || !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %q out of range", s)
	}
	return scaled.BigInt().Int64(), nil
}

// FormatPrice renders an internal fixed-point value as a decimal string.
func FormatPrice(v int64) string {
	return decimal.New(v, -int32(fpmath.PriceConfig.DecimalPrecision)).String()
}

// CollectionValueProvider derives borrowing limits for NFT collateral from
// the collection's floor price. CollateralAmount is a token count.
type CollectionValueProvider struct {
	prices          *PriceState
	symbol          string
	creditRate      fpmath.Rate
	liquidationRate fpmath.Rate
}

// NewCollectionValueProvider builds a provider over the floor-price symbol.
// The credit rate is the loan-to-value multiplier; the liquidation rate
// sits above it by configuration convention (validated at wiring time, not
// per read).
func NewCollectionValueProvider(prices *PriceState, symbol string, creditRate, liquidationRate fpmath.Rate) *CollectionValueProvider {
	return &CollectionValueProvider{
		prices:          prices,
		symbol:          symbol,
		creditRate:      creditRate,
		liquidationRate: liquidationRate,
	}
}

func (p *CollectionValueProvider) CreditLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	return p.limit(collateralAmount, p.creditRate)
}

func (p *CollectionValueProvider) LiquidationLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	return p.limit(collateralAmount, p.liquidationRate)
}

// limit computes floor(floorPrice * tokenCount * rate) with a wide
// intermediate; the raw floorPrice * tokenCount product can exceed int64.
func (p *CollectionValueProvider) limit(collateralAmount int64, rate fpmath.Rate) (int64, error) {
	price, err := p.prices.Get(p.symbol)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDiv3(price.Value, collateralAmount, int64(rate.Numerator), int64(rate.Denominator), 1), nil
}

// TokenValueProvider derives borrowing limits for fungible collateral.
// CollateralAmount is in the token's smallest unit at StablecoinConfig
// scale, so the price is applied per whole token.
type TokenValueProvider struct {
	prices          *PriceState
	symbol          string
	creditRate      fpmath.Rate
	liquidationRate fpmath.Rate
}

func NewTokenValueProvider(prices *PriceState, symbol string, creditRate, liquidationRate fpmath.Rate) *TokenValueProvider {
	return &TokenValueProvider{
		prices:          prices,
		symbol:          symbol,
		creditRate:      creditRate,
		liquidationRate: liquidationRate,
	}
}

func (p *TokenValueProvider) value(collateralAmount int64) (int64, error) {
	price, err := p.prices.Get(p.symbol)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDiv(collateralAmount, price.Value, fpmath.StablecoinConfig.Scale), nil
}

func (p *TokenValueProvider) CreditLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	v, err := p.value(collateralAmount)
	if err != nil {
		return 0, err
	}
	return p.creditRate.Calculate(v), nil
}

func (p *TokenValueProvider) LiquidationLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	v, err := p.value(collateralAmount)
	if err != nil {
		return 0, err
	}
	return p.liquidationRate.Calculate(v), nil
}
