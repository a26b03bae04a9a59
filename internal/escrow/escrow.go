package escrow

import (
	"errors"
	"fmt"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Auction receives seized collateral for resale. The lot is the position's
// canonical key path; the minimum bid is denominated in the auction's own
// pricing unit.
type Auction interface {
	Submit(lot string, seller uuid.UUID, minBid decimal.Decimal) error
}

// Liquidator drives batch liquidation across candidate positions without
// holding funds between calls. Seized uninsured collateral is forwarded to
// the auction with a minimum bid derived from the position's debt.
type Liquidator[K comparable] struct {
	v             *vault.Vault[K]
	auction       Auction
	prices        *oracle.PriceState
	auctionSymbol string
	log           zerolog.Logger
}

// NewLiquidator wires a liquidation driver to one vault. auctionSymbol
// names the secondary feed used to convert debt into the auction's pricing
// unit; when the feed is missing the raw debt figure is used unmodified.
func NewLiquidator[K comparable](
	v *vault.Vault[K],
	auction Auction,
	prices *oracle.PriceState,
	auctionSymbol string,
	log zerolog.Logger,
) *Liquidator[K] {
	return &Liquidator[K]{
		v:             v,
		auction:       auction,
		prices:        prices,
		auctionSymbol: auctionSymbol,
		log:           log,
	}
}

// Result reports the outcome of one LiquidateAll sweep.
type Result[K comparable] struct {
	Liquidated []K
	Skipped    []K
}

// LiquidateAll attempts to liquidate every candidate in order. Candidates
// that are not yet liquidatable (or no longer exist) are skipped; any other
// failure, insufficient caller balance above all, aborts the sweep with the
// positions already liquidated left committed.
func (l *Liquidator[K]) LiquidateAll(now int64, caller, recipient uuid.UUID, keys []K) (Result[K], error) {
	var res Result[K]

	for _, key := range keys {
		pos, ok := l.v.Position(key)
		if !ok {
			res.Skipped = append(res.Skipped, key)
			continue
		}
		insured := pos.BorrowType == vault.BorrowTypeInsured

		debt, _ := l.v.ProjectedDebt(key, now)

		err := l.v.Liquidate(now, caller, key, recipient)
		switch {
		case err == nil:
		case errors.Is(err, vault.ErrInvalidState):
			l.log.Debug().
				Str("position", l.v.KeyPath(key)).
				Err(err).
				Msg("candidate not liquidatable, skipping")
			res.Skipped = append(res.Skipped, key)
			continue
		case errors.Is(err, vault.ErrInsufficientFunds):
			return res, fmt.Errorf("liquidating %s: %w", l.v.KeyPath(key), err)
		default:
			return res, fmt.Errorf("liquidating %s: %w", l.v.KeyPath(key), err)
		}

		res.Liquidated = append(res.Liquidated, key)

		if insured {
			continue
		}

		minBid := l.minBid(debt)
		if err := l.auction.Submit(l.v.KeyPath(key), recipient, minBid); err != nil {
			// The liquidation itself is committed; a rejected lot is
			// resubmitted out of band.
			l.log.Error().
				Str("position", l.v.KeyPath(key)).
				Str("min_bid", minBid.String()).
				Err(err).
				Msg("auction submission failed")
		}
	}

	return res, nil
}

// minBid converts the absolute debt into the auction's pricing unit. The
// conversion is best-effort: a missing or unusable feed falls back to the
// raw debt figure.
func (l *Liquidator[K]) minBid(debt int64) decimal.Decimal {
	raw := decimal.New(debt, -int32(fpmath.StablecoinConfig.DecimalPrecision))
	if l.auctionSymbol == "" {
		return raw
	}

	price, err := l.prices.Get(l.auctionSymbol)
	if err != nil {
		l.log.Warn().
			Str("symbol", l.auctionSymbol).
			Err(err).
			Msg("no auction unit price, using raw debt as min bid")
		return raw
	}

	unit := decimal.New(price.Value, -int32(fpmath.PriceConfig.DecimalPrecision))
	return raw.DivRound(unit, int32(fpmath.PriceConfig.DecimalPrecision))
}
