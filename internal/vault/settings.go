package vault

import (
	"fmt"

	fpmath "VaultLedger/internal/math"
)

// Settings holds the per-vault economic parameters. All four rates must be
// valid and at most 1.0 at the point they are set — validation happens at
// every settings mutation, never at use time.
type Settings struct {
	// DebtInterestAPR is the yearly interest rate applied by accrual.
	DebtInterestAPR fpmath.Rate

	// OrganizationFeeRate is the origination fee withheld from every borrow.
	OrganizationFeeRate fpmath.Rate

	// InsurancePurchaseRate is the additional premium withheld from insured
	// borrows.
	InsurancePurchaseRate fpmath.Rate

	// InsuranceLiquidationPenaltyRate is charged on the frozen debt when an
	// insured position is repurchased after liquidation.
	InsuranceLiquidationPenaltyRate fpmath.Rate

	// InsuranceRepurchaseTimeLimit is the repurchase window in seconds,
	// measured from the liquidation timestamp.
	InsuranceRepurchaseTimeLimit int64

	// BorrowAmountCap bounds the vault's total outstanding debt.
	BorrowAmountCap int64
}

// Validate rejects settings whose rates are malformed or above one.
func (s Settings) Validate() error {
	rates := []struct {
		name string
		rate fpmath.Rate
	}{
		{"debt_interest_apr", s.DebtInterestAPR},
		{"organization_fee_rate", s.OrganizationFeeRate},
		{"insurance_purchase_rate", s.InsurancePurchaseRate},
		{"insurance_liquidation_penalty_rate", s.InsuranceLiquidationPenaltyRate},
	}

	for _, r := range rates {
		if !r.rate.IsValid() {
			return fmt.Errorf("%w: %s %s has zero denominator", ErrInvalidRate, r.name, r.rate)
		}
		if !r.rate.IsBelowOne() {
			return fmt.Errorf("%w: %s %s exceeds one", ErrInvalidRate, r.name, r.rate)
		}
	}

	if s.InsuranceRepurchaseTimeLimit <= 0 {
		return fmt.Errorf("%w: insurance_repurchase_time_limit must be > 0, got %d",
			ErrInvalidInput, s.InsuranceRepurchaseTimeLimit)
	}
	if s.BorrowAmountCap <= 0 {
		return fmt.Errorf("%w: borrow_amount_cap must be > 0, got %d",
			ErrInvalidInput, s.BorrowAmountCap)
	}

	return nil
}
