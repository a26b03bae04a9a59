package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserCashNonNegative checks a user never goes below zero
func (v *InvariantValidator) ValidateUserCashNonNegative(userID uuid.UUID) error {
	key := NewUserAccountKey(userID, SubTypeCash, AssetVUSD)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateSupplyNonNegative verifies the outstanding supply never goes
// negative (a burn cannot exceed everything ever minted).
func (v *InvariantValidator) ValidateSupplyNonNegative() error {
	supply := v.tracker.TotalSupply()
	if supply < 0 {
		return fmt.Errorf("stablecoin supply is negative: %d", supply)
	}
	return nil
}
