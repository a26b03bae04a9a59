package vault_test

import (
	"errors"
	"testing"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"
)

// ============================================================================
// Test: batch atomicity
// ============================================================================

func TestBatch_FailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)

	// The second action fails, so the first must be fully unwound: ledger
	// state, minted coins, and escrowed collateral.
	err := f.v.ExecuteBatch(t0, []vault.Action[vault.NFTKey]{
		vault.BorrowAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 500_000_000},
		vault.RepayAction[vault.NFTKey]{Account: f.recipient, Key: 1, Amount: 1},
	})
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}

	if _, ok := f.v.Position(1); ok {
		t.Error("position survived a failed batch")
	}
	pool := f.v.Pool()
	if pool.TotalDebtAmount != 0 || pool.TotalDebtPortion != 0 || pool.TotalFeeCollected != 0 {
		t.Errorf("pool not rolled back: %+v", pool)
	}
	if got := f.coin.balances[f.owner]; got != 0 {
		t.Errorf("minted coins not burned back: got %d", got)
	}
	if f.custody.escrowed[1] {
		t.Error("collateral still escrowed after rollback")
	}
	if f.custody.holders[1] != f.owner {
		t.Errorf("collateral holder: got %s, want owner", f.custody.holders[1])
	}
}

func TestBatch_FailureLeavesAccrualClockUntouched(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	before := f.v.Pool()

	err := f.v.ExecuteBatch(t0+1000, []vault.Action[vault.NFTKey]{
		vault.RepayAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: -1},
	})
	if !errors.Is(err, vault.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}

	if got := f.v.Pool(); got != before {
		t.Errorf("pool changed by failed batch: %+v -> %+v", before, got)
	}
}

// ============================================================================
// Test: accrual discipline
// ============================================================================

func TestBatch_AccruesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.coin.balances[f.owner] = 1_000_000_000
	feesBefore := f.v.Pool().TotalFeeCollected

	// Two accrual-requiring actions one year later: the year's interest
	// (10% of 500) lands once, not twice.
	err := f.v.ExecuteBatch(t0+fpmath.SecondsPerYear, []vault.Action[vault.NFTKey]{
		vault.RepayAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 1_000_000},
		vault.RepayAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 1_000_000},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	if got := f.v.Pool().TotalFeeCollected - feesBefore; got != 50_000_000 {
		t.Errorf("interest accrued: got %d, want 50_000_000", got)
	}
}

func TestBatch_ExemptActionsDoNotAccrue(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)
	f.coin.balances[f.owner] = 2_000_000_000
	accruedBefore := f.v.Pool().LastAccruedAt

	if err := f.v.Repurchase(liquidatedAt+100, f.owner, 1, 960_000_000); err != nil {
		t.Fatalf("repurchase: %v", err)
	}

	if got := f.v.Pool().LastAccruedAt; got != accruedBefore {
		t.Errorf("repurchase moved the accrual clock: %d -> %d", accruedBefore, got)
	}
}

// ============================================================================
// Test: in-batch ordering
// ============================================================================

func TestBatch_BorrowThenRepay(t *testing.T) {
	f := newFixture(t)
	f.coin.balances[f.owner] = 10_000_000

	// The repay sees the position opened by the borrow in the same batch.
	err := f.v.ExecuteBatch(t0, []vault.Action[vault.NFTKey]{
		vault.BorrowAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 500_000_000},
		vault.RepayAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 500_000_000},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	pos, ok := f.v.Position(1)
	if !ok {
		t.Fatal("position should remain open with zero debt")
	}
	if pos.HasDebt() {
		t.Errorf("debt remains: principal %d portion %d", pos.DebtPrincipal, pos.DebtPortion)
	}

	// Net cost to the owner is exactly the 1% origination fee.
	if got := f.coin.balances[f.owner]; got != 5_000_000 {
		t.Errorf("owner balance: got %d, want 5_000_000", got)
	}
}

func TestBatch_RepayBeforeBorrowFails(t *testing.T) {
	f := newFixture(t)
	f.coin.balances[f.owner] = 10_000_000

	err := f.v.ExecuteBatch(t0, []vault.Action[vault.NFTKey]{
		vault.RepayAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 500_000_000},
		vault.BorrowAction[vault.NFTKey]{Account: f.owner, Key: 1, Amount: 500_000_000},
	})
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
	if _, ok := f.v.Position(1); ok {
		t.Error("no position should exist after the failed batch")
	}
}

func TestBatch_LiquidateThenClaimWindowStillApplies(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)

	// A claim in the same batch as other work still honors the window.
	err := f.v.ExecuteBatch(liquidatedAt+10, []vault.Action[vault.NFTKey]{
		vault.ClaimAction[vault.NFTKey]{Caller: f.liquidator, Key: 1, Recipient: f.recipient},
	})
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}
