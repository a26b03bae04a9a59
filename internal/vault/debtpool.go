package vault

import (
	fpmath "VaultLedger/internal/math"
)

// DebtPool is the shared-interest-portion ledger: global principal debt,
// total debt portions (shares of the interest pool), protocol fees, and the
// lazy accrual timestamp. One instance per vault, owned by the vault
// aggregate and passed by reference to ledger operations — never ambient
// state. Interest accrues in O(1) regardless of the number of open
// positions: growth lands on TotalDebtAmount and every position's share is
// derived from its portion on demand.
type DebtPool struct {
	// TotalDebtAmount is the absolute outstanding debt, including interest
	// computed at the last accrual.
	TotalDebtAmount int64

	// TotalDebtPortion is the sum of all open positions' portions.
	TotalDebtPortion int64

	// TotalFeeCollected is interest + fees owed to the protocol, not yet
	// minted out.
	TotalFeeCollected int64

	// LastAccruedAt is the unix-seconds timestamp of the last accrual.
	LastAccruedAt int64
}

// AdditionalInterest returns the interest accumulated since the last
// accrual: elapsed * totalDebt * apr, floor division at every step. Zero if
// time has not advanced past the last accrual or no debt is outstanding.
// Event timestamps are producer-supplied, so a skewed clock can hand us a
// now before LastAccruedAt; interest never runs backwards.
func (dp *DebtPool) AdditionalInterest(now int64, apr fpmath.Rate) int64 {
	elapsed := now - dp.LastAccruedAt
	if elapsed <= 0 || dp.TotalDebtAmount == 0 {
		return 0
	}

	return fpmath.MulDiv3(
		elapsed,
		dp.TotalDebtAmount,
		int64(apr.Numerator),
		int64(apr.Denominator),
		fpmath.SecondsPerYear,
	)
}

// Accrue advances the pool to now, adding the elapsed interest to both the
// outstanding debt and the collected fees. Idempotent within one timestamp:
// a second call in the same second adds nothing. A now at or before the
// last accrual adds nothing and never rewinds the clock, so an already
// accrued interval cannot accrue a second time.
func (dp *DebtPool) Accrue(now int64, apr fpmath.Rate) int64 {
	interest := dp.AdditionalInterest(now, apr)
	if now > dp.LastAccruedAt {
		dp.LastAccruedAt = now
	}
	dp.TotalDebtAmount += interest
	dp.TotalFeeCollected += interest
	return interest
}

// PortionFor converts an absolute debt increment into a portion increment.
// The first-ever borrow (TotalDebtPortion == 0) maps 1:1.
func (dp *DebtPool) PortionFor(userDebt int64) int64 {
	if dp.TotalDebtPortion == 0 {
		return userDebt
	}
	return fpmath.MulDiv(dp.TotalDebtPortion, userDebt, dp.TotalDebtAmount)
}

// DebtFor converts a portion back into absolute debt. Floor division means
// the result can transiently sit 1-2 units below the true principal right
// after a fresh borrow; callers clamp with max(computed, principal).
func (dp *DebtPool) DebtFor(userPortion int64) int64 {
	if dp.TotalDebtPortion == 0 {
		return 0
	}
	return fpmath.MulDiv(dp.TotalDebtAmount, userPortion, dp.TotalDebtPortion)
}

// debtOf returns the position's current outstanding debt, clamped so that
// rounding never reports negative interest.
func (dp *DebtPool) debtOf(pos *Position) int64 {
	debt := dp.DebtFor(pos.DebtPortion)
	if debt < pos.DebtPrincipal {
		return pos.DebtPrincipal
	}
	return debt
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (dp *DebtPool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 32)
	buf = appendInt64LE(buf, dp.TotalDebtAmount)
	buf = appendInt64LE(buf, dp.TotalDebtPortion)
	buf = appendInt64LE(buf, dp.TotalFeeCollected)
	buf = appendInt64LE(buf, dp.LastAccruedAt)
	return buf
}
