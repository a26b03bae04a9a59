package vault

import (
	"github.com/google/uuid"
)

// BorrowType is the insurance mode of a position. It is fixed for the life
// of a position on the first confirmed borrow; changing it requires closing
// and reopening.
type BorrowType int32

const (
	BorrowTypeNotConfirmed BorrowType = iota
	BorrowTypeNonInsured
	BorrowTypeInsured
)

func (bt BorrowType) String() string {
	switch bt {
	case BorrowTypeNotConfirmed:
		return "NotConfirmed"
	case BorrowTypeNonInsured:
		return "NonInsured"
	case BorrowTypeInsured:
		return "Insured"
	default:
		return "Unknown"
	}
}

// Position is one borrower's collateral + debt record, keyed by collateral
// identity. The ledger exclusively owns all Position records.
type Position struct {
	Owner            uuid.UUID
	CollateralAmount int64
	BorrowType       BorrowType

	// DebtPrincipal is the absolute principal borrowed, excluding interest.
	DebtPrincipal int64

	// DebtPortion is this position's share of the vault's TotalDebtPortion.
	DebtPortion int64

	// DebtAmountForRepurchase is the absolute debt frozen at liquidation
	// time; meaningful only while the insurance window is open.
	DebtAmountForRepurchase int64

	// LiquidatedAt is the liquidation timestamp (unix seconds); 0 means the
	// position is not liquidated.
	LiquidatedAt int64

	// Liquidator is the account that fronted the debt repayment; set only
	// while the insurance window is open.
	Liquidator uuid.UUID

	// Version increments on every mutation (used by projections).
	Version int64
}

// IsLiquidated reports whether the position is in the liquidated-but-open
// insurance sub-state.
func (p *Position) IsLiquidated() bool {
	return p.LiquidatedAt != 0
}

// HasDebt reports whether any principal or portion remains outstanding.
func (p *Position) HasDebt() bool {
	return p.DebtPrincipal != 0 || p.DebtPortion != 0
}

// clone returns a private copy used by the batch staging layer.
func (p *Position) clone() *Position {
	cp := *p
	return &cp
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	buf = append(buf, p.Owner[:]...)
	buf = append(buf, byte(p.BorrowType))
	buf = appendInt64LE(buf, p.CollateralAmount)
	buf = appendInt64LE(buf, p.DebtPrincipal)
	buf = appendInt64LE(buf, p.DebtPortion)
	buf = appendInt64LE(buf, p.DebtAmountForRepurchase)
	buf = appendInt64LE(buf, p.LiquidatedAt)
	buf = append(buf, p.Liquidator[:]...)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
