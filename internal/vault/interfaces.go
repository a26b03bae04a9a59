package vault

import (
	"github.com/google/uuid"
)

// ValueProvider turns an owner's collateral amount into borrowing limits.
// The vault never computes valuation itself. Both limits are in the
// stablecoin's smallest unit. By configuration convention the liquidation
// limit sits at or above the credit limit; the ledger does not mechanically
// enforce that relationship (it is a settings-layer precondition).
type ValueProvider interface {
	CreditLimit(owner uuid.UUID, collateralAmount int64) (int64, error)
	LiquidationLimit(owner uuid.UUID, collateralAmount int64) (int64, error)
}

// Stablecoin is the mint/burn primitive. Amounts are non-negative integers
// in the coin's smallest unit. BurnFrom fails with ErrInsufficientFunds when
// the holder's balance cannot cover the amount; the ledger treats that as a
// fatal, non-retriable rejection of the enclosing action.
type Stablecoin interface {
	Mint(to uuid.UUID, amount int64) error
	BurnFrom(from uuid.UUID, amount int64) error
}

// Role is a capability name checked against the RoleRegistry.
type Role string

const (
	RoleLiquidator Role = "liquidator"
	RoleDAO        Role = "dao"
	RoleSetter     Role = "setter"
)

// RoleRegistry answers capability checks. Violated checks are fatal
// rejections of the enclosing action.
type RoleRegistry interface {
	HasRole(role Role, account uuid.UUID) bool
}

// StaticRoles is a fixed in-memory RoleRegistry, configured at startup.
type StaticRoles struct {
	grants map[Role]map[uuid.UUID]bool
}

func NewStaticRoles() *StaticRoles {
	return &StaticRoles{grants: make(map[Role]map[uuid.UUID]bool)}
}

func (s *StaticRoles) Grant(role Role, account uuid.UUID) {
	if s.grants[role] == nil {
		s.grants[role] = make(map[uuid.UUID]bool)
	}
	s.grants[role][account] = true
}

func (s *StaticRoles) HasRole(role Role, account uuid.UUID) bool {
	return s.grants[role][account]
}
