package vault_test

import (
	"errors"
	"fmt"
	"testing"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// ============================================================================
// Test doubles
// ============================================================================

// stubValue prices collateral at a flat per-unit value.
type stubValue struct {
	creditPerUnit      int64
	liquidationPerUnit int64
	err                error
}

func (s *stubValue) CreditLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.creditPerUnit * collateralAmount, nil
}

func (s *stubValue) LiquidationLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.liquidationPerUnit * collateralAmount, nil
}

// memCoin is an in-memory stablecoin with per-account balances.
type memCoin struct {
	balances map[uuid.UUID]int64
}

func newMemCoin() *memCoin {
	return &memCoin{balances: make(map[uuid.UUID]int64)}
}

func (c *memCoin) Mint(to uuid.UUID, amount int64) error {
	c.balances[to] += amount
	return nil
}

func (c *memCoin) BurnFrom(from uuid.UUID, amount int64) error {
	if c.balances[from] < amount {
		return fmt.Errorf("balance %d below %d", c.balances[from], amount)
	}
	c.balances[from] -= amount
	return nil
}

// memCustody tracks NFT holders and vault escrow.
type memCustody struct {
	holders  map[vault.NFTKey]uuid.UUID
	escrowed map[vault.NFTKey]bool
}

func newMemCustody() *memCustody {
	return &memCustody{
		holders:  make(map[vault.NFTKey]uuid.UUID),
		escrowed: make(map[vault.NFTKey]bool),
	}
}

func (c *memCustody) TransferIn(from uuid.UUID, key vault.NFTKey, amount int64) error {
	if c.holders[key] != from {
		return fmt.Errorf("token %d not held by %s", key, from)
	}
	if c.escrowed[key] {
		return fmt.Errorf("token %d already escrowed", key)
	}
	c.escrowed[key] = true
	return nil
}

func (c *memCustody) TransferOut(to uuid.UUID, key vault.NFTKey, amount int64) error {
	if !c.escrowed[key] {
		return fmt.Errorf("token %d not escrowed", key)
	}
	c.escrowed[key] = false
	c.holders[key] = to
	return nil
}

func (c *memCustody) OpenAmount() int64 { return 1 }

func (c *memCustody) KeyPath(key vault.NFTKey) string {
	return vault.NFTKeyPath("test", key)
}

// ============================================================================
// Fixture
// ============================================================================

const t0 = int64(1_700_000_000)

type fixture struct {
	v       *vault.Vault[vault.NFTKey]
	value   *stubValue
	coin    *memCoin
	custody *memCustody

	owner      uuid.UUID
	liquidator uuid.UUID
	recipient  uuid.UUID
	dao        uuid.UUID
	setter     uuid.UUID
	treasury   uuid.UUID
}

func defaultSettings() vault.Settings {
	return vault.Settings{
		DebtInterestAPR:                 fpmath.NewRate(10, 100),
		OrganizationFeeRate:             fpmath.NewRate(1, 100),
		InsurancePurchaseRate:           fpmath.NewRate(2, 100),
		InsuranceLiquidationPenaltyRate: fpmath.NewRate(5, 100),
		InsuranceRepurchaseTimeLimit:    3600,
		BorrowAmountCap:                 10_000_000_000,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		value:      &stubValue{creditPerUnit: 1_000_000_000, liquidationPerUnit: 900_000_000},
		coin:       newMemCoin(),
		custody:    newMemCustody(),
		owner:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		liquidator: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		recipient:  uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		dao:        uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		setter:     uuid.MustParse("55555555-5555-5555-5555-555555555555"),
		treasury:   uuid.MustParse("66666666-6666-6666-6666-666666666666"),
	}

	roles := vault.NewStaticRoles()
	roles.Grant(vault.RoleLiquidator, f.liquidator)
	roles.Grant(vault.RoleDAO, f.dao)
	roles.Grant(vault.RoleSetter, f.setter)

	f.custody.holders[1] = f.owner
	f.custody.holders[2] = f.owner

	v, err := vault.NewVault[vault.NFTKey](
		"test", defaultSettings(), t0, f.value, f.coin, f.custody, roles)
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	f.v = v
	return f
}

// liquidatedInsuredFixture borrows 800 units insured at t0, lets two years
// of 10% interest push the debt to 960 units (past the 900 liquidation
// limit), and liquidates. Returns the fixture and the liquidation time.
func liquidatedInsuredFixture(t *testing.T) (*fixture, int64) {
	t.Helper()

	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 800_000_000, true); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	liquidatedAt := t0 + 2*fpmath.SecondsPerYear
	f.coin.balances[f.liquidator] = 2_000_000_000
	if err := f.v.Liquidate(liquidatedAt, f.liquidator, 1, f.recipient); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	return f, liquidatedAt
}

// ============================================================================
// Test: borrow
// ============================================================================

func TestBorrow_OpensPosition(t *testing.T) {
	f := newFixture(t)

	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	pos, ok := f.v.Position(1)
	if !ok {
		t.Fatal("position not opened")
	}
	if pos.Owner != f.owner {
		t.Errorf("owner: got %s, want %s", pos.Owner, f.owner)
	}
	if pos.BorrowType != vault.BorrowTypeNonInsured {
		t.Errorf("borrow type: got %s, want NonInsured", pos.BorrowType)
	}
	if pos.DebtPrincipal != 500_000_000 {
		t.Errorf("principal: got %d, want 500_000_000", pos.DebtPrincipal)
	}
	if pos.DebtPortion != 500_000_000 {
		t.Errorf("bootstrap portion: got %d, want 500_000_000 (1:1)", pos.DebtPortion)
	}
	if pos.CollateralAmount != 1 {
		t.Errorf("collateral: got %d, want 1", pos.CollateralAmount)
	}

	// 1% origination fee withheld from the minted proceeds.
	if got := f.coin.balances[f.owner]; got != 495_000_000 {
		t.Errorf("owner balance: got %d, want 495_000_000", got)
	}
	if got := f.v.Pool().TotalFeeCollected; got != 5_000_000 {
		t.Errorf("fees: got %d, want 5_000_000", got)
	}
	if !f.custody.escrowed[1] {
		t.Error("collateral not escrowed")
	}
}

func TestBorrow_InsuredChargesPremium(t *testing.T) {
	f := newFixture(t)

	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, true); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// 1% origination + 2% insurance premium.
	if got := f.coin.balances[f.owner]; got != 485_000_000 {
		t.Errorf("owner balance: got %d, want 485_000_000", got)
	}
	if got := f.v.Pool().TotalFeeCollected; got != 15_000_000 {
		t.Errorf("fees: got %d, want 15_000_000", got)
	}

	pos, _ := f.v.Position(1)
	if pos.BorrowType != vault.BorrowTypeInsured {
		t.Errorf("borrow type: got %s, want Insured", pos.BorrowType)
	}
}

func TestBorrow_ZeroAmount(t *testing.T) {
	f := newFixture(t)

	err := f.v.Borrow(t0, f.owner, 1, 0, false)
	if !errors.Is(err, vault.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestBorrow_NotOwner(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := f.v.Borrow(t0+1, f.recipient, 1, 100_000_000, false)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestBorrow_InsuranceModeFixed(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, true); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := f.v.Borrow(t0+1, f.owner, 1, 100_000_000, false)
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestBorrow_ExceedsCreditLimit(t *testing.T) {
	f := newFixture(t)

	err := f.v.Borrow(t0, f.owner, 1, 1_000_000_001, false)
	if !errors.Is(err, vault.ErrLimitExceeded) {
		t.Errorf("got %v, want ErrLimitExceeded", err)
	}
	if _, ok := f.v.Position(1); ok {
		t.Error("rejected borrow must not open a position")
	}
	if f.custody.escrowed[1] {
		t.Error("rejected borrow must not keep collateral escrowed")
	}
}

func TestBorrow_ExceedsGlobalCap(t *testing.T) {
	f := newFixture(t)
	f.value.creditPerUnit = 100_000_000_000

	err := f.v.Borrow(t0, f.owner, 1, 10_000_000_001, false)
	if !errors.Is(err, vault.ErrLimitExceeded) {
		t.Errorf("got %v, want ErrLimitExceeded", err)
	}
}

func TestBorrow_OracleFailure(t *testing.T) {
	f := newFixture(t)
	f.value.err = fmt.Errorf("stale reading")

	err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false)
	if !errors.Is(err, vault.ErrOracleFailure) {
		t.Errorf("got %v, want ErrOracleFailure", err)
	}
}

// ============================================================================
// Test: repay
// ============================================================================

func TestRepay_BasicScenario(t *testing.T) {
	f := newFixture(t)

	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// One second of 10% APR on 500 units accrues exactly 1 smallest unit.
	f.coin.balances[f.owner] += 100_000_000
	if err := f.v.Repay(t0+1, f.owner, 1, 600_000_000); err != nil {
		t.Fatalf("repay: %v", err)
	}

	pos, ok := f.v.Position(1)
	if !ok {
		t.Fatal("position should survive repayment")
	}
	if pos.DebtPrincipal != 0 {
		t.Errorf("principal: got %d, want 0", pos.DebtPrincipal)
	}
	if pos.DebtPortion != 0 {
		t.Errorf("portion after full repayment: got %d, want exactly 0", pos.DebtPortion)
	}

	pool := f.v.Pool()
	if pool.TotalDebtAmount != 0 {
		t.Errorf("total debt: got %d, want 0", pool.TotalDebtAmount)
	}
	if pool.TotalDebtPortion != 0 {
		t.Errorf("total portion: got %d, want 0", pool.TotalDebtPortion)
	}
	if pool.TotalFeeCollected != 5_000_001 {
		t.Errorf("fees: got %d, want 5_000_001 (fee + 1 unit interest)", pool.TotalFeeCollected)
	}

	// Clamped burn: 500 principal + 1 interest, never the requested 600.
	wantBalance := int64(495_000_000 + 100_000_000 - 500_000_001)
	if got := f.coin.balances[f.owner]; got != wantBalance {
		t.Errorf("owner balance: got %d, want %d", got, wantBalance)
	}
}

func TestRepay_NeverOverpays(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.coin.balances[f.owner] = 1_000_000_000
	before := f.coin.balances[f.owner]
	if err := f.v.Repay(t0, f.owner, 1, 999_999_999); err != nil {
		t.Fatalf("repay: %v", err)
	}

	if burned := before - f.coin.balances[f.owner]; burned != 100_000_000 {
		t.Errorf("burned: got %d, want 100_000_000 (clamped to debt)", burned)
	}
}

func TestRepay_NotOwner(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := f.v.Repay(t0, f.recipient, 1, 100_000_000)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRepay_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Owner only holds the post-fee proceeds, short of the full principal.
	err := f.v.Repay(t0, f.owner, 1, 500_000_000)
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}

	pos, _ := f.v.Position(1)
	if pos.DebtPrincipal != 500_000_000 {
		t.Errorf("failed repay must not change principal: got %d", pos.DebtPrincipal)
	}
}

// ============================================================================
// Test: close
// ============================================================================

func TestClose_WithDebt(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := f.v.ClosePosition(t0, f.owner, 1)
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestClose_ReturnsCollateral(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.coin.balances[f.owner] = 200_000_000
	if err := f.v.Repay(t0, f.owner, 1, 200_000_000); err != nil {
		t.Fatalf("repay: %v", err)
	}

	if err := f.v.ClosePosition(t0, f.owner, 1); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := f.v.Position(1); ok {
		t.Error("position should be deleted")
	}
	if f.custody.escrowed[1] {
		t.Error("collateral still escrowed")
	}
	if f.custody.holders[1] != f.owner {
		t.Errorf("collateral holder: got %s, want owner", f.custody.holders[1])
	}
}

// ============================================================================
// Test: liquidation
// ============================================================================

func TestLiquidate_RequiresRole(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := f.v.Liquidate(t0, f.recipient, 1, f.recipient)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestLiquidate_BelowLimit(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.coin.balances[f.liquidator] = 1_000_000_000
	err := f.v.Liquidate(t0, f.liquidator, 1, f.recipient)
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestLiquidate_Uninsured(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 800_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Two years of 10% APR pushes 800 to 960, past the 900 limit.
	now := t0 + 2*fpmath.SecondsPerYear
	f.coin.balances[f.liquidator] = 2_000_000_000
	if err := f.v.Liquidate(now, f.liquidator, 1, f.recipient); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if _, ok := f.v.Position(1); ok {
		t.Error("uninsured liquidation should delete the position")
	}
	if f.custody.holders[1] != f.recipient {
		t.Errorf("collateral holder: got %s, want recipient", f.custody.holders[1])
	}
	if got := f.coin.balances[f.liquidator]; got != 2_000_000_000-960_000_000 {
		t.Errorf("liquidator balance: got %d, want %d", got, 2_000_000_000-960_000_000)
	}

	pool := f.v.Pool()
	if pool.TotalDebtAmount != 0 || pool.TotalDebtPortion != 0 {
		t.Errorf("pool not emptied: debt %d portion %d",
			pool.TotalDebtAmount, pool.TotalDebtPortion)
	}
}

func TestLiquidate_InsuredFreezesDebt(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)

	pos, ok := f.v.Position(1)
	if !ok {
		t.Fatal("insured liquidation must leave the position open")
	}
	if pos.DebtAmountForRepurchase != 960_000_000 {
		t.Errorf("frozen debt: got %d, want 960_000_000", pos.DebtAmountForRepurchase)
	}
	if pos.LiquidatedAt != liquidatedAt {
		t.Errorf("liquidated at: got %d, want %d", pos.LiquidatedAt, liquidatedAt)
	}
	if pos.Liquidator != f.liquidator {
		t.Errorf("liquidator: got %s, want %s", pos.Liquidator, f.liquidator)
	}
	if pos.DebtPrincipal != 0 || pos.DebtPortion != 0 {
		t.Errorf("debt not cleared: principal %d portion %d",
			pos.DebtPrincipal, pos.DebtPortion)
	}
	if !f.custody.escrowed[1] {
		t.Error("collateral must stay escrowed during the insurance window")
	}
}

func TestLiquidate_Exclusivity(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)
	now := liquidatedAt + 1

	if err := f.v.Borrow(now, f.owner, 1, 1, true); !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("borrow on liquidated: got %v, want ErrInvalidState", err)
	}
	if err := f.v.Repay(now, f.owner, 1, 1); !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("repay on liquidated: got %v, want ErrInvalidState", err)
	}
	if err := f.v.ClosePosition(now, f.owner, 1); !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("close on liquidated: got %v, want ErrInvalidState", err)
	}
	if err := f.v.Liquidate(now, f.liquidator, 1, f.recipient); !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("second liquidation: got %v, want ErrInvalidState", err)
	}
}

// ============================================================================
// Test: repurchase and claim window
// ============================================================================

func TestRepurchase_InsideWindow(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)

	// Full frozen debt plus the 5% penalty.
	f.coin.balances[f.owner] = 2_000_000_000
	liquidatorBefore := f.coin.balances[f.liquidator]

	if err := f.v.Repurchase(liquidatedAt+3599, f.owner, 1, 960_000_000); err != nil {
		t.Fatalf("repurchase at window-1: %v", err)
	}

	pos, ok := f.v.Position(1)
	if !ok {
		t.Fatal("repurchased position must stay open")
	}
	if pos.IsLiquidated() {
		t.Error("liquidation fields not cleared")
	}
	if pos.DebtAmountForRepurchase != 0 || pos.Liquidator != uuid.Nil {
		t.Error("repurchase bookkeeping not cleared")
	}
	if pos.DebtPrincipal != 0 {
		t.Errorf("full repurchase leaves principal: got %d", pos.DebtPrincipal)
	}

	// Liquidator made whole for the full frozen debt.
	if got := f.coin.balances[f.liquidator]; got != liquidatorBefore+960_000_000 {
		t.Errorf("liquidator balance: got %d, want %d", got, liquidatorBefore+960_000_000)
	}

	// Owner pays repay amount + penalty (5% of 960 = 48).
	if got := f.coin.balances[f.owner]; got != 2_000_000_000-960_000_000-48_000_000 {
		t.Errorf("owner balance: got %d, want %d", got, 2_000_000_000-1_008_000_000)
	}
}

func TestRepurchase_AtWindowFails(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)
	f.coin.balances[f.owner] = 2_000_000_000

	err := f.v.Repurchase(liquidatedAt+3600, f.owner, 1, 960_000_000)
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("repurchase at window: got %v, want ErrInvalidState", err)
	}
}

func TestRepurchase_Partial(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)
	f.coin.balances[f.owner] = 2_000_000_000

	if err := f.v.Repurchase(liquidatedAt+1, f.owner, 1, 460_000_000); err != nil {
		t.Fatalf("partial repurchase: %v", err)
	}

	pos, _ := f.v.Position(1)
	if pos.DebtPrincipal != 500_000_000 {
		t.Errorf("remaining principal: got %d, want 500_000_000", pos.DebtPrincipal)
	}
	if pos.DebtPortion != 500_000_000 {
		t.Errorf("re-added portion: got %d, want 500_000_000 (1:1 into empty pool)", pos.DebtPortion)
	}

	pool := f.v.Pool()
	if pool.TotalDebtAmount != 500_000_000 || pool.TotalDebtPortion != 500_000_000 {
		t.Errorf("pool: debt %d portion %d, want 500_000_000 each",
			pool.TotalDebtAmount, pool.TotalDebtPortion)
	}
}

func TestRepurchase_RemainderOverCreditLimit(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)
	f.coin.balances[f.owner] = 2_000_000_000
	f.value.creditPerUnit = 100_000_000

	err := f.v.Repurchase(liquidatedAt+1, f.owner, 1, 460_000_000)
	if !errors.Is(err, vault.ErrLimitExceeded) {
		t.Errorf("got %v, want ErrLimitExceeded", err)
	}
}

func TestRepurchase_NotOwner(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)
	f.coin.balances[f.recipient] = 2_000_000_000

	err := f.v.Repurchase(liquidatedAt+1, f.recipient, 1, 960_000_000)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestClaim_BeforeWindowFails(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)

	err := f.v.ClaimExpiredInsurance(liquidatedAt+3599, f.liquidator, 1, f.recipient)
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("claim at window-1: got %v, want ErrInvalidState", err)
	}
}

func TestClaim_AtWindowSucceeds(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)

	if err := f.v.ClaimExpiredInsurance(liquidatedAt+3600, f.liquidator, 1, f.recipient); err != nil {
		t.Fatalf("claim at window: %v", err)
	}

	if _, ok := f.v.Position(1); ok {
		t.Error("claimed position should be deleted")
	}
	if f.custody.holders[1] != f.recipient {
		t.Errorf("collateral holder: got %s, want recipient", f.custody.holders[1])
	}
}

func TestClaim_NotRecordedLiquidator(t *testing.T) {
	f, liquidatedAt := liquidatedInsuredFixture(t)

	err := f.v.ClaimExpiredInsurance(liquidatedAt+3600, f.owner, 1, f.owner)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

// ============================================================================
// Test: deposit / withdraw
// ============================================================================

func TestWithdraw_BlockedByDebt(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 100_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := f.v.Withdraw(t0, f.owner, 1, 1)
	if !errors.Is(err, vault.ErrLimitExceeded) {
		t.Errorf("got %v, want ErrLimitExceeded", err)
	}
}

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	f := newFixture(t)

	if err := f.v.Deposit(t0, f.owner, 2, 1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pos, ok := f.v.Position(2)
	if !ok || pos.CollateralAmount != 1 {
		t.Fatalf("deposit did not open position: ok=%v collateral=%d", ok, pos.CollateralAmount)
	}
	if pos.BorrowType != vault.BorrowTypeNotConfirmed {
		t.Errorf("borrow type: got %s, want NotConfirmed", pos.BorrowType)
	}

	if err := f.v.Withdraw(t0+1, f.owner, 2, 1); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, ok := f.v.Position(2); ok {
		t.Error("empty position should be deleted")
	}
	if f.custody.holders[2] != f.owner {
		t.Errorf("collateral holder: got %s, want owner", f.custody.holders[2])
	}
}

// ============================================================================
// Test: conservation invariants
// ============================================================================

func TestPortionConservation(t *testing.T) {
	f := newFixture(t)
	other := uuid.MustParse("77777777-7777-7777-7777-777777777777")
	f.custody.holders[3] = other

	if err := f.v.Borrow(t0, f.owner, 1, 300_000_000, false); err != nil {
		t.Fatalf("borrow 1: %v", err)
	}
	if err := f.v.Borrow(t0+100, f.owner, 2, 200_000_000, true); err != nil {
		t.Fatalf("borrow 2: %v", err)
	}
	if err := f.v.Borrow(t0+100_000, other, 3, 100_000_000, false); err != nil {
		t.Fatalf("borrow 3: %v", err)
	}

	var portionSum int64
	f.v.Range(func(key vault.NFTKey, pos vault.Position) bool {
		portionSum += pos.DebtPortion

		debt, _ := f.v.OutstandingDebt(key)
		if debt < pos.DebtPrincipal {
			t.Errorf("position %d: debt %d below principal %d", key, debt, pos.DebtPrincipal)
		}
		return true
	})

	if total := f.v.Pool().TotalDebtPortion; portionSum != total {
		t.Errorf("portion sum %d != total portion %d", portionSum, total)
	}
}

// ============================================================================
// Test: fees and settings
// ============================================================================

func TestCollectFees(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := f.v.CollectFees(t0, f.dao, f.treasury); err != nil {
		t.Fatalf("collect fees: %v", err)
	}

	if got := f.coin.balances[f.treasury]; got != 5_000_000 {
		t.Errorf("treasury balance: got %d, want 5_000_000", got)
	}
	if got := f.v.Pool().TotalFeeCollected; got != 0 {
		t.Errorf("fee counter: got %d, want 0", got)
	}
}

func TestCollectFees_RequiresDAO(t *testing.T) {
	f := newFixture(t)

	err := f.v.CollectFees(t0, f.owner, f.treasury)
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestSetSettings_InvalidRate(t *testing.T) {
	f := newFixture(t)

	bad := defaultSettings()
	bad.DebtInterestAPR = fpmath.NewRate(3, 2)
	err := f.v.SetSettings(t0, f.setter, bad)
	if !errors.Is(err, vault.ErrInvalidRate) {
		t.Errorf("got %v, want ErrInvalidRate", err)
	}

	bad = defaultSettings()
	bad.OrganizationFeeRate = fpmath.NewRate(1, 0)
	err = f.v.SetSettings(t0, f.setter, bad)
	if !errors.Is(err, vault.ErrInvalidRate) {
		t.Errorf("got %v, want ErrInvalidRate", err)
	}
}

func TestSetSettings_AccruesAtOldRate(t *testing.T) {
	f := newFixture(t)
	if err := f.v.Borrow(t0, f.owner, 1, 500_000_000, false); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	next := defaultSettings()
	next.DebtInterestAPR = fpmath.NewRate(20, 100)
	if err := f.v.SetSettings(t0+fpmath.SecondsPerYear, f.setter, next); err != nil {
		t.Fatalf("set settings: %v", err)
	}

	// The elapsed year accrued at the old 10%, not the new 20%.
	if got := f.v.Pool().TotalDebtAmount; got != 550_000_000 {
		t.Errorf("total debt: got %d, want 550_000_000", got)
	}
	if got := f.v.Settings().DebtInterestAPR; got != fpmath.NewRate(20, 100) {
		t.Errorf("apr: got %s, want 20/100", got)
	}
}

func TestSetSettings_RequiresSetter(t *testing.T) {
	f := newFixture(t)

	err := f.v.SetSettings(t0, f.owner, defaultSettings())
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}
