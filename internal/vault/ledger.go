package vault

import (
	"fmt"

	"github.com/google/uuid"
)

// Vault is the position-keyed debt ledger for one collateral kind. It owns
// the DebtPool counters and all Position records; valuation, token
// mint/burn, collateral custody, and role checks are external collaborators.
//
// The execution model is strictly single-writer: every state-mutating call
// goes through ExecuteBatch, which applies actions against a staged copy of
// the ledger and commits only if every action succeeds. External effects
// (mint, burn, custody transfers) are recorded with compensating inverses
// and unwound in reverse order when a later action fails, so a batch is
// atomic across both internal state and collaborator calls.
type Vault[K comparable] struct {
	id        string
	settings  Settings
	pool      DebtPool
	positions map[K]*Position

	value   ValueProvider
	coin    Stablecoin
	custody CollateralCustody[K]
	roles   RoleRegistry
}

// NewVault builds a vault with validated settings. The accrual clock starts
// at createdAt.
func NewVault[K comparable](
	id string,
	settings Settings,
	createdAt int64,
	value ValueProvider,
	coin Stablecoin,
	custody CollateralCustody[K],
	roles RoleRegistry,
) (*Vault[K], error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Vault[K]{
		id:        id,
		settings:  settings,
		pool:      DebtPool{LastAccruedAt: createdAt},
		positions: make(map[K]*Position),
		value:     value,
		coin:      coin,
		custody:   custody,
		roles:     roles,
	}, nil
}

func (v *Vault[K]) ID() string { return v.id }

// Settings returns a copy of the current settings.
func (v *Vault[K]) Settings() Settings { return v.settings }

// Pool returns a copy of the global debt counters.
func (v *Vault[K]) Pool() DebtPool { return v.pool }

// Position returns a copy of the position for key, if one exists.
func (v *Vault[K]) Position(key K) (Position, bool) {
	pos, ok := v.positions[key]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// OpenPositionCount returns the number of open positions, including
// liquidated-but-open insured positions.
func (v *Vault[K]) OpenPositionCount() int { return len(v.positions) }

// Range calls fn for every open position until fn returns false. The
// Position values are copies; iteration order is unspecified.
func (v *Vault[K]) Range(fn func(key K, pos Position) bool) {
	for k, p := range v.positions {
		if !fn(k, *p) {
			return
		}
	}
}

// OutstandingDebt returns the position's current debt as of the last
// accrual, clamped to never sit below its recorded principal.
func (v *Vault[K]) OutstandingDebt(key K) (int64, bool) {
	pos, ok := v.positions[key]
	if !ok {
		return 0, false
	}
	return v.pool.debtOf(pos), true
}

// ProjectedDebt returns the position's debt as it would stand after an
// accrual at now, without mutating the pool. Read-only callers (liquidation
// scans, queries) use this to avoid stale readings between batches.
func (v *Vault[K]) ProjectedDebt(key K, now int64) (int64, bool) {
	pos, ok := v.positions[key]
	if !ok {
		return 0, false
	}
	projected := v.pool
	projected.Accrue(now, v.settings.DebtInterestAPR)
	return projected.debtOf(pos), true
}

// KeyPath renders a position key in the vault's canonical string form.
func (v *Vault[K]) KeyPath(key K) string { return v.custody.KeyPath(key) }

// vaultTx is the staging layer for one batch. All reads and writes during
// the batch go through it; nothing touches the vault until commit.
type vaultTx[K comparable] struct {
	v        *Vault[K]
	pool     DebtPool
	settings Settings
	touched  map[K]*Position
	deleted  map[K]bool
	undo     []func() error
	accrued  bool
}

func (v *Vault[K]) begin() *vaultTx[K] {
	return &vaultTx[K]{
		v:        v,
		pool:     v.pool,
		settings: v.settings,
		touched:  make(map[K]*Position),
		deleted:  make(map[K]bool),
	}
}

// position returns the staged, mutable record for key, cloning it out of
// the committed state on first access.
func (tx *vaultTx[K]) position(key K) (*Position, bool) {
	if tx.deleted[key] {
		return nil, false
	}
	if pos, ok := tx.touched[key]; ok {
		return pos, true
	}
	base, ok := tx.v.positions[key]
	if !ok {
		return nil, false
	}
	pos := base.clone()
	tx.touched[key] = pos
	return pos, true
}

func (tx *vaultTx[K]) put(key K, pos *Position) {
	delete(tx.deleted, key)
	tx.touched[key] = pos
}

func (tx *vaultTx[K]) remove(key K) {
	delete(tx.touched, key)
	tx.deleted[key] = true
}

// External effects. Each successful call pushes its compensating inverse;
// rollback replays the inverses in reverse order. A failing inverse means
// the collaborators are in an unrecoverable half-applied state.

func (tx *vaultTx[K]) mint(to uuid.UUID, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.v.coin.Mint(to, amount); err != nil {
		return err
	}
	tx.undo = append(tx.undo, func() error { return tx.v.coin.BurnFrom(to, amount) })
	return nil
}

func (tx *vaultTx[K]) burnFrom(from uuid.UUID, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.v.coin.BurnFrom(from, amount); err != nil {
		return err
	}
	tx.undo = append(tx.undo, func() error { return tx.v.coin.Mint(from, amount) })
	return nil
}

func (tx *vaultTx[K]) transferIn(from uuid.UUID, key K, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.v.custody.TransferIn(from, key, amount); err != nil {
		return err
	}
	tx.undo = append(tx.undo, func() error { return tx.v.custody.TransferOut(from, key, amount) })
	return nil
}

func (tx *vaultTx[K]) transferOut(to uuid.UUID, key K, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.v.custody.TransferOut(to, key, amount); err != nil {
		return err
	}
	tx.undo = append(tx.undo, func() error { return tx.v.custody.TransferIn(to, key, amount) })
	return nil
}

func (tx *vaultTx[K]) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		if err := tx.undo[i](); err != nil {
			panic(fmt.Sprintf("FATAL: batch rollback failed, collaborator state diverged: %v", err))
		}
	}
}

func (tx *vaultTx[K]) commit() {
	tx.v.pool = tx.pool
	tx.v.settings = tx.settings
	for key := range tx.deleted {
		delete(tx.v.positions, key)
	}
	for key, pos := range tx.touched {
		tx.v.positions[key] = pos
	}
}

// accrueOnce advances the staged pool to now. Called before the first
// accrual-requiring action in a batch; later calls in the same batch are
// no-ops.
func (tx *vaultTx[K]) accrueOnce(now int64) {
	if tx.accrued {
		return
	}
	tx.accrued = true
	tx.pool.Accrue(now, tx.settings.DebtInterestAPR)
}

func (tx *vaultTx[K]) creditLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	limit, err := tx.v.value.CreditLimit(owner, collateralAmount)
	if err != nil {
		return 0, fmt.Errorf("%w: credit limit: %v", ErrOracleFailure, err)
	}
	return limit, nil
}

func (tx *vaultTx[K]) liquidationLimit(owner uuid.UUID, collateralAmount int64) (int64, error) {
	limit, err := tx.v.value.LiquidationLimit(owner, collateralAmount)
	if err != nil {
		return 0, fmt.Errorf("%w: liquidation limit: %v", ErrOracleFailure, err)
	}
	return limit, nil
}

// borrow draws amount of stablecoin against the caller's collateral,
// opening the position on first use. The insurance mode chosen on the first
// borrow is fixed for the position's lifetime.
func (tx *vaultTx[K]) borrow(caller uuid.UUID, key K, amount int64, useInsurance bool) error {
	if caller == uuid.Nil {
		return fmt.Errorf("%w: zero account", ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: borrow amount must be > 0, got %d", ErrInvalidInput, amount)
	}

	mode := BorrowTypeNonInsured
	if useInsurance {
		mode = BorrowTypeInsured
	}

	pos, exists := tx.position(key)
	if exists {
		if pos.Owner != caller {
			return fmt.Errorf("%w: %s is not the owner of %s",
				ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
		}
		if pos.IsLiquidated() {
			return fmt.Errorf("%w: position %s is liquidated",
				ErrInvalidState, tx.v.custody.KeyPath(key))
		}
		if pos.BorrowType != BorrowTypeNotConfirmed && pos.BorrowType != mode {
			return fmt.Errorf("%w: position %s insurance mode is %s, requested %s",
				ErrInvalidState, tx.v.custody.KeyPath(key), pos.BorrowType, mode)
		}
	}

	if tx.pool.TotalDebtAmount+amount > tx.settings.BorrowAmountCap {
		return fmt.Errorf("%w: vault debt %d + %d exceeds cap %d",
			ErrLimitExceeded, tx.pool.TotalDebtAmount, amount, tx.settings.BorrowAmountCap)
	}

	opening := !exists
	collateral := tx.v.custody.OpenAmount()
	currentDebt := int64(0)
	if exists {
		collateral = pos.CollateralAmount
		currentDebt = tx.pool.debtOf(pos)
	}

	limit, err := tx.creditLimit(caller, collateral)
	if err != nil {
		return err
	}
	if currentDebt+amount > limit {
		return fmt.Errorf("%w: debt %d + %d exceeds credit limit %d",
			ErrLimitExceeded, currentDebt, amount, limit)
	}

	fee := tx.settings.OrganizationFeeRate.Calculate(amount)
	if useInsurance {
		fee += tx.settings.InsurancePurchaseRate.Calculate(amount)
	}

	if opening {
		if err := tx.transferIn(caller, key, collateral); err != nil {
			return fmt.Errorf("%w: collateral transfer in: %v", ErrInsufficientFunds, err)
		}
		pos = &Position{Owner: caller, CollateralAmount: collateral}
		tx.put(key, pos)
	}

	plusPortion := tx.pool.PortionFor(amount)
	tx.pool.TotalDebtAmount += amount
	tx.pool.TotalDebtPortion += plusPortion
	tx.pool.TotalFeeCollected += fee

	pos.BorrowType = mode
	pos.DebtPrincipal += amount
	pos.DebtPortion += plusPortion
	pos.Version++

	if err := tx.mint(caller, amount-fee); err != nil {
		return fmt.Errorf("%w: mint borrow proceeds: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// repay burns up to amount against the position's outstanding debt,
// clamping so over-payment is never taken. Interest is paid first; it does
// not reduce principal.
func (tx *vaultTx[K]) repay(caller uuid.UUID, key K, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: repay amount must be > 0, got %d", ErrInvalidInput, amount)
	}

	pos, ok := tx.position(key)
	if !ok {
		return fmt.Errorf("%w: no position at %s", ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.Owner != caller {
		return fmt.Errorf("%w: %s is not the owner of %s",
			ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
	}
	if pos.IsLiquidated() {
		return fmt.Errorf("%w: position %s is liquidated",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}

	debt := tx.pool.debtOf(pos)
	if debt == 0 {
		return fmt.Errorf("%w: position %s has no outstanding debt",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if amount > debt {
		amount = debt
	}

	interest := debt - pos.DebtPrincipal
	paidInterest := amount
	if paidInterest > interest {
		paidInterest = interest
	}
	paidPrincipal := amount - paidInterest

	if err := tx.burnFrom(caller, amount); err != nil {
		return fmt.Errorf("%w: burn repayment: %v", ErrInsufficientFunds, err)
	}

	// Full principal repayment removes the portion exactly so no dust
	// accumulates from repeated floor divisions.
	var minusPortion int64
	if paidPrincipal == pos.DebtPrincipal {
		minusPortion = pos.DebtPortion
	} else {
		minusPortion = tx.pool.PortionFor(amount)
	}

	tx.pool.TotalDebtAmount -= amount
	tx.pool.TotalDebtPortion -= minusPortion

	pos.DebtPrincipal -= paidPrincipal
	pos.DebtPortion -= minusPortion
	pos.Version++

	return nil
}

// closePosition deletes a debt-free position and returns its collateral.
func (tx *vaultTx[K]) closePosition(caller uuid.UUID, key K) error {
	pos, ok := tx.position(key)
	if !ok {
		return fmt.Errorf("%w: no position at %s", ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.Owner != caller {
		return fmt.Errorf("%w: %s is not the owner of %s",
			ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
	}
	if pos.IsLiquidated() {
		return fmt.Errorf("%w: position %s is liquidated",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.HasDebt() {
		return fmt.Errorf("%w: position %s still owes debt",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}

	collateral := pos.CollateralAmount
	tx.remove(key)

	if err := tx.transferOut(caller, key, collateral); err != nil {
		return fmt.Errorf("%w: collateral transfer out: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// liquidate seizes a position whose debt reached the liquidation limit. The
// caller fronts the full repayment. Insured positions stay open in a
// liquidated sub-state for the repurchase window; uninsured collateral goes
// straight to recipient.
func (tx *vaultTx[K]) liquidate(caller uuid.UUID, key K, recipient uuid.UUID, now int64) error {
	if !tx.v.roles.HasRole(RoleLiquidator, caller) {
		return fmt.Errorf("%w: %s lacks the liquidator role", ErrUnauthorized, caller)
	}
	if recipient == uuid.Nil {
		return fmt.Errorf("%w: zero recipient", ErrInvalidInput)
	}

	pos, ok := tx.position(key)
	if !ok {
		return fmt.Errorf("%w: no position at %s", ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.IsLiquidated() {
		return fmt.Errorf("%w: position %s is already liquidated",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}

	limit, err := tx.liquidationLimit(pos.Owner, pos.CollateralAmount)
	if err != nil {
		return err
	}

	debt := tx.pool.debtOf(pos)
	if debt < limit {
		return fmt.Errorf("%w: position %s debt %d below liquidation limit %d",
			ErrInvalidState, tx.v.custody.KeyPath(key), debt, limit)
	}

	if err := tx.burnFrom(caller, debt); err != nil {
		return fmt.Errorf("%w: burn liquidation repayment: %v", ErrInsufficientFunds, err)
	}

	tx.pool.TotalDebtAmount -= debt
	tx.pool.TotalDebtPortion -= pos.DebtPortion

	if pos.BorrowType == BorrowTypeInsured {
		pos.DebtAmountForRepurchase = debt
		pos.LiquidatedAt = now
		pos.Liquidator = caller
		pos.DebtPrincipal = 0
		pos.DebtPortion = 0
		pos.Version++
		return nil
	}

	collateral := pos.CollateralAmount
	tx.remove(key)

	if err := tx.transferOut(recipient, key, collateral); err != nil {
		return fmt.Errorf("%w: collateral transfer out: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// repurchase lets the owner of a liquidated insured position buy it back
// inside the repurchase window. The liquidator is made whole for the full
// frozen debt; any unpaid remainder becomes the position's new principal
// and must fit inside the owner's current credit limit.
func (tx *vaultTx[K]) repurchase(caller uuid.UUID, key K, repayAmount int64, now int64) error {
	pos, ok := tx.position(key)
	if !ok {
		return fmt.Errorf("%w: no position at %s", ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.Owner != caller {
		return fmt.Errorf("%w: %s is not the owner of %s",
			ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
	}
	if pos.BorrowType != BorrowTypeInsured || !pos.IsLiquidated() {
		return fmt.Errorf("%w: position %s is not in the insurance window",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if now >= pos.LiquidatedAt+tx.settings.InsuranceRepurchaseTimeLimit {
		return fmt.Errorf("%w: repurchase window for %s expired at %d",
			ErrInvalidState, tx.v.custody.KeyPath(key),
			pos.LiquidatedAt+tx.settings.InsuranceRepurchaseTimeLimit)
	}

	frozen := pos.DebtAmountForRepurchase
	if repayAmount <= 0 || repayAmount > frozen {
		return fmt.Errorf("%w: repay amount %d outside (0, %d]",
			ErrInvalidInput, repayAmount, frozen)
	}

	remaining := frozen - repayAmount
	if remaining > 0 {
		limit, err := tx.creditLimit(caller, pos.CollateralAmount)
		if err != nil {
			return err
		}
		// Repurchase must restore a healthy position, so the remainder is
		// held to the credit limit, not the liquidation limit.
		if remaining > limit {
			return fmt.Errorf("%w: remaining debt %d exceeds credit limit %d",
				ErrLimitExceeded, remaining, limit)
		}
	}

	penalty := tx.settings.InsuranceLiquidationPenaltyRate.Calculate(frozen)

	if err := tx.burnFrom(caller, repayAmount+penalty); err != nil {
		return fmt.Errorf("%w: burn repurchase payment: %v", ErrInsufficientFunds, err)
	}

	tx.pool.TotalFeeCollected += penalty

	if remaining > 0 {
		plusPortion := tx.pool.PortionFor(remaining)
		tx.pool.TotalDebtAmount += remaining
		tx.pool.TotalDebtPortion += plusPortion
		pos.DebtPrincipal = remaining
		pos.DebtPortion = plusPortion
	}

	liquidator := pos.Liquidator
	pos.DebtAmountForRepurchase = 0
	pos.LiquidatedAt = 0
	pos.Liquidator = uuid.Nil
	pos.Version++

	if err := tx.mint(liquidator, frozen); err != nil {
		return fmt.Errorf("%w: mint to liquidator: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// claimExpiredInsurance forfeits a liquidated insured position whose
// repurchase window has elapsed. Only the recorded liquidator may claim.
func (tx *vaultTx[K]) claimExpiredInsurance(caller uuid.UUID, key K, recipient uuid.UUID, now int64) error {
	if recipient == uuid.Nil {
		return fmt.Errorf("%w: zero recipient", ErrInvalidInput)
	}

	pos, ok := tx.position(key)
	if !ok {
		return fmt.Errorf("%w: no position at %s", ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.BorrowType != BorrowTypeInsured || !pos.IsLiquidated() {
		return fmt.Errorf("%w: position %s is not in the insurance window",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if caller != pos.Liquidator {
		return fmt.Errorf("%w: %s is not the recorded liquidator of %s",
			ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
	}
	if now < pos.LiquidatedAt+tx.settings.InsuranceRepurchaseTimeLimit {
		return fmt.Errorf("%w: repurchase window for %s still open until %d",
			ErrInvalidState, tx.v.custody.KeyPath(key),
			pos.LiquidatedAt+tx.settings.InsuranceRepurchaseTimeLimit)
	}

	collateral := pos.CollateralAmount
	tx.remove(key)

	if err := tx.transferOut(recipient, key, collateral); err != nil {
		return fmt.Errorf("%w: collateral transfer out: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// deposit pulls additional collateral into escrow, opening an unconfirmed
// position if none exists yet.
func (tx *vaultTx[K]) deposit(caller uuid.UUID, key K, amount int64) error {
	if caller == uuid.Nil {
		return fmt.Errorf("%w: zero account", ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be > 0, got %d", ErrInvalidInput, amount)
	}

	pos, ok := tx.position(key)
	if ok {
		if pos.Owner != caller {
			return fmt.Errorf("%w: %s is not the owner of %s",
				ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
		}
		if pos.IsLiquidated() {
			return fmt.Errorf("%w: position %s is liquidated",
				ErrInvalidState, tx.v.custody.KeyPath(key))
		}
	} else {
		pos = &Position{Owner: caller}
		tx.put(key, pos)
	}

	if err := tx.transferIn(caller, key, amount); err != nil {
		return fmt.Errorf("%w: collateral transfer in: %v", ErrInsufficientFunds, err)
	}

	pos.CollateralAmount += amount
	pos.Version++

	return nil
}

// withdraw releases collateral as long as the remainder still covers the
// position's outstanding debt under the credit limit.
func (tx *vaultTx[K]) withdraw(caller uuid.UUID, key K, amount int64) error {
	pos, ok := tx.position(key)
	if !ok {
		return fmt.Errorf("%w: no position at %s", ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if pos.Owner != caller {
		return fmt.Errorf("%w: %s is not the owner of %s",
			ErrUnauthorized, caller, tx.v.custody.KeyPath(key))
	}
	if pos.IsLiquidated() {
		return fmt.Errorf("%w: position %s is liquidated",
			ErrInvalidState, tx.v.custody.KeyPath(key))
	}
	if amount <= 0 || amount > pos.CollateralAmount {
		return fmt.Errorf("%w: withdraw amount %d outside (0, %d]",
			ErrInvalidInput, amount, pos.CollateralAmount)
	}

	remaining := pos.CollateralAmount - amount
	if pos.HasDebt() {
		limit, err := tx.creditLimit(caller, remaining)
		if err != nil {
			return err
		}
		if debt := tx.pool.debtOf(pos); debt > limit {
			return fmt.Errorf("%w: debt %d exceeds credit limit %d after withdrawal",
				ErrLimitExceeded, debt, limit)
		}
	}

	pos.CollateralAmount = remaining
	pos.Version++
	if remaining == 0 && !pos.HasDebt() {
		tx.remove(key)
	}

	if err := tx.transferOut(caller, key, amount); err != nil {
		return fmt.Errorf("%w: collateral transfer out: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// collectFees mints the accumulated protocol fees to treasury and resets
// the counter. DAO only.
func (tx *vaultTx[K]) collectFees(caller uuid.UUID, treasury uuid.UUID) error {
	if !tx.v.roles.HasRole(RoleDAO, caller) {
		return fmt.Errorf("%w: %s lacks the dao role", ErrUnauthorized, caller)
	}
	if treasury == uuid.Nil {
		return fmt.Errorf("%w: zero treasury account", ErrInvalidInput)
	}

	fees := tx.pool.TotalFeeCollected
	if fees == 0 {
		return nil
	}

	tx.pool.TotalFeeCollected = 0

	if err := tx.mint(treasury, fees); err != nil {
		return fmt.Errorf("%w: mint fees: %v", ErrInsufficientFunds, err)
	}

	return nil
}

// setSettings replaces the vault settings after validation. Setter only.
// The batch accrues at the old APR before the new rates take effect.
func (tx *vaultTx[K]) setSettings(caller uuid.UUID, settings Settings) error {
	if !tx.v.roles.HasRole(RoleSetter, caller) {
		return fmt.Errorf("%w: %s lacks the setter role", ErrUnauthorized, caller)
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	tx.settings = settings
	return nil
}
