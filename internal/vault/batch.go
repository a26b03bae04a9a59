package vault

import (
	"github.com/google/uuid"
)

// Action is the closed set of batch actions. Each variant carries its
// strongly typed arguments, decoded once at the batch boundary; there is no
// unknown-action case at execution time. The unexported methods keep the
// set closed to this package.
type Action[K comparable] interface {
	// accrues reports whether the action requires interest accrual before
	// it runs. Repurchase and claim only reassign existing shares, so they
	// are exempt.
	accrues() bool

	apply(tx *vaultTx[K], now int64) error
}

// BorrowAction draws stablecoin against collateral, opening the position on
// first use.
type BorrowAction[K comparable] struct {
	Account      uuid.UUID
	Key          K
	Amount       int64
	UseInsurance bool
}

func (BorrowAction[K]) accrues() bool { return true }
func (a BorrowAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.borrow(a.Account, a.Key, a.Amount, a.UseInsurance)
}

// RepayAction pays down outstanding debt, clamped to what is owed.
type RepayAction[K comparable] struct {
	Account uuid.UUID
	Key     K
	Amount  int64
}

func (RepayAction[K]) accrues() bool { return true }
func (a RepayAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.repay(a.Account, a.Key, a.Amount)
}

// CloseAction deletes a debt-free position and returns its collateral.
type CloseAction[K comparable] struct {
	Account uuid.UUID
	Key     K
}

func (CloseAction[K]) accrues() bool { return true }
func (a CloseAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.closePosition(a.Account, a.Key)
}

// LiquidateAction seizes a position at or past the liquidation limit.
type LiquidateAction[K comparable] struct {
	Caller    uuid.UUID
	Key       K
	Recipient uuid.UUID
}

func (LiquidateAction[K]) accrues() bool { return true }
func (a LiquidateAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.liquidate(a.Caller, a.Key, a.Recipient, now)
}

// RepurchaseAction buys a liquidated insured position back inside the
// repurchase window.
type RepurchaseAction[K comparable] struct {
	Account uuid.UUID
	Key     K
	Amount  int64
}

func (RepurchaseAction[K]) accrues() bool { return false }
func (a RepurchaseAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.repurchase(a.Account, a.Key, a.Amount, now)
}

// ClaimAction forfeits a liquidated insured position after the window.
type ClaimAction[K comparable] struct {
	Caller    uuid.UUID
	Key       K
	Recipient uuid.UUID
}

func (ClaimAction[K]) accrues() bool { return false }
func (a ClaimAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.claimExpiredInsurance(a.Caller, a.Key, a.Recipient, now)
}

// DepositAction pulls additional collateral into escrow.
type DepositAction[K comparable] struct {
	Account uuid.UUID
	Key     K
	Amount  int64
}

func (DepositAction[K]) accrues() bool { return true }
func (a DepositAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.deposit(a.Account, a.Key, a.Amount)
}

// WithdrawAction releases collateral not needed to cover debt.
type WithdrawAction[K comparable] struct {
	Account uuid.UUID
	Key     K
	Amount  int64
}

func (WithdrawAction[K]) accrues() bool { return true }
func (a WithdrawAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.withdraw(a.Account, a.Key, a.Amount)
}

// CollectFeesAction mints accumulated protocol fees to a treasury account.
type CollectFeesAction[K comparable] struct {
	Caller   uuid.UUID
	Treasury uuid.UUID
}

func (CollectFeesAction[K]) accrues() bool { return true }
func (a CollectFeesAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.collectFees(a.Caller, a.Treasury)
}

// SetSettingsAction replaces the vault settings after validation.
type SetSettingsAction[K comparable] struct {
	Caller   uuid.UUID
	Settings Settings
}

func (SetSettingsAction[K]) accrues() bool { return true }
func (a SetSettingsAction[K]) apply(tx *vaultTx[K], now int64) error {
	return tx.setSettings(a.Caller, a.Settings)
}

// ExecuteBatch applies actions strictly in order, accruing interest exactly
// once before the first accrual-requiring action. Each action sees the
// state left by the previous one. Any failure discards the whole batch:
// staged ledger state is dropped and already-applied external effects are
// compensated in reverse.
func (v *Vault[K]) ExecuteBatch(now int64, actions []Action[K]) error {
	tx := v.begin()

	for _, action := range actions {
		if action.accrues() {
			tx.accrueOnce(now)
		}
		if err := action.apply(tx, now); err != nil {
			tx.rollback()
			return err
		}
	}

	tx.commit()
	return nil
}

// Single-action entry points.

func (v *Vault[K]) Borrow(now int64, account uuid.UUID, key K, amount int64, useInsurance bool) error {
	return v.ExecuteBatch(now, []Action[K]{BorrowAction[K]{account, key, amount, useInsurance}})
}

func (v *Vault[K]) Repay(now int64, account uuid.UUID, key K, amount int64) error {
	return v.ExecuteBatch(now, []Action[K]{RepayAction[K]{account, key, amount}})
}

func (v *Vault[K]) ClosePosition(now int64, account uuid.UUID, key K) error {
	return v.ExecuteBatch(now, []Action[K]{CloseAction[K]{account, key}})
}

func (v *Vault[K]) Liquidate(now int64, caller uuid.UUID, key K, recipient uuid.UUID) error {
	return v.ExecuteBatch(now, []Action[K]{LiquidateAction[K]{caller, key, recipient}})
}

func (v *Vault[K]) Repurchase(now int64, account uuid.UUID, key K, amount int64) error {
	return v.ExecuteBatch(now, []Action[K]{RepurchaseAction[K]{account, key, amount}})
}

func (v *Vault[K]) ClaimExpiredInsurance(now int64, caller uuid.UUID, key K, recipient uuid.UUID) error {
	return v.ExecuteBatch(now, []Action[K]{ClaimAction[K]{caller, key, recipient}})
}

func (v *Vault[K]) Deposit(now int64, account uuid.UUID, key K, amount int64) error {
	return v.ExecuteBatch(now, []Action[K]{DepositAction[K]{account, key, amount}})
}

func (v *Vault[K]) Withdraw(now int64, account uuid.UUID, key K, amount int64) error {
	return v.ExecuteBatch(now, []Action[K]{WithdrawAction[K]{account, key, amount}})
}

func (v *Vault[K]) CollectFees(now int64, caller uuid.UUID, treasury uuid.UUID) error {
	return v.ExecuteBatch(now, []Action[K]{CollectFeesAction[K]{Caller: caller, Treasury: treasury}})
}

func (v *Vault[K]) SetSettings(now int64, caller uuid.UUID, settings Settings) error {
	return v.ExecuteBatch(now, []Action[K]{SetSettingsAction[K]{Caller: caller, Settings: settings}})
}
