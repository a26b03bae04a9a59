package event

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind tags one requested ledger action inside a batch.
type ActionKind int32

const (
	ActionUnknown ActionKind = iota
	ActionBorrow
	ActionRepay
	ActionClose
	ActionLiquidate
	ActionRepurchase
	ActionClaim
	ActionDeposit
	ActionWithdraw
	ActionCollectFees
)

func (k ActionKind) String() string {
	switch k {
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionClose:
		return "close"
	case ActionLiquidate:
		return "liquidate"
	case ActionRepurchase:
		return "repurchase"
	case ActionClaim:
		return "claim"
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionCollectFees:
		return "collect_fees"
	default:
		return "unknown"
	}
}

// ParseActionKind maps a wire string to its kind; ActionUnknown for
// anything unrecognized.
func ParseActionKind(s string) ActionKind {
	switch s {
	case "borrow":
		return ActionBorrow
	case "repay":
		return ActionRepay
	case "close":
		return ActionClose
	case "liquidate":
		return ActionLiquidate
	case "repurchase":
		return ActionRepurchase
	case "claim":
		return ActionClaim
	case "deposit":
		return ActionDeposit
	case "withdraw":
		return ActionWithdraw
	case "collect_fees":
		return ActionCollectFees
	default:
		return ActionUnknown
	}
}

// ActionSpec is one requested action. Fields not used by a kind are zero.
type ActionSpec struct {
	Kind         ActionKind
	Account      uuid.UUID // acting account
	Owner        uuid.UUID // position owner when it differs from Account (liquidate, claim)
	TokenID      uint64    // collateral key
	Amount       int64     // Fixed-point: stablecoin scale (decimal_precision=6)
	UseInsurance bool      // borrow only
	Recipient    uuid.UUID // liquidate, claim, collect_fees (treasury)
}

// PositionOwner resolves the owner of the position the action targets:
// Owner when set, otherwise the acting account.
func (a ActionSpec) PositionOwner() uuid.UUID {
	if a.Owner != uuid.Nil {
		return a.Owner
	}
	return a.Account
}

// ActionBatch is an ordered list of actions applied atomically against one
// vault. Idempotency key: batch_id (UUID from the submitting gateway).
type ActionBatch struct {
	BatchID       uuid.UUID // Idempotency key
	Vault         string
	Actions       []ActionSpec
	BatchSequence int64     // Source sequence from the gateway
	Timestamp     time.Time // Versioned input timestamp (NOT wall-clock)
}

func (a *ActionBatch) IdempotencyKey() string {
	return a.BatchID.String()
}

func (a *ActionBatch) EventType() EventType {
	return EventTypeActionBatch
}

func (a *ActionBatch) VaultID() *string {
	v := a.Vault
	return &v
}

func (a *ActionBatch) SourceSequence() int64 {
	return a.BatchSequence
}
