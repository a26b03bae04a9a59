package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// StablecoinLedger is the double-entry implementation of the vault's
// mint/burn primitive. Every mint debits the holder's cash account against
// the system issuance account; burns reverse the flow. The ledger stays
// zero-sum at all times, so the issuance balance is always the negation of
// the outstanding supply.
//
// The engine stamps each journal with the source event's idempotency key
// and sequence via SetContext, then drains the produced batches with
// TakeBatches for persistence.
type StablecoinLedger struct {
	tracker *BalanceTracker
	pending []Batch

	eventRef  string
	sequence  int64
	timestamp int64
}

func NewStablecoinLedger() *StablecoinLedger {
	return &StablecoinLedger{
		tracker: NewBalanceTracker(),
	}
}

// SetContext stamps subsequent journals with the source event's identity.
func (l *StablecoinLedger) SetContext(eventRef string, sequence, timestamp int64) {
	l.eventRef = eventRef
	l.sequence = sequence
	l.timestamp = timestamp
}

// Mint credits amount of stablecoin to the holder's cash account.
func (l *StablecoinLedger) Mint(to uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("mint amount must be non-negative, got %d", amount)
	}
	if amount == 0 {
		return nil
	}

	l.record(JournalTypeMint,
		NewUserAccountKey(to, SubTypeCash, AssetVUSD),
		IssuanceAccountKey(),
		amount)
	return nil
}

// BurnFrom debits amount of stablecoin from the holder's cash account,
// failing without effect when the balance is insufficient.
func (l *StablecoinLedger) BurnFrom(from uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("burn amount must be non-negative, got %d", amount)
	}
	if amount == 0 {
		return nil
	}

	if err := l.tracker.ValidateSufficientCash(from, amount); err != nil {
		return err
	}

	l.record(JournalTypeBurn,
		IssuanceAccountKey(),
		NewUserAccountKey(from, SubTypeCash, AssetVUSD),
		amount)
	return nil
}

// Transfer moves stablecoin between two holders without changing supply.
func (l *StablecoinLedger) Transfer(from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("transfer from an account to itself")
	}

	if err := l.tracker.ValidateSufficientCash(from, amount); err != nil {
		return err
	}

	l.record(JournalTypeTransfer,
		NewUserAccountKey(to, SubTypeCash, AssetVUSD),
		NewUserAccountKey(from, SubTypeCash, AssetVUSD),
		amount)
	return nil
}

func (l *StablecoinLedger) record(jt JournalType, debit, credit AccountKey, amount int64) {
	batchID := uuid.New()
	batch := Batch{
		BatchID:   batchID,
		EventRef:  l.eventRef,
		Sequence:  l.sequence,
		Timestamp: l.timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      l.eventRef,
			Sequence:      l.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       AssetVUSD,
			Amount:        amount,
			JournalType:   jt,
			Timestamp:     l.timestamp,
		}},
	}

	for i := range batch.Journals {
		l.tracker.ApplyJournal(batch.Journals[i])
	}
	l.pending = append(l.pending, batch)
}

// BalanceOf returns a holder's current stablecoin balance.
func (l *StablecoinLedger) BalanceOf(holder uuid.UUID) int64 {
	return l.tracker.GetUserCash(holder)
}

// TotalSupply returns the outstanding stablecoin supply.
func (l *StablecoinLedger) TotalSupply() int64 {
	return l.tracker.TotalSupply()
}

// Tracker exposes the balance map for state hashing and invariant checks.
func (l *StablecoinLedger) Tracker() *BalanceTracker {
	return l.tracker
}

// TakeBatches drains the journals produced since the last call.
func (l *StablecoinLedger) TakeBatches() []Batch {
	batches := l.pending
	l.pending = nil
	return batches
}
