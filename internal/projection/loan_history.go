package projection

import (
	"sync"

	"github.com/google/uuid"
)

// LoanHistoryEntry is one applied vault action.
type LoanHistoryEntry struct {
	Account   uuid.UUID
	Owner     uuid.UUID
	VaultID   string
	Kind      string
	TokenID   uint64
	Amount    int64
	Sequence  int64
	Timestamp int64
}

// LoanHistoryProjection keeps a queryable in-memory history of vault
// actions. Written by the projection worker, read by the query service,
// hence the lock.
type LoanHistoryProjection struct {
	mu      sync.RWMutex
	entries []LoanHistoryEntry
}

func NewLoanHistoryProjection() *LoanHistoryProjection {
	return &LoanHistoryProjection{
		entries: make([]LoanHistoryEntry, 0),
	}
}

// AddEntry records an applied action.
func (p *LoanHistoryProjection) AddEntry(entry LoanHistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

// QueryByAccount returns the most recent actions taken by an account,
// newest first.
func (p *LoanHistoryProjection) QueryByAccount(account uuid.UUID, limit int) []LoanHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]LoanHistoryEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Account == account {
			result = append(result, p.entries[i])
		}
	}
	return result
}

// QueryByVault returns the most recent actions in a vault, newest first.
func (p *LoanHistoryProjection) QueryByVault(vaultID string, limit int) []LoanHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]LoanHistoryEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].VaultID == vaultID {
			result = append(result, p.entries[i])
		}
	}
	return result
}
