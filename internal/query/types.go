package query

import "github.com/google/uuid"

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	VaultID          string    `json:"vault_id"`
	Owner            uuid.UUID `json:"owner"`
	TokenID          uint64    `json:"token_id"`
	CollateralAmount int64     `json:"collateral_amount"`
	BorrowType       int32     `json:"borrow_type"`
	DebtPrincipal    int64     `json:"debt_principal"`
	DebtPortion      int64     `json:"debt_portion"`
	OutstandingDebt  int64     `json:"outstanding_debt"` // Derived at query time
	RepurchaseDebt   int64     `json:"repurchase_debt"`
	LiquidatedAt     int64     `json:"liquidated_at"`
	Liquidator       uuid.UUID `json:"liquidator"`
	Version          int64     `json:"version"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// VaultStatsResponse represents a vault's pool aggregate for API queries.
type VaultStatsResponse struct {
	VaultID       string `json:"vault_id"`
	TotalDebt     int64  `json:"total_debt"`
	TotalPortion  int64  `json:"total_portion"`
	FeeCollected  int64  `json:"fee_collected"`
	LastAccruedAt int64  `json:"last_accrued_at"`
	OpenPositions int64  `json:"open_positions"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// BalanceResponse represents an account's stablecoin balance.
type BalanceResponse struct {
	Account      uuid.UUID `json:"account"`
	Asset        string    `json:"asset"`
	CashBalance  int64     `json:"cash_balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// ActionHistoryResponse represents one applied vault action.
type ActionHistoryResponse struct {
	Account      uuid.UUID `json:"account"`
	Owner        uuid.UUID `json:"owner"`
	VaultID      string    `json:"vault_id"`
	Kind         string    `json:"kind"`
	TokenID      uint64    `json:"token_id"`
	Amount       int64     `json:"amount"`
	Sequence     int64     `json:"sequence"`
	Timestamp    int64     `json:"timestamp"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// StateInfoResponse reports the head of the event log.
type StateInfoResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"` // hex
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
