package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/projection"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables and the
// event log. Queries are served via gRPC and HTTP/JSON; every response
// carries as_of_sequence for freshness semantics.
type QueryService struct {
	db      *sql.DB
	history *projection.LoanHistoryProjection
}

func NewQueryService(db *sql.DB, history *projection.LoanHistoryProjection) *QueryService {
	return &QueryService{db: db, history: history}
}

// GetBalance returns an account's stablecoin cash balance.
func (qs *QueryService) GetBalance(ctx context.Context, account uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	cashPath := fmt.Sprintf("user:%s:cash:VUSD", account)
	cash, err := qs.getProjectedBalance(ctx, cashPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Account:      account,
		Asset:        "VUSD",
		CashBalance:  cash,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPositions returns all open positions owned by an account, across
// vaults. Outstanding debt is derived from the owning vault's pool:
// portion * total_debt / total_portion.
func (qs *QueryService) GetPositions(ctx context.Context, owner uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.vault_id, p.token_id, p.collateral_amount, p.borrow_type,
		       p.debt_principal, p.debt_portion, p.repurchase_debt,
		       p.liquidated_at, p.liquidator, p.version,
		       COALESCE(pl.total_debt, 0), COALESCE(pl.total_portion, 0)
		FROM projections.vault_positions p
		LEFT JOIN projections.vault_pools pl ON pl.vault_id = p.vault_id
		WHERE p.owner = $1
		ORDER BY p.vault_id, p.token_id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows, owner, asOfSeq)
}

// GetVaultPositions returns open positions in one vault, largest debt
// portion first.
func (qs *QueryService) GetVaultPositions(ctx context.Context, vaultID string, limit int) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.vault_id, p.owner, p.token_id, p.collateral_amount, p.borrow_type,
		       p.debt_principal, p.debt_portion, p.repurchase_debt,
		       p.liquidated_at, p.liquidator, p.version,
		       COALESCE(pl.total_debt, 0), COALESCE(pl.total_portion, 0)
		FROM projections.vault_positions p
		LEFT JOIN projections.vault_pools pl ON pl.vault_id = p.vault_id
		WHERE p.vault_id = $1
		ORDER BY p.debt_portion DESC
		LIMIT $2
	`, vaultID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var totalDebt, totalPortion int64
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.VaultID, &p.Owner, &p.TokenID, &p.CollateralAmount, &p.BorrowType,
			&p.DebtPrincipal, &p.DebtPortion, &p.RepurchaseDebt,
			&p.LiquidatedAt, &p.Liquidator, &p.Version,
			&totalDebt, &totalPortion,
		); err != nil {
			return nil, err
		}
		p.OutstandingDebt = deriveDebt(p.DebtPortion, totalDebt, totalPortion)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetVaultStats returns a vault's pool aggregate.
func (qs *QueryService) GetVaultStats(ctx context.Context, vaultID string) (*VaultStatsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	stats := &VaultStatsResponse{VaultID: vaultID, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_debt, total_portion, fee_collected, last_accrued_at, open_positions
		FROM projections.vault_pools
		WHERE vault_id = $1
	`, vaultID).Scan(
		&stats.TotalDebt, &stats.TotalPortion, &stats.FeeCollected,
		&stats.LastAccruedAt, &stats.OpenPositions,
	)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetActionHistory returns the most recent actions taken by an account,
// newest first. Served from the in-memory projection.
func (qs *QueryService) GetActionHistory(ctx context.Context, account uuid.UUID, limit int) ([]ActionHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	entries := qs.history.QueryByAccount(account, limit)
	history := make([]ActionHistoryResponse, 0, len(entries))
	for _, e := range entries {
		history = append(history, ActionHistoryResponse{
			Account:      e.Account,
			Owner:        e.Owner,
			VaultID:      e.VaultID,
			Kind:         e.Kind,
			TokenID:      e.TokenID,
			Amount:       e.Amount,
			Sequence:     e.Sequence,
			Timestamp:    e.Timestamp,
			AsOfSequence: asOfSeq,
		})
	}
	return history, nil
}

// GetJournalHistory returns journal entries touching an account, with
// cursor pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", account)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStateInfo returns the head of the persisted event log.
func (qs *QueryService) GetStateInfo(ctx context.Context) (*StateInfoResponse, error) {
	var seq int64
	var stateHash []byte
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.events
		ORDER BY sequence DESC LIMIT 1
	`).Scan(&seq, &stateHash)
	if err == sql.ErrNoRows {
		return &StateInfoResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &StateInfoResponse{
		Sequence:  seq,
		StateHash: hex.EncodeToString(stateHash),
	}, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global balance
// invariant across the persisted log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Each journal moves value between two accounts, so per-asset sums
	// must cancel to zero.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func scanPositions(rows *sql.Rows, owner uuid.UUID, asOfSeq int64) ([]PositionResponse, error) {
	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var totalDebt, totalPortion int64
		p.Owner = owner
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.VaultID, &p.TokenID, &p.CollateralAmount, &p.BorrowType,
			&p.DebtPrincipal, &p.DebtPortion, &p.RepurchaseDebt,
			&p.LiquidatedAt, &p.Liquidator, &p.Version,
			&totalDebt, &totalPortion,
		); err != nil {
			return nil, err
		}
		p.OutstandingDebt = deriveDebt(p.DebtPortion, totalDebt, totalPortion)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// deriveDebt computes a position's debt share: portion * totalDebt /
// totalPortion, floor division through the 128-bit intermediate.
func deriveDebt(portion, totalDebt, totalPortion int64) int64 {
	if totalPortion == 0 || portion == 0 {
		return 0
	}
	return fpmath.MulDiv(portion, totalDebt, totalPortion)
}
