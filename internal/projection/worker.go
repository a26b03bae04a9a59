package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProjectionWorker updates read-side tables from processed events. The
// projection channel is non-blocking with drop at the core, so the worker
// may miss events under load; projections are eventually consistent and
// can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	history   *LoanHistoryProjection
	lastSeq   int64
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   NewLoanHistoryProjection(),
		log:       log,
	}
}

// History exposes the in-memory action history for the query service.
func (pw *ProjectionWorker) History() *LoanHistoryProjection {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.log.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
				// Continue. Projections are rebuilt from the event
				// log, a missed update is not a loss.
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	pw.recordHistory(output)

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := pw.updateBalanceProjection(ctx, tx, j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount, output.Envelope.Sequence); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	for _, p := range output.Positions {
		if err := pw.updatePositionProjection(ctx, tx, p, output.Envelope.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if output.Stats != nil {
		if err := pw.updatePoolProjection(ctx, tx, *output.Stats, output.Envelope.Sequence); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// recordHistory appends per-action history entries for action batches.
// The envelope payload carries the source event.
func (pw *ProjectionWorker) recordHistory(output core.CoreOutput) {
	if output.Envelope.EventType != event.EventTypeActionBatch {
		return
	}

	var batch event.ActionBatch
	if err := json.Unmarshal(output.Envelope.Payload, &batch); err != nil {
		pw.log.Warn().Err(err).Msg("decode action batch payload")
		return
	}

	for _, spec := range batch.Actions {
		pw.history.AddEntry(LoanHistoryEntry{
			Account:   spec.Account,
			Owner:     spec.PositionOwner(),
			VaultID:   batch.Vault,
			Kind:      spec.Kind.String(),
			TokenID:   spec.TokenID,
			Amount:    spec.Amount,
			Sequence:  output.Envelope.Sequence,
			Timestamp: output.Envelope.Timestamp.Unix(),
		})
	}
}

// updateBalanceProjection mirrors BalanceTracker semantics: the debit
// account gains, the credit account loses.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, debit, credit string, assetID uint16, amount, sequence int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, debit, assetID, amount, sequence); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, credit, assetID, amount, sequence); err != nil {
		return err
	}

	return nil
}

// updatePositionProjection upserts or deletes one position row. A nil
// owner on a removal means the collateral token alone identifies the row
// (sweeps in token-keyed vaults).
func (pw *ProjectionWorker) updatePositionProjection(ctx context.Context, tx *sql.Tx, p core.PositionUpdate, sequence int64) error {
	if !p.Exists {
		if p.Owner == uuid.Nil {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM projections.vault_positions
				WHERE vault_id = $1 AND token_id = $2
			`, p.VaultID, p.TokenID)
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.vault_positions
			WHERE vault_id = $1 AND owner = $2 AND token_id = $3
		`, p.VaultID, p.Owner, p.TokenID)
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_positions
			(vault_id, owner, token_id, collateral_amount, borrow_type,
			 debt_principal, debt_portion, repurchase_debt, liquidated_at,
			 liquidator, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (vault_id, owner, token_id) DO UPDATE SET
			collateral_amount = $4, borrow_type = $5, debt_principal = $6,
			debt_portion = $7, repurchase_debt = $8, liquidated_at = $9,
			liquidator = $10, version = $11, last_sequence = $12
	`, p.VaultID, p.Owner, p.TokenID, p.Position.CollateralAmount,
		int32(p.Position.BorrowType), p.Position.DebtPrincipal,
		p.Position.DebtPortion, p.Position.DebtAmountForRepurchase,
		p.Position.LiquidatedAt, p.Position.Liquidator,
		p.Position.Version, sequence)
	return err
}

// updatePoolProjection upserts the vault's aggregate row.
func (pw *ProjectionWorker) updatePoolProjection(ctx context.Context, tx *sql.Tx, stats core.VaultStatsUpdate, sequence int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_pools
			(vault_id, total_debt, total_portion, fee_collected,
			 last_accrued_at, open_positions, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (vault_id) DO UPDATE SET
			total_debt = $2, total_portion = $3, fee_collected = $4,
			last_accrued_at = $5, open_positions = $6, last_sequence = $7
	`, stats.VaultID, stats.Pool.TotalDebtAmount, stats.Pool.TotalDebtPortion,
		stats.Pool.TotalFeeCollected, stats.Pool.LastAccruedAt,
		stats.OpenPositions, sequence)
	return err
}

// RebuildProjections rebuilds the balance projection from the event log.
// Position and pool tables need vault logic and are repopulated by a full
// replay through the core; here they are only cleared.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.vault_positions`,
		`TRUNCATE projections.vault_pools`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit side gains.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credit side loses.
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	return nil
}
