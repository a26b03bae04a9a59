package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/oracle"

	"github.com/google/uuid"
)

// SnapshotManager creates and loads state snapshots for recovery. On warm
// restart the latest verified snapshot is restored and events are replayed
// from snapshot.sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable form of core.SnapshotState. Balances
// are flattened to rows because AccountKey is a struct and cannot be a
// JSON map key.
type SnapshotData struct {
	Sequence        int64                        `json:"sequence"`
	StateHash       []byte                       `json:"state_hash"`
	Balances        []BalanceRow                 `json:"balances"`
	Vaults          []*core.VaultSnapshot        `json:"vaults"`
	Prices          map[string]oracle.PricePoint `json:"prices"`
	SequenceState   map[string]int64             `json:"sequence_state"`
	IdempotencyKeys []string                     `json:"idempotency_keys"`
	CreatedAt       time.Time                    `json:"created_at"`
}

// BalanceRow pairs an account key with its balance.
type BalanceRow struct {
	Account ledger.AccountKey `json:"account"`
	Balance int64             `json:"balance"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotFromCore converts the core's in-memory snapshot into the
// persisted form. Balance rows are sorted so snapshots of identical state
// serialize identically.
func SnapshotFromCore(state *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make([]BalanceRow, 0, len(state.Balances))
	for key, balance := range state.Balances {
		balances = append(balances, BalanceRow{Account: key, Balance: balance})
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Account.AccountPath() < balances[j].Account.AccountPath()
	})

	return &SnapshotData{
		Sequence:        state.Sequence,
		StateHash:       append([]byte(nil), state.StateHash[:]...),
		Balances:        balances,
		Vaults:          state.Vaults,
		Prices:          state.Prices,
		SequenceState:   state.SequenceState,
		IdempotencyKeys: state.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// ToCoreState converts a loaded snapshot back to the core's form.
func (sd *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash is %d bytes, want 32", len(sd.StateHash))
	}

	state := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(sd.Balances)),
		Vaults:          sd.Vaults,
		Prices:          sd.Prices,
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	copy(state.StateHash[:], sd.StateHash)
	for _, row := range sd.Balances {
		state.Balances[row.Account] = row.Balance
	}
	return state, nil
}

// SaveSnapshot persists a snapshot. Snapshots are written unverified and
// marked verified once a replay check confirms the state hash.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// the log has none (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads persisted events starting at fromSequence, for
// replay on restart.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, vault_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.VaultID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or 0
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// UnmarshalEventPayload decodes a persisted payload back into the typed
// event the core originally processed. Used by replay.
func UnmarshalEventPayload(eventType string, payload []byte) (event.Event, error) {
	var evt event.Event
	switch eventType {
	case "ActionBatch":
		evt = &event.ActionBatch{}
	case "FloorPriceUpdate":
		evt = &event.FloorPriceUpdate{}
	case "SettingsUpdate":
		evt = &event.SettingsUpdate{}
	case "CollateralRegistered":
		evt = &event.CollateralRegistered{}
	case "CollateralCredited":
		evt = &event.CollateralCredited{}
	case "LiquidationSweep":
		evt = &event.LiquidationSweep{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
	}
	return evt, nil
}
