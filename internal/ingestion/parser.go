package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates and converts raw events
// before handing them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "ActionBatch":
		return parseActionBatch(raw.Data)
	case "FloorPriceUpdate":
		return parseFloorPriceUpdate(raw.Data)
	case "SettingsUpdate":
		return parseSettingsUpdate(raw.Data)
	case "CollateralRegistered":
		return parseCollateralRegistered(raw.Data)
	case "CollateralCredited":
		return parseCollateralCredited(raw.Data)
	case "LiquidationSweep":
		return parseLiquidationSweep(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type actionSpecJSON struct {
	Kind         string `json:"kind"`
	Account      string `json:"account"`
	Owner        string `json:"owner,omitempty"`
	TokenID      uint64 `json:"token_id"`
	Amount       int64  `json:"amount"`
	UseInsurance bool   `json:"use_insurance,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
}

type actionBatchJSON struct {
	BatchID       string           `json:"batch_id"`
	Vault         string           `json:"vault"`
	Actions       []actionSpecJSON `json:"actions"`
	BatchSequence int64            `json:"batch_sequence"`
	TimestampUs   int64            `json:"timestamp_us"`
}

func parseActionKind(s string) (event.ActionKind, error) {
	kind := event.ParseActionKind(s)
	if kind == event.ActionUnknown {
		return event.ActionUnknown, fmt.Errorf("unknown action kind: %q", s)
	}
	return kind, nil
}

// parseOptionalUUID treats an absent field as uuid.Nil rather than an error.
func parseOptionalUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func parseActionBatch(data []byte) (*event.ActionBatch, error) {
	var j actionBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ActionBatch: %w", err)
	}

	batchID, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch_id: %w", err)
	}
	if j.Vault == "" {
		return nil, fmt.Errorf("ActionBatch missing vault")
	}
	if len(j.Actions) == 0 {
		return nil, fmt.Errorf("ActionBatch %s has no actions", batchID)
	}

	actions := make([]event.ActionSpec, 0, len(j.Actions))
	for i, a := range j.Actions {
		kind, err := parseActionKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		account, err := uuid.Parse(a.Account)
		if err != nil {
			return nil, fmt.Errorf("action %d: parse account: %w", i, err)
		}
		owner, err := parseOptionalUUID(a.Owner, "owner")
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		recipient, err := parseOptionalUUID(a.Recipient, "recipient")
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, event.ActionSpec{
			Kind:         kind,
			Account:      account,
			Owner:        owner,
			TokenID:      a.TokenID,
			Amount:       a.Amount,
			UseInsurance: a.UseInsurance,
			Recipient:    recipient,
		})
	}

	return &event.ActionBatch{
		BatchID:       batchID,
		Vault:         j.Vault,
		Actions:       actions,
		BatchSequence: j.BatchSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type floorPriceJSON struct {
	Symbol         string `json:"symbol"`
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"`
}

func parseFloorPriceUpdate(data []byte) (*event.FloorPriceUpdate, error) {
	var j floorPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FloorPriceUpdate: %w", err)
	}
	if j.Symbol == "" {
		return nil, fmt.Errorf("FloorPriceUpdate missing symbol")
	}

	// Prices arrive as decimal strings ("1234.56") and are converted to
	// fixed-point at the boundary.
	price, err := oracle.ParsePrice(j.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}

	return &event.FloorPriceUpdate{
		Symbol:         j.Symbol,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}

type rateJSON struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

func (r rateJSON) toRate() fpmath.Rate {
	return fpmath.NewRate(r.Numerator, r.Denominator)
}

type settingsUpdateJSON struct {
	Vault  string `json:"vault"`
	Caller string `json:"caller"`

	DebtInterestAPR                 rateJSON `json:"debt_interest_apr"`
	OrganizationFeeRate             rateJSON `json:"organization_fee_rate"`
	InsurancePurchaseRate           rateJSON `json:"insurance_purchase_rate"`
	InsuranceLiquidationPenaltyRate rateJSON `json:"insurance_liquidation_penalty_rate"`
	InsuranceRepurchaseTimeLimit    int64    `json:"insurance_repurchase_time_limit"`
	BorrowAmountCap                 int64    `json:"borrow_amount_cap"`

	UpdateSequence int64 `json:"update_sequence"`
	TimestampUs    int64 `json:"timestamp_us"`
}

func parseSettingsUpdate(data []byte) (*event.SettingsUpdate, error) {
	var j settingsUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettingsUpdate: %w", err)
	}
	if j.Vault == "" {
		return nil, fmt.Errorf("SettingsUpdate missing vault")
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}

	return &event.SettingsUpdate{
		Vault:                           j.Vault,
		Caller:                          caller,
		DebtInterestAPR:                 j.DebtInterestAPR.toRate(),
		OrganizationFeeRate:             j.OrganizationFeeRate.toRate(),
		InsurancePurchaseRate:           j.InsurancePurchaseRate.toRate(),
		InsuranceLiquidationPenaltyRate: j.InsuranceLiquidationPenaltyRate.toRate(),
		InsuranceRepurchaseTimeLimit:    j.InsuranceRepurchaseTimeLimit,
		BorrowAmountCap:                 j.BorrowAmountCap,
		UpdateSequence:                  j.UpdateSequence,
		Timestamp:                       time.UnixMicro(j.TimestampUs),
	}, nil
}

type collateralRegisteredJSON struct {
	Vault         string `json:"vault"`
	Owner         string `json:"owner"`
	TokenID       uint64 `json:"token_id"`
	IndexSequence int64  `json:"index_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseCollateralRegistered(data []byte) (*event.CollateralRegistered, error) {
	var j collateralRegisteredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralRegistered: %w", err)
	}
	if j.Vault == "" {
		return nil, fmt.Errorf("CollateralRegistered missing vault")
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}

	return &event.CollateralRegistered{
		Vault:         j.Vault,
		Owner:         owner,
		TokenID:       j.TokenID,
		IndexSequence: j.IndexSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type collateralCreditedJSON struct {
	Vault         string `json:"vault"`
	Owner         string `json:"owner"`
	TokenID       uint64 `json:"token_id,omitempty"`
	Amount        int64  `json:"amount"`
	IndexSequence int64  `json:"index_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseCollateralCredited(data []byte) (*event.CollateralCredited, error) {
	var j collateralCreditedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralCredited: %w", err)
	}
	if j.Vault == "" {
		return nil, fmt.Errorf("CollateralCredited missing vault")
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("CollateralCredited amount must be > 0, got %d", j.Amount)
	}

	return &event.CollateralCredited{
		Vault:         j.Vault,
		Owner:         owner,
		TokenID:       j.TokenID,
		Amount:        j.Amount,
		IndexSequence: j.IndexSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidationSweepJSON struct {
	SweepID       string   `json:"sweep_id"`
	Vault         string   `json:"vault"`
	Caller        string   `json:"caller"`
	Recipient     string   `json:"recipient"`
	TokenIDs      []uint64 `json:"token_ids"`
	SweepSequence int64    `json:"sweep_sequence"`
	TimestampUs   int64    `json:"timestamp_us"`
}

func parseLiquidationSweep(data []byte) (*event.LiquidationSweep, error) {
	var j liquidationSweepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationSweep: %w", err)
	}
	sweepID, err := uuid.Parse(j.SweepID)
	if err != nil {
		return nil, fmt.Errorf("parse sweep_id: %w", err)
	}
	if j.Vault == "" {
		return nil, fmt.Errorf("LiquidationSweep missing vault")
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	recipient, err := uuid.Parse(j.Recipient)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	if len(j.TokenIDs) == 0 {
		return nil, fmt.Errorf("LiquidationSweep %s has no candidates", sweepID)
	}

	return &event.LiquidationSweep{
		SweepID:       sweepID,
		Vault:         j.Vault,
		Caller:        caller,
		Recipient:     recipient,
		TokenIDs:      j.TokenIDs,
		SweepSequence: j.SweepSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}
