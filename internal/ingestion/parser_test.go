package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	fpmath "VaultLedger/internal/math"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseActionBatch(t *testing.T) {
	payload := map[string]interface{}{
		"batch_id": "550e8400-e29b-41d4-a716-446655440000",
		"vault":    "punks",
		"actions": []map[string]interface{}{
			{
				"kind":          "borrow",
				"account":       "660e8400-e29b-41d4-a716-446655440001",
				"token_id":      uint64(7),
				"amount":        int64(500_000_000),
				"use_insurance": true,
			},
			{
				"kind":     "repay",
				"account":  "660e8400-e29b-41d4-a716-446655440001",
				"token_id": uint64(7),
				"amount":   int64(100_000_000),
			},
		},
		"batch_sequence": int64(42),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ActionBatch")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	batch, ok := evt.(*event.ActionBatch)
	if !ok {
		t.Fatalf("expected *event.ActionBatch, got %T", evt)
	}

	if batch.Vault != "punks" {
		t.Errorf("vault: got %s, want punks", batch.Vault)
	}
	if len(batch.Actions) != 2 {
		t.Fatalf("actions: got %d, want 2", len(batch.Actions))
	}
	if batch.Actions[0].Kind != event.ActionBorrow {
		t.Errorf("action 0 kind: got %s, want borrow", batch.Actions[0].Kind)
	}
	if !batch.Actions[0].UseInsurance {
		t.Error("action 0: insurance flag lost")
	}
	if batch.Actions[1].Kind != event.ActionRepay {
		t.Errorf("action 1 kind: got %s, want repay", batch.Actions[1].Kind)
	}
	if batch.Actions[1].Amount != 100_000_000 {
		t.Errorf("action 1 amount: got %d, want 100_000_000", batch.Actions[1].Amount)
	}
	if batch.BatchSequence != 42 {
		t.Errorf("batch_sequence: got %d, want 42", batch.BatchSequence)
	}
	if batch.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", batch.Timestamp.UnixMicro())
	}
}

func TestParseActionBatch_UnknownKind(t *testing.T) {
	payload := map[string]interface{}{
		"batch_id": "550e8400-e29b-41d4-a716-446655440000",
		"vault":    "punks",
		"actions": []map[string]interface{}{
			{"kind": "steal", "account": "660e8400-e29b-41d4-a716-446655440001"},
		},
		"batch_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "ActionBatch"); err == nil {
		t.Error("unknown action kind accepted")
	}
}

func TestParseActionBatch_EmptyActions(t *testing.T) {
	payload := map[string]interface{}{
		"batch_id":       "550e8400-e29b-41d4-a716-446655440000",
		"vault":          "punks",
		"actions":        []map[string]interface{}{},
		"batch_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "ActionBatch"); err == nil {
		t.Error("empty batch accepted")
	}
}

func TestParseActionBatch_BadAccount(t *testing.T) {
	payload := map[string]interface{}{
		"batch_id": "550e8400-e29b-41d4-a716-446655440000",
		"vault":    "punks",
		"actions": []map[string]interface{}{
			{"kind": "borrow", "account": "not-a-uuid", "amount": int64(1)},
		},
		"batch_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "ActionBatch"); err == nil {
		t.Error("malformed account accepted")
	}
}

func TestParseFloorPriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"symbol":          "PUNK",
		"price":           "1234.56",
		"price_sequence":  int64(9),
		"price_timestamp": int64(1700000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "FloorPriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	p, ok := evt.(*event.FloorPriceUpdate)
	if !ok {
		t.Fatalf("expected *event.FloorPriceUpdate, got %T", evt)
	}
	if p.Symbol != "PUNK" {
		t.Errorf("symbol: got %s, want PUNK", p.Symbol)
	}
	if p.Price != 1_234_560_000 {
		t.Errorf("price: got %d, want 1_234_560_000", p.Price)
	}
	if p.PriceSequence != 9 {
		t.Errorf("price_sequence: got %d, want 9", p.PriceSequence)
	}
}

func TestParseFloorPriceUpdate_MalformedPrice(t *testing.T) {
	payload := map[string]interface{}{
		"symbol":          "PUNK",
		"price":           "cheap",
		"price_sequence":  int64(9),
		"price_timestamp": int64(1700000000),
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "FloorPriceUpdate"); err == nil {
		t.Error("malformed price accepted")
	}
}

func TestParseSettingsUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"vault":  "punks",
		"caller": "660e8400-e29b-41d4-a716-446655440001",
		"debt_interest_apr": map[string]interface{}{
			"numerator": uint64(10), "denominator": uint64(100),
		},
		"organization_fee_rate": map[string]interface{}{
			"numerator": uint64(1), "denominator": uint64(100),
		},
		"insurance_purchase_rate": map[string]interface{}{
			"numerator": uint64(2), "denominator": uint64(100),
		},
		"insurance_liquidation_penalty_rate": map[string]interface{}{
			"numerator": uint64(5), "denominator": uint64(100),
		},
		"insurance_repurchase_time_limit": int64(3600),
		"borrow_amount_cap":               int64(10_000_000_000),
		"update_sequence":                 int64(3),
		"timestamp_us":                    int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "SettingsUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s, ok := evt.(*event.SettingsUpdate)
	if !ok {
		t.Fatalf("expected *event.SettingsUpdate, got %T", evt)
	}
	if s.DebtInterestAPR != fpmath.NewRate(10, 100) {
		t.Errorf("APR: got %v, want 10/100", s.DebtInterestAPR)
	}
	if s.InsuranceRepurchaseTimeLimit != 3600 {
		t.Errorf("window: got %d, want 3600", s.InsuranceRepurchaseTimeLimit)
	}
	if s.BorrowAmountCap != 10_000_000_000 {
		t.Errorf("cap: got %d", s.BorrowAmountCap)
	}
}

func TestParseCollateralRegistered(t *testing.T) {
	payload := map[string]interface{}{
		"vault":          "punks",
		"owner":          "660e8400-e29b-41d4-a716-446655440001",
		"token_id":       uint64(7),
		"index_sequence": int64(12),
		"timestamp_us":   int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "CollateralRegistered")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	c, ok := evt.(*event.CollateralRegistered)
	if !ok {
		t.Fatalf("expected *event.CollateralRegistered, got %T", evt)
	}
	if c.TokenID != 7 {
		t.Errorf("token_id: got %d, want 7", c.TokenID)
	}
}

func TestParseCollateralCredited_RejectsNonPositive(t *testing.T) {
	payload := map[string]interface{}{
		"vault":          "usdc",
		"owner":          "660e8400-e29b-41d4-a716-446655440001",
		"amount":         int64(0),
		"index_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "CollateralCredited"); err == nil {
		t.Error("zero credit accepted")
	}
}

func TestParseLiquidationSweep(t *testing.T) {
	payload := map[string]interface{}{
		"sweep_id":       "550e8400-e29b-41d4-a716-446655440000",
		"vault":          "punks",
		"caller":         "660e8400-e29b-41d4-a716-446655440001",
		"recipient":      "770e8400-e29b-41d4-a716-446655440002",
		"token_ids":      []uint64{1, 2, 3},
		"sweep_sequence": int64(5),
		"timestamp_us":   int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "LiquidationSweep")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s, ok := evt.(*event.LiquidationSweep)
	if !ok {
		t.Fatalf("expected *event.LiquidationSweep, got %T", evt)
	}
	if len(s.TokenIDs) != 3 {
		t.Errorf("token_ids: got %d, want 3", len(s.TokenIDs))
	}
}

func TestParseRawEvent_UnknownType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "TradeFill"); err == nil {
		t.Error("unknown event type accepted")
	}
}
