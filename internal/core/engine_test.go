package core_test

import (
	"testing"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/custody"
	"VaultLedger/internal/escrow"
	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const t0 = int64(1_700_000_000)

var (
	owner      = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	liquidator = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	recipient  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	admin      = uuid.MustParse("55555555-5555-5555-5555-555555555555")
)

type testHarness struct {
	core    *core.VaultCore
	runtime *core.NFTRuntime
	persist chan core.CoreOutput
	project chan core.CoreOutput
	auction *recordingAuction
}

type recordingAuction struct {
	lots []string
}

func (a *recordingAuction) Submit(lot string, seller uuid.UUID, minBid decimal.Decimal) error {
	a.lots = append(a.lots, lot)
	return nil
}

func newTestCore(t *testing.T) *testHarness {
	t.Helper()

	persist := make(chan core.CoreOutput, 256)
	project := make(chan core.CoreOutput, 256)
	c := core.NewVaultCore(0, persist, project, nil, nil)

	roles := vault.NewStaticRoles()
	roles.Grant(vault.RoleLiquidator, liquidator)
	roles.Grant(vault.RoleDAO, admin)
	roles.Grant(vault.RoleSetter, admin)

	cust := custody.NewNFTCustody("punks")
	value := oracle.NewCollectionValueProvider(c.Prices(), "PUNK",
		fpmath.NewRate(50, 100), fpmath.NewRate(60, 100))

	v, err := vault.NewVault[vault.NFTKey]("punks", vault.Settings{
		DebtInterestAPR:                 fpmath.NewRate(10, 100),
		OrganizationFeeRate:             fpmath.NewRate(1, 100),
		InsurancePurchaseRate:           fpmath.NewRate(2, 100),
		InsuranceLiquidationPenaltyRate: fpmath.NewRate(5, 100),
		InsuranceRepurchaseTimeLimit:    3600,
		BorrowAmountCap:                 10_000_000_000,
	}, t0, value, c.Coin(), cust, roles)
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	auction := &recordingAuction{}
	sweeper := escrow.NewLiquidator(v, auction, c.Prices(), "", zerolog.Nop())
	rt := core.NewNFTRuntime(v, cust, sweeper, zerolog.Nop())

	if err := c.RegisterVault(rt); err != nil {
		t.Fatalf("RegisterVault: %v", err)
	}

	return &testHarness{core: c, runtime: rt, persist: persist, project: project, auction: auction}
}

func (h *testHarness) process(t *testing.T, evt event.Event) {
	t.Helper()
	if err := h.core.ProcessEvent(evt); err != nil {
		t.Fatalf("ProcessEvent(%s): %v", evt.EventType(), err)
	}
}

// seedPosition registers token 1, publishes a floor price, and borrows
// against the token. Ends at vault sequence 2.
func (h *testHarness) seedPosition(t *testing.T, borrowAmount int64) {
	t.Helper()

	h.process(t, &event.FloorPriceUpdate{
		Symbol: "PUNK", Price: 2_000_000_000, PriceSequence: 1, PriceTimestamp: t0,
	})
	h.process(t, &event.CollateralRegistered{
		Vault: "punks", Owner: owner, TokenID: 1, IndexSequence: 0, Timestamp: time.Unix(t0, 0),
	})
	h.process(t, &event.ActionBatch{
		BatchID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		Vault:   "punks",
		Actions: []event.ActionSpec{
			{Kind: event.ActionBorrow, Account: owner, TokenID: 1, Amount: borrowAmount},
		},
		BatchSequence: 1,
		Timestamp:     time.Unix(t0, 0),
	})
}

// ============================================================
// Test: ProcessEvent pipeline
// ============================================================

func TestProcessEvent_BorrowProducesJournalsAndEnvelope(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	if got := h.core.Coin().BalanceOf(owner); got != 495_000_000 {
		t.Errorf("owner balance: got %d, want %d", got, 495_000_000)
	}

	// Three events, three envelopes with consecutive sequences.
	var outputs []core.CoreOutput
	for len(h.persist) > 0 {
		outputs = append(outputs, <-h.persist)
	}
	if len(outputs) != 3 {
		t.Fatalf("persist outputs: got %d, want 3", len(outputs))
	}
	for i, out := range outputs {
		if out.Envelope.Sequence != int64(i) {
			t.Errorf("envelope %d sequence: got %d, want %d", i, out.Envelope.Sequence, i)
		}
	}

	// The borrow batch carries the proceeds mint; the register and price
	// events are state-only.
	if len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("price update journals: got %d, want 0", len(outputs[0].Batch.Journals))
	}
	if len(outputs[2].Batch.Journals) == 0 {
		t.Error("borrow batch has no journals")
	}

	if h.core.GetSequence() != 3 {
		t.Errorf("next sequence: got %d, want 3", h.core.GetSequence())
	}
}

func TestProcessEvent_DuplicateBatchSkipped(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	dup := &event.ActionBatch{
		BatchID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		Vault:   "punks",
		Actions: []event.ActionSpec{
			{Kind: event.ActionBorrow, Account: owner, TokenID: 1, Amount: 500_000_000},
		},
		BatchSequence: 1,
		Timestamp:     time.Unix(t0, 0),
	}
	if err := h.core.ProcessEvent(dup); err != nil {
		t.Fatalf("duplicate redelivery: %v", err)
	}

	if got := h.core.Coin().BalanceOf(owner); got != 495_000_000 {
		t.Errorf("balance after duplicate: got %d, want %d", got, 495_000_000)
	}
	if h.core.GetSequence() != 3 {
		t.Errorf("sequence after duplicate: got %d, want 3", h.core.GetSequence())
	}
}

func TestProcessEvent_OutOfOrderNewEventRejected(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	// Vault partition expects source sequence 2 next; a fresh event with
	// sequence 0 is out of order, a gapped one is rejected too.
	stale := &event.ActionBatch{
		BatchID:       uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"),
		Vault:         "punks",
		Actions:       []event.ActionSpec{{Kind: event.ActionRepay, Account: owner, TokenID: 1, Amount: 1}},
		BatchSequence: 0,
		Timestamp:     time.Unix(t0, 0),
	}
	if err := h.core.ProcessEvent(stale); err == nil {
		t.Error("out-of-order event accepted")
	}

	gapped := &event.ActionBatch{
		BatchID:       uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002"),
		Vault:         "punks",
		Actions:       []event.ActionSpec{{Kind: event.ActionRepay, Account: owner, TokenID: 1, Amount: 1}},
		BatchSequence: 7,
		Timestamp:     time.Unix(t0, 0),
	}
	if err := h.core.ProcessEvent(gapped); err == nil {
		t.Error("gapped event accepted")
	}
}

func TestProcessEvent_RejectedBatchLeavesStateUntouched(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	hashBefore := h.core.GetStateHash()

	// Repay by the wrong account: the vault rejects, compensation undoes
	// the burn, and no envelope is emitted.
	bad := &event.ActionBatch{
		BatchID: uuid.MustParse("cccccccc-0000-0000-0000-000000000001"),
		Vault:   "punks",
		Actions: []event.ActionSpec{
			{Kind: event.ActionRepay, Account: liquidator, TokenID: 1, Amount: 100},
		},
		BatchSequence: 2,
		Timestamp:     time.Unix(t0, 0),
	}
	if err := h.core.ProcessEvent(bad); err == nil {
		t.Fatal("unauthorized repay accepted")
	}

	if got := h.core.Coin().BalanceOf(owner); got != 495_000_000 {
		t.Errorf("owner balance after rejection: got %d, want %d", got, 495_000_000)
	}
	if got := h.core.GetStateHash(); got != hashBefore {
		t.Error("state hash moved on a rejected event")
	}
	if h.core.GetSequence() != 3 {
		t.Errorf("sequence after rejection: got %d, want 3", h.core.GetSequence())
	}
}

func TestProcessEvent_StalePriceIgnored(t *testing.T) {
	h := newTestCore(t)

	h.process(t, &event.FloorPriceUpdate{
		Symbol: "PUNK", Price: 2_000_000_000, PriceSequence: 5, PriceTimestamp: t0 + 10,
	})
	// Lower sequence, older timestamp: silently dropped.
	h.process(t, &event.FloorPriceUpdate{
		Symbol: "PUNK", Price: 1_000_000_000, PriceSequence: 3, PriceTimestamp: t0,
	})

	p, err := h.core.Prices().Get("PUNK")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Value != 2_000_000_000 {
		t.Errorf("price after stale update: got %d, want %d", p.Value, 2_000_000_000)
	}
}

func TestProcessEvent_UnknownVaultRejected(t *testing.T) {
	h := newTestCore(t)

	err := h.core.ProcessEvent(&event.ActionBatch{
		BatchID:       uuid.New(),
		Vault:         "nope",
		Actions:       []event.ActionSpec{{Kind: event.ActionBorrow, Account: owner, TokenID: 1, Amount: 1}},
		BatchSequence: 0,
		Timestamp:     time.Unix(t0, 0),
	})
	if err == nil {
		t.Error("batch for unregistered vault accepted")
	}
}

// ============================================================
// Test: settings updates
// ============================================================

func TestSettingsUpdate_AppliedToVault(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	h.process(t, &event.SettingsUpdate{
		Vault:                           "punks",
		Caller:                          admin,
		DebtInterestAPR:                 fpmath.NewRate(20, 100),
		OrganizationFeeRate:             fpmath.NewRate(1, 100),
		InsurancePurchaseRate:           fpmath.NewRate(2, 100),
		InsuranceLiquidationPenaltyRate: fpmath.NewRate(5, 100),
		InsuranceRepurchaseTimeLimit:    7200,
		BorrowAmountCap:                 10_000_000_000,
		UpdateSequence:                  2,
		Timestamp:                       time.Unix(t0, 0),
	})

	got := h.runtime.Vault().Settings()
	if got.DebtInterestAPR != fpmath.NewRate(20, 100) {
		t.Errorf("APR: got %v, want 20/100", got.DebtInterestAPR)
	}
	if got.InsuranceRepurchaseTimeLimit != 7200 {
		t.Errorf("window: got %d, want 7200", got.InsuranceRepurchaseTimeLimit)
	}
}

func TestSettingsUpdate_InvalidRateRejected(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	err := h.core.ProcessEvent(&event.SettingsUpdate{
		Vault:                           "punks",
		Caller:                          admin,
		DebtInterestAPR:                 fpmath.NewRate(3, 2),
		OrganizationFeeRate:             fpmath.NewRate(1, 100),
		InsurancePurchaseRate:           fpmath.NewRate(2, 100),
		InsuranceLiquidationPenaltyRate: fpmath.NewRate(5, 100),
		InsuranceRepurchaseTimeLimit:    3600,
		BorrowAmountCap:                 10_000_000_000,
		UpdateSequence:                  2,
		Timestamp:                       time.Unix(t0, 0),
	})
	if err == nil {
		t.Error("rate above one accepted")
	}
}

// ============================================================
// Test: liquidation sweeps
// ============================================================

func TestLiquidationSweep_FloorDrop(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 1_000_000_000)

	// Fund the liquidator by transferring the owner's proceeds.
	if err := h.core.Coin().Transfer(owner, liquidator, 990_000_000); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := h.core.Coin().Mint(liquidator, 500_000_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Floor drops: liquidation limit 60% of 1_500_000_000 = 900_000_000,
	// below the 1_000_000_000 debt.
	h.process(t, &event.FloorPriceUpdate{
		Symbol: "PUNK", Price: 1_500_000_000, PriceSequence: 2, PriceTimestamp: t0,
	})

	h.process(t, &event.LiquidationSweep{
		SweepID:       uuid.MustParse("eeeeeeee-0000-0000-0000-000000000001"),
		Vault:         "punks",
		Caller:        liquidator,
		Recipient:     recipient,
		TokenIDs:      []uint64{1},
		SweepSequence: 2,
		Timestamp:     time.Unix(t0, 0),
	})

	if _, open := h.runtime.Vault().Position(1); open {
		t.Error("position still open after sweep")
	}
	pool := h.runtime.Vault().Pool()
	if pool.TotalDebtAmount != 0 {
		t.Errorf("pool debt after sweep: got %d, want 0", pool.TotalDebtAmount)
	}
	if len(h.auction.lots) != 1 || h.auction.lots[0] != "punks:nft:1" {
		t.Errorf("auction lots: got %v, want [punks:nft:1]", h.auction.lots)
	}
}

// ============================================================
// Test: determinism and snapshots
// ============================================================

func TestDeterminism_SameEventsSameHash(t *testing.T) {
	a := newTestCore(t)
	b := newTestCore(t)

	a.seedPosition(t, 500_000_000)
	b.seedPosition(t, 500_000_000)

	if a.core.GetStateHash() != b.core.GetStateHash() {
		t.Error("replicas processing identical events diverged")
	}
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	h := newTestCore(t)
	h.seedPosition(t, 500_000_000)

	snap := h.core.CreateSnapshotState()
	if snap.Sequence != 2 {
		t.Errorf("snapshot sequence: got %d, want 2", snap.Sequence)
	}

	fresh := newTestCore(t)
	if err := fresh.core.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}

	if fresh.core.GetSequence() != 3 {
		t.Errorf("restored next sequence: got %d, want 3", fresh.core.GetSequence())
	}
	if fresh.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("restored state hash differs")
	}
	if got := fresh.core.Coin().BalanceOf(owner); got != 495_000_000 {
		t.Errorf("restored balance: got %d, want %d", got, 495_000_000)
	}
	pos, open := fresh.runtime.Vault().Position(1)
	if !open {
		t.Fatal("restored vault lost the position")
	}
	if pos.DebtPrincipal != 500_000_000 {
		t.Errorf("restored principal: got %d, want %d", pos.DebtPrincipal, 500_000_000)
	}

	// Both cores must process the next event identically.
	next := &event.ActionBatch{
		BatchID: uuid.MustParse("ffffffff-0000-0000-0000-000000000001"),
		Vault:   "punks",
		Actions: []event.ActionSpec{
			{Kind: event.ActionRepay, Account: owner, TokenID: 1, Amount: 100_000_000},
		},
		BatchSequence: 2,
		Timestamp:     time.Unix(t0+1, 0),
	}
	h.process(t, next)
	fresh.process(t, next)

	if h.core.GetStateHash() != fresh.core.GetStateHash() {
		t.Error("cores diverged after restore")
	}
}

func TestSnapshot_ReferencesUnknownVault(t *testing.T) {
	h := newTestCore(t)
	snap := h.core.CreateSnapshotState()
	snap.Vaults = append(snap.Vaults, &core.VaultSnapshot{VaultID: "ghost"})

	fresh := newTestCore(t)
	if err := fresh.core.RestoreFromSnapshot(snap); err == nil {
		t.Error("restore accepted a snapshot for an unregistered vault")
	}
}
