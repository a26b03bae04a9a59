package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// VaultCore is the single-threaded event processor. All lending state
// (vault pools, positions, custody, stablecoin balances, oracle prices)
// lives in memory here; the only inputs are versioned events and the only
// outputs are envelopes, journal batches, and state hashes.
type VaultCore struct {
	sequence          int64
	hasher            *StateHasher
	coin              *ledger.StablecoinLedger
	validator         *ledger.InvariantValidator
	prices            *oracle.PriceState
	vaults            map[string]Runtime
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one processed event: the envelope for the event log, the
// balanced journal batch (possibly empty for state-only events), and the
// state digest the hash was computed over.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Positions holds the post-event state of every position the event
	// touched; Stats the affected vault's pool aggregate. Projections
	// consume both to keep read-side tables current without replaying
	// vault logic.
	Positions []PositionUpdate
	Stats     *VaultStatsUpdate
}

// PositionUpdate is the state of one position after an event. Exists is
// false when the event removed the position.
type PositionUpdate struct {
	VaultID  string
	Owner    uuid.UUID
	TokenID  uint64
	Exists   bool
	Position vault.Position
}

// VaultStatsUpdate is the affected vault's pool aggregate after an event.
type VaultStatsUpdate struct {
	VaultID       string
	Pool          vault.DebtPool
	OpenPositions int
}

func NewVaultCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *VaultCore {
	coin := ledger.NewStablecoinLedger()

	return &VaultCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		coin:              coin,
		validator:         ledger.NewInvariantValidator(coin.Tracker()),
		prices:            oracle.NewPriceState(),
		vaults:            make(map[string]Runtime),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// Coin returns the shared stablecoin ledger. Vault runtimes must be built
// against this instance so their mints and burns flow into core journals.
func (c *VaultCore) Coin() *ledger.StablecoinLedger {
	return c.coin
}

// Prices returns the shared oracle price state.
func (c *VaultCore) Prices() *oracle.PriceState {
	return c.prices
}

// RegisterVault adds a vault runtime under its vault ID.
func (c *VaultCore) RegisterVault(rt Runtime) error {
	id := rt.VaultID()
	if _, exists := c.vaults[id]; exists {
		return fmt.Errorf("vault %s already registered", id)
	}
	c.vaults[id] = rt
	return nil
}

// GetRuntime looks up a registered vault runtime.
func (c *VaultCore) GetRuntime(vaultID string) (Runtime, bool) {
	rt, ok := c.vaults[vaultID]
	return rt, ok
}

// ProcessEvent is the main processing pipeline.
func (c *VaultCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier).
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Price feeds are gap-tolerant; everything
	// else must arrive in strict per-partition order.
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	if priceEvt, ok := evt.(*event.FloorPriceUpdate); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceEvt.Symbol, priceEvt.PriceSequence); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. The handler mutates vault and balance state and
	// returns the journals that movement produced.
	eventTime := c.getEventTimestamp(evt)
	batch, err := c.dispatchEvent(evt, idempotencyKey, eventTime.Unix())
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Validate the batch. Balances were already applied inside the
	// stablecoin ledger as journals were recorded; an unbalanced or
	// malformed batch here means a bug, not bad input.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	// Step 5: State digest and hash chain.
	stateDigest := c.computeStateDigest(batch, evt.VaultID())
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Step 6: Envelope. The payload is the source event, so replaying the
	// persisted log reconstructs the exact input stream.
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal event payload: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		VaultID:        evt.VaultID(),
		Timestamp:      eventTime,
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	positions, stats := c.collectProjectionUpdates(evt)

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Positions:  positions,
		Stats:      stats,
	}
	c.sequence++

	// Step 7: Post-checks. A violated ledger invariant is unrecoverable.
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 8: Emit. Persistence uses a blocking send so no event is lost;
	// projections use a non-blocking send and rebuild from the event log
	// if they fall behind.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
	}

	// Step 9: Mark processed.
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// collectProjectionUpdates gathers the post-event state of every position
// the event touched, plus the affected vault's pool aggregate. Sweep
// candidates carry a nil owner; NFT lookups key on the token alone.
func (c *VaultCore) collectProjectionUpdates(evt event.Event) ([]PositionUpdate, *VaultStatsUpdate) {
	vaultID := evt.VaultID()
	if vaultID == nil {
		return nil, nil
	}
	rt, ok := c.vaults[*vaultID]
	if !ok {
		return nil, nil
	}

	type posKey struct {
		owner   uuid.UUID
		tokenID uint64
	}
	var keys []posKey
	seen := make(map[posKey]bool)
	add := func(owner uuid.UUID, tokenID uint64) {
		k := posKey{owner, tokenID}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	switch e := evt.(type) {
	case *event.ActionBatch:
		for _, spec := range e.Actions {
			if spec.Kind == event.ActionCollectFees {
				continue
			}
			add(spec.PositionOwner(), spec.TokenID)
		}
	case *event.CollateralCredited:
		add(e.Owner, e.TokenID)
	case *event.LiquidationSweep:
		for _, tokenID := range e.TokenIDs {
			add(uuid.Nil, tokenID)
		}
	}

	updates := make([]PositionUpdate, 0, len(keys))
	for _, k := range keys {
		pos, exists := rt.LookupPosition(k.owner, k.tokenID)
		owner := k.owner
		if exists {
			owner = pos.Owner
		}
		updates = append(updates, PositionUpdate{
			VaultID:  *vaultID,
			Owner:    owner,
			TokenID:  k.tokenID,
			Exists:   exists,
			Position: pos,
		})
	}

	return updates, &VaultStatsUpdate{
		VaultID:       *vaultID,
		Pool:          rt.Pool(),
		OpenPositions: rt.OpenPositions(),
	}
}

// getPartition determines the partition key for sequence validation.
func (c *VaultCore) getPartition(evt event.Event) string {
	if vaultID := evt.VaultID(); vaultID != nil {
		return fmt.Sprintf("vault:%s", *vaultID)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event. The
// core never calls time.Now() for domain logic: interest accrual and
// insurance windows are computed from event timestamps only, so replay
// produces identical state.
func (c *VaultCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.ActionBatch:
		return e.Timestamp
	case *event.FloorPriceUpdate:
		return time.Unix(e.PriceTimestamp, 0)
	case *event.SettingsUpdate:
		return e.Timestamp
	case *event.CollateralRegistered:
		return e.Timestamp
	case *event.CollateralCredited:
		return e.Timestamp
	case *event.LiquidationSweep:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// dispatchEvent routes the event to its handler and collects the journals
// it produced into one batch.
func (c *VaultCore) dispatchEvent(evt event.Event, idempotencyKey string, ts int64) (*ledger.Batch, error) {
	c.coin.SetContext(idempotencyKey, c.sequence, ts)

	switch e := evt.(type) {
	case *event.ActionBatch:
		return c.handleActionBatch(e, idempotencyKey, ts)
	case *event.FloorPriceUpdate:
		c.prices.Set(e.Symbol, e.Price, e.PriceTimestamp)
		return c.collectBatch(idempotencyKey, ts), nil
	case *event.SettingsUpdate:
		return c.handleSettingsUpdate(e, idempotencyKey, ts)
	case *event.CollateralRegistered:
		rt, err := c.runtimeFor(e.Vault)
		if err != nil {
			return nil, err
		}
		if err := rt.RegisterCollateral(e.Owner, e.TokenID); err != nil {
			return nil, err
		}
		return c.collectBatch(idempotencyKey, ts), nil
	case *event.CollateralCredited:
		rt, err := c.runtimeFor(e.Vault)
		if err != nil {
			return nil, err
		}
		if err := rt.CreditCollateral(e.Owner, e.TokenID, e.Amount); err != nil {
			return nil, err
		}
		return c.collectBatch(idempotencyKey, ts), nil
	case *event.LiquidationSweep:
		return c.handleLiquidationSweep(e, idempotencyKey, ts)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *VaultCore) runtimeFor(vaultID string) (Runtime, error) {
	rt, ok := c.vaults[vaultID]
	if !ok {
		return nil, fmt.Errorf("unknown vault: %s", vaultID)
	}
	return rt, nil
}

func (c *VaultCore) handleActionBatch(e *event.ActionBatch, idempotencyKey string, ts int64) (*ledger.Batch, error) {
	rt, err := c.runtimeFor(e.Vault)
	if err != nil {
		return nil, err
	}

	if err := rt.ExecuteActions(ts, e.Actions); err != nil {
		// The vault rolled back: staged state was dropped and every mint
		// or burn was compensated, so balances are unchanged. The paired
		// do/undo journals carry no information and are discarded.
		c.coin.TakeBatches()
		return nil, err
	}

	return c.collectBatch(idempotencyKey, ts), nil
}

func (c *VaultCore) handleSettingsUpdate(e *event.SettingsUpdate, idempotencyKey string, ts int64) (*ledger.Batch, error) {
	rt, err := c.runtimeFor(e.Vault)
	if err != nil {
		return nil, err
	}

	settings := settingsFromEvent(e)
	if err := rt.UpdateSettings(ts, e.Caller, settings); err != nil {
		return nil, err
	}
	return c.collectBatch(idempotencyKey, ts), nil
}

func (c *VaultCore) handleLiquidationSweep(e *event.LiquidationSweep, idempotencyKey string, ts int64) (*ledger.Batch, error) {
	rt, err := c.runtimeFor(e.Vault)
	if err != nil {
		return nil, err
	}

	// A sweep abort (for example the caller running out of stablecoin
	// partway through) leaves earlier liquidations committed. Their
	// journals must still reach the event log, so the sweep error is not
	// propagated; the runtime has already logged it and the remaining
	// candidates wait for the next sweep.
	_ = rt.Sweep(ts, e.Caller, e.Recipient, e.TokenIDs)

	return c.collectBatch(idempotencyKey, ts), nil
}

// collectBatch drains the stablecoin ledger's pending journals into one
// batch attributed to the current event. State-only events produce an
// empty batch, which still gets an envelope in the event log.
func (c *VaultCore) collectBatch(idempotencyKey string, ts int64) *ledger.Batch {
	pending := c.coin.TakeBatches()

	merged := &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  idempotencyKey,
		Sequence:  c.sequence,
		Timestamp: ts,
	}
	for _, b := range pending {
		for _, j := range b.Journals {
			j.BatchID = merged.BatchID
			merged.Journals = append(merged.Journals, j)
		}
	}
	return merged
}

// computeStateDigest serializes the state touched by the event: every
// affected stablecoin account with its post-event balance, plus the full
// pool and position state of the affected vault.
func (c *VaultCore) computeStateDigest(batch *ledger.Batch, vaultID *string) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	tracker := c.coin.Tracker()

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, tracker.GetBalance(key))
	}

	if vaultID != nil {
		if rt, ok := c.vaults[*vaultID]; ok {
			digest = append(digest, rt.StateDigest()...)
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates ledger invariants after the event applied.
func (c *VaultCore) postCheckInvariants(evt event.Event) error {
	// Every journal is zero-sum by construction, so total supply equals
	// the negated issuance balance. Supply must never go negative.
	if err := c.validator.ValidateSupplyNonNegative(); err != nil {
		return fmt.Errorf("post-check supply: %w", err)
	}

	// Acting accounts must not be overdrawn by an action batch.
	if e, ok := evt.(*event.ActionBatch); ok {
		seen := make(map[uuid.UUID]bool)
		for _, spec := range e.Actions {
			if seen[spec.Account] {
				continue
			}
			seen[spec.Account] = true
			if err := c.validator.ValidateUserCashNonNegative(spec.Account); err != nil {
				return fmt.Errorf("post-check cash: %w", err)
			}
		}
	}

	// Periodic global zero-sum check across all accounts.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global: %w", err)
		}
	}

	return nil
}

func settingsFromEvent(e *event.SettingsUpdate) vault.Settings {
	return vault.Settings{
		DebtInterestAPR:                 e.DebtInterestAPR,
		OrganizationFeeRate:             e.OrganizationFeeRate,
		InsurancePurchaseRate:           e.InsurancePurchaseRate,
		InsuranceLiquidationPenaltyRate: e.InsuranceLiquidationPenaltyRate,
		InsuranceRepurchaseTimeLimit:    e.InsuranceRepurchaseTimeLimit,
		BorrowAmountCap:                 e.BorrowAmountCap,
	}
}

// --- Snapshot restore and startup ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Vaults          []*VaultSnapshot
	Prices          map[string]oracle.PricePoint
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. Vault runtimes
// must already be registered; the snapshot only carries their state, not
// their wiring.
func (c *VaultCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	c.coin.Tracker().Restore(snap.Balances)

	for _, vs := range snap.Vaults {
		rt, ok := c.vaults[vs.VaultID]
		if !ok {
			return fmt.Errorf("snapshot references unregistered vault %s", vs.VaultID)
		}
		if err := rt.RestoreVault(vs); err != nil {
			return err
		}
	}

	c.prices.Restore(snap.Prices)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	return nil
}

// WarmLRU loads recent idempotency keys into the dedup cache.
func (c *VaultCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence to be assigned.
func (c *VaultCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash chain tip.
func (c *VaultCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *VaultCore) CreateSnapshotState() *SnapshotState {
	vaultIDs := make([]string, 0, len(c.vaults))
	for id := range c.vaults {
		vaultIDs = append(vaultIDs, id)
	}
	sort.Strings(vaultIDs)

	snapshots := make([]*VaultSnapshot, 0, len(vaultIDs))
	for _, id := range vaultIDs {
		snapshots = append(snapshots, c.vaults[id].SnapshotVault())
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.coin.Tracker().Snapshot(),
		Vaults:          snapshots,
		Prices:          c.prices.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
