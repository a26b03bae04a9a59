package core

import (
	"fmt"
	"sort"

	"VaultLedger/internal/custody"
	"VaultLedger/internal/escrow"
	"VaultLedger/internal/event"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runtime is one vault plus its custody, registered with the core under
// the vault ID. It hides the collateral key type so the core can hold
// vaults of all three kinds in one map.
type Runtime interface {
	VaultID() string

	// ExecuteActions applies an ordered action batch atomically.
	ExecuteActions(now int64, specs []event.ActionSpec) error

	// UpdateSettings replaces the vault's economic parameters.
	UpdateSettings(now int64, caller uuid.UUID, settings vault.Settings) error

	// RegisterCollateral records NFT ownership reported by the indexer.
	RegisterCollateral(owner uuid.UUID, tokenID uint64) error

	// CreditCollateral adds confirmed fungible collateral to an owner's
	// free balance.
	CreditCollateral(owner uuid.UUID, tokenID uint64, amount int64) error

	// Sweep attempts liquidation of the listed candidates, skipping
	// healthy ones.
	Sweep(now int64, caller, recipient uuid.UUID, tokenIDs []uint64) error

	// StateDigest returns canonical bytes of the vault's pool and open
	// positions for state hashing.
	StateDigest() []byte

	// LookupPosition finds the position keyed by (owner, tokenID). For NFT
	// vaults the owner is ignored; the token is the key.
	LookupPosition(owner uuid.UUID, tokenID uint64) (vault.Position, bool)

	// Pool returns a copy of the vault's debt pool aggregate.
	Pool() vault.DebtPool

	// OpenPositions returns the open position count.
	OpenPositions() int

	SnapshotVault() *VaultSnapshot
	RestoreVault(snap *VaultSnapshot) error
}

// PositionRecord is one open position in snapshot form. The collateral key
// is flattened to (owner, token_id); each runtime kind reassembles its own
// key type on restore.
type PositionRecord struct {
	Owner    uuid.UUID      `json:"owner"`
	TokenID  uint64         `json:"token_id"`
	Position vault.Position `json:"position"`
}

// VaultSnapshot is the serializable state of one runtime. Exactly one of
// the custody fields is set, matching the runtime kind.
type VaultSnapshot struct {
	VaultID   string           `json:"vault_id"`
	Settings  vault.Settings   `json:"settings"`
	Pool      vault.DebtPool   `json:"pool"`
	Positions []PositionRecord `json:"positions"`

	CustodyNFT          *custody.NFTState          `json:"custody_nft,omitempty"`
	CustodyFungible     *custody.FungibleState     `json:"custody_fungible,omitempty"`
	CustodySemiFungible *custody.SemiFungibleState `json:"custody_semifungible,omitempty"`
}

// buildActions decodes action specs into typed vault actions. Decoding is
// the one place an unknown kind can appear; past this point the action set
// is closed.
func buildActions[K comparable](specs []event.ActionSpec, keyOf func(event.ActionSpec) K) ([]vault.Action[K], error) {
	actions := make([]vault.Action[K], 0, len(specs))
	for i, spec := range specs {
		key := keyOf(spec)
		switch spec.Kind {
		case event.ActionBorrow:
			actions = append(actions, vault.BorrowAction[K]{
				Account:      spec.Account,
				Key:          key,
				Amount:       spec.Amount,
				UseInsurance: spec.UseInsurance,
			})
		case event.ActionRepay:
			actions = append(actions, vault.RepayAction[K]{
				Account: spec.Account,
				Key:     key,
				Amount:  spec.Amount,
			})
		case event.ActionClose:
			actions = append(actions, vault.CloseAction[K]{
				Account: spec.Account,
				Key:     key,
			})
		case event.ActionLiquidate:
			actions = append(actions, vault.LiquidateAction[K]{
				Caller:    spec.Account,
				Key:       key,
				Recipient: spec.Recipient,
			})
		case event.ActionRepurchase:
			actions = append(actions, vault.RepurchaseAction[K]{
				Account: spec.Account,
				Key:     key,
				Amount:  spec.Amount,
			})
		case event.ActionClaim:
			actions = append(actions, vault.ClaimAction[K]{
				Caller:    spec.Account,
				Key:       key,
				Recipient: spec.Recipient,
			})
		case event.ActionDeposit:
			actions = append(actions, vault.DepositAction[K]{
				Account: spec.Account,
				Key:     key,
				Amount:  spec.Amount,
			})
		case event.ActionWithdraw:
			actions = append(actions, vault.WithdrawAction[K]{
				Account: spec.Account,
				Key:     key,
				Amount:  spec.Amount,
			})
		case event.ActionCollectFees:
			actions = append(actions, vault.CollectFeesAction[K]{
				Caller:   spec.Account,
				Treasury: spec.Recipient,
			})
		default:
			return nil, fmt.Errorf("%w: action %d has unknown kind %d", vault.ErrInvalidInput, i, spec.Kind)
		}
	}
	return actions, nil
}

// vaultDigest serializes pool state and open positions, sorted by key path
// for determinism.
func vaultDigest[K comparable](v *vault.Vault[K]) []byte {
	pool := v.Pool()
	digest := pool.CanonicalBytes()

	type entry struct {
		path string
		pos  vault.Position
	}
	entries := make([]entry, 0, v.OpenPositionCount())
	v.Range(func(key K, pos vault.Position) bool {
		entries = append(entries, entry{path: v.KeyPath(key), pos: pos})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	for _, e := range entries {
		digest = append(digest, byte(len(e.path)))
		digest = append(digest, []byte(e.path)...)
		digest = append(digest, e.pos.CanonicalBytes()...)
	}
	return digest
}

// --- NFT runtime ---

// NFTRuntime hosts a vault whose positions are keyed by NFT token index.
// It is the only kind that supports liquidation sweeps: sweep candidates
// are named by token index alone.
type NFTRuntime struct {
	vault   *vault.Vault[vault.NFTKey]
	custody *custody.NFTCustody
	sweeper *escrow.Liquidator[vault.NFTKey]
	log     zerolog.Logger
}

func NewNFTRuntime(
	v *vault.Vault[vault.NFTKey],
	c *custody.NFTCustody,
	sweeper *escrow.Liquidator[vault.NFTKey],
	log zerolog.Logger,
) *NFTRuntime {
	return &NFTRuntime{vault: v, custody: c, sweeper: sweeper, log: log}
}

func (r *NFTRuntime) VaultID() string { return r.vault.ID() }

// Vault exposes the typed vault for queries.
func (r *NFTRuntime) Vault() *vault.Vault[vault.NFTKey] { return r.vault }

func (r *NFTRuntime) ExecuteActions(now int64, specs []event.ActionSpec) error {
	actions, err := buildActions(specs, func(spec event.ActionSpec) vault.NFTKey {
		return vault.NFTKey(spec.TokenID)
	})
	if err != nil {
		return err
	}
	return r.vault.ExecuteBatch(now, actions)
}

func (r *NFTRuntime) UpdateSettings(now int64, caller uuid.UUID, settings vault.Settings) error {
	return r.vault.SetSettings(now, caller, settings)
}

func (r *NFTRuntime) RegisterCollateral(owner uuid.UUID, tokenID uint64) error {
	r.custody.Register(owner, vault.NFTKey(tokenID))
	return nil
}

func (r *NFTRuntime) CreditCollateral(owner uuid.UUID, tokenID uint64, amount int64) error {
	return fmt.Errorf("%w: vault %s holds NFT collateral, credits are not applicable", vault.ErrInvalidInput, r.vault.ID())
}

func (r *NFTRuntime) Sweep(now int64, caller, recipient uuid.UUID, tokenIDs []uint64) error {
	if r.sweeper == nil {
		return fmt.Errorf("%w: vault %s has no liquidation sweeper", vault.ErrInvalidState, r.vault.ID())
	}
	keys := make([]vault.NFTKey, len(tokenIDs))
	for i, id := range tokenIDs {
		keys[i] = vault.NFTKey(id)
	}
	res, err := r.sweeper.LiquidateAll(now, caller, recipient, keys)
	if err != nil {
		// Positions liquidated before the failure stay liquidated; the
		// remaining candidates wait for the next sweep.
		r.log.Error().Err(err).
			Str("vault", r.vault.ID()).
			Int("liquidated", len(res.Liquidated)).
			Msg("liquidation sweep aborted")
		return err
	}
	return nil
}

func (r *NFTRuntime) StateDigest() []byte { return vaultDigest(r.vault) }

func (r *NFTRuntime) LookupPosition(owner uuid.UUID, tokenID uint64) (vault.Position, bool) {
	return r.vault.Position(vault.NFTKey(tokenID))
}

func (r *NFTRuntime) Pool() vault.DebtPool { return r.vault.Pool() }

func (r *NFTRuntime) OpenPositions() int { return r.vault.OpenPositionCount() }

func (r *NFTRuntime) SnapshotVault() *VaultSnapshot {
	positions := r.vault.SnapshotPositions()
	records := make([]PositionRecord, 0, len(positions))
	for key, pos := range positions {
		records = append(records, PositionRecord{Owner: pos.Owner, TokenID: uint64(key), Position: pos})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TokenID < records[j].TokenID })

	cs := r.custody.Snapshot()
	return &VaultSnapshot{
		VaultID:    r.vault.ID(),
		Settings:   r.vault.Settings(),
		Pool:       r.vault.Pool(),
		Positions:  records,
		CustodyNFT: &cs,
	}
}

func (r *NFTRuntime) RestoreVault(snap *VaultSnapshot) error {
	if snap.CustodyNFT == nil {
		return fmt.Errorf("snapshot for %s carries no NFT custody state", snap.VaultID)
	}
	positions := make(map[vault.NFTKey]vault.Position, len(snap.Positions))
	for _, rec := range snap.Positions {
		positions[vault.NFTKey(rec.TokenID)] = rec.Position
	}
	r.vault.RestoreState(snap.Settings, snap.Pool, positions)
	r.custody.Restore(*snap.CustodyNFT)
	return nil
}

// --- Fungible runtime ---

// FungibleRuntime hosts a vault whose positions are keyed by owner: all of
// an owner's fungible collateral backs one position. Sweeps are not
// supported; fungible liquidations arrive as explicit liquidate actions.
type FungibleRuntime struct {
	vault   *vault.Vault[vault.FungibleKey]
	custody *custody.FungibleCustody
}

func NewFungibleRuntime(v *vault.Vault[vault.FungibleKey], c *custody.FungibleCustody) *FungibleRuntime {
	return &FungibleRuntime{vault: v, custody: c}
}

func (r *FungibleRuntime) VaultID() string { return r.vault.ID() }

func (r *FungibleRuntime) Vault() *vault.Vault[vault.FungibleKey] { return r.vault }

func (r *FungibleRuntime) ExecuteActions(now int64, specs []event.ActionSpec) error {
	actions, err := buildActions(specs, func(spec event.ActionSpec) vault.FungibleKey {
		return vault.FungibleKey{Owner: spec.PositionOwner()}
	})
	if err != nil {
		return err
	}
	return r.vault.ExecuteBatch(now, actions)
}

func (r *FungibleRuntime) UpdateSettings(now int64, caller uuid.UUID, settings vault.Settings) error {
	return r.vault.SetSettings(now, caller, settings)
}

func (r *FungibleRuntime) RegisterCollateral(owner uuid.UUID, tokenID uint64) error {
	return fmt.Errorf("%w: vault %s holds fungible collateral, token registration is not applicable", vault.ErrInvalidInput, r.vault.ID())
}

func (r *FungibleRuntime) CreditCollateral(owner uuid.UUID, tokenID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be > 0, got %d", vault.ErrInvalidInput, amount)
	}
	r.custody.Credit(owner, amount)
	return nil
}

func (r *FungibleRuntime) Sweep(now int64, caller, recipient uuid.UUID, tokenIDs []uint64) error {
	return fmt.Errorf("%w: vault %s does not support liquidation sweeps", vault.ErrInvalidState, r.vault.ID())
}

func (r *FungibleRuntime) StateDigest() []byte { return vaultDigest(r.vault) }

func (r *FungibleRuntime) LookupPosition(owner uuid.UUID, tokenID uint64) (vault.Position, bool) {
	return r.vault.Position(vault.FungibleKey{Owner: owner})
}

func (r *FungibleRuntime) Pool() vault.DebtPool { return r.vault.Pool() }

func (r *FungibleRuntime) OpenPositions() int { return r.vault.OpenPositionCount() }

func (r *FungibleRuntime) SnapshotVault() *VaultSnapshot {
	positions := r.vault.SnapshotPositions()
	records := make([]PositionRecord, 0, len(positions))
	for key, pos := range positions {
		records = append(records, PositionRecord{Owner: key.Owner, Position: pos})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Owner.String() < records[j].Owner.String()
	})

	cs := r.custody.Snapshot()
	return &VaultSnapshot{
		VaultID:         r.vault.ID(),
		Settings:        r.vault.Settings(),
		Pool:            r.vault.Pool(),
		Positions:       records,
		CustodyFungible: &cs,
	}
}

func (r *FungibleRuntime) RestoreVault(snap *VaultSnapshot) error {
	if snap.CustodyFungible == nil {
		return fmt.Errorf("snapshot for %s carries no fungible custody state", snap.VaultID)
	}
	positions := make(map[vault.FungibleKey]vault.Position, len(snap.Positions))
	for _, rec := range snap.Positions {
		positions[vault.FungibleKey{Owner: rec.Owner}] = rec.Position
	}
	r.vault.RestoreState(snap.Settings, snap.Pool, positions)
	r.custody.Restore(*snap.CustodyFungible)
	return nil
}

// --- Semi-fungible runtime ---

// SemiFungibleRuntime hosts a vault keyed by (owner, token index).
type SemiFungibleRuntime struct {
	vault   *vault.Vault[vault.SemiFungibleKey]
	custody *custody.SemiFungibleCustody
}

func NewSemiFungibleRuntime(v *vault.Vault[vault.SemiFungibleKey], c *custody.SemiFungibleCustody) *SemiFungibleRuntime {
	return &SemiFungibleRuntime{vault: v, custody: c}
}

func (r *SemiFungibleRuntime) VaultID() string { return r.vault.ID() }

func (r *SemiFungibleRuntime) Vault() *vault.Vault[vault.SemiFungibleKey] { return r.vault }

func (r *SemiFungibleRuntime) ExecuteActions(now int64, specs []event.ActionSpec) error {
	actions, err := buildActions(specs, func(spec event.ActionSpec) vault.SemiFungibleKey {
		return vault.SemiFungibleKey{Owner: spec.PositionOwner(), TokenID: spec.TokenID}
	})
	if err != nil {
		return err
	}
	return r.vault.ExecuteBatch(now, actions)
}

func (r *SemiFungibleRuntime) UpdateSettings(now int64, caller uuid.UUID, settings vault.Settings) error {
	return r.vault.SetSettings(now, caller, settings)
}

func (r *SemiFungibleRuntime) RegisterCollateral(owner uuid.UUID, tokenID uint64) error {
	return fmt.Errorf("%w: vault %s holds semi-fungible collateral, token registration is not applicable", vault.ErrInvalidInput, r.vault.ID())
}

func (r *SemiFungibleRuntime) CreditCollateral(owner uuid.UUID, tokenID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be > 0, got %d", vault.ErrInvalidInput, amount)
	}
	r.custody.Credit(vault.SemiFungibleKey{Owner: owner, TokenID: tokenID}, amount)
	return nil
}

func (r *SemiFungibleRuntime) Sweep(now int64, caller, recipient uuid.UUID, tokenIDs []uint64) error {
	return fmt.Errorf("%w: vault %s does not support liquidation sweeps", vault.ErrInvalidState, r.vault.ID())
}

func (r *SemiFungibleRuntime) StateDigest() []byte { return vaultDigest(r.vault) }

func (r *SemiFungibleRuntime) LookupPosition(owner uuid.UUID, tokenID uint64) (vault.Position, bool) {
	return r.vault.Position(vault.SemiFungibleKey{Owner: owner, TokenID: tokenID})
}

func (r *SemiFungibleRuntime) Pool() vault.DebtPool { return r.vault.Pool() }

func (r *SemiFungibleRuntime) OpenPositions() int { return r.vault.OpenPositionCount() }

func (r *SemiFungibleRuntime) SnapshotVault() *VaultSnapshot {
	positions := r.vault.SnapshotPositions()
	records := make([]PositionRecord, 0, len(positions))
	for key, pos := range positions {
		records = append(records, PositionRecord{Owner: key.Owner, TokenID: key.TokenID, Position: pos})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Owner != records[j].Owner {
			return records[i].Owner.String() < records[j].Owner.String()
		}
		return records[i].TokenID < records[j].TokenID
	})

	cs := r.custody.Snapshot()
	return &VaultSnapshot{
		VaultID:             r.vault.ID(),
		Settings:            r.vault.Settings(),
		Pool:                r.vault.Pool(),
		Positions:           records,
		CustodySemiFungible: &cs,
	}
}

func (r *SemiFungibleRuntime) RestoreVault(snap *VaultSnapshot) error {
	if snap.CustodySemiFungible == nil {
		return fmt.Errorf("snapshot for %s carries no semi-fungible custody state", snap.VaultID)
	}
	positions := make(map[vault.SemiFungibleKey]vault.Position, len(snap.Positions))
	for _, rec := range snap.Positions {
		positions[vault.SemiFungibleKey{Owner: rec.Owner, TokenID: rec.TokenID}] = rec.Position
	}
	r.vault.RestoreState(snap.Settings, snap.Pool, positions)
	r.custody.Restore(*snap.CustodySemiFungible)
	return nil
}
