package custody

import (
	"fmt"

	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// Custody implementations for the three collateral kinds. Each adapter
// tracks what the vault holds in escrow and satisfies the narrow
// CollateralCustody capability; the vault never sees holder bookkeeping.

// NFTCustody escrows one token per position key.
type NFTCustody struct {
	vaultID  string
	holders  map[vault.NFTKey]uuid.UUID
	escrowed map[vault.NFTKey]bool
}

func NewNFTCustody(vaultID string) *NFTCustody {
	return &NFTCustody{
		vaultID:  vaultID,
		holders:  make(map[vault.NFTKey]uuid.UUID),
		escrowed: make(map[vault.NFTKey]bool),
	}
}

// Register records token ownership reported by the upstream chain indexer.
func (c *NFTCustody) Register(owner uuid.UUID, key vault.NFTKey) {
	c.holders[key] = owner
}

// HolderOf returns the current holder of a token.
func (c *NFTCustody) HolderOf(key vault.NFTKey) (uuid.UUID, bool) {
	holder, ok := c.holders[key]
	return holder, ok
}

// InEscrow reports whether the vault currently holds the token.
func (c *NFTCustody) InEscrow(key vault.NFTKey) bool {
	return c.escrowed[key]
}

func (c *NFTCustody) TransferIn(from uuid.UUID, key vault.NFTKey, amount int64) error {
	holder, ok := c.holders[key]
	if !ok {
		return fmt.Errorf("token %d is not registered", key)
	}
	if holder != from {
		return fmt.Errorf("token %d is held by %s, not %s", key, holder, from)
	}
	if c.escrowed[key] {
		return fmt.Errorf("token %d is already escrowed", key)
	}
	c.escrowed[key] = true
	return nil
}

func (c *NFTCustody) TransferOut(to uuid.UUID, key vault.NFTKey, amount int64) error {
	if !c.escrowed[key] {
		return fmt.Errorf("token %d is not escrowed", key)
	}
	c.escrowed[key] = false
	c.holders[key] = to
	return nil
}

// OpenAmount is 1: borrowing against an NFT pulls the token itself.
func (c *NFTCustody) OpenAmount() int64 { return 1 }

func (c *NFTCustody) KeyPath(key vault.NFTKey) string {
	return vault.NFTKeyPath(c.vaultID, key)
}

// FungibleCustody escrows divisible collateral per owner. Free balances are
// credited by the upstream deposit indexer; escrow moves between the free
// and escrowed buckets.
type FungibleCustody struct {
	vaultID  string
	free     map[uuid.UUID]int64
	escrowed map[uuid.UUID]int64
}

func NewFungibleCustody(vaultID string) *FungibleCustody {
	return &FungibleCustody{
		vaultID:  vaultID,
		free:     make(map[uuid.UUID]int64),
		escrowed: make(map[uuid.UUID]int64),
	}
}

// Credit adds to an owner's free collateral balance.
func (c *FungibleCustody) Credit(owner uuid.UUID, amount int64) {
	c.free[owner] += amount
}

// FreeBalance returns an owner's unescrowed collateral.
func (c *FungibleCustody) FreeBalance(owner uuid.UUID) int64 {
	return c.free[owner]
}

// EscrowedBalance returns what the vault holds for an owner.
func (c *FungibleCustody) EscrowedBalance(owner uuid.UUID) int64 {
	return c.escrowed[owner]
}

func (c *FungibleCustody) TransferIn(from uuid.UUID, key vault.FungibleKey, amount int64) error {
	if c.free[from] < amount {
		return fmt.Errorf("free balance %d below %d for %s", c.free[from], amount, from)
	}
	c.free[from] -= amount
	c.escrowed[key.Owner] += amount
	return nil
}

func (c *FungibleCustody) TransferOut(to uuid.UUID, key vault.FungibleKey, amount int64) error {
	if c.escrowed[key.Owner] < amount {
		return fmt.Errorf("escrowed balance %d below %d for %s", c.escrowed[key.Owner], amount, key.Owner)
	}
	c.escrowed[key.Owner] -= amount
	c.free[to] += amount
	return nil
}

// OpenAmount is 0: fungible positions require an explicit deposit before
// the first borrow.
func (c *FungibleCustody) OpenAmount() int64 { return 0 }

func (c *FungibleCustody) KeyPath(key vault.FungibleKey) string {
	return vault.FungibleKeyPath(c.vaultID, key)
}

// SemiFungibleCustody escrows per owner and token index.
type SemiFungibleCustody struct {
	vaultID  string
	free     map[vault.SemiFungibleKey]int64
	escrowed map[vault.SemiFungibleKey]int64
}

func NewSemiFungibleCustody(vaultID string) *SemiFungibleCustody {
	return &SemiFungibleCustody{
		vaultID:  vaultID,
		free:     make(map[vault.SemiFungibleKey]int64),
		escrowed: make(map[vault.SemiFungibleKey]int64),
	}
}

// Credit adds to an owner's free balance for one token index.
func (c *SemiFungibleCustody) Credit(key vault.SemiFungibleKey, amount int64) {
	c.free[key] += amount
}

// FreeBalance returns the unescrowed balance for one key.
func (c *SemiFungibleCustody) FreeBalance(key vault.SemiFungibleKey) int64 {
	return c.free[key]
}

// EscrowedBalance returns what the vault holds for one key.
func (c *SemiFungibleCustody) EscrowedBalance(key vault.SemiFungibleKey) int64 {
	return c.escrowed[key]
}

func (c *SemiFungibleCustody) TransferIn(from uuid.UUID, key vault.SemiFungibleKey, amount int64) error {
	if key.Owner != from {
		return fmt.Errorf("key owner %s does not match sender %s", key.Owner, from)
	}
	if c.free[key] < amount {
		return fmt.Errorf("free balance %d below %d for %s token %d",
			c.free[key], amount, key.Owner, key.TokenID)
	}
	c.free[key] -= amount
	c.escrowed[key] += amount
	return nil
}

func (c *SemiFungibleCustody) TransferOut(to uuid.UUID, key vault.SemiFungibleKey, amount int64) error {
	if c.escrowed[key] < amount {
		return fmt.Errorf("escrowed balance %d below %d for %s token %d",
			c.escrowed[key], amount, key.Owner, key.TokenID)
	}
	c.escrowed[key] -= amount
	c.free[vault.SemiFungibleKey{Owner: to, TokenID: key.TokenID}] += amount
	return nil
}

func (c *SemiFungibleCustody) OpenAmount() int64 { return 0 }

func (c *SemiFungibleCustody) KeyPath(key vault.SemiFungibleKey) string {
	return vault.SemiFungibleKeyPath(c.vaultID, key)
}
