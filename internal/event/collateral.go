package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CollateralRegistered records NFT ownership reported by the chain
// indexer; custody refuses escrow for unregistered tokens.
type CollateralRegistered struct {
	Vault         string
	Owner         uuid.UUID
	TokenID       uint64
	IndexSequence int64
	Timestamp     time.Time
}

func (c *CollateralRegistered) IdempotencyKey() string {
	return fmt.Sprintf("%s:register:%d:%d", c.Vault, c.TokenID, c.IndexSequence)
}

func (c *CollateralRegistered) EventType() EventType {
	return EventTypeCollateralRegistered
}

func (c *CollateralRegistered) VaultID() *string {
	v := c.Vault
	return &v
}

func (c *CollateralRegistered) SourceSequence() int64 {
	return c.IndexSequence
}

// CollateralCredited adds to an owner's free fungible collateral balance
// after an on-chain deposit confirms.
type CollateralCredited struct {
	Vault         string
	Owner         uuid.UUID
	TokenID       uint64 // semi-fungible vaults only; zero for fungible
	Amount        int64  // Fixed-point: stablecoin scale
	IndexSequence int64
	Timestamp     time.Time
}

func (c *CollateralCredited) IdempotencyKey() string {
	return fmt.Sprintf("%s:credit:%s:%d", c.Vault, c.Owner, c.IndexSequence)
}

func (c *CollateralCredited) EventType() EventType {
	return EventTypeCollateralCredited
}

func (c *CollateralCredited) VaultID() *string {
	v := c.Vault
	return &v
}

func (c *CollateralCredited) SourceSequence() int64 {
	return c.IndexSequence
}
