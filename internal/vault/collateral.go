package vault

import (
	"fmt"

	"github.com/google/uuid"
)

// Collateral keys. The ledger is generic over the key type so the three
// collateral kinds (NFT-per-index, fungible-per-owner, semi-fungible-per-
// owner-and-index) share one implementation instead of three near-duplicate
// ledgers. Each kind keeps its own credit-limit formula inside its
// ValueProvider.

// NFTKey identifies a position by NFT token index.
type NFTKey uint64

// FungibleKey identifies a position by its owner; all of an owner's
// fungible collateral backs one position.
type FungibleKey struct {
	Owner uuid.UUID
}

// SemiFungibleKey identifies a position by owner and token index.
type SemiFungibleKey struct {
	Owner   uuid.UUID
	TokenID uint64
}

// CollateralCustody is the narrow capability the ledger uses to move
// collateral. Transfers are atomic, all-or-nothing per call.
type CollateralCustody[K comparable] interface {
	// TransferIn pulls collateral from the owner into vault escrow.
	TransferIn(from uuid.UUID, key K, amount int64) error

	// TransferOut releases escrowed collateral.
	TransferOut(to uuid.UUID, key K, amount int64) error

	// OpenAmount is the collateral amount implicitly pulled when a borrow
	// opens a position without a prior deposit: 1 for NFT keys (the token
	// itself), 0 for fungible kinds (which require an explicit deposit).
	OpenAmount() int64

	// KeyPath renders the key in canonical string form for logging,
	// hashing, and projections.
	KeyPath(key K) string
}

// KeyPath helpers shared by custody implementations.

func NFTKeyPath(vaultID string, key NFTKey) string {
	return fmt.Sprintf("%s:nft:%d", vaultID, key)
}

func FungibleKeyPath(vaultID string, key FungibleKey) string {
	return fmt.Sprintf("%s:fungible:%s", vaultID, key.Owner)
}

func SemiFungibleKeyPath(vaultID string, key SemiFungibleKey) string {
	return fmt.Sprintf("%s:semifungible:%s:%d", vaultID, key.Owner, key.TokenID)
}
