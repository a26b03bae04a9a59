package custody_test

import (
	"testing"

	"VaultLedger/internal/custody"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// ============================================================================
// Test: NFTCustody
// ============================================================================

func TestNFTCustody_EscrowRoundTrip(t *testing.T) {
	c := custody.NewNFTCustody("punks")
	owner := uuid.New()
	c.Register(owner, 7)

	if err := c.TransferIn(owner, 7, 1); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if !c.InEscrow(7) {
		t.Error("token should be escrowed")
	}

	if err := c.TransferOut(owner, 7, 1); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if c.InEscrow(7) {
		t.Error("token should be released")
	}
	if holder, _ := c.HolderOf(7); holder != owner {
		t.Errorf("holder: got %s, want %s", holder, owner)
	}
}

func TestNFTCustody_RejectsWrongHolder(t *testing.T) {
	c := custody.NewNFTCustody("punks")
	owner := uuid.New()
	c.Register(owner, 7)

	if err := c.TransferIn(uuid.New(), 7, 1); err == nil {
		t.Error("transfer by non-holder should fail")
	}
	if err := c.TransferIn(owner, 8, 1); err == nil {
		t.Error("transfer of unregistered token should fail")
	}
}

func TestNFTCustody_RejectsDoubleEscrow(t *testing.T) {
	c := custody.NewNFTCustody("punks")
	owner := uuid.New()
	c.Register(owner, 7)

	if err := c.TransferIn(owner, 7, 1); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if err := c.TransferIn(owner, 7, 1); err == nil {
		t.Error("second escrow of the same token should fail")
	}
}

func TestNFTCustody_KeyPath(t *testing.T) {
	c := custody.NewNFTCustody("punks")
	if got := c.KeyPath(7); got != "punks:nft:7" {
		t.Errorf("got %q, want %q", got, "punks:nft:7")
	}
	if got := c.OpenAmount(); got != 1 {
		t.Errorf("open amount: got %d, want 1", got)
	}
}

// ============================================================================
// Test: FungibleCustody
// ============================================================================

func TestFungibleCustody_EscrowRoundTrip(t *testing.T) {
	c := custody.NewFungibleCustody("weth")
	owner := uuid.New()
	key := vault.FungibleKey{Owner: owner}
	c.Credit(owner, 1_000_000)

	if err := c.TransferIn(owner, key, 400_000); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if got := c.FreeBalance(owner); got != 600_000 {
		t.Errorf("free: got %d, want 600_000", got)
	}
	if got := c.EscrowedBalance(owner); got != 400_000 {
		t.Errorf("escrowed: got %d, want 400_000", got)
	}

	if err := c.TransferOut(owner, key, 400_000); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got := c.FreeBalance(owner); got != 1_000_000 {
		t.Errorf("free after release: got %d, want 1_000_000", got)
	}
}

func TestFungibleCustody_InsufficientFree(t *testing.T) {
	c := custody.NewFungibleCustody("weth")
	owner := uuid.New()
	c.Credit(owner, 100)

	if err := c.TransferIn(owner, vault.FungibleKey{Owner: owner}, 101); err == nil {
		t.Error("escrow above free balance should fail")
	}
	if got := c.OpenAmount(); got != 0 {
		t.Errorf("open amount: got %d, want 0", got)
	}
}

// ============================================================================
// Test: SemiFungibleCustody
// ============================================================================

func TestSemiFungibleCustody_EscrowRoundTrip(t *testing.T) {
	c := custody.NewSemiFungibleCustody("lands")
	owner := uuid.New()
	key := vault.SemiFungibleKey{Owner: owner, TokenID: 3}
	c.Credit(key, 50)

	if err := c.TransferIn(owner, key, 20); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if got := c.EscrowedBalance(key); got != 20 {
		t.Errorf("escrowed: got %d, want 20", got)
	}

	if err := c.TransferOut(owner, key, 20); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got := c.FreeBalance(key); got != 50 {
		t.Errorf("free after release: got %d, want 50", got)
	}
}

func TestSemiFungibleCustody_OwnerMismatch(t *testing.T) {
	c := custody.NewSemiFungibleCustody("lands")
	owner := uuid.New()
	key := vault.SemiFungibleKey{Owner: owner, TokenID: 3}
	c.Credit(key, 50)

	if err := c.TransferIn(uuid.New(), key, 10); err == nil {
		t.Error("escrow by non-owner should fail")
	}
}
