package custody

import (
	"sort"

	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// Snapshot state for each custody kind. The maps are copies; mutating a
// snapshot after capture does not touch the live custody.

// NFTState is the serializable form of an NFTCustody.
type NFTState struct {
	Holders  map[uint64]uuid.UUID `json:"holders"`
	Escrowed map[uint64]bool      `json:"escrowed"`
}

func (c *NFTCustody) Snapshot() NFTState {
	s := NFTState{
		Holders:  make(map[uint64]uuid.UUID, len(c.holders)),
		Escrowed: make(map[uint64]bool, len(c.escrowed)),
	}
	for key, owner := range c.holders {
		s.Holders[uint64(key)] = owner
	}
	for key, inEscrow := range c.escrowed {
		if inEscrow {
			s.Escrowed[uint64(key)] = true
		}
	}
	return s
}

func (c *NFTCustody) Restore(s NFTState) {
	c.holders = make(map[vault.NFTKey]uuid.UUID, len(s.Holders))
	c.escrowed = make(map[vault.NFTKey]bool, len(s.Escrowed))
	for key, owner := range s.Holders {
		c.holders[vault.NFTKey(key)] = owner
	}
	for key, inEscrow := range s.Escrowed {
		if inEscrow {
			c.escrowed[vault.NFTKey(key)] = true
		}
	}
}

// FungibleState is the serializable form of a FungibleCustody.
type FungibleState struct {
	Free     map[uuid.UUID]int64 `json:"free"`
	Escrowed map[uuid.UUID]int64 `json:"escrowed"`
}

func (c *FungibleCustody) Snapshot() FungibleState {
	s := FungibleState{
		Free:     make(map[uuid.UUID]int64, len(c.free)),
		Escrowed: make(map[uuid.UUID]int64, len(c.escrowed)),
	}
	for owner, amount := range c.free {
		s.Free[owner] = amount
	}
	for owner, amount := range c.escrowed {
		s.Escrowed[owner] = amount
	}
	return s
}

func (c *FungibleCustody) Restore(s FungibleState) {
	c.free = make(map[uuid.UUID]int64, len(s.Free))
	c.escrowed = make(map[uuid.UUID]int64, len(s.Escrowed))
	for owner, amount := range s.Free {
		c.free[owner] = amount
	}
	for owner, amount := range s.Escrowed {
		c.escrowed[owner] = amount
	}
}

// SemiFungibleEntry is one (owner, token) holding. Slices rather than a
// keyed map because SemiFungibleKey is a struct and JSON map keys must be
// strings.
type SemiFungibleEntry struct {
	Owner   uuid.UUID `json:"owner"`
	TokenID uint64    `json:"token_id"`
	Amount  int64     `json:"amount"`
}

// SemiFungibleState is the serializable form of a SemiFungibleCustody.
type SemiFungibleState struct {
	Free     []SemiFungibleEntry `json:"free"`
	Escrowed []SemiFungibleEntry `json:"escrowed"`
}

func semiFungibleEntries(m map[vault.SemiFungibleKey]int64) []SemiFungibleEntry {
	entries := make([]SemiFungibleEntry, 0, len(m))
	for key, amount := range m {
		entries = append(entries, SemiFungibleEntry{
			Owner:   key.Owner,
			TokenID: key.TokenID,
			Amount:  amount,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Owner != entries[j].Owner {
			return entries[i].Owner.String() < entries[j].Owner.String()
		}
		return entries[i].TokenID < entries[j].TokenID
	})
	return entries
}

func (c *SemiFungibleCustody) Snapshot() SemiFungibleState {
	return SemiFungibleState{
		Free:     semiFungibleEntries(c.free),
		Escrowed: semiFungibleEntries(c.escrowed),
	}
}

func (c *SemiFungibleCustody) Restore(s SemiFungibleState) {
	c.free = make(map[vault.SemiFungibleKey]int64, len(s.Free))
	c.escrowed = make(map[vault.SemiFungibleKey]int64, len(s.Escrowed))
	for _, e := range s.Free {
		c.free[vault.SemiFungibleKey{Owner: e.Owner, TokenID: e.TokenID}] = e.Amount
	}
	for _, e := range s.Escrowed {
		c.escrowed[vault.SemiFungibleKey{Owner: e.Owner, TokenID: e.TokenID}] = e.Amount
	}
}
