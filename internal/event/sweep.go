package event

import (
	"time"

	"github.com/google/uuid"
)

// LiquidationSweep asks the core to attempt liquidation of the listed
// candidate positions. Healthy candidates are skipped; a caller balance
// shortfall aborts the sweep.
type LiquidationSweep struct {
	SweepID   uuid.UUID // Idempotency key
	Vault     string
	Caller    uuid.UUID
	Recipient uuid.UUID
	TokenIDs  []uint64

	SweepSequence int64
	Timestamp     time.Time
}

func (s *LiquidationSweep) IdempotencyKey() string {
	return s.SweepID.String()
}

func (s *LiquidationSweep) EventType() EventType {
	return EventTypeLiquidationSweep
}

func (s *LiquidationSweep) VaultID() *string {
	v := s.Vault
	return &v
}

func (s *LiquidationSweep) SourceSequence() int64 {
	return s.SweepSequence
}
