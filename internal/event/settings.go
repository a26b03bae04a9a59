package event

import (
	"fmt"
	"time"

	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// SettingsUpdate replaces one vault's economic parameters. Validation of
// the rates happens in the core, where a bad update is rejected.
type SettingsUpdate struct {
	Vault  string
	Caller uuid.UUID

	DebtInterestAPR                 fpmath.Rate
	OrganizationFeeRate             fpmath.Rate
	InsurancePurchaseRate           fpmath.Rate
	InsuranceLiquidationPenaltyRate fpmath.Rate
	InsuranceRepurchaseTimeLimit    int64
	BorrowAmountCap                 int64

	UpdateSequence int64
	Timestamp      time.Time
}

func (s *SettingsUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:settings:%d", s.Vault, s.UpdateSequence)
}

func (s *SettingsUpdate) EventType() EventType {
	return EventTypeSettingsUpdate
}

func (s *SettingsUpdate) VaultID() *string {
	v := s.Vault
	return &v
}

func (s *SettingsUpdate) SourceSequence() int64 {
	return s.UpdateSequence
}
