package ingestion

import (
	"context"
	"fmt"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/oracle"

	"github.com/google/uuid"
)

// AdminIngestService provides manual event injection for admin and
// operational tooling. High-throughput ingestion goes through NATS; this
// path exists for price corrections, emergency sweeps, and settings
// changes driven by an operator.
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// InjectFloorPrice manually injects a FloorPriceUpdate event. The price is
// a decimal string converted at this boundary.
func (s *AdminIngestService) InjectFloorPrice(
	ctx context.Context,
	symbol string,
	price string,
	priceSequence int64,
) error {
	if symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	value, err := oracle.ParsePrice(price)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}

	evt := &event.FloorPriceUpdate{
		Symbol:         symbol,
		Price:          value,
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().Unix(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectActionBatch manually injects a single-action batch on behalf of an
// operator-driven account.
func (s *AdminIngestService) InjectActionBatch(
	ctx context.Context,
	vaultID string,
	spec event.ActionSpec,
	batchSequence int64,
) error {
	if vaultID == "" {
		return fmt.Errorf("vault must not be empty")
	}
	if spec.Kind == event.ActionUnknown {
		return fmt.Errorf("action kind must be set")
	}

	evt := &event.ActionBatch{
		BatchID:       uuid.New(),
		Vault:         vaultID,
		Actions:       []event.ActionSpec{spec},
		BatchSequence: batchSequence,
		Timestamp:     time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSweep manually injects a LiquidationSweep for the given candidates.
func (s *AdminIngestService) InjectSweep(
	ctx context.Context,
	vaultID string,
	caller, recipient uuid.UUID,
	tokenIDs []uint64,
	sweepSequence int64,
) error {
	if vaultID == "" {
		return fmt.Errorf("vault must not be empty")
	}
	if len(tokenIDs) == 0 {
		return fmt.Errorf("sweep needs at least one candidate")
	}

	evt := &event.LiquidationSweep{
		SweepID:       uuid.New(),
		Vault:         vaultID,
		Caller:        caller,
		Recipient:     recipient,
		TokenIDs:      tokenIDs,
		SweepSequence: sweepSequence,
		Timestamp:     time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
