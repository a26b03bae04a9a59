package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeActionBatch
	EventTypeFloorPriceUpdate
	EventTypeSettingsUpdate
	EventTypeCollateralRegistered
	EventTypeCollateralCredited
	EventTypeLiquidationSweep
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Vault context (nullable for global events)
	VaultID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// VaultID returns the vault context (nil for global events)
	VaultID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeActionBatch:
		return "ActionBatch"
	case EventTypeFloorPriceUpdate:
		return "FloorPriceUpdate"
	case EventTypeSettingsUpdate:
		return "SettingsUpdate"
	case EventTypeCollateralRegistered:
		return "CollateralRegistered"
	case EventTypeCollateralCredited:
		return "CollateralCredited"
	case EventTypeLiquidationSweep:
		return "LiquidationSweep"
	default:
		return "Unknown"
	}
}
