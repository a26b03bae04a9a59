package event

import "fmt"

// FloorPriceUpdate carries one oracle reading for a collateral symbol.
// Price feeds are gap-tolerant: only newer readings are applied.
type FloorPriceUpdate struct {
	Symbol         string
	Price          int64 // Fixed-point: price scale (decimal_precision=6)
	PriceSequence  int64 // Monotonic per symbol
	PriceTimestamp int64 // Epoch seconds (versioned input)
}

func (p *FloorPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Symbol, p.PriceSequence)
}

func (p *FloorPriceUpdate) EventType() EventType {
	return EventTypeFloorPriceUpdate
}

func (p *FloorPriceUpdate) VaultID() *string {
	return nil
}

func (p *FloorPriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
