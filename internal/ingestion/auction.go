package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AuctionSubject receives seized collateral lots for downstream resale
// services.
const AuctionSubject = "vault.auctions.lots"

// NATSAuction forwards seized collateral to the auction stream. Lots are
// published synchronously so a sweep only reports success once the lot is
// accepted by JetStream.
type NATSAuction struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewNATSAuction(js jetstream.JetStream, log zerolog.Logger) *NATSAuction {
	return &NATSAuction{js: js, log: log}
}

type auctionLotJSON struct {
	Lot       string    `json:"lot"`
	Seller    string    `json:"seller"`
	MinBid    string    `json:"min_bid"`
	Timestamp time.Time `json:"timestamp"`
}

// Submit publishes one lot. The lot string is the position's canonical key
// path and doubles as the JetStream dedup ID, so a replayed sweep does not
// list the same collateral twice.
func (a *NATSAuction) Submit(lot string, seller uuid.UUID, minBid decimal.Decimal) error {
	data, err := json.Marshal(auctionLotJSON{
		Lot:       lot,
		Seller:    seller.String(),
		MinBid:    minBid.String(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal auction lot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := a.js.Publish(ctx, AuctionSubject, data, jetstream.WithMsgID(lot)); err != nil {
		return fmt.Errorf("publish auction lot %s: %w", lot, err)
	}

	a.log.Info().Str("lot", lot).Str("min_bid", minBid.String()).Msg("auction lot submitted")
	return nil
}

// EnsureAuctionStream creates the auction lots stream.
func EnsureAuctionStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_AUCTIONS",
		Subjects:  []string{"vault.auctions.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create auction stream: %w", err)
	}
	log.Info().Msg("ensured auction stream VAULT_AUCTIONS")
	return nil
}
