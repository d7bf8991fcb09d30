package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// BidPlaced is published after a bid commits. Subject: auction.bids.{listingID}.
type BidPlaced struct {
	BidID          string    `json:"bid_id"`
	ListingID      string    `json:"listing_id"`
	BidderID       string    `json:"bidder_id"`
	Amount         int64     `json:"amount"`
	PreviousAmount int64     `json:"previous_amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// ListingClosed is published after a listing finalizes. Subject: auction.closed.
type ListingClosed struct {
	ListingID    string    `json:"listing_id"`
	WinningBidID string    `json:"winning_bid_id,omitempty"`
	WinnerID     string    `json:"winner_id,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher emits best-effort auction events over NATS for downstream
// consumers (archival, analytics). Publish failures are logged and
// swallowed: the write path never depends on the event stream.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Publisher{nc: nc}, nil
}

// PublishBidPlaced emits a bid event on auction.bids.{listingID}.
func (p *Publisher) PublishBidPlaced(event BidPlaced) {
	if p == nil || p.nc == nil {
		return
	}
	p.publish(fmt.Sprintf("auction.bids.%s", event.ListingID), event)
}

// PublishListingClosed emits a finalization event on auction.closed.
func (p *Publisher) PublishListingClosed(event ListingClosed) {
	if p == nil || p.nc == nil {
		return
	}
	p.publish("auction.closed", event)
}

func (p *Publisher) publish(subject string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event")
		return
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain nats connection")
	}
}
