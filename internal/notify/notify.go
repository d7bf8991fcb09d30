package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notification is a fire-and-forget message to a single user.
type Notification struct {
	UserID    string `json:"user_id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ListingID string `json:"listing_id,omitempty"`
}

// Notifier is the out-of-band delivery capability. Implementations must
// never be load-bearing: callers log failures and move on, a failed
// delivery never rolls back ledger state.
type Notifier interface {
	NotifyUser(ctx context.Context, n Notification) error
	Broadcast(ctx context.Context, topic string, payload interface{}) error
}

// LogNotifier writes notifications to the structured log. It is the
// fallback when no Redis address is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyUser(_ context.Context, n Notification) error {
	log.Info().
		Str("component", "notifier").
		Str("user_id", n.UserID).
		Str("subject", n.Subject).
		Str("listing_id", n.ListingID).
		Msg("notification delivered to log sink")
	return nil
}

func (LogNotifier) Broadcast(_ context.Context, topic string, _ interface{}) error {
	log.Info().
		Str("component", "notifier").
		Str("topic", topic).
		Msg("broadcast delivered to log sink")
	return nil
}
