package services

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"gate-checkin/models"
)

// Notifier fans check-ins out to the other gates of an event.
type Notifier interface {
	CheckedIn(ctx context.Context, eventID int64, ids []models.TicketID, scanned int64)
}

type NopNotifier struct{}

func (NopNotifier) CheckedIn(context.Context, int64, []models.TicketID, int64) {}

// CheckInMessage is published on gate-event-<id>.
type CheckInMessage struct {
	Type      string            `json:"type"`
	EventID   int64             `json:"event_id"`
	TicketIDs []models.TicketID `json:"ticket_ids"`
	Scanned   int64             `json:"scanned"`
}

type PubNubNotifier struct {
	publish func(channel string, msg any) error
}

func NewPubNubNotifier(publishKey, subscribeKey, secretKey string) *PubNubNotifier {
	cfg := pubnub.NewConfig()
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	pn := pubnub.NewPubNub(cfg)

	return &PubNubNotifier{publish: func(channel string, msg any) error {
		_, _, err := pn.Publish().
			Channel(channel).
			Message(msg).
			Execute()
		return err
	}}
}

func EventChannel(eventID int64) string {
	return fmt.Sprintf("gate-event-%d", eventID)
}

// CheckedIn publishes and logs failures; a lost notification never fails a
// check-in.
func (n *PubNubNotifier) CheckedIn(ctx context.Context, eventID int64, ids []models.TicketID, scanned int64) {
	msg := CheckInMessage{Type: "checkin", EventID: eventID, TicketIDs: ids, Scanned: scanned}
	if err := n.publish(EventChannel(eventID), msg); err != nil {
		slog.WarnContext(ctx, "publish check-in failed", "event_id", eventID, "error", err)
	}
}
