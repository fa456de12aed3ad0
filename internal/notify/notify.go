// Package notify delivers trip lifecycle events into per-user inboxes.
// Delivery is a side channel: the transition that triggered an event has
// already committed, so a failed append is logged and retried by the
// notifier worker, never propagated into the state machine.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
)

// Notifier pushes one event toward the target user's inbox.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// InboxNotifier appends directly to the store-backed inbox. Used when no
// broker is configured.
type InboxNotifier struct {
	Store store.Store
}

func (i *InboxNotifier) Notify(ctx context.Context, n models.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := i.Store.AppendChild(ctx, store.NotificationsPath(n.UserID), store.Marshal(n))
	return err
}

// KafkaNotifier publishes events to the notification topic; the notifier
// worker consumes the topic and lands events in inboxes with its own retry
// policy.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaNotifier{writer: w}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n models.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(n)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.UserID), Value: b})
}

func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Inbox reads a user's notifications back out of the store.
type Inbox struct {
	Store store.Store
}

// List returns the user's notifications in append order, optionally filtered
// by kind (empty kind means all). Malformed records are skipped rather than
// surfaced.
func (b *Inbox) List(ctx context.Context, userID string, kind models.NotificationKind) ([]models.Notification, error) {
	items, err := b.Store.List(ctx, store.NotificationsPath(userID))
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(items))
	for _, it := range items {
		var n models.Notification
		if err := json.Unmarshal(it.Value, &n); err != nil {
			continue
		}
		if n.Validate() != nil {
			continue
		}
		if kind != "" && n.Kind != kind {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Messages for the four event kinds, matching what the mobile clients show.

func AcceptedMessage(passengerID string) string {
	return fmt.Sprintf("%s has accepted your trip.", passengerID)
}

func PassengerCancelledMessage(passengerID string) string {
	return fmt.Sprintf("%s has cancelled their seat on your trip.", passengerID)
}

func DriverCancelledMessage(driverID string) string {
	return fmt.Sprintf("Driver %s has cancelled the trip.", driverID)
}

func TripStartedMessage(driverID string) string {
	return fmt.Sprintf("Driver %s has started the trip.", driverID)
}
