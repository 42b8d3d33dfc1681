package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"solduel/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Envelope wraps every published event with routing metadata
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Notifier forwards domain events to the NATS event stream
type Notifier struct {
	client *NATSClient
}

// NewNotifier creates a new notifier on top of a connected NATS client
func NewNotifier(client *NATSClient) *Notifier {
	return &Notifier{client: client}
}

// Notify publishes one event, wrapped in an envelope, to its subject
func (n *Notifier) Notify(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := Envelope{
		EventID:   uuid.NewString(),
		EventType: string(event.Type()),
		Timestamp: time.Now().UTC(),
		Source:    "solduel",
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := subjectPrefix + string(event.Type())
	if err := n.client.Publish(subject, data); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"eventType": event.Type(),
		"eventId":   envelope.EventID,
		"subject":   subject,
	}).Debug("Published event to NATS")

	return nil
}

// SubscribeAll wires the notifier to the in-process bus: every broadcast
// domain event is forwarded to the stream
func (n *Notifier) SubscribeAll(bus *events.Bus) {
	forward := func(ctx context.Context, event events.Event) {
		if err := n.Notify(event); err != nil {
			log.WithError(err).WithField("eventType", event.Type()).Error("Failed to forward event to NATS")
		}
	}

	for _, eventType := range []events.EventType{
		events.EventTypeBalanceChange,
		events.EventTypeMatchFound,
		events.EventTypeMatchEnd,
		events.EventTypeLeaderboardUpdate,
		events.EventTypeAchievementUnlocked,
		events.EventTypeChallengeExpired,
	} {
		bus.Subscribe(eventType, forward)
	}
}
