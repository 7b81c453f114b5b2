// Package pipeline is the collaborator-facing surface of the notification
// core: intent submission, status streaming and recipient lifecycle events.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
	"github.com/jwalitptl/dorm-notify/pkg/messaging"
)

// StatusEvent is published on every status transition and consumed by
// Subscribe for UI reflection.
type StatusEvent struct {
	IntentID    uuid.UUID          `json:"intent_id"`
	RecipientID uuid.UUID          `json:"recipient_id"`
	Kind        model.IntentKind   `json:"kind"`
	Status      model.IntentStatus `json:"status"`
	At          time.Time          `json:"at"`
}

type Service struct {
	intents repository.IntentRepository
	broker  messaging.Broker
	logger  *logger.Logger
}

func NewService(intents repository.IntentRepository, broker messaging.Broker, logger *logger.Logger) *Service {
	return &Service{
		intents: intents,
		broker:  broker,
		logger:  logger,
	}
}

// Submit creates a notification intent for any business event producer and
// returns its id. An empty idempotency key gets the intent id, making every
// submission unique; producers that retry triggers pass their own key and
// receive a DuplicateIntent error on replays.
func (s *Service) Submit(ctx context.Context, recipientID uuid.UUID, kind model.IntentKind, payload json.RawMessage) (uuid.UUID, error) {
	return s.SubmitIdempotent(ctx, recipientID, kind, payload, "")
}

func (s *Service) SubmitIdempotent(ctx context.Context, recipientID uuid.UUID, kind model.IntentKind, payload json.RawMessage, idempotencyKey string) (uuid.UUID, error) {
	if recipientID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("recipient id is required")
	}
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("unsupported intent kind %q", kind)
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	intent := &model.NotificationIntent{
		ID:             uuid.New(),
		RecipientID:    recipientID,
		Kind:           kind,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("intent created",
		"intent_id", intent.ID.String(),
		"recipient_id", recipientID.String(),
		"kind", string(kind))

	s.NotifyStatus(ctx, intent)
	return intent.ID, nil
}

// NotifyStatus publishes the intent's current status to its recipient's
// stream. Called by the dispatcher after every transition.
func (s *Service) NotifyStatus(ctx context.Context, intent *model.NotificationIntent) {
	event := StatusEvent{
		IntentID:    intent.ID,
		RecipientID: intent.RecipientID,
		Kind:        intent.Kind,
		Status:      intent.Status,
		At:          time.Now(),
	}
	if err := s.broker.Publish(ctx, statusTopic(intent.RecipientID), event); err != nil {
		s.logger.Error(err, "failed to publish status event",
			"intent_id", intent.ID.String(), "status", string(intent.Status))
	}
}

// Subscribe streams status-change events for one recipient, starting from
// "now". The channel closes when ctx is cancelled; callers resubscribe to
// restart.
func (s *Service) Subscribe(ctx context.Context, recipientID uuid.UUID) (<-chan StatusEvent, error) {
	raw, err := s.broker.Subscribe(ctx, statusTopic(recipientID))
	if err != nil {
		return nil, err
	}

	events := make(chan StatusEvent, 16)
	go func() {
		defer close(events)
		for msg := range raw {
			var event StatusEvent
			if err := json.Unmarshal(msg, &event); err != nil {
				s.logger.Error(err, "failed to decode status event")
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// ListByRecipient exposes the audit/UI read path.
func (s *Service) ListByRecipient(ctx context.Context, recipientID uuid.UUID, statuses []model.IntentStatus) ([]*model.NotificationIntent, error) {
	return s.intents.ListByRecipient(ctx, recipientID, statuses)
}

// HandleRecipientDeleted reacts to a deletion event from tenant management:
// still-pending intents are cancelled rather than attempted.
func (s *Service) HandleRecipientDeleted(ctx context.Context, recipientID uuid.UUID) error {
	cancelled, err := s.intents.CancelPendingForRecipient(ctx, recipientID)
	if err != nil {
		return err
	}
	s.logger.Info("cancelled pending intents for deleted recipient",
		"recipient_id", recipientID.String(), "cancelled", cancelled)
	return nil
}

func statusTopic(recipientID uuid.UUID) string {
	return "notifications:status:" + recipientID.String()
}
