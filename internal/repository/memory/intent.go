// Package memory holds mutex-guarded in-memory implementations of the
// repository interfaces. They honor the same claim and transition semantics
// as the postgres implementations and back the dispatcher tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
)

type IntentRepository struct {
	mu         sync.Mutex
	intents    map[uuid.UUID]*model.NotificationIntent
	attempts   map[uuid.UUID][]*model.DeliveryAttempt
	tombstones map[uuid.UUID]time.Time

	// now is swappable so tests can step time deterministically.
	now func() time.Time
}

func NewIntentRepository() *IntentRepository {
	return &IntentRepository{
		intents:    make(map[uuid.UUID]*model.NotificationIntent),
		attempts:   make(map[uuid.UUID][]*model.DeliveryAttempt),
		tombstones: make(map[uuid.UUID]time.Time),
		now:        time.Now,
	}
}

var _ repository.IntentRepository = (*IntentRepository)(nil)

// SetClock overrides the repository clock. Test hook only.
func (r *IntentRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *IntentRepository) Create(_ context.Context, intent *model.NotificationIntent) error {
	if intent == nil {
		return fmt.Errorf("intent cannot be nil")
	}
	if intent.Payload == nil {
		return fmt.Errorf("intent payload cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = intent.ID.String()
	}

	for _, existing := range r.intents {
		if existing.IdempotencyKey == intent.IdempotencyKey && existing.Status != model.IntentStatusFailed {
			return apperrors.NewDuplicateIntent(intent.IdempotencyKey)
		}
	}

	now := r.now()
	intent.Status = model.IntentStatusCreated
	intent.AttemptCount = 0
	intent.CreatedAt = now
	intent.UpdatedAt = now

	stored := *intent
	r.intents[intent.ID] = &stored
	return nil
}

func (r *IntentRepository) ClaimPending(_ context.Context, limit int) ([]*model.NotificationIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	inFlight := make(map[uuid.UUID]bool)
	oldestPending := make(map[uuid.UUID]*model.NotificationIntent)
	for _, intent := range r.intents {
		switch intent.Status {
		case model.IntentStatusInFlight:
			inFlight[intent.RecipientID] = true
		case model.IntentStatusCreated, model.IntentStatusRetryReady:
			cur, ok := oldestPending[intent.RecipientID]
			if !ok || intent.CreatedAt.Before(cur.CreatedAt) {
				oldestPending[intent.RecipientID] = intent
			}
		}
	}

	var eligible []*model.NotificationIntent
	for recipientID, intent := range oldestPending {
		if inFlight[recipientID] {
			continue
		}
		if intent.NextRetryAt != nil && intent.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, intent)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*model.NotificationIntent, 0, len(eligible))
	for _, intent := range eligible {
		intent.Status = model.IntentStatusInFlight
		intent.AttemptCount++
		t := now
		intent.LastAttemptAt = &t
		intent.UpdatedAt = now

		snapshot := *intent
		claimed = append(claimed, &snapshot)
	}
	return claimed, nil
}

func (r *IntentRepository) RecordOutcome(_ context.Context, id uuid.UUID, attempts []*model.DeliveryAttempt, transition model.IntentTransition) (*model.NotificationIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, apperrors.NewNotFound("intent", nil)
	}

	target := transition.Status
	if target == model.IntentStatusRetryReady {
		if _, deleted := r.tombstones[intent.RecipientID]; deleted {
			target = model.IntentStatusCancelled
		}
	}

	if !intent.Status.CanTransition(target) {
		return nil, fmt.Errorf("illegal transition %s -> %s for intent %s", intent.Status, target, id)
	}

	for _, attempt := range attempts {
		if attempt.ID == uuid.Nil {
			attempt.ID = uuid.New()
		}
		attempt.IntentID = id
		stored := *attempt
		r.attempts[id] = append(r.attempts[id], &stored)
	}

	intent.Status = target
	intent.LastError = transition.LastError
	if target == model.IntentStatusRetryReady {
		intent.NextRetryAt = transition.NextRetryAt
	} else {
		intent.NextRetryAt = nil
	}
	intent.UpdatedAt = r.now()

	snapshot := *intent
	return &snapshot, nil
}

func (r *IntentRepository) GetByID(_ context.Context, id uuid.UUID) (*model.NotificationIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, apperrors.NewNotFound("intent", nil)
	}
	snapshot := *intent
	return &snapshot, nil
}

func (r *IntentRepository) ListByRecipient(_ context.Context, recipientID uuid.UUID, statuses []model.IntentStatus) ([]*model.NotificationIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[model.IntentStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []*model.NotificationIntent
	for _, intent := range r.intents {
		if intent.RecipientID != recipientID {
			continue
		}
		if len(wanted) > 0 && !wanted[intent.Status] {
			continue
		}
		snapshot := *intent
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *IntentRepository) ListAttempts(_ context.Context, intentID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts := r.attempts[intentID]
	out := make([]*model.DeliveryAttempt, len(attempts))
	for i, attempt := range attempts {
		snapshot := *attempt
		out[i] = &snapshot
	}
	return out, nil
}

func (r *IntentRepository) CancelPendingForRecipient(_ context.Context, recipientID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tombstones[recipientID]; !ok {
		r.tombstones[recipientID] = r.now()
	}

	var cancelled int64
	for _, intent := range r.intents {
		if intent.RecipientID != recipientID {
			continue
		}
		if intent.Status == model.IntentStatusCreated || intent.Status == model.IntentStatusRetryReady {
			intent.Status = model.IntentStatusCancelled
			intent.NextRetryAt = nil
			intent.UpdatedAt = r.now()
			cancelled++
		}
	}
	return cancelled, nil
}
