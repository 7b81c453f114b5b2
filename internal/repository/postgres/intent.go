package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
)

type intentRepository struct {
	BaseRepository
}

func NewIntentRepository(base BaseRepository) repository.IntentRepository {
	return &intentRepository{base}
}

func (r *intentRepository) Create(ctx context.Context, intent *model.NotificationIntent) error {
	if intent == nil {
		return fmt.Errorf("intent cannot be nil")
	}
	if intent.Payload == nil {
		return fmt.Errorf("intent payload cannot be nil")
	}

	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = intent.ID.String()
	}
	intent.Status = model.IntentStatusCreated
	intent.CreatedAt = time.Now()
	intent.UpdatedAt = intent.CreatedAt

	// Duplicate detection rides on a partial unique index:
	//   CREATE UNIQUE INDEX intents_idem_key ON notification_intents (idempotency_key)
	//   WHERE status <> 'FAILED';
	query := `
		INSERT INTO notification_intents (
			id, recipient_id, kind, payload, idempotency_key,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		intent.ID,
		intent.RecipientID,
		intent.Kind,
		intent.Payload,
		intent.IdempotencyKey,
		intent.Status,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.NewDuplicateIntent(intent.IdempotencyKey)
		}
		return fmt.Errorf("failed to create intent: %w", err)
	}
	return nil
}

func (r *intentRepository) ClaimPending(ctx context.Context, limit int) ([]*model.NotificationIntent, error) {
	var claimed []*model.NotificationIntent

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Oldest eligible intent per recipient, skipping recipients that
		// already have one IN_FLIGHT. SKIP LOCKED keeps concurrent
		// dispatchers from claiming the same rows.
		selectQuery := `
			SELECT id, recipient_id, kind, payload, idempotency_key, status,
			       attempt_count, next_retry_at, last_attempt_at, last_error,
			       created_at, updated_at
			FROM notification_intents i
			WHERE i.status IN ('CREATED', 'RETRY_READY')
			AND (i.next_retry_at IS NULL OR i.next_retry_at <= NOW())
			AND NOT EXISTS (
				SELECT 1 FROM notification_intents p
				WHERE p.recipient_id = i.recipient_id
				AND (
					p.status = 'IN_FLIGHT'
					OR (p.status IN ('CREATED', 'RETRY_READY') AND p.created_at < i.created_at)
				)
			)
			ORDER BY i.created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`
		if err := tx.SelectContext(ctx, &claimed, selectQuery, limit); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("failed to select pending intents: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(claimed))
		for i, intent := range claimed {
			ids[i] = intent.ID
		}

		now := time.Now()
		updateQuery := `
			UPDATE notification_intents
			SET status = 'IN_FLIGHT',
			    attempt_count = attempt_count + 1,
			    last_attempt_at = $2,
			    updated_at = $2
			WHERE id = ANY($1)
		`
		if _, err := tx.ExecContext(ctx, updateQuery, pq.Array(ids), now); err != nil {
			return fmt.Errorf("failed to mark intents in flight: %w", err)
		}

		for _, intent := range claimed {
			intent.Status = model.IntentStatusInFlight
			intent.AttemptCount++
			t := now
			intent.LastAttemptAt = &t
			intent.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *intentRepository) RecordOutcome(ctx context.Context, id uuid.UUID, attempts []*model.DeliveryAttempt, transition model.IntentTransition) (*model.NotificationIntent, error) {
	var updated model.NotificationIntent

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.NotificationIntent
		lockQuery := `
			SELECT id, recipient_id, kind, payload, idempotency_key, status,
			       attempt_count, next_retry_at, last_attempt_at, last_error,
			       created_at, updated_at
			FROM notification_intents
			WHERE id = $1
			FOR UPDATE
		`
		if err := tx.GetContext(ctx, &current, lockQuery, id); err != nil {
			if err == sql.ErrNoRows {
				return apperrors.NewNotFound("intent", err)
			}
			return fmt.Errorf("failed to load intent: %w", err)
		}

		target := transition.Status
		if target == model.IntentStatusRetryReady {
			// Deleted recipient short-circuits the retry loop.
			var deleted bool
			tombQuery := `SELECT EXISTS (SELECT 1 FROM recipient_tombstones WHERE recipient_id = $1)`
			if err := tx.GetContext(ctx, &deleted, tombQuery, current.RecipientID); err != nil {
				return fmt.Errorf("failed to check recipient tombstone: %w", err)
			}
			if deleted {
				target = model.IntentStatusCancelled
			}
		}

		if !current.Status.CanTransition(target) {
			return fmt.Errorf("illegal transition %s -> %s for intent %s", current.Status, target, id)
		}

		for _, attempt := range attempts {
			if attempt.ID == uuid.Nil {
				attempt.ID = uuid.New()
			}
			attempt.IntentID = id
			attemptQuery := `
				INSERT INTO delivery_attempts (
					id, intent_id, channel, outcome, error_detail, attempted_at
				) VALUES ($1, $2, $3, $4, $5, $6)
			`
			if _, err := tx.ExecContext(ctx, attemptQuery,
				attempt.ID, attempt.IntentID, attempt.Channel,
				attempt.Outcome, attempt.ErrorDetail, attempt.AttemptedAt,
			); err != nil {
				return fmt.Errorf("failed to append delivery attempt: %w", err)
			}
		}

		nextRetryAt := transition.NextRetryAt
		if target != model.IntentStatusRetryReady {
			nextRetryAt = nil
		}

		updateQuery := `
			UPDATE notification_intents
			SET status = $2, last_error = $3, next_retry_at = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING id, recipient_id, kind, payload, idempotency_key, status,
			          attempt_count, next_retry_at, last_attempt_at, last_error,
			          created_at, updated_at
		`
		if err := tx.GetContext(ctx, &updated, updateQuery, id, target, transition.LastError, nextRetryAt); err != nil {
			return fmt.Errorf("failed to update intent status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *intentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.NotificationIntent, error) {
	query := `
		SELECT id, recipient_id, kind, payload, idempotency_key, status,
		       attempt_count, next_retry_at, last_attempt_at, last_error,
		       created_at, updated_at
		FROM notification_intents
		WHERE id = $1
	`
	var intent model.NotificationIntent
	if err := r.db.GetContext(ctx, &intent, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("intent", err)
		}
		return nil, err
	}
	return &intent, nil
}

func (r *intentRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, statuses []model.IntentStatus) ([]*model.NotificationIntent, error) {
	query := `
		SELECT id, recipient_id, kind, payload, idempotency_key, status,
		       attempt_count, next_retry_at, last_attempt_at, last_error,
		       created_at, updated_at
		FROM notification_intents
		WHERE recipient_id = $1
	`
	args := []interface{}{recipientID}
	if len(statuses) > 0 {
		filter := make([]string, len(statuses))
		for i, s := range statuses {
			filter[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(filter))
	}
	query += ` ORDER BY created_at ASC`

	var intents []*model.NotificationIntent
	if err := r.db.SelectContext(ctx, &intents, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return intents, nil
}

func (r *intentRepository) ListAttempts(ctx context.Context, intentID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	query := `
		SELECT id, intent_id, channel, outcome, error_detail, attempted_at
		FROM delivery_attempts
		WHERE intent_id = $1
		ORDER BY attempted_at ASC
	`
	var attempts []*model.DeliveryAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, intentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return attempts, nil
}

func (r *intentRepository) CancelPendingForRecipient(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var cancelled int64

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		tombQuery := `
			INSERT INTO recipient_tombstones (recipient_id, deleted_at)
			VALUES ($1, NOW())
			ON CONFLICT (recipient_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, tombQuery, recipientID); err != nil {
			return fmt.Errorf("failed to record recipient tombstone: %w", err)
		}

		cancelQuery := `
			UPDATE notification_intents
			SET status = 'CANCELLED', next_retry_at = NULL, updated_at = NOW()
			WHERE recipient_id = $1
			AND status IN ('CREATED', 'RETRY_READY')
		`
		result, err := tx.ExecContext(ctx, cancelQuery, recipientID)
		if err != nil {
			return fmt.Errorf("failed to cancel pending intents: %w", err)
		}
		cancelled, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}
