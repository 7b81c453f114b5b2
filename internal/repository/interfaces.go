package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/model"
)

// IntentRepository is the single source of truth for notification intents.
// All coordination between dispatcher workers happens through its atomic
// claim/update operations; no in-process locks are shared across callers.
type IntentRepository interface {
	// Create persists a new intent in status CREATED. It returns a
	// DuplicateIntent error when an intent with the same idempotency key
	// already exists in any status other than FAILED.
	Create(ctx context.Context, intent *model.NotificationIntent) error

	// ClaimPending atomically selects up to limit eligible intents,
	// transitions them to IN_FLIGHT and increments their attempt count.
	// Per recipient it returns only the oldest eligible intent, and never
	// returns one for a recipient that already has an intent IN_FLIGHT.
	ClaimPending(ctx context.Context, limit int) ([]*model.NotificationIntent, error)

	// RecordOutcome appends the delivery attempts of one claim cycle and
	// applies the requested transition. The current status must be
	// IN_FLIGHT and the transition must be legal per the state machine.
	// A RETRY_READY transition for a recipient that has been deleted is
	// converted to CANCELLED.
	RecordOutcome(ctx context.Context, id uuid.UUID, attempts []*model.DeliveryAttempt, transition model.IntentTransition) (*model.NotificationIntent, error)

	GetByID(ctx context.Context, id uuid.UUID) (*model.NotificationIntent, error)

	// ListByRecipient returns the recipient's intents oldest first,
	// optionally filtered by status.
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, statuses []model.IntentStatus) ([]*model.NotificationIntent, error)

	ListAttempts(ctx context.Context, intentID uuid.UUID) ([]*model.DeliveryAttempt, error)

	// CancelPendingForRecipient marks the recipient deleted and moves its
	// CREATED and RETRY_READY intents to CANCELLED. IN_FLIGHT intents are
	// left to finish their current attempt; RecordOutcome short-circuits
	// them on the next scheduling decision.
	CancelPendingForRecipient(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

// LinkRepository persists external account links and the single-use hints
// handed out during the platform handshake. The account linker is its only
// writer.
type LinkRepository interface {
	// IssueHint creates a single-use correlation token for the recipient.
	IssueHint(ctx context.Context, recipientID uuid.UUID) (string, error)

	// ResolveHint consumes a hint and returns the recipient it was issued
	// for. A hint resolves at most once; unknown or spent hints return an
	// UnresolvedRecipient error.
	ResolveHint(ctx context.Context, hint string) (uuid.UUID, error)

	// Activate deactivates any active link for the recipient or for the
	// external identity, then creates the new active link.
	Activate(ctx context.Context, recipientID uuid.UUID, externalID string) (*model.ExternalAccountLink, error)

	// DeactivateByExternalID soft-deletes the active link for the identity.
	// Returns the deactivated link, or nil when none was active.
	DeactivateByExternalID(ctx context.Context, externalID string) (*model.ExternalAccountLink, error)

	// ActiveByRecipient returns the recipient's active link, or nil.
	ActiveByRecipient(ctx context.Context, recipientID uuid.UUID) (*model.ExternalAccountLink, error)
}
