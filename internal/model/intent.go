package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IntentStatus string

const (
	IntentStatusCreated    IntentStatus = "CREATED"
	IntentStatusInFlight   IntentStatus = "IN_FLIGHT"
	IntentStatusRetryReady IntentStatus = "RETRY_READY"
	IntentStatusDelivered  IntentStatus = "DELIVERED"
	IntentStatusFailed     IntentStatus = "FAILED"
	IntentStatusCancelled  IntentStatus = "CANCELLED"
)

// Terminal reports whether no further automatic transition can occur.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusDelivered, IntentStatusFailed, IntentStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits s -> to.
// Status never changes any other way; repositories reject everything else.
func (s IntentStatus) CanTransition(to IntentStatus) bool {
	switch s {
	case IntentStatusCreated:
		return to == IntentStatusInFlight || to == IntentStatusCancelled
	case IntentStatusInFlight:
		return to == IntentStatusDelivered || to == IntentStatusRetryReady ||
			to == IntentStatusFailed || to == IntentStatusCancelled
	case IntentStatusRetryReady:
		return to == IntentStatusInFlight || to == IntentStatusCancelled
	}
	return false
}

type IntentKind string

const (
	KindBillReady         IntentKind = "bill-ready"
	KindPaymentConfirmed  IntentKind = "payment-confirmed"
	KindMaintenanceUpdate IntentKind = "maintenance-update"
	KindAccountLinked     IntentKind = "account-linked"
	KindAccountUnlinked   IntentKind = "account-unlinked"
)

func (k IntentKind) Valid() bool {
	switch k {
	case KindBillReady, KindPaymentConfirmed, KindMaintenanceUpdate,
		KindAccountLinked, KindAccountUnlinked:
		return true
	}
	return false
}

// NotificationIntent is the unit of work for the delivery pipeline. The ID
// doubles as the idempotency key when the producer does not supply one; it is
// minted once at creation and reused verbatim across every retry.
type NotificationIntent struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	RecipientID    uuid.UUID       `db:"recipient_id" json:"recipient_id"`
	Kind           IntentKind      `db:"kind" json:"kind"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	Status         IntentStatus    `db:"status" json:"status"`
	AttemptCount   int             `db:"attempt_count" json:"attempt_count"`
	NextRetryAt    *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastAttemptAt  *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError      *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type ChannelName string

const (
	ChannelRealtime ChannelName = "realtime"
	ChannelExternal ChannelName = "external"
)

type DeliveryOutcome string

const (
	OutcomeSuccess          DeliveryOutcome = "success"
	OutcomeTransientFailure DeliveryOutcome = "transient_failure"
	OutcomePermanentFailure DeliveryOutcome = "permanent_failure"
)

// DeliveryAttempt records one try on one channel. Append-only.
type DeliveryAttempt struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	IntentID    uuid.UUID       `db:"intent_id" json:"intent_id"`
	Channel     ChannelName     `db:"channel" json:"channel"`
	Outcome     DeliveryOutcome `db:"outcome" json:"outcome"`
	ErrorDetail *string         `db:"error_detail" json:"error_detail,omitempty"`
	AttemptedAt time.Time       `db:"attempted_at" json:"attempted_at"`
}

// IntentTransition is the store update the dispatcher requests after a claim
// cycle. The repository validates it against the state machine before applying.
type IntentTransition struct {
	Status      IntentStatus
	LastError   *string
	NextRetryAt *time.Time
}
