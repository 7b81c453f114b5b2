package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dorm-notify/internal/model"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
)

func testIntent(recipientID uuid.UUID, key string) *model.NotificationIntent {
	return &model.NotificationIntent{
		RecipientID:    recipientID,
		Kind:           model.KindBillReady,
		Payload:        json.RawMessage(`{"total":1500}`),
		IdempotencyKey: key,
	}
}

// steppingClock returns strictly increasing times so creation order is
// always distinguishable.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Now()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestCreateIdempotency(t *testing.T) {
	repo := NewIntentRepository()
	ctx := context.Background()
	recipient := uuid.New()

	first := testIntent(recipient, "bill-2026-09")
	require.NoError(t, repo.Create(ctx, first))

	dup := testIntent(recipient, "bill-2026-09")
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDuplicateIntent))

	// Still a duplicate on the third call.
	err = repo.Create(ctx, testIntent(recipient, "bill-2026-09"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDuplicateIntent))
}

func TestCreateAfterTerminalFailureReleasesKey(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()
	recipient := uuid.New()

	first := testIntent(recipient, "bill-2026-09")
	require.NoError(t, repo.Create(ctx, first))

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	reason := "gone"
	_, err = repo.RecordOutcome(ctx, first.ID, nil, model.IntentTransition{
		Status:    model.IntentStatusFailed,
		LastError: &reason,
	})
	require.NoError(t, err)

	// FAILED is terminal; the key may be reused for a fresh trigger.
	require.NoError(t, repo.Create(ctx, testIntent(recipient, "bill-2026-09")))
}

func TestClaimMarksInFlightAndIncrementsAttempts(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()

	intent := testIntent(uuid.New(), "")
	require.NoError(t, repo.Create(ctx, intent))

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, model.IntentStatusInFlight, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].AttemptCount)
	assert.NotNil(t, claimed[0].LastAttemptAt)

	// Already in flight; nothing left to claim.
	again, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimAtMostOnceUnderConcurrency(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, repo.Create(ctx, testIntent(uuid.New(), "")))
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := repo.ClaimPending(ctx, 5)
				if err != nil {
					t.Error(err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, intent := range claimed {
					seen[intent.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "intent %s claimed %d times", id, count)
	}
}

func TestClaimPerRecipientFIFO(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()
	recipient := uuid.New()

	a := testIntent(recipient, "a")
	b := testIntent(recipient, "b")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "only the oldest intent per recipient is claimable")
	assert.Equal(t, a.ID, claimed[0].ID)

	// B stays queued while A is in flight.
	claimed, err = repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	_, err = repo.RecordOutcome(ctx, a.ID, nil, model.IntentTransition{Status: model.IntentStatusDelivered})
	require.NoError(t, err)

	claimed, err = repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, b.ID, claimed[0].ID)
}

func TestClaimRespectsNextRetryAt(t *testing.T) {
	repo := NewIntentRepository()
	clock := steppingClock()
	repo.SetClock(clock)
	ctx := context.Background()

	intent := testIntent(uuid.New(), "")
	require.NoError(t, repo.Create(ctx, intent))

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	reason := "external down"
	retryAt := clock().Add(time.Hour)
	_, err = repo.RecordOutcome(ctx, intent.ID, nil, model.IntentTransition{
		Status:      model.IntentStatusRetryReady,
		LastError:   &reason,
		NextRetryAt: &retryAt,
	})
	require.NoError(t, err)

	claimed, err = repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "intent must wait out its backoff")

	repo.SetClock(func() time.Time { return retryAt.Add(time.Second) })
	claimed, err = repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestRecordOutcomeRejectsIllegalTransition(t *testing.T) {
	repo := NewIntentRepository()
	ctx := context.Background()

	intent := testIntent(uuid.New(), "")
	require.NoError(t, repo.Create(ctx, intent))

	// CREATED -> DELIVERED without a claim is illegal.
	_, err := repo.RecordOutcome(ctx, intent.ID, nil, model.IntentTransition{Status: model.IntentStatusDelivered})
	require.Error(t, err)
}

func TestRecordOutcomeAppendsAttempts(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()

	intent := testIntent(uuid.New(), "")
	require.NoError(t, repo.Create(ctx, intent))
	_, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)

	detail := "no sessions"
	attempts := []*model.DeliveryAttempt{
		{Channel: model.ChannelRealtime, Outcome: model.OutcomeTransientFailure, ErrorDetail: &detail, AttemptedAt: time.Now()},
		{Channel: model.ChannelExternal, Outcome: model.OutcomeSuccess, AttemptedAt: time.Now()},
	}
	_, err = repo.RecordOutcome(ctx, intent.ID, attempts, model.IntentTransition{Status: model.IntentStatusDelivered})
	require.NoError(t, err)

	stored, err := repo.ListAttempts(ctx, intent.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.ChannelRealtime, stored[0].Channel)
	assert.Equal(t, model.OutcomeSuccess, stored[1].Outcome)
}

func TestCancelPendingForRecipient(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()
	recipient := uuid.New()

	a := testIntent(recipient, "a")
	b := testIntent(recipient, "b")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	// A is mid-attempt when the recipient is deleted.
	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	cancelled, err := repo.CancelPendingForRecipient(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled)

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusCancelled, got.Status)

	// The in-flight intent finishes its attempt, then short-circuits:
	// a retry request lands as CANCELLED.
	updated, err := repo.RecordOutcome(ctx, a.ID, nil, model.IntentTransition{Status: model.IntentStatusRetryReady})
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusCancelled, updated.Status)
}

func TestListByRecipientFilters(t *testing.T) {
	repo := NewIntentRepository()
	repo.SetClock(steppingClock())
	ctx := context.Background()
	recipient := uuid.New()

	a := testIntent(recipient, "a")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, testIntent(uuid.New(), "other")))

	all, err := repo.ListByRecipient(ctx, recipient, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	none, err := repo.ListByRecipient(ctx, recipient, []model.IntentStatus{model.IntentStatusDelivered})
	require.NoError(t, err)
	assert.Empty(t, none)
}
