package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository/memory"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// chanBroker is an in-process stand-in for the redis broker.
type chanBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newChanBroker() *chanBroker {
	return &chanBroker{subs: make(map[string][]chan []byte)}
}

func (b *chanBroker) Publish(_ context.Context, topic string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[topic] {
		select {
		case sub <- data:
		default:
		}
	}
	return nil
}

func (b *chanBroker) Subscribe(_ context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *chanBroker) Close() error { return nil }

func newTestService() (*Service, *memory.IntentRepository, *chanBroker) {
	repo := memory.NewIntentRepository()
	broker := newChanBroker()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewService(repo, broker, log), repo, broker
}

func TestSubmitCreatesIntent(t *testing.T) {
	svc, repo, _ := newTestService()
	recipient := uuid.New()

	id, err := svc.Submit(context.Background(), recipient, model.KindBillReady, json.RawMessage(`{"total":150000}`))
	require.NoError(t, err)

	intent, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusCreated, intent.Status)
	assert.Equal(t, recipient, intent.RecipientID)
	assert.Equal(t, 0, intent.AttemptCount)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Submit(context.Background(), uuid.Nil, model.KindBillReady, nil)
	assert.Error(t, err)

	_, err = svc.Submit(context.Background(), uuid.New(), model.IntentKind("carrier-pigeon"), nil)
	assert.Error(t, err)
}

func TestSubmitIdempotentRejectsReplay(t *testing.T) {
	svc, _, _ := newTestService()
	recipient := uuid.New()

	_, err := svc.SubmitIdempotent(context.Background(), recipient, model.KindBillReady, nil, "bill-2026-03")
	require.NoError(t, err)

	_, err = svc.SubmitIdempotent(context.Background(), recipient, model.KindBillReady, nil, "bill-2026-03")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrDuplicateIntent))
}

func TestSubmitWithoutKeyNeverConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	recipient := uuid.New()

	first, err := svc.Submit(context.Background(), recipient, model.KindMaintenanceUpdate, nil)
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), recipient, model.KindMaintenanceUpdate, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSubscribeReceivesStatusEvents(t *testing.T) {
	svc, _, _ := newTestService()
	recipient := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := svc.Subscribe(ctx, recipient)
	require.NoError(t, err)

	id, err := svc.Submit(ctx, recipient, model.KindBillReady, nil)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, id, event.IntentID)
		assert.Equal(t, recipient, event.RecipientID)
		assert.Equal(t, model.KindBillReady, event.Kind)
		assert.Equal(t, model.IntentStatusCreated, event.Status)
	case <-time.After(time.Second):
		t.Fatal("no status event received")
	}
}

func TestSubscribeIsScopedToRecipient(t *testing.T) {
	svc, _, _ := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := svc.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	_, err = svc.Submit(ctx, uuid.New(), model.KindBillReady, nil)
	require.NoError(t, err)

	select {
	case event := <-events:
		t.Fatalf("received another recipient's event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleRecipientDeletedCancelsPending(t *testing.T) {
	svc, repo, _ := newTestService()
	recipient := uuid.New()

	id, err := svc.Submit(context.Background(), recipient, model.KindBillReady, nil)
	require.NoError(t, err)

	require.NoError(t, svc.HandleRecipientDeleted(context.Background(), recipient))

	intent, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusCancelled, intent.Status)
}

func TestListByRecipientFiltersStatuses(t *testing.T) {
	svc, _, _ := newTestService()
	recipient := uuid.New()

	_, err := svc.Submit(context.Background(), recipient, model.KindBillReady, nil)
	require.NoError(t, err)

	created, err := svc.ListByRecipient(context.Background(), recipient, []model.IntentStatus{model.IntentStatusCreated})
	require.NoError(t, err)
	assert.Len(t, created, 1)

	delivered, err := svc.ListByRecipient(context.Background(), recipient, []model.IntentStatus{model.IntentStatusDelivered})
	require.NoError(t, err)
	assert.Empty(t, delivered)
}
