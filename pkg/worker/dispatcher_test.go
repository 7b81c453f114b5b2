package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dorm-notify/internal/channel"
	"github.com/jwalitptl/dorm-notify/internal/channel/external"
	"github.com/jwalitptl/dorm-notify/internal/channel/realtime"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository/memory"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
	"github.com/jwalitptl/dorm-notify/pkg/metrics"
)

// scriptedAdapter replays a fixed sequence of results, repeating the last
// one once the script runs out.
type scriptedAdapter struct {
	name    model.ChannelName
	mu      sync.Mutex
	script  []channel.Result
	current int
	calls   int
}

func (a *scriptedAdapter) Name() model.ChannelName { return a.name }

func (a *scriptedAdapter) Deliver(_ context.Context, _ *model.NotificationIntent) channel.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	result := a.script[a.current]
	if a.current < len(a.script)-1 {
		a.current++
	}
	return result
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []statusChange
}

type statusChange struct {
	intentID uuid.UUID
	status   model.IntentStatus
}

func (n *recordingNotifier) NotifyStatus(_ context.Context, intent *model.NotificationIntent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, statusChange{intentID: intent.ID, status: intent.Status})
}

func (n *recordingNotifier) statuses(id uuid.UUID) []model.IntentStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.IntentStatus
	for _, e := range n.events {
		if e.intentID == id {
			out = append(out, e.status)
		}
	}
	return out
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

// fastRepo returns a memory repository whose clock jumps one second per
// call, so freshly scheduled retries are always eligible on the next cycle.
func fastRepo() *memory.IntentRepository {
	repo := memory.NewIntentRepository()
	var mu sync.Mutex
	t := time.Now()
	repo.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	})
	return repo
}

func newTestDispatcher(repo *memory.IntentRepository, routes map[model.IntentKind][]channel.Adapter, notifier StatusNotifier, maxAttempts int) *Dispatcher {
	return NewDispatcher(repo, routes, notifier, DispatcherConfig{
		Workers:        2,
		BatchSize:      10,
		PollInterval:   time.Millisecond,
		MaxAttempts:    maxAttempts,
		BackoffBase:    time.Nanosecond,
		BackoffCap:     time.Nanosecond,
		JitterFraction: 0.001,
		ChannelTimeout: time.Second,
	}, testLogger(), metrics.NewUnregistered("test"))
}

func submit(t *testing.T, repo *memory.IntentRepository, recipientID uuid.UUID, kind model.IntentKind) *model.NotificationIntent {
	t.Helper()
	intent := &model.NotificationIntent{
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     json.RawMessage(`{"total":150000}`),
	}
	require.NoError(t, repo.Create(context.Background(), intent))
	return intent
}

func TestAnySuccessWins(t *testing.T) {
	repo := fastRepo()
	rt := &scriptedAdapter{name: model.ChannelRealtime, script: []channel.Result{channel.Transient(fmt.Errorf("no sessions"))}}
	ext := &scriptedAdapter{name: model.ChannelExternal, script: []channel.Result{channel.Success()}}
	notifier := &recordingNotifier{}

	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady: {rt, ext},
	}, notifier, 5)

	intent := submit(t, repo, uuid.New(), model.KindBillReady)
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusDelivered, got.Status)

	attempts, err := repo.ListAttempts(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, []model.IntentStatus{model.IntentStatusDelivered}, notifier.statuses(intent.ID))
}

func TestAllPermanentFailsImmediately(t *testing.T) {
	repo := fastRepo()
	rt := &scriptedAdapter{name: model.ChannelRealtime, script: []channel.Result{channel.Permanent(fmt.Errorf("revoked"))}}
	ext := &scriptedAdapter{name: model.ChannelExternal, script: []channel.Result{channel.Permanent(fmt.Errorf("bad payload"))}}

	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady: {rt, ext},
	}, &recordingNotifier{}, 5)

	intent := submit(t, repo, uuid.New(), model.KindBillReady)
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestTransientRetriesUntilCeiling(t *testing.T) {
	repo := fastRepo()
	ext := &scriptedAdapter{name: model.ChannelExternal, script: []channel.Result{channel.Transient(fmt.Errorf("502"))}}

	maxAttempts := 3
	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady: {ext},
	}, &recordingNotifier{}, maxAttempts)

	intent := submit(t, repo, uuid.New(), model.KindBillReady)

	ctx := context.Background()
	for i := 0; i < maxAttempts; i++ {
		require.NoError(t, d.RunOnce(ctx))
	}

	got, err := repo.GetByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusFailed, got.Status)
	assert.Equal(t, maxAttempts, got.AttemptCount)
	assert.Equal(t, maxAttempts, ext.calls)

	// Terminal: further cycles never touch it again.
	require.NoError(t, d.RunOnce(ctx))
	assert.Equal(t, maxAttempts, ext.calls)
}

func TestRetryTransitionCarriesBackoff(t *testing.T) {
	repo := memory.NewIntentRepository()
	ext := &scriptedAdapter{name: model.ChannelExternal, script: []channel.Result{channel.Transient(fmt.Errorf("timeout"))}}

	d := NewDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady: {ext},
	}, nil, DispatcherConfig{
		BackoffBase:    time.Minute,
		BackoffCap:     time.Hour,
		JitterFraction: 0.001,
	}, testLogger(), metrics.NewUnregistered("test_backoff"))

	intent := submit(t, repo, uuid.New(), model.KindBillReady)
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusRetryReady, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.Greater(t, time.Until(*got.NextRetryAt), 30*time.Second)
}

func TestPerRecipientOrdering(t *testing.T) {
	repo := fastRepo()
	// First intent needs three attempts; the second would succeed at once.
	ext := &scriptedAdapter{name: model.ChannelExternal, script: []channel.Result{
		channel.Transient(fmt.Errorf("down")),
		channel.Transient(fmt.Errorf("down")),
		channel.Success(),
	}}
	notifier := &recordingNotifier{}

	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady:        {ext},
		model.KindPaymentConfirmed: {ext},
	}, notifier, 5)

	recipient := uuid.New()
	bill := submit(t, repo, recipient, model.KindBillReady)
	payment := submit(t, repo, recipient, model.KindPaymentConfirmed)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.RunOnce(ctx))
	}

	billGot, err := repo.GetByID(ctx, bill.ID)
	require.NoError(t, err)
	paymentGot, err := repo.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusDelivered, billGot.Status)
	assert.Equal(t, model.IntentStatusDelivered, paymentGot.Status)

	// The payment confirmation never surfaced before the bill. Observers
	// see DELIVERED for the bill strictly first.
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	var billDelivered bool
	for _, e := range notifier.events {
		if e.intentID == payment.ID && e.status == model.IntentStatusDelivered {
			assert.True(t, billDelivered, "payment delivered before bill")
		}
		if e.intentID == bill.ID && e.status == model.IntentStatusDelivered {
			billDelivered = true
		}
	}
	assert.True(t, billDelivered)
}

func TestNoChannelsConfiguredFails(t *testing.T) {
	repo := fastRepo()
	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{}, &recordingNotifier{}, 5)

	intent := submit(t, repo, uuid.New(), model.KindMaintenanceUpdate)
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusFailed, got.Status)
}

type notLinkedResolver struct{}

func (notLinkedResolver) Resolve(_ context.Context, recipientID uuid.UUID) (string, error) {
	return "", apperrors.NewNotLinked(recipientID.String())
}

func TestUnlinkedRecipientFailsOnFirstClaim(t *testing.T) {
	repo := fastRepo()
	adapter := external.NewAdapter(external.Config{BaseURL: "http://unused.invalid"}, notLinkedResolver{}, testLogger())

	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady: {adapter},
	}, &recordingNotifier{}, 5)

	intent := submit(t, repo, uuid.New(), model.KindBillReady)
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "no active external account link")
}

type linkedResolver struct{ externalID string }

func (r linkedResolver) Resolve(_ context.Context, _ uuid.UUID) (string, error) {
	return r.externalID, nil
}

func TestEndToEndBillReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := fastRepo()
	registry := realtime.NewRegistry() // nobody connected
	rt := realtime.NewAdapter(registry, testLogger())
	ext := external.NewAdapter(external.Config{
		BaseURL:       server.URL,
		RatePerSecond: 1000,
		RateBurst:     100,
	}, linkedResolver{externalID: "ext-42"}, testLogger())

	notifier := &recordingNotifier{}
	d := newTestDispatcher(repo, map[model.IntentKind][]channel.Adapter{
		model.KindBillReady: {rt, ext},
	}, notifier, 5)

	intent := submit(t, repo, uuid.New(), model.KindBillReady)
	require.NoError(t, d.RunOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusDelivered, got.Status)

	attempts, err := repo.ListAttempts(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, model.OutcomeTransientFailure, attempts[0].Outcome)
	assert.Equal(t, model.OutcomeSuccess, attempts[1].Outcome)
}
