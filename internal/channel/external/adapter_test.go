package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dorm-notify/internal/model"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

type staticResolver struct {
	externalID string
	err        error
}

func (r staticResolver) Resolve(_ context.Context, _ uuid.UUID) (string, error) {
	return r.externalID, r.err
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func billIntent() *model.NotificationIntent {
	return &model.NotificationIntent{
		ID:          uuid.New(),
		RecipientID: uuid.New(),
		Kind:        model.KindBillReady,
		Payload:     json.RawMessage(`{"total":150000}`),
	}
}

func newTestAdapter(baseURL string, resolver Resolver) *Adapter {
	return NewAdapter(Config{
		BaseURL:        baseURL,
		RequestTimeout: time.Second,
		RatePerSecond:  1000,
		RateBurst:      100,
	}, resolver, testLogger())
}

func TestDeliverSuccess(t *testing.T) {
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, staticResolver{externalID: "ext-42"})
	result := adapter.Deliver(context.Background(), billIntent())

	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "ext-42", got.To)
	assert.NotEmpty(t, got.Text)
}

func TestDeliverServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, staticResolver{externalID: "ext-42"})
	result := adapter.Deliver(context.Background(), billIntent())

	assert.Equal(t, model.OutcomeTransientFailure, result.Outcome)
	assert.Error(t, result.Err)
}

func TestDeliverClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, staticResolver{externalID: "ext-42"})
	result := adapter.Deliver(context.Background(), billIntent())

	assert.Equal(t, model.OutcomePermanentFailure, result.Outcome)
}

func TestDeliverTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	adapter := NewAdapter(Config{
		BaseURL:        server.URL,
		RequestTimeout: 20 * time.Millisecond,
		RatePerSecond:  1000,
		RateBurst:      100,
	}, staticResolver{externalID: "ext-42"}, testLogger())

	result := adapter.Deliver(context.Background(), billIntent())
	assert.Equal(t, model.OutcomeTransientFailure, result.Outcome)
}

func TestDeliverNotLinkedIsPermanent(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	resolver := staticResolver{err: apperrors.NewNotLinked("r1")}
	adapter := newTestAdapter(server.URL, resolver)
	result := adapter.Deliver(context.Background(), billIntent())

	assert.Equal(t, model.OutcomePermanentFailure, result.Outcome)
	assert.True(t, apperrors.IsCode(result.Err, apperrors.ErrNotLinked))
	assert.Zero(t, calls, "no HTTP call is spent on an unlinked recipient")
}

func TestRenderMessage(t *testing.T) {
	msg, err := RenderMessage(billIntent())
	require.NoError(t, err)
	assert.Contains(t, msg, "1500.00")

	_, err = RenderMessage(&model.NotificationIntent{
		ID:      uuid.New(),
		Kind:    "mystery",
		Payload: json.RawMessage(`{}`),
	})
	assert.Error(t, err)
}
