package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/dorm-notify/internal/channel"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// Resolver maps a recipient to their linked external identity. The account
// linker provides the production implementation.
type Resolver interface {
	Resolve(ctx context.Context, recipientID uuid.UUID) (string, error)
}

type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
}

// Adapter delivers intents through the external messaging platform's send
// API. Outcome mapping: 2xx success, 5xx and transport errors transient,
// 4xx permanent. A recipient without an active link is a permanent failure
// without spending the HTTP call; the link is re-checked on every attempt so
// a later link event revives delivery naturally.
type Adapter struct {
	cfg      Config
	resolver Resolver
	client   *http.Client
	limiter  *rate.Limiter
	cb       *circuitbreaker.CircuitBreaker
	logger   *logger.Logger
}

func NewAdapter(cfg Config, resolver Resolver, logger *logger.Logger) *Adapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}

	return &Adapter{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		cb: circuitbreaker.New(circuitbreaker.Settings{
			Name:        "external-messaging",
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		}),
		logger: logger,
	}
}

func (a *Adapter) Name() model.ChannelName {
	return model.ChannelExternal
}

func (a *Adapter) Deliver(ctx context.Context, intent *model.NotificationIntent) channel.Result {
	externalID, err := a.resolver.Resolve(ctx, intent.RecipientID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotLinked) {
			return channel.Permanent(err)
		}
		return channel.Transient(fmt.Errorf("resolve external identity: %w", err))
	}

	message, err := RenderMessage(intent)
	if err != nil {
		// Unrenderable payload will not improve with retries.
		return channel.Permanent(err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return channel.Transient(err)
	}

	var result channel.Result
	cbErr := a.cb.Execute(func() error {
		result = a.send(ctx, externalID, message)
		if result.Outcome == model.OutcomeTransientFailure {
			return result.Err
		}
		return nil
	})
	if errors.Is(cbErr, circuitbreaker.ErrOpen) {
		return channel.Transient(cbErr)
	}
	return result
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (a *Adapter) send(ctx context.Context, externalID, message string) channel.Result {
	body, err := json.Marshal(sendRequest{To: externalID, Text: message})
	if err != nil {
		return channel.Permanent(fmt.Errorf("marshal send request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return channel.Permanent(fmt.Errorf("build send request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are retryable.
		return channel.Transient(fmt.Errorf("send to external platform: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return channel.Success()
	case resp.StatusCode >= 500:
		return channel.Transient(fmt.Errorf("external platform returned %d", resp.StatusCode))
	default:
		return channel.Permanent(fmt.Errorf("external platform rejected message with %d", resp.StatusCode))
	}
}
