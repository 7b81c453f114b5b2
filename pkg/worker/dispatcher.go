package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/dorm-notify/internal/channel"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
	"github.com/jwalitptl/dorm-notify/pkg/metrics"
)

type DispatcherConfig struct {
	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	JitterFraction float64
	ChannelTimeout time.Duration
}

// StatusNotifier observes status transitions; the pipeline service publishes
// them to recipient streams.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, intent *model.NotificationIntent)
}

// Dispatcher is the orchestration core: it claims pending intents from the
// store, fans them out across a bounded worker pool, attempts each intent on
// the channels its kind routes to and reconciles the per-channel results
// into one store transition. Per-recipient ordering is enforced entirely by
// the store's claim query, so the dispatcher stays correct when scaled
// across processes.
type Dispatcher struct {
	repo     repository.IntentRepository
	routes   map[model.IntentKind][]channel.Adapter
	notifier StatusNotifier
	config   DispatcherConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(
	repo repository.IntentRepository,
	routes map[model.IntentKind][]channel.Adapter,
	notifier StatusNotifier,
	config DispatcherConfig,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 30 * time.Second
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = 10 * time.Minute
	}
	if config.JitterFraction <= 0 {
		config.JitterFraction = 0.1
	}
	if config.ChannelTimeout <= 0 {
		config.ChannelTimeout = 5 * time.Second
	}

	return &Dispatcher{
		repo:     repo,
		routes:   routes,
		notifier: notifier,
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("starting delivery dispatcher",
		"workers", d.config.Workers, "batch_size", d.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down delivery dispatcher")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error(err, "dispatch cycle failed")
			}
		}
	}
}

// RunOnce claims one batch and processes it to completion. Exposed for tests
// and for drain-style shutdown.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	intents, err := d.repo.ClaimPending(ctx, d.config.BatchSize)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("claim_pending", "error").Inc()
		return fmt.Errorf("failed to claim pending intents: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("claim_pending", "success").Inc()
	d.metrics.ClaimBatchSize.Observe(float64(len(intents)))

	if len(intents) == 0 {
		return nil
	}

	jobs := make(chan *model.NotificationIntent)
	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for intent := range jobs {
				d.process(ctx, intent)
			}
		}()
	}

	for _, intent := range intents {
		jobs <- intent
	}
	close(jobs)
	wg.Wait()
	return nil
}

func (d *Dispatcher) process(ctx context.Context, intent *model.NotificationIntent) {
	timer := prometheus.NewTimer(d.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	adapters := d.routes[intent.Kind]
	attempts, transition := d.attemptChannels(ctx, intent, adapters)

	updated, err := d.repo.RecordOutcome(ctx, intent.ID, attempts, transition)
	if err != nil {
		d.logger.Error(err, "failed to record delivery outcome",
			"intent_id", intent.ID.String(), "status", string(transition.Status))
		return
	}

	switch updated.Status {
	case model.IntentStatusDelivered:
		d.metrics.IntentsDelivered.Inc()
	case model.IntentStatusFailed:
		d.metrics.IntentsFailed.Inc()
		d.logger.Warn("intent failed terminally",
			"intent_id", intent.ID.String(),
			"attempts", updated.AttemptCount,
			"last_error", deref(updated.LastError))
	case model.IntentStatusCancelled:
		d.metrics.IntentsCancelled.Inc()
	case model.IntentStatusRetryReady:
		d.metrics.IntentsRetried.WithLabelValues(string(intent.Kind)).Inc()
	}

	if d.notifier != nil {
		d.notifier.NotifyStatus(ctx, updated)
	}
}

// attemptChannels tries every configured channel independently and folds the
// tagged outcomes: any success wins, all-permanent fails immediately, and
// any transient (with no success) schedules a retry until the attempt
// ceiling converts it to a terminal failure.
func (d *Dispatcher) attemptChannels(ctx context.Context, intent *model.NotificationIntent, adapters []channel.Adapter) ([]*model.DeliveryAttempt, model.IntentTransition) {
	if len(adapters) == 0 {
		reason := fmt.Sprintf("no channels configured for kind %q", intent.Kind)
		return nil, model.IntentTransition{Status: model.IntentStatusFailed, LastError: &reason}
	}

	attempts := make([]*model.DeliveryAttempt, 0, len(adapters))
	var anySuccess, anyTransient bool
	var lastErr string

	for _, adapter := range adapters {
		callCtx, cancel := context.WithTimeout(ctx, d.config.ChannelTimeout)
		result := adapter.Deliver(callCtx, intent)
		cancel()

		// A hung channel call must not starve the pool; the deadline
		// converts it to a retryable failure.
		if result.Outcome != model.OutcomeSuccess && callCtx.Err() == context.DeadlineExceeded {
			result = channel.Transient(callCtx.Err())
		}

		d.metrics.ChannelAttempts.WithLabelValues(string(adapter.Name()), string(result.Outcome)).Inc()

		attempt := &model.DeliveryAttempt{
			IntentID:    intent.ID,
			Channel:     adapter.Name(),
			Outcome:     result.Outcome,
			AttemptedAt: time.Now(),
		}
		if result.Err != nil {
			detail := result.Err.Error()
			attempt.ErrorDetail = &detail
			lastErr = detail
		}
		attempts = append(attempts, attempt)

		switch result.Outcome {
		case model.OutcomeSuccess:
			anySuccess = true
		case model.OutcomeTransientFailure:
			anyTransient = true
		}
	}

	switch {
	case anySuccess:
		return attempts, model.IntentTransition{Status: model.IntentStatusDelivered}
	case !anyTransient:
		// Every channel failed permanently; retrying cannot help.
		return attempts, model.IntentTransition{Status: model.IntentStatusFailed, LastError: &lastErr}
	case intent.AttemptCount >= d.config.MaxAttempts:
		reason := fmt.Sprintf("retry ceiling of %d attempts reached: %s", d.config.MaxAttempts, lastErr)
		return attempts, model.IntentTransition{Status: model.IntentStatusFailed, LastError: &reason}
	default:
		next := time.Now().Add(Backoff(d.config.BackoffBase, d.config.BackoffCap, intent.AttemptCount, d.config.JitterFraction))
		return attempts, model.IntentTransition{
			Status:      model.IntentStatusRetryReady,
			LastError:   &lastErr,
			NextRetryAt: &next,
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
