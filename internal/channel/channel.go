// Package channel defines the common delivery capability the dispatcher
// drives. Each adapter resolves its own delivery target and reports a tagged
// outcome; the dispatcher folds outcomes across channels.
package channel

import (
	"context"

	"github.com/jwalitptl/dorm-notify/internal/model"
)

// Result is one channel's verdict for one delivery try. Err carries detail
// for the attempt record; it is informational, never propagated to intent
// producers.
type Result struct {
	Outcome model.DeliveryOutcome
	Err     error
}

func Success() Result {
	return Result{Outcome: model.OutcomeSuccess}
}

func Transient(err error) Result {
	return Result{Outcome: model.OutcomeTransientFailure, Err: err}
}

func Permanent(err error) Result {
	return Result{Outcome: model.OutcomePermanentFailure, Err: err}
}

type Adapter interface {
	Name() model.ChannelName
	Deliver(ctx context.Context, intent *model.NotificationIntent) Result
}
