package realtime

import (
	"context"
	"fmt"

	"github.com/jwalitptl/dorm-notify/internal/channel"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// Adapter pushes intents to whatever sessions the recipient has connected.
// Delivery is best effort: zero connected sessions is a transient failure
// (the recipient may reconnect), and this channel never reports a permanent
// one.
type Adapter struct {
	registry *Registry
	logger   *logger.Logger
}

func NewAdapter(registry *Registry, logger *logger.Logger) *Adapter {
	return &Adapter{registry: registry, logger: logger}
}

func (a *Adapter) Name() model.ChannelName {
	return model.ChannelRealtime
}

func (a *Adapter) Deliver(ctx context.Context, intent *model.NotificationIntent) channel.Result {
	sessions := a.registry.Connected(intent.RecipientID)
	if len(sessions) == 0 {
		return channel.Transient(fmt.Errorf("no connected sessions for recipient %s", intent.RecipientID))
	}

	event := &Event{
		IntentID:    intent.ID,
		RecipientID: intent.RecipientID,
		Kind:        string(intent.Kind),
		Payload:     intent.Payload,
	}

	var delivered int
	var lastErr error
	for _, s := range sessions {
		if err := s.Push(ctx, event); err != nil {
			lastErr = err
			a.registry.Unregister(intent.RecipientID, s.ID())
			a.logger.Debug("dropping disconnected session",
				"recipient_id", intent.RecipientID.String(), "session_id", s.ID())
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return channel.Transient(fmt.Errorf("all %d sessions disconnected: %w", len(sessions), lastErr))
	}
	return channel.Success()
}
