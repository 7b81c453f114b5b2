package intent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/channel/realtime"
)

// sseSession adapts one SSE connection to the realtime session contract.
type sseSession struct {
	id     string
	pushes chan *realtime.Event
}

func newSSESession() *sseSession {
	return &sseSession{
		id:     uuid.New().String(),
		pushes: make(chan *realtime.Event, 16),
	}
}

func (s *sseSession) ID() string {
	return s.id
}

func (s *sseSession) Push(ctx context.Context, event *realtime.Event) error {
	select {
	case s.pushes <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("session %s buffer full", s.id)
	}
}
