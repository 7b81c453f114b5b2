package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is what connected sessions receive when an intent is pushed to them.
type Event struct {
	IntentID    uuid.UUID       `json:"intent_id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

// Session is one live connection for a recipient. Push returns an error when
// the connection is gone; the registry drops such sessions lazily.
type Session interface {
	ID() string
	Push(ctx context.Context, event *Event) error
}

// Registry tracks the currently connected sessions per recipient. It is an
// explicit object with lifecycle tied to server start/stop, passed to the
// adapter and the stream handler; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]map[string]Session)}
}

func (r *Registry) Register(recipientID uuid.UUID, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[recipientID] == nil {
		r.sessions[recipientID] = make(map[string]Session)
	}
	r.sessions[recipientID][s.ID()] = s
}

func (r *Registry) Unregister(recipientID uuid.UUID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byID := r.sessions[recipientID]; byID != nil {
		delete(byID, sessionID)
		if len(byID) == 0 {
			delete(r.sessions, recipientID)
		}
	}
}

// Connected returns the recipient's live sessions, possibly none.
func (r *Registry) Connected(recipientID uuid.UUID) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.sessions[recipientID]
	out := make([]Session, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	return out
}
