package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
)

type LinkRepository struct {
	mu    sync.Mutex
	links []*model.ExternalAccountLink
	hints map[string]uuid.UUID
}

func NewLinkRepository() *LinkRepository {
	return &LinkRepository{hints: make(map[string]uuid.UUID)}
}

var _ repository.LinkRepository = (*LinkRepository)(nil)

func (r *LinkRepository) IssueHint(_ context.Context, recipientID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hint := uuid.New().String()
	r.hints[hint] = recipientID
	return hint, nil
}

func (r *LinkRepository) ResolveHint(_ context.Context, hint string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recipientID, ok := r.hints[hint]
	if !ok {
		return uuid.Nil, apperrors.NewUnresolvedRecipient(hint)
	}
	delete(r.hints, hint)
	return recipientID, nil
}

func (r *LinkRepository) Activate(_ context.Context, recipientID uuid.UUID, externalID string) (*model.ExternalAccountLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, link := range r.links {
		if link.Active && (link.RecipientID == recipientID || link.ExternalID == externalID) {
			link.Active = false
			t := now
			link.DeactivatedAt = &t
		}
	}

	link := &model.ExternalAccountLink{
		ID:          uuid.New(),
		RecipientID: recipientID,
		ExternalID:  externalID,
		Active:      true,
		CreatedAt:   now,
	}
	r.links = append(r.links, link)

	snapshot := *link
	return &snapshot, nil
}

func (r *LinkRepository) DeactivateByExternalID(_ context.Context, externalID string) (*model.ExternalAccountLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, link := range r.links {
		if link.Active && link.ExternalID == externalID {
			link.Active = false
			now := time.Now()
			link.DeactivatedAt = &now
			snapshot := *link
			return &snapshot, nil
		}
	}
	return nil, nil
}

func (r *LinkRepository) ActiveByRecipient(_ context.Context, recipientID uuid.UUID) (*model.ExternalAccountLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, link := range r.links {
		if link.Active && link.RecipientID == recipientID {
			snapshot := *link
			return &snapshot, nil
		}
	}
	return nil, nil
}
