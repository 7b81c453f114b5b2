// Package linker maintains the mapping between recipients and their
// identities on the external messaging platform.
package linker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// Submitter feeds link confirmations back into the pipeline. This is the one
// place the linker produces work for the dispatcher instead of serving it.
type Submitter interface {
	Submit(ctx context.Context, recipientID uuid.UUID, kind model.IntentKind, payload json.RawMessage) (uuid.UUID, error)
}

type Service struct {
	repo      repository.LinkRepository
	submitter Submitter
	cache     *cache.Cache
	logger    *logger.Logger
}

func NewService(repo repository.LinkRepository, submitter Submitter, logger *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		submitter: submitter,
		cache:     cache.New(5*time.Minute, 15*time.Minute),
		logger:    logger,
	}
}

// HandleLinkEvent consumes a verified link event from the platform
// handshake. The hint is single-use; an unresolvable hint returns an
// UnresolvedRecipient error and the caller drops the event without retrying.
func (s *Service) HandleLinkEvent(ctx context.Context, hint, externalID string) (*model.ExternalAccountLink, error) {
	recipientID, err := s.repo.ResolveHint(ctx, hint)
	if err != nil {
		return nil, err
	}

	link, err := s.repo.Activate(ctx, recipientID, externalID)
	if err != nil {
		return nil, err
	}

	s.cache.Delete(recipientID.String())
	s.logger.Info("external account linked",
		"recipient_id", recipientID.String(), "external_id", externalID)

	s.submitConfirmation(ctx, recipientID, model.KindAccountLinked, externalID)
	return link, nil
}

// HandleUnlinkEvent deactivates the active link for the identity; unknown
// identities are a no-op.
func (s *Service) HandleUnlinkEvent(ctx context.Context, externalID string) error {
	link, err := s.repo.DeactivateByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}

	s.cache.Delete(link.RecipientID.String())
	s.logger.Info("external account unlinked",
		"recipient_id", link.RecipientID.String(), "external_id", externalID)

	s.submitConfirmation(ctx, link.RecipientID, model.KindAccountUnlinked, externalID)
	return nil
}

// Resolve returns the recipient's linked external identity. Read path for
// the dispatcher; hot entries are cached with a short TTL and invalidated on
// link and unlink events.
func (s *Service) Resolve(ctx context.Context, recipientID uuid.UUID) (string, error) {
	if cached, ok := s.cache.Get(recipientID.String()); ok {
		return cached.(string), nil
	}

	link, err := s.repo.ActiveByRecipient(ctx, recipientID)
	if err != nil {
		return "", err
	}
	if link == nil {
		return "", apperrors.NewNotLinked(recipientID.String())
	}

	s.cache.SetDefault(recipientID.String(), link.ExternalID)
	return link.ExternalID, nil
}

// IssueHint creates the correlation token the surrounding application
// presents during the platform handshake.
func (s *Service) IssueHint(ctx context.Context, recipientID uuid.UUID) (string, error) {
	return s.repo.IssueHint(ctx, recipientID)
}

func (s *Service) submitConfirmation(ctx context.Context, recipientID uuid.UUID, kind model.IntentKind, externalID string) {
	payload, _ := json.Marshal(map[string]string{"external_id": externalID})
	if _, err := s.submitter.Submit(ctx, recipientID, kind, payload); err != nil {
		// Confirmation intents are best effort; duplicates arise when the
		// platform replays an event and are fine to drop.
		if apperrors.IsCode(err, apperrors.ErrDuplicateIntent) {
			return
		}
		s.logger.Error(err, "failed to submit link confirmation intent",
			"recipient_id", recipientID.String(), "kind", string(kind))
	}
}
