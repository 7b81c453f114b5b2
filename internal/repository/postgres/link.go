package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
)

type linkRepository struct {
	BaseRepository
}

func NewLinkRepository(base BaseRepository) repository.LinkRepository {
	return &linkRepository{base}
}

func (r *linkRepository) IssueHint(ctx context.Context, recipientID uuid.UUID) (string, error) {
	hint := uuid.New().String()
	query := `
		INSERT INTO link_hints (hint, recipient_id, created_at)
		VALUES ($1, $2, NOW())
	`
	if _, err := r.db.ExecContext(ctx, query, hint, recipientID); err != nil {
		return "", fmt.Errorf("failed to issue link hint: %w", err)
	}
	return hint, nil
}

func (r *linkRepository) ResolveHint(ctx context.Context, hint string) (uuid.UUID, error) {
	// Deleting and returning in one statement makes the hint single-use
	// even under concurrent resolution.
	query := `
		DELETE FROM link_hints
		WHERE hint = $1
		RETURNING recipient_id
	`
	var recipientID uuid.UUID
	if err := r.db.GetContext(ctx, &recipientID, query, hint); err != nil {
		if err == sql.ErrNoRows {
			return uuid.Nil, apperrors.NewUnresolvedRecipient(hint)
		}
		return uuid.Nil, fmt.Errorf("failed to resolve link hint: %w", err)
	}
	return recipientID, nil
}

func (r *linkRepository) Activate(ctx context.Context, recipientID uuid.UUID, externalID string) (*model.ExternalAccountLink, error) {
	link := &model.ExternalAccountLink{
		ID:          uuid.New(),
		RecipientID: recipientID,
		ExternalID:  externalID,
		Active:      true,
		CreatedAt:   time.Now(),
	}

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		deactivateQuery := `
			UPDATE external_account_links
			SET active = FALSE, deactivated_at = NOW()
			WHERE active = TRUE
			AND (recipient_id = $1 OR external_id = $2)
		`
		if _, err := tx.ExecContext(ctx, deactivateQuery, recipientID, externalID); err != nil {
			return fmt.Errorf("failed to deactivate prior links: %w", err)
		}

		insertQuery := `
			INSERT INTO external_account_links (
				id, recipient_id, external_id, active, created_at
			) VALUES ($1, $2, $3, TRUE, $4)
		`
		if _, err := tx.ExecContext(ctx, insertQuery,
			link.ID, link.RecipientID, link.ExternalID, link.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *linkRepository) DeactivateByExternalID(ctx context.Context, externalID string) (*model.ExternalAccountLink, error) {
	query := `
		UPDATE external_account_links
		SET active = FALSE, deactivated_at = NOW()
		WHERE external_id = $1 AND active = TRUE
		RETURNING id, recipient_id, external_id, active, created_at, deactivated_at
	`
	var link model.ExternalAccountLink
	if err := r.db.GetContext(ctx, &link, query, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to deactivate link: %w", err)
	}
	return &link, nil
}

func (r *linkRepository) ActiveByRecipient(ctx context.Context, recipientID uuid.UUID) (*model.ExternalAccountLink, error) {
	query := `
		SELECT id, recipient_id, external_id, active, created_at, deactivated_at
		FROM external_account_links
		WHERE recipient_id = $1 AND active = TRUE
	`
	var link model.ExternalAccountLink
	if err := r.db.GetContext(ctx, &link, query, recipientID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load active link: %w", err)
	}
	return &link, nil
}
