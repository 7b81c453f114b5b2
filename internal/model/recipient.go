package model

import (
	"time"

	"github.com/google/uuid"
)

// Recipient is owned by the surrounding tenant-management domain; the
// pipeline only reads it and reacts to its deletion.
type Recipient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ExternalAccountLink relates one recipient to exactly one identity on the
// external messaging platform. At most one active row per recipient and per
// external identity; deactivation is soft so the history survives.
type ExternalAccountLink struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	RecipientID   uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	ExternalID    string     `db:"external_id" json:"external_id"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
}
