package archive

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("archive store closed")

// Entry is one archived conversation line. The archive is write-behind: it is
// never read back into the session store.
type Entry struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	TurnID      string    `json:"turn_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Branch      string    `json:"branch,omitempty"`
	Label       string    `json:"label,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists archived turns.
type Store interface {
	SaveTurn(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, entityID string, limit int) ([]Entry, error)
	Close() error
}
