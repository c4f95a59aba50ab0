package archive

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed archive when configured, otherwise
// in-memory. Either way content is redacted before it is stored.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewRedactingStore(NewInMemoryStore(0)), nil
	}
	pg, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewRedactingStore(pg), nil
}
