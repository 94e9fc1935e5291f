package store

import (
	"context"
	"fmt"
)

// AdmitEvent records an external event id, returning true if this call won
// the insertion. The unique constraint closes the race between concurrent
// deliveries of the same id. A store error admits nothing: the caller must
// surface it so the provider retries delivery.
func (s *Store) AdmitEvent(ctx context.Context, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (external_id) VALUES ($1) ON CONFLICT (external_id) DO NOTHING`,
		externalID,
	)
	if err != nil {
		return false, fmt.Errorf("admit event %s: %w", externalID, err)
	}
	return tag.RowsAffected() == 1, nil
}
