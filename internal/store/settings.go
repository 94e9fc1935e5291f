package store

import (
	"context"
	"fmt"
)

// AIEnabled reports whether the AI responder is currently enabled. The flag
// lives in the store so it can be flipped while the worker is running.
func (s *Store) AIEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT enabled FROM ai_settings WHERE id = 1`).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("read ai settings: %w", err)
	}
	return enabled, nil
}

// SetAIEnabled toggles the AI responder.
func (s *Store) SetAIEnabled(ctx context.Context, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_settings (id, enabled, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET enabled = $1, updated_at = now()`,
		enabled,
	)
	if err != nil {
		return fmt.Errorf("set ai settings: %w", err)
	}
	return nil
}
