package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/chatflow-io/chatflow/internal/model"
)

const stateColumns = `sender, step, status, last_activity, claim_owner, claim_expires`

func scanState(row pgx.Row) (*model.ConversationState, error) {
	var st model.ConversationState
	var owner *string
	if err := row.Scan(&st.Sender, &st.Step, &st.Status, &st.LastActivity, &owner, &st.ClaimExpires); err != nil {
		return nil, err
	}
	if owner != nil {
		st.ClaimOwner = *owner
	}
	return &st, nil
}

// GetState returns the conversation state for a sender, or nil if the
// sender has never been seen.
func (s *Store) GetState(ctx context.Context, sender string) (*model.ConversationState, error) {
	st, err := scanState(s.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM conversations WHERE sender = $1`, sender))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state for %s: %w", sender, err)
	}
	return st, nil
}

// EnsureState creates the state row for a first-contact sender at the given
// step. Returns the current state and whether this call created it.
func (s *Store) EnsureState(ctx context.Context, sender, initialStep string) (*model.ConversationState, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (sender, step, status, last_activity)
		 VALUES ($1, $2, 'active', now())
		 ON CONFLICT (sender) DO NOTHING`,
		sender, initialStep,
	)
	if err != nil {
		return nil, false, fmt.Errorf("ensure state for %s: %w", sender, err)
	}
	st, err := s.GetState(ctx, sender)
	if err != nil {
		return nil, false, err
	}
	return st, tag.RowsAffected() == 1, nil
}

// Touch refreshes the last-activity timestamp without moving the step.
func (s *Store) Touch(ctx context.Context, sender string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_activity = now() WHERE sender = $1`, sender)
	if err != nil {
		return fmt.Errorf("touch %s: %w", sender, err)
	}
	return nil
}

// CommitTransition persists the terminal step and status of a processed
// event, upserting role assignments in the same transaction when matched
// rules carried role keywords.
func (s *Store) CommitTransition(ctx context.Context, sender, step string, status model.Status, roles []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition for %s: %w", sender, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE conversations
		    SET step = $2, status = $3, claim_owner = NULL, claim_expires = NULL, last_activity = now()
		  WHERE sender = $1`,
		sender, step, status,
	)
	if err != nil {
		return fmt.Errorf("commit step for %s: %w", sender, err)
	}

	for _, role := range roles {
		if role == "" {
			continue
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_roles (sender, role, assigned_at) VALUES ($1, $2, now())
			 ON CONFLICT (sender, role) DO UPDATE SET assigned_at = now()`,
			sender, role,
		)
		if err != nil {
			return fmt.Errorf("assign role %q to %s: %w", role, sender, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition for %s: %w", sender, err)
	}
	return nil
}

// ResetIdle resets active conversations idle longer than timeout back to
// the initial step. Conversations awaiting handoff or claimed are left
// alone. Returns the number of conversations reset.
func (s *Store) ResetIdle(ctx context.Context, initialStep string, timeout time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		    SET step = $1, last_activity = now()
		  WHERE status = 'active'
		    AND last_activity < now() - make_interval(secs => $2)
		    AND step <> $1`,
		initialStep, timeout.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("reset idle conversations: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("idle conversations reset", zap.Int64("count", n))
		return n, nil
	}
	return 0, nil
}
