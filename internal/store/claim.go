package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chatflow-io/chatflow/internal/model"
)

// ClaimBatch atomically claims up to batchSize conversations awaiting
// handoff, tagging them with owner and a lease expiry. Claimed rows whose
// lease has lapsed (crashed worker) are reclaimable. SKIP LOCKED keeps two
// concurrent pollers from ever returning the same conversation.
func (s *Store) ClaimBatch(ctx context.Context, owner string, batchSize int, lease time.Duration) ([]model.ConversationState, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE conversations
		    SET status = 'claimed', claim_owner = $1, claim_expires = now() + make_interval(secs => $2)
		  WHERE sender IN (
		        SELECT sender FROM conversations
		         WHERE status = 'awaiting-handoff'
		            OR (status = 'claimed' AND claim_expires < now())
		         ORDER BY last_activity
		         LIMIT $3
		         FOR UPDATE SKIP LOCKED
		  )
		  RETURNING `+stateColumns,
		owner, lease.Seconds(), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var claimed []model.ConversationState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed conversation: %w", err)
		}
		claimed = append(claimed, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows: %w", err)
	}
	return claimed, nil
}

// Release returns a claimed conversation to active at the given step. The
// conditional owner check makes a stale release (lease expired, conversation
// reclaimed) a no-op; the caller sees false and treats it as a claim
// conflict.
func (s *Store) Release(ctx context.Context, sender, owner, step string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		    SET status = 'active', step = $3, claim_owner = NULL, claim_expires = NULL, last_activity = now()
		  WHERE sender = $1 AND status = 'claimed' AND claim_owner = $2`,
		sender, owner, step,
	)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", sender, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountAwaitingHandoff returns the number of conversations pending claim.
func (s *Store) CountAwaitingHandoff(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversations WHERE status = 'awaiting-handoff'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count awaiting handoff: %w", err)
	}
	return n, nil
}
