package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatflow-io/chatflow/internal/model"
)

// RecordMessage appends one record to the conversation history.
func (s *Store) RecordMessage(ctx context.Context, msg *model.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, sender, direction, kind, body, media_url, step, rule_id, external_id, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.Sender, msg.Direction, msg.Kind, msg.Body, msg.MediaURL,
		msg.Step, msg.RuleID, msg.ExternalID, msg.Status, msg.Error, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record message for %s: %w", msg.Sender, err)
	}
	return nil
}

// RecentMessages returns the most recent history records for a sender in
// chronological order, for responder context.
func (s *Store) RecentMessages(ctx context.Context, sender string, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, direction, kind, COALESCE(body, ''), COALESCE(media_url, ''),
		        COALESCE(step, ''), rule_id, COALESCE(external_id, ''),
		        COALESCE(status, ''), COALESCE(error, ''), created_at
		   FROM messages
		  WHERE sender = $1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		sender, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages for %s: %w", sender, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Direction, &m.Kind, &m.Body, &m.MediaURL,
			&m.Step, &m.RuleID, &m.ExternalID, &m.Status, &m.Error, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages rows: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestInboundText returns the newest inbound text for a sender, used by
// the handoff worker as the question to answer.
func (s *Store) LatestInboundText(ctx context.Context, sender string) (string, error) {
	var body string
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM messages
		  WHERE sender = $1 AND direction = 'in' AND kind = 'text' AND btrim(COALESCE(body, '')) <> ''
		  ORDER BY created_at DESC
		  LIMIT 1`,
		sender,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest inbound text for %s: %w", sender, err)
	}
	return body, nil
}
