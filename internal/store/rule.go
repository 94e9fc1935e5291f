package store

import (
	"context"
	"fmt"

	"github.com/chatflow-io/chatflow/internal/model"
)

// RulesForStep returns the rules configured for a step, ordered ascending
// by id. The id doubles as the priority key; ties cannot occur, so rule
// selection is deterministic across runs.
func (s *Store) RulesForStep(ctx context.Context, step string) ([]model.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, step, pattern, response, kind,
		        COALESCE(options, ''), COALESCE(media_urls, '{}'), COALESCE(media_kind, ''),
		        COALESCE(next_step, ''), COALESCE(role_keyword, ''), COALESCE(handler, ''),
		        COALESCE(compute_kind, ''), COALESCE(compute_factor, 0)
		   FROM rules
		  WHERE lower(step) = lower($1)
		  ORDER BY id ASC`,
		step,
	)
	if err != nil {
		return nil, fmt.Errorf("rules for step %q: %w", step, err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		if err := rows.Scan(&r.ID, &r.Step, &r.Pattern, &r.Response, &r.Kind,
			&r.Options, &r.MediaURLs, &r.MediaKind,
			&r.NextStep, &r.RoleKeyword, &r.Handler,
			&r.ComputeKind, &r.ComputeFactor); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules for step %q rows: %w", step, err)
	}
	return rules, nil
}
