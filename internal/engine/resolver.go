package engine

import (
	"context"
	"strings"

	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/internal/normalize"
)

// ResolvedAction is the outcome of evaluating one input against a step's
// rules: the responses to deliver, in order, and the terminal step to
// persist. Cascade expansion happens in memory only; intermediate steps
// never reach the store.
type ResolvedAction struct {
	Matched      bool
	Rule         *model.Rule
	Responses    []model.OutboundPayload
	TerminalStep string
	Roles        []string
	Handoff      bool
}

// Resolver selects and expands rules. It is a pure query over the rule
// source: no state is read or written, so it is safe for read-only
// inspection surfaces.
type Resolver struct {
	rules       RuleSource
	handoffStep string
	retryText   string
}

// NewResolver creates a resolver.
func NewResolver(rules RuleSource, handoffStep, retryText string) *Resolver {
	return &Resolver{rules: rules, handoffStep: handoffStep, retryText: retryText}
}

// Resolve evaluates normalizedInput against the rules of step. The first
// rule in priority order whose pattern is the wildcard or textually equals
// the input is selected; priority alone decides precedence, with no
// implicit specific-beats-generic ranking.
func (r *Resolver) Resolve(ctx context.Context, step, normalizedInput string) (*ResolvedAction, error) {
	rules, err := r.rules.RulesForStep(ctx, step)
	if err != nil {
		return nil, err
	}

	var selected *model.Rule
	for i := range rules {
		if rules[i].IsWildcard() || normalize.Text(rules[i].Pattern) == normalizedInput {
			selected = &rules[i]
			break
		}
	}
	if selected == nil {
		return &ResolvedAction{Matched: false, TerminalStep: step}, nil
	}

	action := &ResolvedAction{Matched: true, Rule: selected, TerminalStep: step}
	if selected.RoleKeyword != "" {
		action.Roles = append(action.Roles, selected.RoleKeyword)
	}

	// A rule that designates an external handler produces no automatic
	// reply; the conversation parks at the handoff token until claimed.
	if selected.Handler != "" {
		action.Handoff = true
		action.TerminalStep = r.handoffToken(selected)
		return action, nil
	}

	body := selected.Response
	if selected.ComputeKind != model.ComputeNone {
		total, err := Compute(selected.ComputeKind, selected.ComputeFactor, normalizedInput)
		if err != nil {
			// Unparseable measurement: prompt again without advancing.
			action.Responses = []model.OutboundPayload{{Kind: model.ResponseText, Body: r.retryText}}
			return action, nil
		}
		body = strings.ReplaceAll(body, "{total}", formatTotal(total))
	}

	action.Responses = composeOrFallback(selected, body)

	steps := selected.CascadeSteps()
	if len(steps) == 0 {
		return action, nil
	}
	if err := r.expandCascade(ctx, action, steps); err != nil {
		return nil, err
	}
	return action, nil
}

// Advance expands a destination-step list without an initial rule match:
// used for option-id routing and restart replays. Every step but the last
// contributes its first wildcard rule's responses; the last becomes the
// terminal step.
func (r *Resolver) Advance(ctx context.Context, stepList string) (*ResolvedAction, error) {
	steps := splitSteps(stepList)
	if len(steps) == 0 {
		return &ResolvedAction{Matched: false}, nil
	}
	action := &ResolvedAction{Matched: true}
	if err := r.expandCascade(ctx, action, steps); err != nil {
		return nil, err
	}
	return action, nil
}

// expandCascade accumulates responses for every step in the list except the
// last, re-entering wildcard selection at each one. Only the final step is
// ever persisted.
func (r *Resolver) expandCascade(ctx context.Context, action *ResolvedAction, steps []string) error {
	for _, step := range steps[:len(steps)-1] {
		rules, err := r.rules.RulesForStep(ctx, step)
		if err != nil {
			return err
		}
		for i := range rules {
			if !rules[i].IsWildcard() {
				continue
			}
			action.Responses = append(action.Responses, composeOrFallback(&rules[i], rules[i].Response)...)
			if rules[i].RoleKeyword != "" {
				action.Roles = append(action.Roles, rules[i].RoleKeyword)
			}
			break
		}
	}
	action.TerminalStep = steps[len(steps)-1]
	return nil
}

func (r *Resolver) handoffToken(rule *model.Rule) string {
	if steps := rule.CascadeSteps(); len(steps) > 0 {
		return steps[len(steps)-1]
	}
	return r.handoffStep
}

func splitSteps(s string) []string {
	var steps []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			steps = append(steps, part)
		}
	}
	return steps
}
