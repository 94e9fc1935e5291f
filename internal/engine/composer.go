package engine

import (
	"fmt"
	"strconv"

	"github.com/chatflow-io/chatflow/internal/model"
)

// Compose renders a rule into its outbound payloads. Media rules with
// several attachments yield one payload per file, the caption riding on the
// first. body is the rule's response text after template substitution.
func Compose(rule *model.Rule, body string) ([]model.OutboundPayload, error) {
	ruleID := rule.ID

	switch rule.Kind {
	case model.ResponseButton:
		buttons, err := model.ParseButtons(rule.Options)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid button options: %w", rule.ID, err)
		}
		if len(buttons) == 0 {
			return nil, fmt.Errorf("rule %d: button response without buttons", rule.ID)
		}
		for _, b := range buttons {
			if b.ID == "" || b.Title == "" {
				return nil, fmt.Errorf("rule %d: button missing id or title", rule.ID)
			}
		}
		return []model.OutboundPayload{{
			Kind:    model.ResponseButton,
			Body:    body,
			Buttons: buttons,
			RuleID:  &ruleID,
		}}, nil

	case model.ResponseList:
		spec, err := model.ParseListSpec(rule.Options)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid list options: %w", rule.ID, err)
		}
		if err := validateList(spec); err != nil {
			return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
		}
		return []model.OutboundPayload{{
			Kind:   model.ResponseList,
			Body:   body,
			List:   spec,
			RuleID: &ruleID,
		}}, nil

	case model.ResponseMedia:
		if len(rule.MediaURLs) == 0 {
			return nil, fmt.Errorf("rule %d: media response without media", rule.ID)
		}
		payloads := make([]model.OutboundPayload, 0, len(rule.MediaURLs))
		for i, url := range rule.MediaURLs {
			caption := ""
			if i == 0 {
				caption = body
			}
			payloads = append(payloads, model.OutboundPayload{
				Kind:      model.ResponseMedia,
				Body:      caption,
				MediaKind: rule.MediaKind,
				MediaURL:  url,
				RuleID:    &ruleID,
			})
		}
		return payloads, nil

	default:
		return []model.OutboundPayload{{
			Kind:   model.ResponseText,
			Body:   body,
			RuleID: &ruleID,
		}}, nil
	}
}

// validateList fills display defaults and rejects structurally unusable
// lists: no sections, or rows without a stable id and title.
func validateList(spec *model.ListSpec) error {
	if spec.Header == "" {
		spec.Header = "Menú"
	}
	if spec.Footer == "" {
		spec.Footer = "Selecciona una opción"
	}
	if spec.Button == "" {
		spec.Button = "Ver opciones"
	}
	if len(spec.Sections) == 0 {
		return fmt.Errorf("list has no sections")
	}
	for _, sec := range spec.Sections {
		if len(sec.Rows) == 0 {
			return fmt.Errorf("list section %q has no rows", sec.Title)
		}
		for _, row := range sec.Rows {
			if row.ID == "" || row.Title == "" {
				return fmt.Errorf("list row missing id or title")
			}
		}
	}
	return nil
}

// composeOrFallback degrades a malformed interactive rule to its plain
// body text so a misconfigured menu never silences the conversation.
func composeOrFallback(rule *model.Rule, body string) []model.OutboundPayload {
	payloads, err := Compose(rule, body)
	if err == nil {
		return payloads
	}
	if body == "" {
		return nil
	}
	ruleID := rule.ID
	return []model.OutboundPayload{{Kind: model.ResponseText, Body: body, RuleID: &ruleID}}
}

func formatTotal(total float64) string {
	return strconv.FormatFloat(total, 'f', -1, 64)
}
