package model

// OutboundPayload is a rendered reply ready for the messaging adapter.
// Exactly one of Buttons, List, or MediaURL is populated for the non-text
// kinds.
type OutboundPayload struct {
	Kind      ResponseKind `json:"kind"`
	Body      string       `json:"body,omitempty"`
	Buttons   []Button     `json:"buttons,omitempty"`
	List      *ListSpec    `json:"list,omitempty"`
	MediaKind string       `json:"media_kind,omitempty"`
	MediaURL  string       `json:"media_url,omitempty"`
	RuleID    *int64       `json:"rule_id,omitempty"`
	NextStep  string       `json:"next_step,omitempty"`
}
