package model

import (
	"encoding/json"
	"strings"
)

// Wildcard is the input pattern that matches any normalized input.
const Wildcard = "*"

// ResponseKind represents the kind of reply a rule produces.
type ResponseKind string

const (
	ResponseText   ResponseKind = "text"
	ResponseButton ResponseKind = "button"
	ResponseList   ResponseKind = "list"
	ResponseMedia  ResponseKind = "media"
)

// ComputeKind tags a closed set of known side computations. Adding a kind
// is a code change, not data-driven dispatch.
type ComputeKind string

const (
	ComputeNone   ComputeKind = ""
	ComputeLinear ComputeKind = "linear"
	ComputeArea   ComputeKind = "area"
)

// Rule is an administrator-defined mapping from (step, input pattern) to a
// response and next step. Within a step, rules are totally ordered by ID.
type Rule struct {
	ID            int64        `json:"id"`
	Step          string       `json:"step"`
	Pattern       string       `json:"pattern"`
	Response      string       `json:"response"`
	Kind          ResponseKind `json:"kind"`
	Options       string       `json:"options,omitempty"`
	MediaURLs     []string     `json:"media_urls,omitempty"`
	MediaKind     string       `json:"media_kind,omitempty"`
	NextStep      string       `json:"next_step,omitempty"`
	RoleKeyword   string       `json:"role_keyword,omitempty"`
	Handler       string       `json:"handler,omitempty"`
	ComputeKind   ComputeKind  `json:"compute_kind,omitempty"`
	ComputeFactor float64      `json:"compute_factor,omitempty"`
}

// IsWildcard reports whether the rule matches any input.
func (r *Rule) IsWildcard() bool {
	return strings.TrimSpace(r.Pattern) == Wildcard
}

// CascadeSteps splits the next-step value into its ordered step list.
// A plain next step yields a single-element list.
func (r *Rule) CascadeSteps() []string {
	var steps []string
	for _, s := range strings.Split(r.NextStep, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// Button is a quick-reply button definition.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Step  string `json:"step,omitempty"`
}

// ListRow is one selectable row in a list section. Step, when set,
// overrides the rule's next step if the user selects this row.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Step        string `json:"step,omitempty"`
}

// ListSection groups rows under a title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// ListSpec is a sectioned selectable list definition.
type ListSpec struct {
	Header   string        `json:"header,omitempty"`
	Footer   string        `json:"footer,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []ListSection `json:"sections"`
}

// ParseButtons decodes a rule's options payload as a button set.
func ParseButtons(options string) ([]Button, error) {
	var buttons []Button
	if err := json.Unmarshal([]byte(options), &buttons); err != nil {
		return nil, err
	}
	return buttons, nil
}

// ParseListSpec decodes a rule's options payload as a list definition.
// A bare JSON array is treated as the section list.
func ParseListSpec(options string) (*ListSpec, error) {
	var spec ListSpec
	if err := json.Unmarshal([]byte(options), &spec); err == nil && len(spec.Sections) > 0 {
		return &spec, nil
	}
	var sections []ListSection
	if err := json.Unmarshal([]byte(options), &sections); err != nil {
		return nil, err
	}
	return &ListSpec{Sections: sections}, nil
}

// OptionStep returns the destination-step override for an option id found
// in the rule's options payload, or "" if the id is not present.
func (r *Rule) OptionStep(optionID string) string {
	if optionID == "" || r.Options == "" {
		return ""
	}
	if buttons, err := ParseButtons(r.Options); err == nil {
		for _, b := range buttons {
			if b.ID == optionID && b.Step != "" {
				return strings.ToLower(strings.TrimSpace(b.Step))
			}
		}
	}
	if spec, err := ParseListSpec(r.Options); err == nil {
		for _, sec := range spec.Sections {
			for _, row := range sec.Rows {
				if row.ID == optionID && row.Step != "" {
					return strings.ToLower(strings.TrimSpace(row.Step))
				}
			}
		}
	}
	return ""
}
