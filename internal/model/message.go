package model

import (
	"time"
)

// Direction distinguishes inbound from outbound history records.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// SendStatus records the result of an outbound send attempt.
type SendStatus string

const (
	SendSent   SendStatus = "sent"
	SendFailed SendStatus = "failed"
)

// Message is one record in the conversation history. Outbound records carry
// the triggering rule reference for audit; send failures are recorded, not
// silently dropped.
type Message struct {
	ID         string     `json:"id"`
	Sender     string     `json:"sender"`
	Direction  Direction  `json:"direction"`
	Kind       string     `json:"kind"`
	Body       string     `json:"body,omitempty"`
	MediaURL   string     `json:"media_url,omitempty"`
	Step       string     `json:"step,omitempty"`
	RuleID     *int64     `json:"rule_id,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Status     SendStatus `json:"status,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
