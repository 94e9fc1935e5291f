package model

import (
	"time"
)

// Status represents the processing status of a conversation.
type Status string

const (
	StatusActive          Status = "active"
	StatusAwaitingHandoff Status = "awaiting-handoff"
	StatusClaimed         Status = "claimed"
)

// ConversationState holds the per-sender flow position. Exactly one row
// exists per sender; it is reset, never deleted.
type ConversationState struct {
	Sender       string     `json:"sender"`
	Step         string     `json:"step"`
	Status       Status     `json:"status"`
	LastActivity time.Time  `json:"last_activity"`
	ClaimOwner   string     `json:"claim_owner,omitempty"`
	ClaimExpires *time.Time `json:"claim_expires,omitempty"`
}

// RoleAssignment relates a sender to a role label. Last write wins.
type RoleAssignment struct {
	Sender     string    `json:"sender"`
	Role       string    `json:"role"`
	AssignedAt time.Time `json:"assigned_at"`
}
