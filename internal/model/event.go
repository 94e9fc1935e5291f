// Package model defines data structures for the dispatch engine.
package model

import (
	"time"
)

// EventKind represents the payload kind of an inbound event.
type EventKind string

const (
	EventText        EventKind = "text"
	EventButtonReply EventKind = "button-reply"
	EventListReply   EventKind = "list-reply"
	EventMedia       EventKind = "media"
	EventLocation    EventKind = "location"
)

// InboundEvent is a provider-delivered message. Immutable once recorded.
type InboundEvent struct {
	ExternalID string    `json:"external_id"`
	Sender     string    `json:"sender"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	OptionID   string    `json:"option_id,omitempty"`
	MediaRef   string    `json:"media_ref,omitempty"`
}

// Outcome is the result of processing one inbound event.
type Outcome string

const (
	OutcomeNoOp           Outcome = "noop"
	OutcomeReplied        Outcome = "replied"
	OutcomeHandoffPending Outcome = "handoff-pending"
	OutcomeError          Outcome = "error"
)
