// Package engine implements the conversational dispatch pipeline: event
// deduplication, global command interception, rule resolution, outbound
// composition, and state commits.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/internal/normalize"
	"github.com/chatflow-io/chatflow/pkg/logger"
	"github.com/chatflow-io/chatflow/pkg/metrics"
)

// BootstrapTrigger is the synthetic input resolved at the initial step for
// a first-contact sender (and after a restart command).
const BootstrapTrigger = "iniciar"

// EventGate decides whether an inbound event id has already been processed.
type EventGate interface {
	AdmitEvent(ctx context.Context, externalID string) (bool, error)
}

// StateStore holds per-sender conversation state.
type StateStore interface {
	GetState(ctx context.Context, sender string) (*model.ConversationState, error)
	EnsureState(ctx context.Context, sender, initialStep string) (*model.ConversationState, bool, error)
	Touch(ctx context.Context, sender string) error
	CommitTransition(ctx context.Context, sender, step string, status model.Status, roles []string) error
}

// RuleSource loads the ordered rules for a step.
type RuleSource interface {
	RulesForStep(ctx context.Context, step string) ([]model.Rule, error)
}

// MessageLog appends to the conversation history.
type MessageLog interface {
	RecordMessage(ctx context.Context, msg *model.Message) error
}

// Sender delivers a payload through the messaging adapter.
type Sender interface {
	Send(ctx context.Context, to string, p model.OutboundPayload) (string, error)
}

// AuditPublisher mirrors processed events and history records to the audit
// stream. Publish failures are logged, never fatal: the relational store is
// the source of truth.
type AuditPublisher interface {
	PublishEvent(ctx context.Context, ev *model.InboundEvent) (uint64, error)
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
}

// Config holds the engine's flow settings.
type Config struct {
	InitialStep    string
	HandoffStep    string
	SessionTimeout time.Duration
	FallbackText   string
	RestartText    string
	RetryText      string
}

// Engine is the conversational dispatch engine.
type Engine struct {
	cfg      Config
	gate     EventGate
	states   StateStore
	rules    RuleSource
	log      MessageLog
	sender   Sender
	audit    AuditPublisher
	commands *CommandRegistry
	resolver *Resolver
	logger   *logger.Logger

	// One in-flight event per sender. Entries are never removed; the map is
	// bounded by the sender population.
	senderLocks sync.Map
}

// New creates an engine. audit may be nil.
func New(cfg Config, gate EventGate, states StateStore, rules RuleSource, log MessageLog, sender Sender, audit AuditPublisher, lg *logger.Logger) *Engine {
	if cfg.RetryText == "" {
		cfg.RetryText = "Por favor ingresa la medida correcta."
	}
	return &Engine{
		cfg:      cfg,
		gate:     gate,
		states:   states,
		rules:    rules,
		log:      log,
		sender:   sender,
		audit:    audit,
		commands: NewCommandRegistry(nil),
		resolver: NewResolver(rules, cfg.HandoffStep, cfg.RetryText),
		logger:   lg,
	}
}

// SetCommandRegistry installs the global command registry. Called once at
// startup, before any event is processed.
func (e *Engine) SetCommandRegistry(reg *CommandRegistry) {
	e.commands = reg
}

// Resolver returns the engine's rule resolver for read-only inspection.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

func (e *Engine) lockSender(sender string) func() {
	v, _ := e.senderLocks.LoadOrStore(sender, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ProcessEvent runs one inbound event through the full pipeline. Each
// external id is processed at most once; duplicates are an idempotent no-op
// with no response sent.
func (e *Engine) ProcessEvent(ctx context.Context, ev *model.InboundEvent) (model.Outcome, error) {
	admitted, err := e.gate.AdmitEvent(ctx, ev.ExternalID)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(string(model.OutcomeError)).Inc()
		return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !admitted {
		metrics.DuplicateEventsTotal.Inc()
		metrics.EventsTotal.WithLabelValues(string(model.OutcomeNoOp)).Inc()
		// Sentinel, not failure: callers ack the delivery and move on.
		return model.OutcomeNoOp, ErrDuplicateEvent
	}

	unlock := e.lockSender(ev.Sender)
	defer unlock()

	e.publishEvent(ctx, ev)

	outcome, err := e.dispatch(ctx, ev)
	metrics.EventsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (e *Engine) dispatch(ctx context.Context, ev *model.InboundEvent) (model.Outcome, error) {
	st, created, err := e.states.EnsureState(ctx, ev.Sender, e.cfg.InitialStep)
	if err != nil {
		return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// An expired active session restarts from the initial step, exactly as
	// a first contact does. Pending handoffs are never expired here.
	expired := st.Status == model.StatusActive &&
		e.cfg.SessionTimeout > 0 &&
		time.Since(st.LastActivity) > e.cfg.SessionTimeout
	bootstrap := created || expired
	step := st.Step
	if bootstrap {
		step = e.cfg.InitialStep
	}

	e.recordInbound(ctx, ev, step)

	normalized := normalize.Text(ev.Text)

	// Global commands escape any state, a parked handoff included: the
	// restart handler recommits the conversation as active. Structured
	// option replies are routed by id, never intercepted, so a button
	// whose title carries a command keyword still reaches its step.
	if ev.OptionID == "" {
		if keyword, handler, ok := e.commands.Match(normalized); ok {
			metrics.GlobalCommandsTotal.WithLabelValues(keyword).Inc()
			if err := handler(ctx, ev.Sender, ev.Text); err != nil {
				return model.OutcomeError, err
			}
			return model.OutcomeReplied, nil
		}
	}

	// While an external responder owns the conversation, inbound text is
	// recorded for it but rules do not run.
	if st.Status != model.StatusActive {
		if err := e.states.Touch(ctx, ev.Sender); err != nil {
			return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return model.OutcomeHandoffPending, nil
	}

	if bootstrap {
		return e.runAction(ctx, ev.Sender, e.mustResolve(ctx, step, BootstrapTrigger))
	}

	// A button or list reply is routed by its option id when the current
	// step's rules define a destination override for it.
	if ev.OptionID != "" {
		override, err := e.optionOverride(ctx, step, ev.OptionID)
		if err != nil {
			return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if override != "" {
			action, err := e.resolver.Advance(ctx, override)
			if err != nil {
				return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			return e.runAction(ctx, ev.Sender, action)
		}
	}

	action, err := e.resolver.Resolve(ctx, step, normalized)
	if err != nil {
		return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !action.Matched {
		return e.noMatch(ctx, ev.Sender)
	}
	return e.runAction(ctx, ev.Sender, action)
}

// mustResolve resolves the bootstrap trigger; a missing bootstrap rule
// degrades to the no-match path rather than failing the event.
func (e *Engine) mustResolve(ctx context.Context, step, input string) *ResolvedAction {
	action, err := e.resolver.Resolve(ctx, step, input)
	if err != nil || !action.Matched {
		if err != nil {
			e.logger.Warn("bootstrap resolve failed", zap.Error(err))
		}
		return &ResolvedAction{Matched: false, TerminalStep: step}
	}
	return action
}

// runAction delivers the action's responses and commits its terminal state.
// The state transition is not committed until every send succeeds: a reply
// that fails to send must not silently advance the step.
func (e *Engine) runAction(ctx context.Context, sender string, action *ResolvedAction) (model.Outcome, error) {
	if action.Handoff {
		if err := e.states.CommitTransition(ctx, sender, action.TerminalStep, model.StatusAwaitingHandoff, action.Roles); err != nil {
			return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return model.OutcomeHandoffPending, nil
	}

	if !action.Matched {
		return e.noMatch(ctx, sender)
	}

	for _, p := range action.Responses {
		if err := e.deliver(ctx, sender, p); err != nil {
			// State stays at the last committed step.
			return model.OutcomeError, err
		}
	}

	if err := e.states.CommitTransition(ctx, sender, action.TerminalStep, model.StatusActive, action.Roles); err != nil {
		return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return model.OutcomeReplied, nil
}

func (e *Engine) noMatch(ctx context.Context, sender string) (model.Outcome, error) {
	if err := e.states.Touch(ctx, sender); err != nil {
		return model.OutcomeError, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if e.cfg.FallbackText == "" {
		return model.OutcomeNoOp, nil
	}
	p := model.OutboundPayload{Kind: model.ResponseText, Body: e.cfg.FallbackText}
	if err := e.deliver(ctx, sender, p); err != nil {
		return model.OutcomeError, err
	}
	return model.OutcomeReplied, nil
}

// deliver sends one payload and records the attempt in the history. Send
// failures are recorded, then surfaced.
func (e *Engine) deliver(ctx context.Context, sender string, p model.OutboundPayload) error {
	start := time.Now()
	externalID, sendErr := e.sender.Send(ctx, sender, p)

	msg := &model.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Sender:     sender,
		Direction:  model.DirectionOut,
		Kind:       string(p.Kind),
		Body:       p.Body,
		MediaURL:   p.MediaURL,
		RuleID:     p.RuleID,
		ExternalID: externalID,
		Status:     model.SendSent,
		CreatedAt:  time.Now(),
	}
	status := "sent"
	if sendErr != nil {
		msg.Status = model.SendFailed
		msg.Error = sendErr.Error()
		status = "failed"
	}
	metrics.RecordSend(string(p.Kind), status, time.Since(start).Seconds())

	if err := e.log.RecordMessage(ctx, msg); err != nil {
		e.logger.Error("failed to record outbound message", zap.Error(err))
	}
	e.publishMessage(ctx, msg)

	if sendErr != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, sendErr)
	}
	return nil
}

// SendDirect composes and delivers a plain text reply outside of rule
// evaluation, used by global command handlers and the handoff worker.
func (e *Engine) SendDirect(ctx context.Context, sender, text string) error {
	return e.deliver(ctx, sender, model.OutboundPayload{Kind: model.ResponseText, Body: text})
}

func (e *Engine) optionOverride(ctx context.Context, step, optionID string) (string, error) {
	rules, err := e.rules.RulesForStep(ctx, step)
	if err != nil {
		return "", err
	}
	for i := range rules {
		if next := rules[i].OptionStep(optionID); next != "" {
			return next, nil
		}
	}
	return "", nil
}

func (e *Engine) recordInbound(ctx context.Context, ev *model.InboundEvent, step string) {
	msg := &model.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Sender:     ev.Sender,
		Direction:  model.DirectionIn,
		Kind:       inboundKind(ev.Kind),
		Body:       ev.Text,
		MediaURL:   ev.MediaRef,
		Step:       step,
		ExternalID: ev.ExternalID,
		CreatedAt:  ev.Timestamp,
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := e.log.RecordMessage(ctx, msg); err != nil {
		e.logger.Error("failed to record inbound message", zap.Error(err))
	}
	e.publishMessage(ctx, msg)
}

// inboundKind folds interactive replies into the text history kind: the
// handoff worker and the dashboard both read them as user text.
func inboundKind(kind model.EventKind) string {
	switch kind {
	case model.EventButtonReply, model.EventListReply:
		return string(model.EventText)
	default:
		return string(kind)
	}
}

func (e *Engine) publishEvent(ctx context.Context, ev *model.InboundEvent) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.PublishEvent(ctx, ev); err != nil {
		e.logger.Warn("audit publish failed", zap.Error(err))
	}
}

func (e *Engine) publishMessage(ctx context.Context, msg *model.Message) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.PublishMessage(ctx, msg); err != nil {
		e.logger.Warn("audit publish failed", zap.Error(err))
	}
}
