package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/pkg/logger"
)

type fakeGate struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeGate() *fakeGate {
	return &fakeGate{seen: make(map[string]bool)}
}

func (g *fakeGate) AdmitEvent(_ context.Context, externalID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.seen[externalID] {
		return false, nil
	}
	g.seen[externalID] = true
	return true, nil
}

type commitRec struct {
	sender string
	step   string
	status model.Status
	roles  []string
}

type fakeStates struct {
	mu      sync.Mutex
	states  map[string]*model.ConversationState
	commits []commitRec
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*model.ConversationState)}
}

func (f *fakeStates) seed(sender, step string, status model.Status, last time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[sender] = &model.ConversationState{
		Sender: sender, Step: step, Status: status, LastActivity: last,
	}
}

func (f *fakeStates) GetState(_ context.Context, sender string) (*model.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[sender]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStates) EnsureState(_ context.Context, sender, initialStep string) (*model.ConversationState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[sender]; ok {
		cp := *st
		return &cp, false, nil
	}
	st := &model.ConversationState{
		Sender: sender, Step: initialStep, Status: model.StatusActive, LastActivity: time.Now(),
	}
	f.states[sender] = st
	cp := *st
	return &cp, true, nil
}

func (f *fakeStates) Touch(_ context.Context, sender string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[sender]; ok {
		st.LastActivity = time.Now()
	}
	return nil
}

func (f *fakeStates) CommitTransition(_ context.Context, sender, step string, status model.Status, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[sender]
	if !ok {
		st = &model.ConversationState{Sender: sender}
		f.states[sender] = st
	}
	st.Step = step
	st.Status = status
	st.LastActivity = time.Now()
	f.commits = append(f.commits, commitRec{sender: sender, step: step, status: status, roles: roles})
	return nil
}

func (f *fakeStates) step(sender string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[sender]; ok {
		return st.Step
	}
	return ""
}

type fakeRules map[string][]model.Rule

func (f fakeRules) RulesForStep(_ context.Context, step string) ([]model.Rule, error) {
	return f[strings.ToLower(step)], nil
}

type fakeLog struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (f *fakeLog) RecordMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.msgs = append(f.msgs, &cp)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []model.OutboundPayload
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, p model.OutboundPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, p)
	return "wamid.test", nil
}

type fixture struct {
	engine *Engine
	gate   *fakeGate
	states *fakeStates
	rules  fakeRules
	log    *fakeLog
	sender *fakeSender
}

func newFixture(rules fakeRules, cfg Config) *fixture {
	if cfg.InitialStep == "" {
		cfg.InitialStep = "menu_principal"
	}
	if cfg.HandoffStep == "" {
		cfg.HandoffStep = "ia_chat"
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 10 * time.Minute
	}
	f := &fixture{
		gate:   newFakeGate(),
		states: newFakeStates(),
		rules:  rules,
		log:    &fakeLog{},
		sender: &fakeSender{},
	}
	f.engine = New(cfg, f.gate, f.states, f.rules, f.log, f.sender, nil, logger.NewNop())
	return f
}

func textEvent(id, sender, text string) *model.InboundEvent {
	return &model.InboundEvent{
		ExternalID: id,
		Sender:     sender,
		Timestamp:  time.Now(),
		Kind:       model.EventText,
		Text:       text,
	}
}

func TestProcessEventFirstContactBootstraps(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{ID: 1, Pattern: "iniciar", Response: "Bienvenido", Kind: model.ResponseText}},
	}, Config{})

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-1", "5215550001", "hola que tal"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "Bienvenido", f.sender.sent[0].Body)
	assert.Equal(t, "menu_principal", f.states.step("5215550001"))
}

func TestProcessEventDuplicateIsNoOp(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{ID: 1, Pattern: "iniciar", Response: "Bienvenido", Kind: model.ResponseText}},
	}, Config{})

	ev := textEvent("ev-dup", "5215550001", "hola")
	_, err := f.engine.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)

	outcome, err := f.engine.ProcessEvent(context.Background(), ev)
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.Equal(t, model.OutcomeNoOp, outcome)
	assert.Len(t, f.sender.sent, 1, "duplicate must not send a second reply")
}

func TestProcessEventStoreUnavailable(t *testing.T) {
	f := newFixture(fakeRules{}, Config{})
	f.gate.err = errors.New("connection refused")

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-2", "5215550001", "hola"))
	assert.Equal(t, model.OutcomeError, outcome)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSendFailureDoesNotAdvanceStep(t *testing.T) {
	f := newFixture(fakeRules{
		"paso_a": {{ID: 1, Pattern: "hola", Response: "Sigue", Kind: model.ResponseText, NextStep: "paso_b"}},
	}, Config{})
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now())
	f.sender.err = errors.New("provider 500")

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-3", "5215550001", "Hola"))
	assert.Equal(t, model.OutcomeError, outcome)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, "paso_a", f.states.step("5215550001"))
	assert.Empty(t, f.states.commits)
}

func TestHandoffRuleParksConversation(t *testing.T) {
	f := newFixture(fakeRules{
		"paso_a": {{ID: 1, Pattern: "asesor", Handler: "ai", NextStep: "ia_chat"}},
	}, Config{})
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now())

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-4", "5215550001", "asesor"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHandoffPending, outcome)
	assert.Empty(t, f.sender.sent, "handoff rules produce no automatic reply")
	require.Len(t, f.states.commits, 1)
	assert.Equal(t, model.StatusAwaitingHandoff, f.states.commits[0].status)
	assert.Equal(t, "ia_chat", f.states.commits[0].step)
}

func TestParkedConversationRecordsInboundOnly(t *testing.T) {
	f := newFixture(fakeRules{
		"ia_chat": {{ID: 1, Pattern: "*", Response: "should not fire", Kind: model.ResponseText}},
	}, Config{})
	f.states.seed("5215550001", "ia_chat", model.StatusAwaitingHandoff, time.Now())

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-5", "5215550001", "sigo esperando"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHandoffPending, outcome)
	assert.Empty(t, f.sender.sent)
	require.Len(t, f.log.msgs, 1)
	assert.Equal(t, model.DirectionIn, f.log.msgs[0].Direction)
}

func TestGlobalCommandWinsOverRules(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{ID: 1, Pattern: "iniciar", Response: "Bienvenido", Kind: model.ResponseText}},
		"paso_a":         {{ID: 2, Pattern: "menu", Response: "rule reply", Kind: model.ResponseText}},
	}, Config{RestartText: "Perfecto, volvamos a empezar."})
	f.engine.SetCommandRegistry(DefaultCommands(f.engine))
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now())

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-6", "5215550001", "Menú"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "Perfecto, volvamos a empezar.", f.sender.sent[0].Body)
	assert.Equal(t, "Bienvenido", f.sender.sent[1].Body)
	assert.Equal(t, "menu_principal", f.states.step("5215550001"))
}

func TestRestartCommandEscapesParkedConversation(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{ID: 1, Pattern: "iniciar", Response: "Bienvenido", Kind: model.ResponseText}},
	}, Config{RestartText: "Perfecto, volvamos a empezar."})
	f.engine.SetCommandRegistry(DefaultCommands(f.engine))
	f.states.seed("5215550001", "ia_chat", model.StatusAwaitingHandoff, time.Now())

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-12", "5215550001", "reiniciar"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "Perfecto, volvamos a empezar.", f.sender.sent[0].Body)
	assert.Equal(t, "Bienvenido", f.sender.sent[1].Body)

	require.NotEmpty(t, f.states.commits)
	last := f.states.commits[len(f.states.commits)-1]
	assert.Equal(t, model.StatusActive, last.status, "restart must un-park the conversation")
	assert.Equal(t, "menu_principal", last.step)
}

func TestOptionReplyIsNeverIntercepted(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{
			ID: 1, Pattern: "*", Kind: model.ResponseList, Response: "Elige",
			Options: `[{"rows":[{"id":"op_menu","title":"Menú","step":"paso_menu"}]}]`,
		}},
		"paso_menu": {{ID: 2, Pattern: "iniciar", Response: "Estás en el menú", Kind: model.ResponseText}},
	}, Config{RestartText: "Perfecto, volvamos a empezar."})
	f.engine.SetCommandRegistry(DefaultCommands(f.engine))
	f.states.seed("5215550001", "menu_principal", model.StatusActive, time.Now())

	ev := &model.InboundEvent{
		ExternalID: "ev-13", Sender: "5215550001", Timestamp: time.Now(),
		Kind: model.EventListReply, OptionID: "op_menu", Text: "Menú",
	}
	outcome, err := f.engine.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	assert.Equal(t, "paso_menu", f.states.step("5215550001"), "reply routes by option id, not its title")
	for _, p := range f.sender.sent {
		assert.NotEqual(t, "Perfecto, volvamos a empezar.", p.Body, "button title must not trigger a restart")
	}
}

func TestOptionOverrideRouting(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{
			ID: 1, Pattern: "*", Kind: model.ResponseList, Response: "Elige",
			Options: `[{"rows":[{"id":"op1","title":"Cotizar","step":"paso_cotizar"}]}]`,
		}},
	}, Config{})
	f.states.seed("5215550001", "menu_principal", model.StatusActive, time.Now())

	ev := &model.InboundEvent{
		ExternalID: "ev-7", Sender: "5215550001", Timestamp: time.Now(),
		Kind: model.EventListReply, OptionID: "op1", Text: "Cotizar",
	}
	outcome, err := f.engine.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	assert.Equal(t, "paso_cotizar", f.states.step("5215550001"))
}

func TestNoMatchSendsFallback(t *testing.T) {
	f := newFixture(fakeRules{
		"paso_a": {{ID: 1, Pattern: "si", Response: "ok", Kind: model.ResponseText}},
	}, Config{FallbackText: "No entendí tu respuesta."})
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now())

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-8", "5215550001", "xyzzy"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "No entendí tu respuesta.", f.sender.sent[0].Body)
	assert.Equal(t, "paso_a", f.states.step("5215550001"), "no match keeps the step")
}

func TestNoMatchSilentWhenFallbackEmpty(t *testing.T) {
	f := newFixture(fakeRules{}, Config{})
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now())

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-9", "5215550001", "xyzzy"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoOp, outcome)
	assert.Empty(t, f.sender.sent)
}

func TestExpiredSessionRestartsFromInitialStep(t *testing.T) {
	f := newFixture(fakeRules{
		"menu_principal": {{ID: 1, Pattern: "iniciar", Response: "Bienvenido", Kind: model.ResponseText}},
		"paso_a":         {{ID: 2, Pattern: "hola", Response: "rule reply", Kind: model.ResponseText}},
	}, Config{SessionTimeout: 10 * time.Minute})
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now().Add(-time.Hour))

	outcome, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-10", "5215550001", "hola"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeReplied, outcome)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "Bienvenido", f.sender.sent[0].Body)
	assert.Equal(t, "menu_principal", f.states.step("5215550001"))
}

func TestRoleAssignedOnCommit(t *testing.T) {
	f := newFixture(fakeRules{
		"paso_a": {{ID: 1, Pattern: "soy cliente", Response: "Gracias", Kind: model.ResponseText, RoleKeyword: "cliente", NextStep: "paso_b"}},
	}, Config{})
	f.states.seed("5215550001", "paso_a", model.StatusActive, time.Now())

	_, err := f.engine.ProcessEvent(context.Background(), textEvent("ev-11", "5215550001", "Soy Cliente"))
	require.NoError(t, err)
	require.Len(t, f.states.commits, 1)
	assert.Equal(t, []string{"cliente"}, f.states.commits[0].roles)
	assert.Equal(t, "paso_b", f.states.commits[0].step)
}
