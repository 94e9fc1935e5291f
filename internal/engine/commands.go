package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/internal/normalize"
)

// CommandHandler handles one intercepted global command. It may reset the
// conversation, send a direct reply, or perform an administrative action.
type CommandHandler func(ctx context.Context, sender, text string) error

type commandEntry struct {
	keyword string
	handler CommandHandler
}

// CommandRegistry maps normalized keywords to handlers. It is assembled at
// startup and never mutated afterwards; adding a command means registering
// a new pair, not changing the interceptor.
type CommandRegistry struct {
	entries []commandEntry
}

// NewCommandRegistry builds a registry from keyword→handler pairs. Keywords
// are normalized; longer keywords are checked first so "volver al inicio"
// wins over "inicio".
func NewCommandRegistry(commands map[string]CommandHandler) *CommandRegistry {
	reg := &CommandRegistry{}
	for keyword, handler := range commands {
		normalized := normalize.Text(keyword)
		if normalized == "" || handler == nil {
			continue
		}
		reg.entries = append(reg.entries, commandEntry{keyword: normalized, handler: handler})
	}
	sort.Slice(reg.entries, func(i, j int) bool {
		if len(reg.entries[i].keyword) != len(reg.entries[j].keyword) {
			return len(reg.entries[i].keyword) > len(reg.entries[j].keyword)
		}
		return reg.entries[i].keyword < reg.entries[j].keyword
	})
	return reg
}

// Match reports the first registered keyword appearing as a whole word (or
// word sequence) in the normalized text.
func (r *CommandRegistry) Match(normalizedText string) (string, CommandHandler, bool) {
	if r == nil || normalizedText == "" {
		return "", nil, false
	}
	padded := " " + normalizedText + " "
	for _, entry := range r.entries {
		if strings.Contains(padded, " "+entry.keyword+" ") {
			return entry.keyword, entry.handler, true
		}
	}
	return "", nil, false
}

// RestartKeywords are the default global commands that restart the flow.
var RestartKeywords = []string{
	"reiniciar", "volver al inicio", "inicio", "iniciar", "menú", "menu", "ayuda",
}

// Restart is the handler behind the restart keywords: it confirms, resets
// the conversation to the initial step, and replays the bootstrap rule.
func (e *Engine) Restart(ctx context.Context, sender, _ string) error {
	if e.cfg.RestartText != "" {
		if err := e.SendDirect(ctx, sender, e.cfg.RestartText); err != nil {
			return err
		}
	}

	action := e.mustResolve(ctx, e.cfg.InitialStep, BootstrapTrigger)
	for _, p := range action.Responses {
		if err := e.deliver(ctx, sender, p); err != nil {
			return err
		}
	}

	step := e.cfg.InitialStep
	if action.Matched && action.TerminalStep != "" {
		step = action.TerminalStep
	}
	if err := e.states.CommitTransition(ctx, sender, step, model.StatusActive, action.Roles); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DefaultCommands builds the standard registry around an engine.
func DefaultCommands(e *Engine) *CommandRegistry {
	commands := make(map[string]CommandHandler, len(RestartKeywords))
	for _, keyword := range RestartKeywords {
		commands[keyword] = e.Restart
	}
	return NewCommandRegistry(commands)
}
