// Package handoff runs the polling actor that claims conversations parked
// for an external responder and answers them with the configured LLM.
package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatflow-io/chatflow/internal/engine"
	"github.com/chatflow-io/chatflow/internal/llm"
	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/pkg/logger"
	"github.com/chatflow-io/chatflow/pkg/metrics"
)

// Coordinator claims and releases conversations awaiting handoff.
type Coordinator interface {
	ClaimBatch(ctx context.Context, owner string, batchSize int, lease time.Duration) ([]model.ConversationState, error)
	Release(ctx context.Context, sender, owner, step string) (bool, error)
	CountAwaitingHandoff(ctx context.Context) (int64, error)
}

// History reads conversation context for the responder.
type History interface {
	LatestInboundText(ctx context.Context, sender string) (string, error)
	RecentMessages(ctx context.Context, sender string, limit int) ([]model.Message, error)
}

// Settings exposes the runtime AI toggle.
type Settings interface {
	AIEnabled(ctx context.Context) (bool, error)
}

// Replier delivers the generated answer through the dispatch engine so the
// send is recorded and audited like any other outbound message.
type Replier interface {
	SendDirect(ctx context.Context, sender, text string) error
}

// Config holds worker settings.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	InitialStep  string
	FallbackText string
	Model        string
	SystemPrompt string
	HistoryLimit int
}

// Worker is the AI handoff claimer.
type Worker struct {
	owner       string
	coordinator Coordinator
	history     History
	settings    Settings
	replier     Replier
	client      llm.Client
	cfg         Config
	logger      *logger.Logger
}

// NewWorker creates a worker with a unique owner tag for its claims.
func NewWorker(coordinator Coordinator, history History, settings Settings, replier Replier, client llm.Client, cfg Config, log *logger.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Worker{
		owner:       uuid.New().String(),
		coordinator: coordinator,
		history:     history,
		settings:    settings,
		replier:     replier,
		client:      client,
		cfg:         cfg,
		logger:      log.With(zap.String("worker", "handoff")),
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	enabled, err := w.settings.AIEnabled(ctx)
	if err != nil {
		w.logger.Error("failed to read ai settings", zap.Error(err))
		return
	}

	claimed, err := w.coordinator.ClaimBatch(ctx, w.owner, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		metrics.HandoffClaimsTotal.WithLabelValues("error").Inc()
		w.logger.Error("claim batch failed", zap.Error(err))
		return
	}
	defer w.refreshPendingGauge(ctx)
	if len(claimed) == 0 {
		return
	}
	metrics.HandoffClaimsTotal.WithLabelValues("claimed").Add(float64(len(claimed)))

	for i := range claimed {
		st := &claimed[i]

		if !enabled {
			// Assistant disabled mid-flight: abandon the handoff and send
			// the conversation back to the start of the flow.
			w.release(ctx, st.Sender, w.cfg.InitialStep)
			continue
		}

		if err := w.respond(ctx, st); err != nil {
			w.logger.Error("handoff reply failed",
				zap.String("sender", st.Sender), zap.Error(err))
		}
		w.release(ctx, st.Sender, st.Step)
	}
}

func (w *Worker) respond(ctx context.Context, st *model.ConversationState) error {
	question, err := w.history.LatestInboundText(ctx, st.Sender)
	if err != nil {
		return fmt.Errorf("load question: %w", err)
	}

	answer, err := w.answer(ctx, st.Sender, question)
	if err != nil {
		w.logger.Warn("responder failed, using fallback",
			zap.String("sender", st.Sender), zap.Error(err))
		answer = ""
	}
	if answer == "" {
		answer = w.cfg.FallbackText
	}
	if answer == "" {
		return nil
	}
	return w.replier.SendDirect(ctx, st.Sender, answer)
}

func (w *Worker) answer(ctx context.Context, sender, question string) (string, error) {
	if w.client == nil {
		return "", fmt.Errorf("no llm client configured")
	}

	messages := w.contextMessages(ctx, sender)
	if question != "" && (len(messages) == 0 || messages[len(messages)-1].Content != question) {
		messages = append(messages, llm.ChatMessage{Role: "user", Content: question})
	}
	if len(messages) == 0 {
		return "", nil
	}

	start := time.Now()
	resp, err := w.client.Complete(ctx, &llm.CompletionRequest{
		Model:    w.cfg.Model,
		System:   w.cfg.SystemPrompt,
		Messages: messages,
	})
	if err != nil {
		metrics.RecordLLM(w.cfg.Model, "error", time.Since(start).Seconds(), 0, 0)
		return "", err
	}
	metrics.RecordLLM(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

// contextMessages maps recent history into LLM chat roles. History read
// failures degrade to answering from the question alone.
func (w *Worker) contextMessages(ctx context.Context, sender string) []llm.ChatMessage {
	records, err := w.history.RecentMessages(ctx, sender, w.cfg.HistoryLimit)
	if err != nil {
		w.logger.Warn("failed to load history", zap.String("sender", sender), zap.Error(err))
		return nil
	}
	var messages []llm.ChatMessage
	for _, rec := range records {
		if rec.Kind != string(model.EventText) || rec.Body == "" {
			continue
		}
		role := "user"
		if rec.Direction == model.DirectionOut {
			role = "assistant"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: rec.Body})
	}
	return messages
}

func (w *Worker) release(ctx context.Context, sender, step string) {
	released, err := w.coordinator.Release(ctx, sender, w.owner, step)
	if err != nil {
		w.logger.Error("release failed", zap.String("sender", sender), zap.Error(err))
		return
	}
	if !released {
		// Lease expired and the conversation was reclaimed or reset; the
		// stale release is a no-op.
		metrics.HandoffClaimsTotal.WithLabelValues("conflict").Inc()
		w.logger.Warn("stale release ignored",
			zap.String("sender", sender), zap.Error(engine.ErrClaimConflict))
	}
}

// refreshPendingGauge republishes the awaiting-handoff count. The gauge is
// derived, never inc/dec bookkeeping, so a crashed worker cannot drift it.
func (w *Worker) refreshPendingGauge(ctx context.Context) {
	n, err := w.coordinator.CountAwaitingHandoff(ctx)
	if err != nil {
		w.logger.Warn("failed to count pending handoffs", zap.Error(err))
		return
	}
	metrics.HandoffPendingGauge.Set(float64(n))
}
