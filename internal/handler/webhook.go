// Package handler exposes the HTTP surface: webhook ingress, operator API,
// and health checks.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/chatflow-io/chatflow/internal/engine"
	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/pkg/logger"
)

// Meta Cloud API webhook envelope, trimmed to the fields we read.
type metaEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string    `json:"field"`
			Value metaValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Messages         []metaMessage `json:"messages"`
}

type metaMessage struct {
	From        string           `json:"from"`
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Text        *metaText        `json:"text"`
	Interactive *metaInteractive `json:"interactive"`
	Image       *metaMedia       `json:"image"`
	Audio       *metaMedia       `json:"audio"`
	Video       *metaMedia       `json:"video"`
	Document    *metaMedia       `json:"document"`
	Location    *metaLocation    `json:"location"`
}

type metaText struct {
	Body string `json:"body"`
}

type metaInteractive struct {
	Type        string     `json:"type"`
	ButtonReply *metaReply `json:"button_reply"`
	ListReply   *metaReply `json:"list_reply"`
}

type metaLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type metaReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type metaMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// WebhookHandler receives provider callbacks and feeds them to the engine.
type WebhookHandler struct {
	engine      *engine.Engine
	verifyToken string
	logger      *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(eng *engine.Engine, verifyToken string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{engine: eng, verifyToken: verifyToken, logger: log}
}

// Verify handles GET /webhook, the provider's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles POST /webhook. Every message in the envelope runs through
// the full pipeline. The provider redelivers on non-2xx, so only a store
// outage (where the event was not admitted) answers with 5xx; everything
// else acks to keep redelivery from amplifying failures the deduplicator
// would drop anyway.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var envelope metaEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for i := range change.Value.Messages {
				ev := toInboundEvent(&change.Value.Messages[i])
				if ev == nil {
					continue
				}
				outcome, err := h.engine.ProcessEvent(r.Context(), ev)
				switch {
				case err == nil, errors.Is(err, engine.ErrDuplicateEvent):
					// Redelivery of a processed id is a normal ack.
				case errors.Is(err, engine.ErrStoreUnavailable):
					h.logger.Error("event rejected, store unavailable",
						zap.String("event_id", ev.ExternalID), zap.Error(err))
					writeError(w, http.StatusServiceUnavailable, "store unavailable")
					return
				default:
					h.logger.Error("event processing failed",
						zap.String("event_id", ev.ExternalID),
						zap.String("outcome", string(outcome)),
						zap.Error(err))
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// toInboundEvent maps one provider message to an event, or nil for kinds we
// do not dispatch on (reactions, stickers, system notices).
func toInboundEvent(m *metaMessage) *model.InboundEvent {
	ev := &model.InboundEvent{
		ExternalID: m.ID,
		Sender:     m.From,
	}
	if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		ev.Timestamp = time.Unix(secs, 0).UTC()
	}

	switch m.Type {
	case "text":
		ev.Kind = model.EventText
		if m.Text != nil {
			ev.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			return nil
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			ev.Kind = model.EventButtonReply
			ev.OptionID = m.Interactive.ButtonReply.ID
			ev.Text = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			ev.Kind = model.EventListReply
			ev.OptionID = m.Interactive.ListReply.ID
			ev.Text = m.Interactive.ListReply.Title
		default:
			return nil
		}
	case "image", "audio", "video", "document":
		ev.Kind = model.EventMedia
		media := m.Image
		if media == nil {
			media = m.Audio
		}
		if media == nil {
			media = m.Video
		}
		if media == nil {
			media = m.Document
		}
		if media == nil {
			return nil
		}
		ev.MediaRef = media.ID
		ev.Text = media.Caption
	case "location":
		if m.Location == nil {
			return nil
		}
		ev.Kind = model.EventLocation
		ev.Text = strconv.FormatFloat(m.Location.Latitude, 'f', 6, 64) +
			"," + strconv.FormatFloat(m.Location.Longitude, 'f', 6, 64)
	default:
		return nil
	}

	if ev.ExternalID == "" || ev.Sender == "" {
		return nil
	}
	return ev
}
