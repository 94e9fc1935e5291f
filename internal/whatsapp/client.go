// Package whatsapp implements the messaging adapter against the WhatsApp
// Cloud API (Graph API). It renders OutboundPayloads into the provider's
// wire format; it knows nothing about rules or conversation state.
package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/pkg/logger"
)

const graphBaseURL = "https://graph.facebook.com/v19.0"

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	http    *resty.Client
	phoneID string
	logger  *logger.Logger
}

// New creates a messaging client. The timeout bounds every send; a timeout
// surfaces as an error, never as success.
func New(token, phoneID string, timeout time.Duration, log *logger.Logger) *Client {
	http := resty.New().
		SetBaseURL(graphBaseURL).
		SetAuthToken(token).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    http,
		phoneID: phoneID,
		logger:  log,
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers a payload to a recipient and returns the provider-assigned
// message id.
func (c *Client) Send(ctx context.Context, to string, p model.OutboundPayload) (string, error) {
	body, err := c.render(to, p)
	if err != nil {
		return "", err
	}

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/%s/messages", c.phoneID))
	if err != nil {
		return "", fmt.Errorf("send %s to %s: %w", p.Kind, to, err)
	}
	if resp.IsError() {
		reason := resp.Status()
		if out.Error != nil {
			reason = out.Error.Message
		}
		c.logger.Warn("send rejected by provider",
			zap.String("to", to),
			zap.String("kind", string(p.Kind)),
			zap.Int("status", resp.StatusCode()),
		)
		return "", fmt.Errorf("send %s to %s: provider rejected: %s", p.Kind, to, reason)
	}

	if len(out.Messages) > 0 {
		return out.Messages[0].ID, nil
	}
	return "", nil
}

func (c *Client) render(to string, p model.OutboundPayload) (map[string]any, error) {
	base := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
	}

	switch p.Kind {
	case model.ResponseText:
		base["type"] = "text"
		base["text"] = map[string]any{"body": p.Body}

	case model.ResponseButton:
		buttons := make([]map[string]any, 0, len(p.Buttons))
		for _, b := range p.Buttons {
			// Destination-step overrides are engine-internal; the provider
			// only sees id and title.
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]any{"id": b.ID, "title": b.Title},
			})
		}
		base["type"] = "interactive"
		base["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": p.Body},
			"action": map[string]any{"buttons": buttons},
		}

	case model.ResponseList:
		if p.List == nil {
			return nil, fmt.Errorf("list payload without list spec")
		}
		sections := make([]map[string]any, 0, len(p.List.Sections))
		for _, sec := range p.List.Sections {
			rows := make([]map[string]any, 0, len(sec.Rows))
			for _, row := range sec.Rows {
				r := map[string]any{"id": row.ID, "title": row.Title}
				if row.Description != "" {
					r["description"] = row.Description
				}
				rows = append(rows, r)
			}
			sections = append(sections, map[string]any{"title": sec.Title, "rows": rows})
		}
		base["type"] = "interactive"
		base["interactive"] = map[string]any{
			"type":   "list",
			"header": map[string]any{"type": "text", "text": p.List.Header},
			"body":   map[string]any{"text": p.Body},
			"footer": map[string]any{"text": p.List.Footer},
			"action": map[string]any{
				"button":   p.List.Button,
				"sections": sections,
			},
		}

	case model.ResponseMedia:
		kind := p.MediaKind
		if kind == "" {
			kind = "image"
		}
		media := map[string]any{"link": p.MediaURL}
		if p.Body != "" {
			media["caption"] = p.Body
		}
		base["type"] = kind
		base[kind] = media

	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.Kind)
	}

	return base, nil
}
