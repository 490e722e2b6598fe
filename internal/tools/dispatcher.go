// ABOUTME: Executes agent-initiated tool calls against outbound collaborators.
// ABOUTME: Maps tool names and loose parameter spellings to concrete side effects.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chatline/chatline-gateway/internal/convai"
)

// MessageSender delivers a short text message to a phone number and returns the
// provider's message id.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// Dispatcher routes tool calls from the agent to their implementations. It
// satisfies convai.ToolDispatcher.
type Dispatcher struct {
	sender MessageSender
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher backed by the given message sender.
func NewDispatcher(sender MessageSender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender: sender,
		logger: logger.With("component", "tool-dispatcher"),
	}
}

// Execute runs one tool call. Unknown tools come back as failure results, never
// as external side effects, so a misbehaving agent cannot reach past the tools
// we expose.
func (d *Dispatcher) Execute(ctx context.Context, name string, params map[string]any, identity string) convai.ToolResult {
	switch name {
	case "send_message", "send_sms", "send_text":
		return d.sendMessage(ctx, params, identity)
	default:
		d.logger.Warn("unsupported tool requested", "tool", name, "identity", identity)
		return convai.ToolResult{Error: fmt.Sprintf("unsupported tool: %s", name)}
	}
}

// sendMessage delivers a text message. Agents spell the recipient and body
// parameters inconsistently, so several aliases are accepted; the recipient
// falls back to the conversation's own identity.
func (d *Dispatcher) sendMessage(ctx context.Context, params map[string]any, identity string) convai.ToolResult {
	to := stringParam(params, "to", "phone_number", "user_phone_number")
	if to == "" {
		to = identity
	}
	body := stringParam(params, "message", "body", "text")
	if body == "" {
		return convai.ToolResult{Error: "message text is required"}
	}

	messageID, err := d.sender.SendText(ctx, to, body)
	if err != nil {
		d.logger.Warn("tool message delivery failed", "to", to, "error", err)
		return convai.ToolResult{Error: fmt.Sprintf("sending message: %v", err)}
	}

	d.logger.Info("tool message delivered", "to", to, "message_id", messageID)
	payload, err := json.Marshal(map[string]any{
		"success":    true,
		"message_id": messageID,
	})
	if err != nil {
		return convai.ToolResult{OK: true, Payload: `{"success":true}`}
	}
	return convai.ToolResult{OK: true, Payload: string(payload)}
}

// stringParam returns the first non-empty string value among the given keys.
func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
