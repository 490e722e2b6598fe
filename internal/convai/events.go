// ABOUTME: Wire protocol frames for the conversational agent WebSocket.
// ABOUTME: Event-tagged JSON envelopes in both directions, plus parsing helpers.

package convai

import (
	"encoding/json"
	"fmt"
)

// Server event type tags.
const (
	EventInitiationMetadata = "conversation_initiation_metadata"
	EventAgentResponse      = "agent_response"
	EventAgentResponsePart  = "agent_chat_response_part"
	EventResponseCorrection = "agent_response_correction"
	EventClientToolCall     = "client_tool_call"
	EventPing               = "ping"
	EventInterruption       = "interruption"
	EventAudio              = "audio"
)

// ServerEvent is one inbound frame from the agent service. Only the envelope
// matching Type is populated. The bare Text field is a fallback some server
// builds use instead of the nested envelope.
type ServerEvent struct {
	Type string `json:"type"`

	InitiationMetadata *InitiationMetadataEvent `json:"conversation_initiation_metadata_event,omitempty"`
	AgentResponse      *AgentResponseEvent      `json:"agent_response_event,omitempty"`
	ResponsePart       *ResponsePartEvent       `json:"agent_chat_response_part_event,omitempty"`
	Correction         *CorrectionEvent         `json:"agent_response_correction_event,omitempty"`
	ToolCall           *ToolCallEvent           `json:"client_tool_call,omitempty"`
	Ping               *PingEvent               `json:"ping_event,omitempty"`

	Text string `json:"text,omitempty"`
}

// InitiationMetadataEvent acknowledges conversation setup and carries the
// remote conversation identifier.
type InitiationMetadataEvent struct {
	ConversationID string `json:"conversation_id"`
}

// AgentResponseEvent is the terminal reply event for one user message.
type AgentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

// ResponsePartEvent is a non-terminal streamed reply fragment.
type ResponsePartEvent struct {
	Text string `json:"text"`
}

// CorrectionEvent replaces everything streamed so far for the current reply.
type CorrectionEvent struct {
	CorrectedAgentResponse string `json:"corrected_agent_response"`
}

// ToolCallEvent asks the client to perform a side effect and report back.
type ToolCallEvent struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// PingEvent is a keepalive probe; the event id must be echoed in the pong.
type PingEvent struct {
	EventID int64 `json:"event_id"`
	PingMs  int64 `json:"ping_ms,omitempty"`
}

// ParseServerEvent decodes one inbound frame.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding server event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("server event missing type tag")
	}
	return &ev, nil
}

// ReplyText extracts the reply text carried by a response event, checking the
// terminal envelope first, then the fragment envelope, then the bare field.
func (e *ServerEvent) ReplyText() string {
	if e.AgentResponse != nil && e.AgentResponse.AgentResponse != "" {
		return e.AgentResponse.AgentResponse
	}
	if e.ResponsePart != nil && e.ResponsePart.Text != "" {
		return e.ResponsePart.Text
	}
	return e.Text
}

// CorrectedText extracts the replacement text from a correction event.
func (e *ServerEvent) CorrectedText() string {
	if e.Correction == nil {
		return ""
	}
	return e.Correction.CorrectedAgentResponse
}

// Client frame type tags.
const (
	frameTypeInitiation  = "conversation_initiation_client_data"
	frameTypeUserMessage = "user_message"
	frameTypePong        = "pong"
	frameTypeToolResult  = "client_tool_result"
)

func initiationFrame() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: frameTypeInitiation})
}

func userMessageFrame(text string) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: frameTypeUserMessage, Text: text})
}

func pongFrame(eventID int64) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		EventID int64  `json:"event_id"`
	}{Type: frameTypePong, EventID: eventID})
}

func toolResultFrame(toolCallID, result string, isError bool) ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		ToolCallID string `json:"tool_call_id"`
		Result     string `json:"result"`
		IsError    bool   `json:"is_error"`
	}{Type: frameTypeToolResult, ToolCallID: toolCallID, Result: result, IsError: isError})
}
