// ABOUTME: Minimal fake conversational agent for local testing. Speaks the
// ABOUTME: streaming WebSocket protocol and echoes user messages in fragments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func main() {
	addr := flag.String("addr", "localhost:9090", "listen address")
	fragment := flag.Bool("fragments", true, "stream replies as chat response parts before the terminal event")
	pingEvery := flag.Duration("ping", 20*time.Second, "keepalive ping interval (0 disables)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           &agentHandler{fragments: *fragment, pingEvery: *pingEvery},
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "fake agent listening on ws://%s\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

type agentHandler struct {
	fragments bool
	pingEvery time.Duration
}

// clientFrame is the union of everything the gateway sends us.
type clientFrame struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	EventID    int64  `json:"event_id,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

func (h *agentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	conversationID := "fake-" + uuid.NewString()
	log.Printf("connection opened [%s] agent_id=%s", conversationID, r.URL.Query().Get("agent_id"))

	ctx := r.Context()
	if h.pingEvery > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go h.keepalive(ctx, conn)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Printf("connection closed [%s]: %v", conversationID, err)
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("malformed frame [%s]: %v", conversationID, err)
			continue
		}

		switch frame.Type {
		case "conversation_initiation_client_data":
			h.send(ctx, conn, map[string]any{
				"type": "conversation_initiation_metadata",
				"conversation_initiation_metadata_event": map[string]any{
					"conversation_id": conversationID,
				},
			})

		case "user_message":
			log.Printf("user message [%s]: %s", conversationID, frame.Text)
			h.reply(ctx, conn, frame.Text)

		case "pong":
			// keepalive acknowledged

		case "client_tool_result":
			log.Printf("tool result [%s] call=%s error=%t: %s",
				conversationID, frame.ToolCallID, frame.IsError, frame.Result)

		default:
			log.Printf("ignoring frame type %q [%s]", frame.Type, conversationID)
		}
	}
}

// reply streams an echo response: optional fragments first, then the terminal
// agent_response carrying the tail of the text.
func (h *agentHandler) reply(ctx context.Context, conn *websocket.Conn, input string) {
	text := echoReply(input)

	if h.fragments {
		mid := len(text) / 2
		h.send(ctx, conn, map[string]any{
			"type": "agent_chat_response_part",
			"agent_chat_response_part_event": map[string]any{
				"text": text[:mid],
			},
		})
		time.Sleep(50 * time.Millisecond)
		h.send(ctx, conn, map[string]any{
			"type": "agent_response",
			"agent_response_event": map[string]any{
				"agent_response": text[mid:],
			},
		})
		return
	}

	h.send(ctx, conn, map[string]any{
		"type": "agent_response",
		"agent_response_event": map[string]any{
			"agent_response": text,
		},
	})
}

func (h *agentHandler) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()

	eventID := int64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eventID++
			h.send(ctx, conn, map[string]any{
				"type": "ping",
				"ping_event": map[string]any{
					"event_id": eventID,
				},
			})
		}
	}
}

func (h *agentHandler) send(ctx context.Context, conn *websocket.Conn, event map[string]any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Printf("write error: %v", err)
	}
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "tour") || strings.Contains(lower, "visit") {
		return "I can schedule a tour for you. What day works best?"
	}
	return fmt.Sprintf("Echo: %s", input)
}
