// ABOUTME: One persistent agent transport for one user identity.
// ABOUTME: State machine, pending-reply tracking, and event correlation.

package convai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a Connection.
type State int

const (
	StateConnecting State = iota
	StateInitiating
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitiating:
		return "initiating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameConn is the framed transport beneath a Connection. The production
// implementation wraps a WebSocket; tests substitute an in-memory fake.
type FrameConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// ToolResult is the structured outcome of one dispatched tool call.
type ToolResult struct {
	OK      bool
	Payload string
	Error   string
}

// ToolDispatcher executes agent-initiated side effects. Implementations must
// return a failure result rather than an error for unknown tools so the agent
// always gets an answer frame.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, params map[string]any, identity string) ToolResult
}

// requestSeq issues locally unique, monotonically increasing request ids.
var requestSeq atomic.Int64

type replyOutcome struct {
	text string
	err  error
}

// pendingReply is one in-flight "send message, await reply" operation.
type pendingReply struct {
	id      int64
	buf     strings.Builder
	done    chan replyOutcome // buffered; receives exactly one outcome
	settled bool
}

// Connection owns one socket to the agent service for one identity and applies
// inbound events to the pending requests registered against it.
type Connection struct {
	Identity string

	conn   FrameConn
	tools  ToolDispatcher
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	conversationID string
	pending        []*pendingReply
	sendQueue      [][]byte
}

// ConnectionParams bundles the dependencies for NewConnection.
type ConnectionParams struct {
	Identity string
	Conn     FrameConn
	Tools    ToolDispatcher
	Logger   *slog.Logger
}

// NewConnection wraps an established framed transport. Call Start to send the
// initiation frame and begin consuming events.
func NewConnection(p ConnectionParams) *Connection {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		Identity: p.Identity,
		conn:     p.Conn,
		tools:    p.Tools,
		logger:   logger,
		state:    StateConnecting,
	}
}

// Start sends the session-initiation frame and launches the read loop. The
// context governs the connection's whole lifetime, not a single request.
func (c *Connection) Start(ctx context.Context) error {
	frame, err := initiationFrame()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateInitiating
	c.mu.Unlock()

	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		c.shutdown(err)
		return fmt.Errorf("sending initiation frame: %w", err)
	}

	go c.readLoop(ctx)
	return nil
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID returns the remote conversation identifier, empty until the
// initiation ack has been received.
func (c *Connection) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Usable reports whether new messages may be submitted on this connection.
func (c *Connection) Usable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnecting || c.state == StateInitiating || c.state == StateReady
}

// PendingRequests reports how many replies are still outstanding.
func (c *Connection) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Send submits one user message and waits for the correlated reply, a timeout,
// or connection teardown. Messages submitted before the connection is READY
// are queued and flushed exactly once on the initiation ack.
func (c *Connection) Send(ctx context.Context, text string, timeout time.Duration) (string, error) {
	frame, err := userMessageFrame(text)
	if err != nil {
		return "", err
	}

	p := &pendingReply{
		id:   requestSeq.Add(1),
		done: make(chan replyOutcome, 1),
	}

	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.pending = append(c.pending, p)
		c.mu.Unlock()
		if err := c.conn.WriteFrame(ctx, frame); err != nil {
			c.settle(p, replyOutcome{err: fmt.Errorf("writing user message: %w", err)})
			c.shutdown(err)
		}
	case StateConnecting, StateInitiating:
		c.pending = append(c.pending, p)
		c.sendQueue = append(c.sendQueue, frame)
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return "", ErrConnectionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		return out.text, out.err
	case <-timer.C:
		c.settle(p, replyOutcome{err: ErrReplyTimeout})
	case <-ctx.Done():
		c.settle(p, replyOutcome{err: ctx.Err()})
	}

	// settle is first-wins: if a real reply raced the timeout, the channel
	// carries the reply and the pending is still fulfilled exactly once.
	out := <-p.done
	return out.text, out.err
}

// Close tears down the transport. Any pending request with accumulated text is
// fulfilled with that partial reply; the rest fail with ErrClosedWithoutReply.
func (c *Connection) Close() {
	c.shutdown(nil)
}

// readLoop consumes frames until the transport errors or closes.
func (c *Connection) readLoop(ctx context.Context) {
	for {
		data, err := c.conn.ReadFrame(ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			c.logger.Warn("discarding malformed frame",
				"identity", c.Identity,
				"error", err,
			)
			continue
		}
		c.handleEvent(ctx, ev)
	}
}

// handleEvent applies one inbound event. Reply events target the most recently
// created pending request for this identity; see the note on latestPending.
func (c *Connection) handleEvent(ctx context.Context, ev *ServerEvent) {
	switch ev.Type {
	case EventInitiationMetadata:
		c.becomeReady(ctx, ev)

	case EventAgentResponsePart:
		c.appendReply(ev.ReplyText(), false)

	case EventAgentResponse:
		c.appendReply(ev.ReplyText(), true)

	case EventResponseCorrection:
		c.correctReply(ev.CorrectedText())

	case EventClientToolCall:
		if ev.ToolCall == nil {
			c.logger.Warn("tool call event without payload", "identity", c.Identity)
			return
		}
		go c.dispatchToolCall(ctx, ev.ToolCall)

	case EventPing:
		c.answerPing(ctx, ev.Ping)

	case EventInterruption, EventAudio:
		c.logger.Debug("ignoring event", "identity", c.Identity, "type", ev.Type)

	default:
		c.logger.Debug("unrecognized event", "identity", c.Identity, "type", ev.Type)
	}
}

// becomeReady captures the remote conversation id, transitions to READY, and
// flushes messages queued during setup. Each queued frame is sent once.
func (c *Connection) becomeReady(ctx context.Context, ev *ServerEvent) {
	c.mu.Lock()
	if c.state != StateInitiating && c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	if ev.InitiationMetadata != nil {
		c.conversationID = ev.InitiationMetadata.ConversationID
	}
	c.state = StateReady
	queued := c.sendQueue
	c.sendQueue = nil
	c.mu.Unlock()

	c.logger.Info("conversation ready",
		"identity", c.Identity,
		"conversation_id", c.ConversationID(),
	)

	for _, frame := range queued {
		if err := c.conn.WriteFrame(ctx, frame); err != nil {
			c.shutdown(err)
			return
		}
	}
}

// latestPending returns the most recently created pending request.
//
// The wire protocol does not echo a request identifier on reply events, so
// recency is the matching policy. This is sound while at most one request is
// outstanding per identity (the registry's exchange discipline) and can
// cross-wire replies if callers ever overlap requests for one identity.
func (c *Connection) latestPendingLocked() *pendingReply {
	if len(c.pending) == 0 {
		return nil
	}
	return c.pending[len(c.pending)-1]
}

// appendReply adds text to the matched pending buffer. Terminal events fulfill
// with the full accumulated buffer, trailing text included.
func (c *Connection) appendReply(text string, terminal bool) {
	c.mu.Lock()
	p := c.latestPendingLocked()
	if p == nil {
		c.mu.Unlock()
		c.logger.Warn("reply event with no pending request", "identity", c.Identity)
		return
	}
	if text != "" {
		p.buf.WriteString(text)
	}
	if terminal {
		c.settleLocked(p, replyOutcome{text: p.buf.String()})
	}
	c.mu.Unlock()
}

// correctReply overwrites the matched pending buffer without fulfilling it.
func (c *Connection) correctReply(corrected string) {
	if corrected == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.latestPendingLocked()
	if p == nil {
		c.logger.Warn("correction event with no pending request", "identity", c.Identity)
		return
	}
	p.buf.Reset()
	p.buf.WriteString(corrected)
}

// settle fulfills a pending request exactly once and stops tracking it.
func (c *Connection) settle(p *pendingReply, out replyOutcome) {
	c.mu.Lock()
	c.settleLocked(p, out)
	c.mu.Unlock()
}

func (c *Connection) settleLocked(p *pendingReply, out replyOutcome) {
	if p.settled {
		return
	}
	p.settled = true
	p.done <- out
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
}

// shutdown moves the connection to a terminal state, settles every remaining
// pending request, and closes the transport. Safe to call more than once.
func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	if cause != nil {
		c.state = StateFailed
	} else {
		c.state = StateClosing
	}
	remaining := c.pending
	c.pending = nil
	for _, p := range remaining {
		if p.settled {
			continue
		}
		p.settled = true
		if p.buf.Len() > 0 {
			p.done <- replyOutcome{text: p.buf.String()}
		} else if cause != nil {
			p.done <- replyOutcome{err: fmt.Errorf("%w: %v", ErrClosedWithoutReply, cause)}
		} else {
			p.done <- replyOutcome{err: ErrClosedWithoutReply}
		}
	}
	if c.state == StateClosing {
		c.state = StateClosed
	}
	c.mu.Unlock()

	_ = c.conn.Close()

	switch {
	case cause == nil:
		c.logger.Debug("connection closed", "identity", c.Identity)
	case errors.Is(cause, context.Canceled):
		c.logger.Debug("connection canceled", "identity", c.Identity)
	default:
		c.logger.Warn("connection failed",
			"identity", c.Identity,
			"error", cause,
			"settled_requests", len(remaining),
		)
	}
}

// dispatchToolCall executes one agent-initiated tool call and always answers
// with exactly one result frame carrying the original call id.
func (c *Connection) dispatchToolCall(ctx context.Context, call *ToolCallEvent) {
	res := c.executeTool(ctx, call)

	payload := res.Payload
	if !res.OK {
		payload = res.Error
	}
	frame, err := toolResultFrame(call.ToolCallID, payload, !res.OK)
	if err != nil {
		c.logger.Error("encoding tool result", "tool", call.ToolName, "error", err)
		return
	}
	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		c.logger.Warn("sending tool result",
			"identity", c.Identity,
			"tool", call.ToolName,
			"error", err,
		)
	}
}

// executeTool never lets a dispatcher panic escape; dispatch failures become
// failure results so the call is never left unanswered.
func (c *Connection) executeTool(ctx context.Context, call *ToolCallEvent) (res ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tool dispatch panic",
				"identity", c.Identity,
				"tool", call.ToolName,
				"panic", r,
			)
			res = ToolResult{Error: fmt.Sprintf("tool %q failed", call.ToolName)}
		}
	}()

	if c.tools == nil {
		return ToolResult{Error: fmt.Sprintf("unsupported tool: %s", call.ToolName)}
	}

	c.logger.Info("executing tool call",
		"identity", c.Identity,
		"tool", call.ToolName,
		"tool_call_id", call.ToolCallID,
	)
	return c.tools.Execute(ctx, call.ToolName, call.Parameters, c.Identity)
}

// answerPing echoes the correlation token back as a pong.
func (c *Connection) answerPing(ctx context.Context, ping *PingEvent) {
	var eventID int64
	if ping != nil {
		eventID = ping.EventID
	}
	frame, err := pongFrame(eventID)
	if err != nil {
		return
	}
	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		c.logger.Debug("sending pong", "identity", c.Identity, "error", err)
	}
}
