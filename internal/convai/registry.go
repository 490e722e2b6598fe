// ABOUTME: Session registry mapping user identities to live agent connections.
// ABOUTME: Handles reuse, replacement, duplicate-dial suppression, and idle eviction.

package convai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default timing for sessions; both are overridable via RegistryParams.
const (
	DefaultIdleTimeout  = time.Minute
	DefaultReplyTimeout = 30 * time.Second
)

// DialFunc opens the framed transport for one identity.
type DialFunc func(ctx context.Context, identity string) (FrameConn, error)

// session pairs a connection with its idle-eviction timer. The generation
// counter invalidates a timer that fires while being disarmed or replaced.
type session struct {
	conn     *Connection
	idle     *time.Timer
	timerGen uint64
}

// Registry is the single shared structure of the session layer: the map from
// user identity to its live connection. All access is serialized through the
// registry mutex so two callers can never race to create duplicate
// connections for one identity.
type Registry struct {
	dial         DialFunc
	tools        ToolDispatcher
	idleTimeout  time.Duration
	replyTimeout time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	// dialing collapses concurrent connection attempts for one identity into
	// a single dial; callers for different identities proceed in parallel.
	dialing singleflight.Group
}

// RegistryParams bundles the dependencies for NewRegistry.
type RegistryParams struct {
	Dial         DialFunc
	Tools        ToolDispatcher
	IdleTimeout  time.Duration
	ReplyTimeout time.Duration
	Logger       *slog.Logger
}

// NewRegistry creates a session registry. Dial is required.
func NewRegistry(p RegistryParams) *Registry {
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = DefaultIdleTimeout
	}
	if p.ReplyTimeout <= 0 {
		p.ReplyTimeout = DefaultReplyTimeout
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dial:         p.Dial,
		tools:        p.Tools,
		idleTimeout:  p.IdleTimeout,
		replyTimeout: p.ReplyTimeout,
		logger:       logger.With("component", "session-registry"),
		sessions:     make(map[string]*session),
	}
}

// Send relays one user message to the agent conversation for identity and
// waits for the correlated reply. A usable connection is reused, which disarms
// its idle timer for the duration of the exchange; otherwise a fresh
// connection replaces the stale entry. The idle timer is re-armed once the
// exchange settles, success or failure.
func (r *Registry) Send(ctx context.Context, identity, text string) (string, error) {
	sess, err := r.acquire(ctx, identity)
	if err != nil {
		return "", err
	}
	defer r.armIdle(identity, sess)
	return sess.conn.Send(ctx, text, r.replyTimeout)
}

// Evict force-closes the session for identity, discarding agent context so the
// next message starts fresh. No-op when no session exists.
func (r *Registry) Evict(identity string) {
	r.mu.Lock()
	sess, ok := r.sessions[identity]
	if ok {
		r.disarmIdleLocked(sess)
		delete(r.sessions, identity)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("session evicted", "identity", identity)
		sess.conn.Close()
	}
}

// ActiveSessions returns the number of live conversations.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ConversationID returns the remote conversation id for identity, if a session
// exists and has completed initiation.
func (r *Registry) ConversationID(identity string) string {
	r.mu.Lock()
	sess, ok := r.sessions[identity]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	return sess.conn.ConversationID()
}

// Close evicts every session. The registry rejects sends afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	evicted := make([]*session, 0, len(r.sessions))
	for identity, sess := range r.sessions {
		r.disarmIdleLocked(sess)
		delete(r.sessions, identity)
		evicted = append(evicted, sess)
	}
	r.mu.Unlock()

	for _, sess := range evicted {
		sess.conn.Close()
	}
	r.logger.Info("registry closed", "evicted_sessions", len(evicted))
}

// acquire returns the session for identity, reusing a usable connection or
// establishing a replacement.
func (r *Registry) acquire(ctx context.Context, identity string) (*session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if sess, ok := r.sessions[identity]; ok && sess.conn.Usable() {
		r.disarmIdleLocked(sess)
		r.mu.Unlock()
		r.logger.Debug("reusing connection", "identity", identity)
		return sess, nil
	}
	r.mu.Unlock()

	v, err, _ := r.dialing.Do(identity, func() (any, error) {
		// Re-check under the lock: a caller queued on the same flight key may
		// arrive after the winner has already registered the new session.
		r.mu.Lock()
		if sess, ok := r.sessions[identity]; ok && sess.conn.Usable() {
			r.disarmIdleLocked(sess)
			r.mu.Unlock()
			return sess, nil
		}
		r.mu.Unlock()
		return r.connect(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// connect dials a fresh transport and registers it, replacing any previous
// entry for the identity.
func (r *Registry) connect(ctx context.Context, identity string) (*session, error) {
	fc, err := r.dial(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("connecting agent transport: %w", err)
	}

	conn := NewConnection(ConnectionParams{
		Identity: identity,
		Conn:     fc,
		Tools:    r.tools,
		Logger:   r.logger.With("identity", identity),
	})
	// The connection outlives the request that triggered the dial.
	if err := conn.Start(context.Background()); err != nil {
		return nil, err
	}

	sess := &session{conn: conn}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return nil, ErrRegistryClosed
	}
	prev, replaced := r.sessions[identity]
	if replaced {
		r.disarmIdleLocked(prev)
	}
	r.sessions[identity] = sess
	r.mu.Unlock()

	if replaced {
		// Settles any stragglers still attached to the dead connection.
		prev.conn.Close()
	}

	r.logger.Info("agent connection established", "identity", identity, "replaced", replaced)
	return sess, nil
}

// armIdle restarts the idle-eviction timer once an exchange settles. Skipped
// when the session has been replaced or its connection already went down.
func (r *Registry) armIdle(identity string, sess *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.sessions[identity] != sess {
		return
	}
	if !sess.conn.Usable() {
		// Dead connection: drop the entry so the next send dials fresh.
		delete(r.sessions, identity)
		return
	}
	if sess.conn.PendingRequests() > 0 {
		// Another exchange is still in flight; its own settle re-arms the
		// timer. Arming now could evict mid-exchange when the idle timeout is
		// shorter than the reply timeout.
		return
	}
	if sess.idle != nil {
		sess.idle.Stop()
	}
	sess.timerGen++
	gen := sess.timerGen
	sess.idle = time.AfterFunc(r.idleTimeout, func() {
		r.evictIdle(identity, sess, gen)
	})
}

// disarmIdleLocked cancels the pending eviction; bumping the generation makes
// a timer that already fired a no-op.
func (r *Registry) disarmIdleLocked(sess *session) {
	if sess.idle != nil {
		sess.idle.Stop()
		sess.idle = nil
	}
	sess.timerGen++
}

// evictIdle runs on timer expiry and closes the session unless it was reused
// or replaced since the timer was armed.
func (r *Registry) evictIdle(identity string, sess *session, gen uint64) {
	r.mu.Lock()
	if r.sessions[identity] != sess || sess.timerGen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, identity)
	r.mu.Unlock()

	r.logger.Info("evicting idle conversation",
		"identity", identity,
		"idle_timeout", r.idleTimeout,
	)
	sess.conn.Close()
}
