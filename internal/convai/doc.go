// Package convai manages streaming conversations with the conversational-AI
// agent service.
//
// # Overview
//
// Each active user identity owns one persistent WebSocket to the agent
// service. The package multiplexes many such conversations, correlates
// streamed reply events back to the request that triggered them, evicts idle
// conversations so the agent forgets stale context, and dispatches
// agent-initiated tool calls.
//
// # Registry
//
// The Registry is the only entry point for callers:
//
//	reg := convai.NewRegistry(convai.RegistryParams{Dial: dial, Tools: tools})
//	reply, err := reg.Send(ctx, "+15551234567", "Hello")
//
// It maps identity to connection, reuses usable connections, replaces dead
// ones, and collapses concurrent dials for one identity into a single attempt.
//
// # Connection
//
// Connection implements the wire protocol state machine:
//
//	CONNECTING -> INITIATING -> READY -> CLOSING -> CLOSED
//
// with FAILED reachable from any state. Messages submitted before READY are
// queued and flushed exactly once on the initiation ack.
//
// # Request/Reply Correlation
//
// Sending a message registers a pending reply with a locally generated,
// monotonically increasing id. Inbound events append to, correct, or fulfill
// the most recently created pending request for the identity; every pending
// request is fulfilled exactly once, by a terminal reply event, a timeout, or
// connection-close cleanup.
//
// The recency policy is a documented limitation: the wire protocol does not
// echo request ids on reply events, so overlapping requests for one identity
// could cross-wire. The registry's per-exchange timer discipline keeps the
// expected case at one outstanding request per identity.
//
// # Idle Eviction
//
// Each session carries a timer that is disarmed while an exchange is in
// flight and re-armed when it settles. Expiry closes the socket and removes
// the session, so the next message from that identity starts the agent with a
// clean context.
package convai
