// ABOUTME: Sentinel errors for the conversational session layer.
// ABOUTME: Callers distinguish timeout, closed-transport, and shutdown outcomes.

package convai

import "errors"

// ErrReplyTimeout indicates one request exceeded its wait window. Only that
// request fails; the connection stays up for later traffic.
var ErrReplyTimeout = errors.New("timed out waiting for agent reply")

// ErrClosedWithoutReply indicates the transport closed before any reply text
// arrived for a pending request.
var ErrClosedWithoutReply = errors.New("connection closed before a reply arrived")

// ErrConnectionClosed indicates a send was attempted on a connection that has
// already shut down.
var ErrConnectionClosed = errors.New("connection is closed")

// ErrRegistryClosed indicates the session registry has been shut down.
var ErrRegistryClosed = errors.New("session registry is closed")
