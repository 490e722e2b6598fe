// Package conversation persists message history and relays user turns to the
// agent. The service records the user message before the agent acts, degrades
// to a fallback reply when the agent fails, and records whatever was actually
// sent back.
package conversation
