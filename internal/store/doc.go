// Package store provides persistence for conversations, message history, and
// leads. The production implementation is SQLite via modernc.org/sqlite with
// WAL mode enabled; the Store interface keeps callers decoupled so tests can
// substitute fakes.
package store
