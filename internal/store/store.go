// ABOUTME: Store interface and data types for gateway persistence.
// ABOUTME: Defines Conversation, Message, Lead structs and the Store interface.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Conversation links one user identity to its message history. A conversation
// survives idle eviction of the agent socket; only the agent's context resets.
type Conversation struct {
	ID            string
	Identity      string // phone number or channel-specific user id
	DisplayName   string
	Status        string
	StartedAt     time.Time
	LastMessageAt time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn within a conversation, recorded for audit and history.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// Lead lifecycle statuses tracked by the gateway.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusEngaged   = "engaged"
	LeadStatusQualified = "qualified"
	LeadStatusClosed    = "closed"
	LeadStatusFailed    = "failed"
)

// Lead is a prospective customer pulled from the CRM or created from an
// inbound conversation.
type Lead struct {
	ID             string
	ExternalID     string // CRM object id, empty for locally created leads
	Email          string
	Phone          string
	FirstName      string
	LastName       string
	Project        string
	LeadStatus     string // CRM-side status property, verbatim
	LifecycleStage string
	Status         string // local outreach status, see LeadStatus constants
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the persistence interface for the gateway.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversationByIdentity(ctx context.Context, identity string) (*Conversation, error)
	SetDisplayName(ctx context.Context, conversationID, displayName string) error
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Leads
	CreateLead(ctx context.Context, lead *Lead) error
	GetLeadByExternalID(ctx context.Context, externalID string) (*Lead, error)
	FindLeadByContact(ctx context.Context, email, phone string) (*Lead, error)
	UpdateLead(ctx context.Context, lead *Lead) error
	ListLeads(ctx context.Context, status string, limit int) ([]*Lead, error)
	CountLeadsByStatus(ctx context.Context) (map[string]int, error)

	// Ping verifies the underlying database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
