// ABOUTME: Service is the central layer for inbound message handling.
// ABOUTME: All turns flow through here - history is recorded before the agent acts.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatline/chatline-gateway/internal/store"
)

// DefaultFallbackReply is sent when the agent cannot produce a reply.
const DefaultFallbackReply = "Sorry, I am having trouble processing your message right now. Please try again later."

// ConversationStore defines what the service needs from storage.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversationByIdentity(ctx context.Context, identity string) (*store.Conversation, error)
	SetDisplayName(ctx context.Context, conversationID, displayName string) error
	AppendMessage(ctx context.Context, msg *store.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// ReplySender defines what the service needs from the agent session layer.
type ReplySender interface {
	Send(ctx context.Context, identity, text string) (string, error)
}

// Service records every turn and relays user messages to the agent. The user
// message is persisted before the agent is involved, so a record exists even
// when the agent fails.
type Service struct {
	store    ConversationStore
	sender   ReplySender
	fallback string
	logger   *slog.Logger
}

// New creates a conversation service. An empty fallback uses DefaultFallbackReply.
func New(st ConversationStore, sender ReplySender, fallback string, logger *slog.Logger) *Service {
	if fallback == "" {
		fallback = DefaultFallbackReply
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		sender:   sender,
		fallback: fallback,
		logger:   logger.With("component", "conversation"),
	}
}

// Respond handles one inbound message: resolve the conversation, record the
// user turn, relay to the agent, record and return the reply. Agent failures
// degrade to the fallback reply so the user always hears something; storage
// failures on the user turn abort instead, since an unrecorded turn would make
// the history lie.
func (s *Service) Respond(ctx context.Context, from, body, displayName string) (string, error) {
	conv, err := s.ensureConversation(ctx, from, displayName)
	if err != nil {
		return "", fmt.Errorf("resolving conversation: %w", err)
	}

	if err := s.store.AppendMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        body,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("recording user message: %w", err)
	}

	reply, err := s.sender.Send(ctx, from, body)
	if err != nil {
		s.logger.Warn("agent reply failed, using fallback",
			"identity", from,
			"error", err,
		)
		reply = s.fallback
	}

	s.recordAssistantTurn(conv.ID, reply)
	return reply, nil
}

// History returns the oldest-first turn history for an identity.
func (s *Service) History(ctx context.Context, identity string, limit int) ([]*store.Message, error) {
	conv, err := s.store.GetConversationByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, conv.ID, limit)
}

// ensureConversation resolves the conversation for an identity, creating it on
// first contact and upgrading the display name when the channel provides one.
func (s *Service) ensureConversation(ctx context.Context, identity, displayName string) (*store.Conversation, error) {
	conv, err := s.store.GetConversationByIdentity(ctx, identity)
	if err == nil {
		if displayName != "" && conv.DisplayName != displayName && conv.DisplayName == "Unknown User" {
			if err := s.store.SetDisplayName(ctx, conv.ID, displayName); err != nil {
				s.logger.Warn("display name update failed", "identity", identity, "error", err)
			} else {
				conv.DisplayName = displayName
			}
		}
		return conv, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	if displayName == "" {
		displayName = "Unknown User"
	}
	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:            uuid.NewString(),
		Identity:      identity,
		DisplayName:   displayName,
		Status:        "active",
		StartedAt:     now,
		LastMessageAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		// Race: another inbound message may have created the row between our
		// lookup and insert. Retry the lookup before giving up.
		if existing, lookupErr := s.store.GetConversationByIdentity(ctx, identity); lookupErr == nil {
			s.logger.Debug("found existing conversation after race", "identity", identity)
			return existing, nil
		}
		return nil, err
	}
	s.logger.Info("conversation started", "identity", identity, "conversation_id", conv.ID)
	return conv, nil
}

// recordAssistantTurn saves the reply with a separate timeout context so
// persistence continues even if the request context is cancelled.
func (s *Service) recordAssistantTurn(conversationID, content string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.AppendMessage(saveCtx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to record assistant turn",
			"conversation_id", conversationID,
			"error", err,
		)
	}
}
