// ABOUTME: Read-only JSON API over conversations, message history, and leads.

package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chatline/chatline-gateway/internal/store"
)

// registerAPIRoutes mounts the JSON API on mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{identity}/messages", g.handleConversationMessages)
	mux.HandleFunc("GET /api/leads", g.handleListLeads)
	mux.HandleFunc("GET /api/leads/stats", g.handleLeadStats)
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type conversationJSON struct {
	ID             string    `json:"id"`
	Identity       string    `json:"identity"`
	DisplayName    string    `json:"display_name"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastMessageAt  time.Time `json:"last_message_at"`
	ConversationID string    `json:"agent_conversation_id,omitempty"`
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListConversations(r.Context(), parseLimit(r))
	if err != nil {
		g.logger.Error("listing conversations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	out := make([]conversationJSON, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationJSON{
			ID:            conv.ID,
			Identity:      conv.Identity,
			DisplayName:   conv.DisplayName,
			Status:        conv.Status,
			StartedAt:     conv.StartedAt,
			LastMessageAt: conv.LastMessageAt,
			// Present only while a live agent session exists.
			ConversationID: g.registry.ConversationID(conv.Identity),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

type messageJSON struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	msgs, err := g.conversation.History(r.Context(), identity, parseLimit(r))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		g.logger.Error("fetching history", "identity", identity, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	out := make([]messageJSON, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageJSON{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "messages": out})
}

type leadJSON struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"external_id,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Project        string    `json:"project,omitempty"`
	LeadStatus     string    `json:"lead_status,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage,omitempty"`
	Status         string    `json:"status"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (g *Gateway) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := g.store.ListLeads(r.Context(), r.URL.Query().Get("status"), parseLimit(r))
	if err != nil {
		g.logger.Error("listing leads", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	out := make([]leadJSON, 0, len(leads))
	for _, lead := range leads {
		out = append(out, leadJSON{
			ID:             lead.ID,
			ExternalID:     lead.ExternalID,
			Email:          lead.Email,
			Phone:          lead.Phone,
			FirstName:      lead.FirstName,
			LastName:       lead.LastName,
			Project:        lead.Project,
			LeadStatus:     lead.LeadStatus,
			LifecycleStage: lead.LifecycleStage,
			Status:         lead.Status,
			Source:         lead.Source,
			CreatedAt:      lead.CreatedAt,
			UpdatedAt:      lead.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": out})
}

func (g *Gateway) handleLeadStats(w http.ResponseWriter, r *http.Request) {
	counts, err := g.store.CountLeadsByStatus(r.Context())
	if err != nil {
		g.logger.Error("counting leads", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "by_status": counts})
}
