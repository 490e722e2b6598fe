// ABOUTME: Tests for gateway wiring, health endpoints, and the JSON API.

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/chatline-gateway/internal/config"
	"github.com/chatline/chatline-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "gateway.db")},
		Agent: config.AgentConfig{
			WSURL:   "wss://agent.invalid/v1/convai/conversation",
			AgentID: "agent-test",
		},
		Messaging: config.MessagingConfig{
			AccountSID: "AC42",
			AuthToken:  "secret",
			FromNumber: "+15550001111",
		},
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw
}

func doRequest(gw *Gateway, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)

	t.Run("health", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status         string `json:"status"`
			ActiveSessions int    `json:"active_sessions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, 0, resp.ActiveSessions)
	})

	t.Run("ready while store is reachable", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/health/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestConversationAPI(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:            uuid.NewString(),
		Identity:      "+15551234567",
		DisplayName:   "Ada",
		Status:        "active",
		StartedAt:     now,
		LastMessageAt: now,
	}
	require.NoError(t, gw.store.CreateConversation(ctx, conv))
	require.NoError(t, gw.store.AppendMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        "Hello",
		CreatedAt:      now,
	}))

	t.Run("list conversations", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/api/conversations")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Conversations []conversationJSON `json:"conversations"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Conversations, 1)
		assert.Equal(t, "+15551234567", resp.Conversations[0].Identity)
		assert.Equal(t, "Ada", resp.Conversations[0].DisplayName)
		assert.Empty(t, resp.Conversations[0].ConversationID, "no live agent session")
	})

	t.Run("conversation messages", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/api/conversations/+15551234567/messages")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Identity string        `json:"identity"`
			Messages []messageJSON `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "+15551234567", resp.Identity)
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "Hello", resp.Messages[0].Content)
	})

	t.Run("unknown identity is a 404", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/api/conversations/+19999999999/messages")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLeadAPI(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	for _, status := range []string{store.LeadStatusNew, store.LeadStatusContacted} {
		require.NoError(t, gw.store.CreateLead(ctx, &store.Lead{
			ID:     uuid.NewString(),
			Email:  uuid.NewString() + "@example.com",
			Status: status,
			Source: "crm",
		}))
	}

	t.Run("list all", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/api/leads")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Leads []leadJSON `json:"leads"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Leads, 2)
	})

	t.Run("filter by status", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/api/leads?status=contacted")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Leads []leadJSON `json:"leads"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Leads, 1)
		assert.Equal(t, store.LeadStatusContacted, resp.Leads[0].Status)
	})

	t.Run("stats", func(t *testing.T) {
		rec := doRequest(gw, http.MethodGet, "/api/leads/stats")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Total    int            `json:"total"`
			ByStatus map[string]int `json:"by_status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, 1, resp.ByStatus[store.LeadStatusNew])
	})
}

func TestWebhookIsMounted(t *testing.T) {
	gw := newTestGateway(t)

	// Missing form fields: proves the webhook route is wired without needing
	// a live agent connection.
	rec := doRequest(gw, http.MethodPost, "/webhook")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}
