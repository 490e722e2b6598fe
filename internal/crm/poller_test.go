// ABOUTME: Tests for the CRM poller against a stub contacts API.

package crm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/chatline-gateway/internal/store"
)

// memLeads is an in-memory LeadStore.
type memLeads struct {
	mu    sync.Mutex
	leads map[string]*store.Lead // by ID
}

func newMemLeads() *memLeads {
	return &memLeads{leads: make(map[string]*store.Lead)}
}

func (m *memLeads) CreateLead(_ context.Context, lead *store.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lead
	m.leads[lead.ID] = &cp
	return nil
}

func (m *memLeads) GetLeadByExternalID(_ context.Context, externalID string) (*store.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if lead.ExternalID == externalID && externalID != "" {
			cp := *lead
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memLeads) FindLeadByContact(_ context.Context, email, phone string) (*store.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if (email != "" && lead.Email == email) || (phone != "" && lead.Phone == phone) {
			cp := *lead
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memLeads) UpdateLead(_ context.Context, lead *store.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[lead.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *lead
	m.leads[lead.ID] = &cp
	return nil
}

func (m *memLeads) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leads)
}

func (m *memLeads) byExternalID(id string) *store.Lead {
	lead, _ := m.GetLeadByExternalID(context.Background(), id)
	return lead
}

func contactJSON(id, email, phone, firstName, modified string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"properties": {
			"email": %q,
			"phone": %q,
			"firstname": %q,
			"lastname": "Tester",
			"hs_lead_status": "NEW",
			"lifecyclestage": "lead",
			"createdate": %q,
			"lastmodifieddate": %q
		}
	}`, id, email, phone, firstName, modified, modified)
}

func newTestPoller(baseURL string, st LeadStore) *Poller {
	return NewPoller(Config{
		BaseURL:     baseURL,
		AccessToken: "token",
		Interval:    time.Hour,
	}, st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPollOnce(t *testing.T) {
	recent := time.Now().UTC().Format(time.RFC3339)
	stale := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)

	t.Run("creates leads for new recent contacts", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			fmt.Fprintf(w, `{"results":[%s,%s]}`,
				contactJSON("hs-1", "a@example.com", "+1001", "Alice", recent),
				contactJSON("hs-2", "b@example.com", "+1002", "Bob", recent))
		}))
		defer srv.Close()

		leads := newMemLeads()
		p := newTestPoller(srv.URL, leads)

		created, updated, seen, err := p.pollOnce(context.Background(), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.Equal(t, 0, updated)
		assert.Equal(t, 2, seen)
		assert.Equal(t, "Bearer token", gotAuth)

		lead := leads.byExternalID("hs-1")
		require.NotNil(t, lead)
		assert.Equal(t, "a@example.com", lead.Email)
		assert.Equal(t, "Alice", lead.FirstName)
		assert.Equal(t, "NEW", lead.LeadStatus)
		assert.Equal(t, store.LeadStatusNew, lead.Status)
		assert.Equal(t, "crm", lead.Source)
	})

	t.Run("skips contacts not modified since the cutoff", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"results":[%s]}`, contactJSON("hs-old", "old@example.com", "", "Old", stale))
		}))
		defer srv.Close()

		leads := newMemLeads()
		p := newTestPoller(srv.URL, leads)

		created, _, seen, err := p.pollOnce(context.Background(), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 1, seen)
		assert.Equal(t, 0, leads.count())
	})

	t.Run("updates leads already known by external id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"results":[%s]}`, contactJSON("hs-1", "new@example.com", "+1001", "Alice", recent))
		}))
		defer srv.Close()

		leads := newMemLeads()
		require.NoError(t, leads.CreateLead(context.Background(), &store.Lead{
			ID:         "lead-1",
			ExternalID: "hs-1",
			Email:      "old@example.com",
			Status:     store.LeadStatusContacted,
		}))
		p := newTestPoller(srv.URL, leads)

		created, updated, _, err := p.pollOnce(context.Background(), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 1, updated)

		lead := leads.byExternalID("hs-1")
		assert.Equal(t, "new@example.com", lead.Email)
		assert.Equal(t, store.LeadStatusContacted, lead.Status, "local status preserved")
	})

	t.Run("adopts locally created leads matched by contact info", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"results":[%s]}`, contactJSON("hs-9", "walkin@example.com", "+1009", "Walk", recent))
		}))
		defer srv.Close()

		leads := newMemLeads()
		require.NoError(t, leads.CreateLead(context.Background(), &store.Lead{
			ID:     "lead-local",
			Email:  "walkin@example.com",
			Source: "conversation",
		}))
		p := newTestPoller(srv.URL, leads)

		created, updated, _, err := p.pollOnce(context.Background(), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 1, updated)

		lead := leads.byExternalID("hs-9")
		require.NotNil(t, lead, "local lead now carries the CRM id")
		assert.Equal(t, "lead-local", lead.ID)
		assert.Equal(t, 1, leads.count(), "no duplicate lead created")
	})

	t.Run("follows pagination cursors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("after") == "" {
				fmt.Fprintf(w, `{"results":[%s],"paging":{"next":{"after":"cursor-2"}}}`,
					contactJSON("hs-1", "a@example.com", "", "A", recent))
				return
			}
			fmt.Fprintf(w, `{"results":[%s]}`, contactJSON("hs-2", "b@example.com", "", "B", recent))
		}))
		defer srv.Close()

		leads := newMemLeads()
		p := newTestPoller(srv.URL, leads)

		created, _, seen, err := p.pollOnce(context.Background(), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.Equal(t, 2, seen)
	})

	t.Run("api failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"expired token"}`))
		}))
		defer srv.Close()

		p := newTestPoller(srv.URL, newMemLeads())
		_, _, _, err := p.pollOnce(context.Background(), time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})
}

func TestPollerLifecycle(t *testing.T) {
	var polls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	p := NewPoller(Config{
		BaseURL:     srv.URL,
		AccessToken: "token",
		Interval:    20 * time.Millisecond,
	}, newMemLeads(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := polls
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller did not run repeatedly")
		}
		time.Sleep(5 * time.Millisecond)
	}

	status := p.GetStatus()
	assert.True(t, status.Running)
	assert.NotNil(t, status.LastPollAt)
	assert.Empty(t, status.LastError)

	p.Stop()
	assert.False(t, p.GetStatus().Running)

	// Stop is idempotent.
	p.Stop()
}

func TestGetStatusRecordsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestPoller(srv.URL, newMemLeads())
	p.poll(context.Background())

	status := p.GetStatus()
	assert.NotEmpty(t, status.LastError)
	assert.Nil(t, status.LastPollAt, "failed poll does not advance the cursor")
}
