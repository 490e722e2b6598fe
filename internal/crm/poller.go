// ABOUTME: Periodic CRM contact poller that syncs new and changed contacts into leads.
// ABOUTME: Cursor-paged fetches with gjson extraction and contact-based dedup.

package crm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/chatline/chatline-gateway/internal/store"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultPageLimit = 100
	firstRunLookback = 24 * time.Hour
)

// contactProperties are the CRM properties requested for each contact.
var contactProperties = []string{
	"email", "phone", "mobilephone", "firstname", "lastname",
	"project", "hs_lead_status", "lifecyclestage", "createdate", "lastmodifieddate",
}

// Config carries the CRM connection settings.
type Config struct {
	BaseURL     string
	AccessToken string
	Interval    time.Duration
	PageLimit   int
}

// LeadStore is what the poller needs from persistence.
type LeadStore interface {
	CreateLead(ctx context.Context, lead *store.Lead) error
	GetLeadByExternalID(ctx context.Context, externalID string) (*store.Lead, error)
	FindLeadByContact(ctx context.Context, email, phone string) (*store.Lead, error)
	UpdateLead(ctx context.Context, lead *store.Lead) error
}

// Status is a point-in-time snapshot of the poller for health reporting.
type Status struct {
	Running      bool       `json:"running"`
	LastPollAt   *time.Time `json:"last_poll_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	ContactsSeen int        `json:"contacts_seen"`
	LeadsCreated int        `json:"leads_created"`
	LeadsUpdated int        `json:"leads_updated"`
}

// Poller periodically pulls contacts from the CRM and upserts them as leads.
type Poller struct {
	baseURL    string
	token      string
	interval   time.Duration
	pageLimit  int
	store      LeadStore
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	running  bool
	lastPoll time.Time
	lastErr  error
	seen     int
	created  int
	updated  int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a CRM poller. Defaults: 10 minute interval, 100 contacts
// per page.
func NewPoller(cfg Config, st LeadStore, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	return &Poller{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		interval:   cfg.Interval,
		pageLimit:  cfg.PageLimit,
		store:      st,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "crm-poller"),
	}
}

// Start launches the poll loop. The first poll runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("crm poller started", "interval", p.interval)
	go p.loop(ctx)
}

// Stop halts the poll loop and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("crm poller stopped")
}

// GetStatus reports the poller's current state.
func (p *Poller) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Running:      p.running,
		ContactsSeen: p.seen,
		LeadsCreated: p.created,
		LeadsUpdated: p.updated,
	}
	if !p.lastPoll.IsZero() {
		t := p.lastPoll
		st.LastPollAt = &t
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// poll runs one sync pass and records its outcome.
func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	since := p.lastPoll
	p.mu.Unlock()
	if since.IsZero() {
		since = time.Now().Add(-firstRunLookback)
	}

	started := time.Now()
	created, updated, seen, err := p.pollOnce(ctx, since)

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.lastPoll = started
		p.seen += seen
		p.created += created
		p.updated += updated
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("crm poll failed", "error", err)
		return
	}
	p.logger.Info("crm poll complete",
		"contacts", seen,
		"created", created,
		"updated", updated,
		"duration", time.Since(started),
	)
}

// pollOnce pages through the contact list and upserts contacts created or
// modified since the given time.
func (p *Poller) pollOnce(ctx context.Context, since time.Time) (created, updated, seen int, err error) {
	after := ""
	for {
		page, err := p.fetchPage(ctx, after)
		if err != nil {
			return created, updated, seen, err
		}

		for _, contact := range page.Get("results").Array() {
			seen++
			if !p.changedSince(contact, since) {
				continue
			}
			c, u, err := p.upsertContact(ctx, contact)
			if err != nil {
				p.logger.Warn("contact sync failed",
					"contact_id", contact.Get("id").String(),
					"error", err,
				)
				continue
			}
			created += c
			updated += u
		}

		after = page.Get("paging.next.after").String()
		if after == "" {
			return created, updated, seen, nil
		}
	}
}

// fetchPage retrieves one page of contacts from the CRM.
func (p *Poller) fetchPage(ctx context.Context, after string) (gjson.Result, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", p.pageLimit))
	q.Set("properties", strings.Join(contactProperties, ","))
	if after != "" {
		q.Set("after", after)
	}

	endpoint := fmt.Sprintf("%s/crm/v3/objects/contacts?%s", p.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("building contacts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("fetching contacts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading contacts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("contacts request failed: status %d: %s",
			resp.StatusCode, truncate(string(data), 200))
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("contacts response is not valid json")
	}
	return gjson.ParseBytes(data), nil
}

// changedSince reports whether the contact was created or modified after the
// cutoff. Contacts with unparseable timestamps are synced rather than dropped.
func (p *Poller) changedSince(contact gjson.Result, since time.Time) bool {
	for _, prop := range []string{"properties.createdate", "properties.lastmodifieddate"} {
		raw := contact.Get(prop).String()
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return true
		}
		if ts.After(since) {
			return true
		}
	}
	return false
}

// upsertContact creates or updates the lead for one CRM contact. Matching is
// by external id first, then by email or phone for leads that originated
// locally and later appeared in the CRM.
func (p *Poller) upsertContact(ctx context.Context, contact gjson.Result) (created, updated int, err error) {
	externalID := contact.Get("id").String()
	props := contact.Get("properties")

	email := props.Get("email").String()
	phone := props.Get("phone").String()
	if phone == "" {
		phone = props.Get("mobilephone").String()
	}

	lead, err := p.store.GetLeadByExternalID(ctx, externalID)
	if err == store.ErrNotFound && (email != "" || phone != "") {
		lead, err = p.store.FindLeadByContact(ctx, email, phone)
	}

	switch err {
	case nil:
		lead.ExternalID = externalID
		applyProperties(lead, props, email, phone)
		if err := p.store.UpdateLead(ctx, lead); err != nil {
			return 0, 0, err
		}
		return 0, 1, nil

	case store.ErrNotFound:
		lead = &store.Lead{
			ID:         uuid.NewString(),
			ExternalID: externalID,
			Status:     store.LeadStatusNew,
			Source:     "crm",
		}
		applyProperties(lead, props, email, phone)
		if err := p.store.CreateLead(ctx, lead); err != nil {
			return 0, 0, err
		}
		return 1, 0, nil

	default:
		return 0, 0, err
	}
}

func applyProperties(lead *store.Lead, props gjson.Result, email, phone string) {
	if email != "" {
		lead.Email = email
	}
	if phone != "" {
		lead.Phone = phone
	}
	if v := props.Get("firstname").String(); v != "" {
		lead.FirstName = v
	}
	if v := props.Get("lastname").String(); v != "" {
		lead.LastName = v
	}
	if v := props.Get("project").String(); v != "" {
		lead.Project = v
	}
	if v := props.Get("hs_lead_status").String(); v != "" {
		lead.LeadStatus = v
	}
	if v := props.Get("lifecyclestage").String(); v != "" {
		lead.LifecycleStage = v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
