// ABOUTME: Gateway orchestrator that wires storage, sessions, webhook, and API.
// ABOUTME: Manages the HTTP server, CRM poller, and graceful shutdown lifecycle.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/chatline/chatline-gateway/internal/config"
	"github.com/chatline/chatline-gateway/internal/conversation"
	"github.com/chatline/chatline-gateway/internal/convai"
	"github.com/chatline/chatline-gateway/internal/crm"
	"github.com/chatline/chatline-gateway/internal/dedupe"
	"github.com/chatline/chatline-gateway/internal/sms"
	"github.com/chatline/chatline-gateway/internal/store"
	"github.com/chatline/chatline-gateway/internal/tools"
	"github.com/chatline/chatline-gateway/internal/webhook"
)

// Gateway orchestrates the chatline-gateway server components: the session
// registry holding agent conversations, the webhook channel, the JSON API,
// and the optional CRM poller.
type Gateway struct {
	config       *config.Config
	store        store.Store
	registry     *convai.Registry
	conversation *conversation.Service
	poller       *crm.Poller
	dedupe       *dedupe.Cache
	httpServer   *http.Server
	logger       *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATLINE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	smsClient := sms.NewClient(sms.Config{
		AccountSID: cfg.Messaging.AccountSID,
		AuthToken:  cfg.Messaging.AuthToken,
		FromNumber: cfg.Messaging.FromNumber,
		BaseURL:    cfg.Messaging.APIBaseURL,
	}, logger)

	registry := convai.NewRegistry(convai.RegistryParams{
		Dial: convai.NewDialFunc(convai.AgentEndpoint{
			URL:     cfg.Agent.WSURL,
			AgentID: cfg.Agent.AgentID,
			APIKey:  cfg.Agent.APIKey,
		}),
		Tools:        tools.NewDispatcher(smsClient, logger),
		IdleTimeout:  cfg.Agent.IdleTimeout,
		ReplyTimeout: cfg.Agent.ReplyTimeout,
		Logger:       logger,
	})

	convService := conversation.New(s, registry, cfg.Messaging.FallbackReply,
		logger.With("component", "conversation"))

	dedupeCache := dedupe.New(5*time.Minute, 100_000) // TTL 5min, max 100k entries

	gw := &Gateway{
		config:       cfg,
		store:        s,
		registry:     registry,
		conversation: convService,
		dedupe:       dedupeCache,
		logger:       logger.With("component", "gateway"),
	}

	if cfg.CRM.Enabled {
		gw.poller = crm.NewPoller(crm.Config{
			BaseURL:     cfg.CRM.BaseURL,
			AccessToken: cfg.CRM.AccessToken,
			Interval:    cfg.CRM.PollInterval,
		}, s, logger)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// Inbound messaging channel
	webhook.NewHandler(webhook.HandlerParams{
		Responder: convService,
		Seen:      dedupeCache,
		Fallback:  cfg.Messaging.FallbackReply,
		Logger:    logger,
	}).Register(mux)

	// Read-only JSON API
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway and blocks until the context is canceled. Returns nil
// on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.poller != nil {
		g.poller.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.poller != nil {
		g.poller.Stop()
	}
	g.registry.Close()
	g.dedupe.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status         string      `json:"status"`
	ActiveSessions int         `json:"active_sessions"`
	CRM            *crm.Status `json:"crm,omitempty"`
}

// handleHealth reports liveness plus a snapshot of the session and CRM layers.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		ActiveSessions: g.registry.ActiveSessions(),
	}
	if g.poller != nil {
		st := g.poller.GetStatus()
		resp.CRM = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReady reports readiness: the gateway can take traffic once the store
// answers. Agent connections are dialed lazily, so none being open is normal.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
