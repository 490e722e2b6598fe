// ABOUTME: Inbound webhook handler for the messaging provider.
// ABOUTME: Parses form posts, suppresses redeliveries, and answers with TwiML.

package webhook

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"

	"github.com/chatline/chatline-gateway/internal/dedupe"
)

// Responder produces the reply for one inbound message.
type Responder interface {
	Respond(ctx context.Context, from, body, displayName string) (string, error)
}

// Handler serves the provider's inbound-message and status callbacks.
type Handler struct {
	responder Responder
	seen      *dedupe.Cache
	fallback  string
	logger    *slog.Logger
}

// HandlerParams bundles the dependencies for NewHandler.
type HandlerParams struct {
	Responder Responder
	Seen      *dedupe.Cache
	Fallback  string // reply used when the responder itself errors
	Logger    *slog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(p HandlerParams) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Fallback == "" {
		p.Fallback = "Sorry, I am having trouble processing your message right now. Please try again later."
	}
	return &Handler{
		responder: p.Responder,
		seen:      p.Seen,
		fallback:  p.Fallback,
		logger:    logger.With("component", "webhook"),
	}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", h.handleInbound)
	mux.HandleFunc("POST /webhook/status", h.handleStatus)
}

// twiml is the provider's XML reply envelope. An empty Message slice renders
// <Response></Response>, which acknowledges without replying.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message []string `xml:"Message"`
}

// handleInbound processes one message delivery. The provider retries on
// non-2xx, so everything past input validation answers 200 with TwiML.
func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	profileName := r.PostFormValue("ProfileName")
	messageSid := r.PostFormValue("MessageSid")

	if from == "" || body == "" {
		h.logger.Warn("inbound webhook missing required fields",
			"has_from", from != "",
			"has_body", body != "",
		)
		http.Error(w, "From and Body are required", http.StatusBadRequest)
		return
	}

	if h.seen != nil && h.seen.Seen(messageSid) {
		h.logger.Info("duplicate delivery suppressed", "message_sid", messageSid)
		h.writeTwiML(w, twiml{})
		return
	}

	h.logger.Info("inbound message",
		"from", from,
		"message_sid", messageSid,
		"length", len(body),
	)

	reply, err := h.responder.Respond(r.Context(), from, body, profileName)
	if err != nil {
		h.logger.Error("responder failed", "from", from, "error", err)
		reply = h.fallback
	}

	h.writeTwiML(w, twiml{Message: []string{reply}})
}

// handleStatus receives delivery-status callbacks. They are logged and
// acknowledged; the provider retries anything else.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	h.logger.Info("delivery status",
		"message_sid", r.PostFormValue("MessageSid"),
		"status", r.PostFormValue("MessageStatus"),
		"error_code", r.PostFormValue("ErrorCode"),
	)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeTwiML(w http.ResponseWriter, resp twiml) {
	out, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(out)
}
