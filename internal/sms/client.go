// ABOUTME: Outbound text messaging over a Twilio-compatible REST API.
// ABOUTME: Form-encoded message create calls with basic-auth credentials.

package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// Config carries the messaging provider credentials.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string // override for tests and regional endpoints
}

// Client sends text messages through the provider's message-create endpoint.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a messaging client. The HTTP client carries its own timeout
// so a stuck provider call cannot hold a tool dispatch open indefinitely.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "sms"),
	}
}

// messageResponse is the subset of the provider's create response we read.
type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// SendText sends body to the given phone number and returns the provider's
// message sid.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient phone number is required")
	}
	if body == "" {
		return "", fmt.Errorf("message body is required")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("reading message response: %w", err)
	}

	var msg messageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("message create failed: status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decoding message response: %w", err)
	}

	if resp.StatusCode >= 300 {
		if msg.ErrorMessage != "" {
			return "", fmt.Errorf("message create failed: %s (status %d)", msg.ErrorMessage, resp.StatusCode)
		}
		return "", fmt.Errorf("message create failed: status %d", resp.StatusCode)
	}

	c.logger.Info("message sent", "to", to, "sid", msg.SID, "status", msg.Status)
	return msg.SID, nil
}
