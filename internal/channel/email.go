package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/attendly/notifyd/internal/notify"
)

const defaultEmailAPIURL = "https://api.postmarkapp.com/email"

// EmailSender delivers via the Postmark transactional email API.
type EmailSender struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

// EmailOption configures an EmailSender.
type EmailOption func(*EmailSender)

// WithEmailHTTPClient overrides the HTTP client.
func WithEmailHTTPClient(c *http.Client) EmailOption {
	return func(s *EmailSender) { s.httpClient = c }
}

// WithEmailAPIURL overrides the API endpoint.
func WithEmailAPIURL(url string) EmailOption {
	return func(s *EmailSender) { s.apiURL = url }
}

// NewEmailSender creates an email sender. Returns nil when serverToken
// is empty (channel disabled).
func NewEmailSender(serverToken, fromEmail string, opts ...EmailOption) *EmailSender {
	if serverToken == "" {
		return nil
	}
	s := &EmailSender{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      defaultEmailAPIURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type emailPayload struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
}

// Send delivers the message to the contact's email address.
func (s *EmailSender) Send(ctx context.Context, contact notify.Contact, msg notify.Message) error {
	if contact.Email == "" {
		return notify.Permanent(errors.New("contact has no email address"))
	}

	body, err := json.Marshal(emailPayload{
		From:     s.fromEmail,
		To:       contact.Email,
		Subject:  msg.Title,
		TextBody: msg.Body,
	})
	if err != nil {
		return notify.Permanent(fmt.Errorf("marshal email: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return notify.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", s.serverToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notify.Transient(fmt.Errorf("send email: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode)
	}
	return nil
}
