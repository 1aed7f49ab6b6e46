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

// SMSSender delivers via an HTTP SMS gateway (JSON POST with a bearer
// token; the Vonage/MessageBird style of API).
type SMSSender struct {
	apiKey     string
	fromNumber string
	apiURL     string
	httpClient *http.Client
}

// SMSOption configures an SMSSender.
type SMSOption func(*SMSSender)

// WithSMSHTTPClient overrides the HTTP client.
func WithSMSHTTPClient(c *http.Client) SMSOption {
	return func(s *SMSSender) { s.httpClient = c }
}

// NewSMSSender creates an SMS sender. Returns nil when apiKey or apiURL
// is empty (channel disabled).
func NewSMSSender(apiKey, fromNumber, apiURL string, opts ...SMSOption) *SMSSender {
	if apiKey == "" || apiURL == "" {
		return nil
	}
	s := &SMSSender{
		apiKey:     apiKey,
		fromNumber: fromNumber,
		apiURL:     apiURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type smsPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// Send delivers the message body to the contact's verified phone number.
func (s *SMSSender) Send(ctx context.Context, contact notify.Contact, msg notify.Message) error {
	if contact.Phone == "" || !contact.PhoneVerified {
		return notify.Permanent(errors.New("contact has no verified phone number"))
	}

	body, err := json.Marshal(smsPayload{
		From: s.fromNumber,
		To:   contact.Phone,
		Text: msg.Body,
	})
	if err != nil {
		return notify.Permanent(fmt.Errorf("marshal sms: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return notify.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notify.Transient(fmt.Errorf("send sms: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode)
	}
	return nil
}
