package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/attendly/notifyd/internal/notify"
)

// SubscriptionDeactivator marks an expired push endpoint inactive so it
// is not resolved again.
type SubscriptionDeactivator interface {
	DeactivateSubscription(ctx context.Context, endpoint string) error
}

// PushSender delivers web push notifications with VAPID keys. A user may
// hold several subscriptions (one per device); delivery to any of them
// counts as success.
type PushSender struct {
	publicKey    string
	privateKey   string
	subscriber   string
	deactivator  SubscriptionDeactivator
	httpClient   *http.Client
	sendOverride func(ctx context.Context, data []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

// NewPushSender creates a push sender. Returns nil when either VAPID key
// is empty (channel disabled).
func NewPushSender(publicKey, privateKey, subscriber string, deactivator SubscriptionDeactivator) *PushSender {
	if publicKey == "" || privateKey == "" {
		return nil
	}
	return &PushSender{
		publicKey:   publicKey,
		privateKey:  privateKey,
		subscriber:  subscriber,
		deactivator: deactivator,
	}
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send delivers to every active subscription the contact has. Expired
// endpoints (410 Gone) are deactivated and reported as permanent only
// when no live endpoint remains.
func (s *PushSender) Send(ctx context.Context, contact notify.Contact, msg notify.Message) error {
	if len(contact.PushSubscriptions) == 0 {
		return notify.Permanent(errors.New("contact has no push subscriptions"))
	}

	data, err := json.Marshal(pushPayload{Title: msg.Title, Body: msg.Body})
	if err != nil {
		return notify.Permanent(fmt.Errorf("marshal push payload: %w", err))
	}

	succeeded := 0
	transientSeen := false
	var lastErr error
	for _, sub := range contact.PushSubscriptions {
		if err := s.sendOne(ctx, data, sub); err != nil {
			if notify.IsTransient(err) {
				transientSeen = true
			}
			lastErr = err
			continue
		}
		succeeded++
	}

	if succeeded > 0 {
		return nil
	}
	if transientSeen {
		return notify.Transient(fmt.Errorf("all push endpoints failed: %w", lastErr))
	}
	return notify.Permanent(fmt.Errorf("no deliverable push endpoint: %w", lastErr))
}

func (s *PushSender) sendOne(ctx context.Context, data []byte, sub notify.PushSubscription) error {
	opts := &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             3600,
	}
	if s.httpClient != nil {
		opts.HTTPClient = s.httpClient
	}
	wsub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	send := webpush.SendNotificationWithContext
	if s.sendOverride != nil {
		send = s.sendOverride
	}
	resp, err := send(ctx, data, wsub, opts)
	if err != nil {
		return notify.Transient(fmt.Errorf("send push: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		if s.deactivator != nil {
			if derr := s.deactivator.DeactivateSubscription(ctx, sub.Endpoint); derr != nil {
				return notify.Permanent(fmt.Errorf("subscription expired, deactivate failed: %w", derr))
			}
		}
		return notify.Permanent(errors.New("push subscription expired"))
	}
	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a fresh VAPID key pair for configuration.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}
