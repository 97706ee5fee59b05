// Package webhook delivers notifications as JSON POST requests, for push
// gateways such as ntfy, Gotify or a Pushbullet relay.
//
// The request body is:
//
//	{
//	  "type": "note",
//	  "title": "🔊 Fire alarm detected",
//	  "body": "82.0% confidence - Check Sound Alert Pro",
//	  "sound": "Fire alarm",
//	  "confidence": 0.82,
//	  "priority": 10,
//	  "tier": "critical",
//	  "timestamp": "2026-03-02T23:14:05Z"
//	}
//
// Any 2xx response counts as delivered.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/soundalert/internal/notify"
)

const defaultTimeout = 10 * time.Second

// Ensure Notifier implements notify.Notifier at compile time.
var _ notify.Notifier = (*Notifier)(nil)

// Notifier posts notifications to a URL. Safe for concurrent use.
type Notifier struct {
	url        string
	headers    http.Header
	httpClient *http.Client
}

// Option is a functional option for Notifier.
type Option func(*Notifier)

// WithToken sends "Authorization: Bearer <token>" with every request.
func WithToken(token string) Option {
	return func(n *Notifier) {
		if token != "" {
			n.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader sets an additional request header, e.g. "Access-Token" for the
// Pushbullet API.
func WithHeader(key, value string) Option {
	return func(n *Notifier) { n.headers.Set(key, value) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) {
		if hc != nil {
			n.httpClient = hc
		}
	}
}

// New returns a Notifier posting to rawURL, which must be an absolute http or
// https URL.
func New(rawURL string, opts ...Option) (*Notifier, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: url %q must be an absolute http(s) URL", rawURL)
	}
	n := &Notifier{
		url:        u.String(),
		headers:    make(http.Header),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// payload is the JSON request body.
type payload struct {
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Sound      string    `json:"sound"`
	Confidence float32   `json:"confidence"`
	Priority   int       `json:"priority"`
	Tier       string    `json:"tier"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	body, err := json.Marshal(payload{
		Type:       "note",
		Title:      note.Title,
		Body:       note.Body,
		Sound:      note.Event.Label,
		Confidence: note.Event.Confidence,
		Priority:   note.Event.Priority,
		Tier:       note.Tier,
		Timestamp:  note.Event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: webhook: marshal: %w", notify.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: webhook: build request: %w", notify.ErrDelivery, err)
	}
	for k, v := range n.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %w", notify.ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook: unexpected status %d", notify.ErrDelivery, resp.StatusCode)
	}
	return nil
}
