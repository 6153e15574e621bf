// Package webhooks delivers alert and review events to external HTTP
// endpoints registered by an admin.
//
// Each delivery is a signed JSON POST. Receivers verify
// X-KYCDesk-Signature, which is "sha256=" followed by the hex
// HMAC-SHA256 of "<timestamp>.<body>" under the subscription secret.
// A subscription is deactivated after MaxConsecutiveFailures failed
// deliveries in a row.
package webhooks

import (
	"bytes"
	"cmp"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/kycdesk/kycdesk/internal/retry"
	"github.com/kycdesk/kycdesk/internal/security"
)

// EventType names a deliverable event.
type EventType string

const (
	EventAlertRaised    EventType = "alert.raised"
	EventAlertResolved  EventType = "alert.resolved"
	EventRecordDecided  EventType = "record.decided"
	EventRecordReopened EventType = "record.reopened"
	EventRecordDeleted  EventType = "record.deleted"
)

// AllEventTypes lists every event a subscription may select.
var AllEventTypes = []EventType{
	EventAlertRaised,
	EventAlertResolved,
	EventRecordDecided,
	EventRecordReopened,
	EventRecordDeleted,
}

func (e EventType) Valid() bool {
	return slices.Contains(AllEventTypes, e)
}

// Delivery headers.
const (
	HeaderEvent     = "X-KYCDesk-Event"
	HeaderTimestamp = "X-KYCDesk-Timestamp"
	HeaderSignature = "X-KYCDesk-Signature"
	HeaderDelivery  = "X-KYCDesk-Delivery"
)

const (
	// MaxConsecutiveFailures deactivates a subscription.
	MaxConsecutiveFailures = 10

	DefaultConcurrency = 16
	deliveryTimeout    = 30 * time.Second
)

var ErrNotFound = errors.New("webhook subscription not found")

// Event is the JSON body of a delivery.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription is a registered endpoint.
type Subscription struct {
	ID                  string      `json:"id"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"`
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"created_at"`
	LastSuccess         *time.Time  `json:"last_success,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// Wants reports whether the subscription receives events of type t.
func (s *Subscription) Wants(t EventType) bool {
	return s.Active && slices.Contains(s.Events, t)
}

func (s *Subscription) Clone() *Subscription {
	c := *s
	c.Events = slices.Clone(s.Events)
	if s.LastSuccess != nil {
		ts := *s.LastSuccess
		c.LastSuccess = &ts
	}
	return &c
}

// Store persists subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// List returns every subscription, newest first.
	List(ctx context.Context) ([]*Subscription, error)
	// ListForEvent returns active subscriptions selecting t.
	ListForEvent(ctx context.Context, t EventType) ([]*Subscription, error)
	// RecordDelivery stores the outcome of one delivery. A failure bumps the
	// failure streak and deactivates the subscription once it reaches
	// MaxConsecutiveFailures; a success resets it.
	RecordDelivery(ctx context.Context, id string, at time.Time, deliveryErr string) error
	Delete(ctx context.Context, id string) error
}

// Sign returns the signature header value for a delivery.
func Sign(secret, timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte{'.'})
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header in constant time.
func Verify(secret, timestamp string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, payload)), []byte(signature))
}

// Dispatcher delivers events to matching subscriptions. Deliveries run in
// the background with bounded concurrency; callers never block on a
// receiver.
type Dispatcher struct {
	store       Store
	client      *http.Client
	policy      retry.Policy
	validateURL func(string) error
	logger      *slog.Logger
	now         func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		policy:      retry.DefaultPolicy,
		validateURL: security.ValidateEndpointURL,
		logger:      slog.Default(),
		now:         time.Now,
		sem:         make(chan struct{}, DefaultConcurrency),
	}
}

func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.client = c
	return d
}

func (d *Dispatcher) WithRetryPolicy(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// WithURLValidator replaces the outbound URL check applied at registration
// and before every delivery.
func (d *Dispatcher) WithURLValidator(fn func(string) error) *Dispatcher {
	d.validateURL = fn
	return d
}

func (d *Dispatcher) WithLogger(l *slog.Logger) *Dispatcher {
	d.logger = l
	return d
}

// ValidateURL applies the configured outbound URL check.
func (d *Dispatcher) ValidateURL(rawURL string) error {
	if d.validateURL == nil {
		return nil
	}
	return d.validateURL(rawURL)
}

// Dispatch sends event to every active subscription that selected its type.
// It returns once the subscribers are looked up; deliveries continue in the
// background and outlive ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.ListForEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to list subscribers: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	for _, sub := range subs {
		d.goDeliver(func() { d.deliver(bg, sub, event, payload) })
	}
	return nil
}

// DispatchAsync is Dispatch without waiting for the subscriber lookup.
// Errors are logged.
func (d *Dispatcher) DispatchAsync(event *Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := d.Dispatch(ctx, event); err != nil {
			dispatchErrors.WithLabelValues(string(event.Type)).Inc()
			d.logger.Warn("webhook dispatch failed", "event", event.Type, "event_id", event.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) goDeliver(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		fn()
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if verr := d.ValidateURL(sub.URL); verr != nil {
		err = verr
	} else {
		ts := strconv.FormatInt(event.Timestamp.Unix(), 10)
		err = retry.Do(ctx, d.policy, func(ctx context.Context) error {
			return d.post(ctx, sub, event, ts, payload)
		})
	}

	outcome := "success"
	deliveryErr := ""
	if err != nil {
		outcome = "failure"
		deliveryErr = err.Error()
		d.logger.Warn("webhook delivery failed",
			"subscription_id", sub.ID,
			"event_id", event.ID,
			"event", event.Type,
			"error", err,
		)
	}
	deliveriesTotal.WithLabelValues(string(event.Type), outcome).Inc()
	deliveryDuration.Observe(time.Since(start).Seconds())

	if serr := d.store.RecordDelivery(ctx, sub.ID, d.now(), deliveryErr); serr != nil && !errors.Is(serr, ErrNotFound) {
		d.logger.Error("failed to record webhook delivery", "subscription_id", sub.ID, "error", serr)
	}
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, ts string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kycdesk-webhooks/1")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderDelivery, event.ID)
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(sub.Secret, ts, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("receiver returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub.Clone())
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (m *MemoryStore) ListForEvent(_ context.Context, t EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.Wants(t) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordDelivery(_ context.Context, id string, at time.Time, deliveryErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if deliveryErr == "" {
		sub.LastSuccess = &at
		sub.LastError = ""
		sub.ConsecutiveFailures = 0
		return nil
	}
	sub.LastError = deliveryErr
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= MaxConsecutiveFailures {
		sub.Active = false
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}
