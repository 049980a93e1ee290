// Package webhooks pushes route-plan events to an external HTTP endpoint,
// signed with a shared secret and retried with exponential backoff.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"fieldroute/internal/events"
	"fieldroute/internal/metrics"
)

const queueSize = 256

type Notifier struct {
	URL         string
	Secret      string
	MaxAttempts int
	HTTP        *http.Client
	// Backoff returns the wait after the given number of failed attempts.
	Backoff func(attempts int) time.Duration

	queue chan events.Event
	now   func() time.Time
}

func NewNotifier(url, secret string, maxAttempts int) *Notifier {
	if maxAttempts < 1 {
		maxAttempts = 10
	}
	return &Notifier{
		URL:         url,
		Secret:      secret,
		MaxAttempts: maxAttempts,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Backoff:     nextBackoff,
		queue:       make(chan events.Event, queueSize),
		now:         time.Now,
	}
}

// Enqueue schedules evt for delivery. It never blocks; when the queue is full
// the event is dropped and counted.
func (n *Notifier) Enqueue(evt events.Event) bool {
	select {
	case n.queue <- evt:
		return true
	default:
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		log.Warn().Str("event", evt.ID).Str("business", evt.BusinessID).Msg("webhook queue full, event dropped")
		return false
	}
}

// Run delivers queued events one at a time until ctx ends.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-n.queue:
			n.deliverWithRetry(ctx, evt)
		}
	}
}

func (n *Notifier) deliverWithRetry(ctx context.Context, evt events.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("event", evt.ID).Msg("webhook encode")
		return
	}
	for attempt := 0; attempt < n.MaxAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(n.Backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		code, err := n.deliver(ctx, evt, body)
		if err == nil {
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		log.Warn().Err(err).Str("event", evt.ID).Int("attempt", attempt+1).Int("code", code).Msg("webhook delivery")
	}
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	log.Error().Str("event", evt.ID).Str("business", evt.BusinessID).Int("attempts", n.MaxAttempts).Msg("webhook delivery gave up")
}

func (n *Notifier) deliver(ctx context.Context, evt events.Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", evt.Type)
	req.Header.Set("X-Event-Id", evt.ID)
	if n.Secret != "" {
		req.Header.Set("X-Signature", Sign(n.Secret, n.now(), body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}

// Wrap returns a Broker that publishes through b and also queues each event
// for webhook delivery.
func (n *Notifier) Wrap(b events.Broker) events.Broker {
	return &teeBroker{Broker: b, n: n}
}

type teeBroker struct {
	events.Broker
	n *Notifier
}

func (t *teeBroker) Publish(ctx context.Context, businessID string, evt events.Event) error {
	err := t.Broker.Publish(ctx, businessID, evt)
	t.n.Enqueue(evt)
	return err
}
