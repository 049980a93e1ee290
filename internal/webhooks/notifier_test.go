package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/events"
)

type received struct {
	header http.Header
	body   []byte
}

func endpoint(t *testing.T, failFirst int32) (*httptest.Server, <-chan received, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	got := make(chan received, 8)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		b, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ts.Close)
	return ts, got, &calls
}

func fast(n *Notifier) *Notifier {
	n.Backoff = func(int) time.Duration { return time.Millisecond }
	return n
}

func TestNotifierDeliversSigned(t *testing.T) {
	ts, got, _ := endpoint(t, 0)
	n := fast(NewNotifier(ts.URL, "s3cret", 3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	evt := events.NewEvent(events.TypeRoutePlansUpdated, "b1", map[string]any{"runId": "r1"})
	require.True(t, n.Enqueue(evt))

	select {
	case r := <-got:
		assert.Equal(t, events.TypeRoutePlansUpdated, r.header.Get("X-Event-Type"))
		assert.Equal(t, evt.ID, r.header.Get("X-Event-Id"))
		assert.NoError(t, Verify("s3cret", r.header.Get("X-Signature"), r.body, time.Minute, time.Now()))

		var decoded events.Event
		require.NoError(t, json.Unmarshal(r.body, &decoded))
		assert.Equal(t, "b1", decoded.BusinessID)
		assert.Equal(t, "r1", decoded.Data["runId"])
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNotifierRetries(t *testing.T) {
	ts, got, calls := endpoint(t, 2)
	n := fast(NewNotifier(ts.URL, "", 5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Enqueue(events.NewEvent(events.TypeRoutePlansUpdated, "b1", nil))
	select {
	case r := <-got:
		assert.Empty(t, r.header.Get("X-Signature"), "no secret, no signature")
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifierGivesUp(t *testing.T) {
	ts, got, calls := endpoint(t, 100)
	n := fast(NewNotifier(ts.URL, "", 3))
	evt := events.NewEvent(events.TypeRoutePlansUpdated, "b1", nil)
	n.deliverWithRetry(context.Background(), evt)
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, got)
}

func TestNotifierQueueFull(t *testing.T) {
	n := NewNotifier("http://127.0.0.1:0", "", 1)
	for i := 0; i < queueSize; i++ {
		require.True(t, n.Enqueue(events.Event{ID: "e"}))
	}
	assert.False(t, n.Enqueue(events.Event{ID: "overflow"}))
}

type countingBroker struct {
	events.Broker
	mu        sync.Mutex
	published []events.Event
}

func (c *countingBroker) Publish(ctx context.Context, businessID string, evt events.Event) error {
	c.mu.Lock()
	c.published = append(c.published, evt)
	c.mu.Unlock()
	return c.Broker.Publish(ctx, businessID, evt)
}

func TestWrapPublishesAndQueues(t *testing.T) {
	inner := &countingBroker{Broker: events.NewMemory()}
	n := NewNotifier("http://127.0.0.1:0", "", 1)
	b := n.Wrap(inner)

	ch := b.Subscribe("b1")
	defer b.Unsubscribe("b1", ch)

	evt := events.NewEvent(events.TypeRoutePlansUpdated, "b1", nil)
	require.NoError(t, b.Publish(context.Background(), "b1", evt))

	assert.Len(t, inner.published, 1)
	assert.Equal(t, evt.ID, (<-ch).ID)
	assert.Equal(t, evt.ID, (<-n.queue).ID)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"e1"}`)
	now := time.Unix(1_700_000_000, 0)
	sig := Sign("k", now, body)

	assert.NoError(t, Verify("k", sig, body, time.Minute, now.Add(30*time.Second)))
	assert.ErrorIs(t, Verify("k", sig, body, time.Minute, now.Add(2*time.Minute)), ErrBadSignature, "too old")
	assert.NoError(t, Verify("k", sig, body, 0, now.Add(24*time.Hour)), "age check disabled")
	assert.ErrorIs(t, Verify("other", sig, body, 0, now), ErrBadSignature)
	assert.ErrorIs(t, Verify("k", sig, []byte(`{"id":"e2"}`), 0, now), ErrBadSignature)
	assert.ErrorIs(t, Verify("k", "garbage", body, 0, now), ErrBadSignature)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(1))
	assert.Equal(t, 1024*time.Second, nextBackoff(10))
	assert.Equal(t, 1024*time.Second, nextBackoff(50))
	assert.Equal(t, time.Second, nextBackoff(-3))
}
