// Package events fans out route-plan change notifications to stream subscribers,
// in process or across replicas via Redis Pub/Sub.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const TypeRoutePlansUpdated = "route_plans.updated"

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	BusinessID string         `json:"businessId"`
	TS         time.Time      `json:"ts"`
	Data       map[string]any `json:"data"`
}

func NewEvent(typ, businessID string, data map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: typ, BusinessID: businessID, TS: time.Now().UTC(), Data: data}
}

// Broker delivers events to subscribers of one business. Slow subscribers
// miss events rather than block publishers.
type Broker interface {
	Subscribe(businessID string) chan Event
	Unsubscribe(businessID string, ch chan Event)
	Publish(ctx context.Context, businessID string, evt Event) error
}

// Memory is the in-process Broker.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // businessId -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(businessID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[businessID] == nil {
		b.subs[businessID] = map[chan Event]struct{}{}
	}
	b.subs[businessID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(businessID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[businessID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, businessID)
	}
	close(ch)
}

func (b *Memory) Publish(ctx context.Context, businessID string, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[businessID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}
