// Package logsink publishes scan events to the structured log. It is the
// fallback when no message broker is configured, and it retains only a
// bounded window of recent events.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
)

// DefaultCapacity is the number of recent events kept when none is given.
const DefaultCapacity = 256

// Event is one logged publish.
type Event struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher logs every event and keeps the most recent ones in a ring.
type Publisher struct {
	logger *zap.Logger

	mu    sync.Mutex
	ring  []Event
	next  int
	count int
	seq   uint64
}

// New returns a Publisher retaining at most capacity events.
func New(capacity int, logger *zap.Logger) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{logger: logging.OrNop(logger), ring: make([]Event, capacity)}
}

// Publish encodes payload, logs it, and records it in the ring.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("log-%d", p.seq)
	p.ring[p.next] = Event{ID: id, Topic: topic, Data: data}
	p.next = (p.next + 1) % len(p.ring)
	if p.count < len(p.ring) {
		p.count++
	}
	p.mu.Unlock()

	p.logger.Info("scan event", zap.String("id", id), zap.String("topic", topic), zap.ByteString("data", data))
	return id, nil
}

// Recent returns the retained events, oldest first.
func (p *Publisher) Recent() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, p.count)
	start := (p.next - p.count + len(p.ring)) % len(p.ring)
	for i := 0; i < p.count; i++ {
		out = append(out, p.ring[(start+i)%len(p.ring)])
	}
	return out
}
