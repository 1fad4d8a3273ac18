// Package events carries typed domain events between the orchestration core
// and whatever observability or webhook component consumes them.
//
// State transitions publish onto the bus and move on; consumers read from
// their own buffered channel. A slow consumer drops events rather than
// blocking a payment path.
package events

import (
	"sync"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

// Type identifies a domain event.
type Type string

const (
	IntentCreated       Type = "intent.created"
	IntentStatusChanged Type = "intent.status_changed"
	IntentSettled       Type = "intent.settled"
	OrderCreated        Type = "order.created"
	OrderDelivered      Type = "order.delivered"
	OrderDisputed       Type = "order.disputed"
	OrderReleased       Type = "order.released"
	MilestoneCompleted  Type = "milestone.completed"
	MilestoneReleased   Type = "milestone.released"
	SettlementExecuted  Type = "settlement.executed"
	SettlementFailed    Type = "settlement.failed"
)

// Event is a single domain event.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total domain events published by type.",
	}, []string{"type"})

	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total domain events dropped due to slow subscribers.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(publishedTotal, droppedTotal)
}

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving all future events. bufSize bounds how
// far the subscriber may fall behind before events are dropped for it.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber. Never blocks.
func (b *Bus) Publish(t Type, data map[string]string) {
	if b == nil {
		return
	}
	publishedTotal.WithLabelValues(string(t)).Inc()

	ev := Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			droppedTotal.WithLabelValues(string(t)).Inc()
		}
	}
}
