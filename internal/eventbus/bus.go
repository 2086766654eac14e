// Package eventbus fans outbound device reports out to subscribers on a
// bounded worker pool. The ledger records them; the bridge adapter serves
// them from there.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeAttribute    EventType = "attribute_changed"
	EventTypeBattery      EventType = "battery_reported"
	EventTypeNetwork      EventType = "network"
	EventTypeButton       EventType = "button"
	EventTypeIdentify     EventType = "identify"
	EventTypeFactoryReset EventType = "factory_reset"
)

// AllTypes lists every event type the device publishes.
var AllTypes = []EventType{
	EventTypeAttribute,
	EventTypeBattery,
	EventTypeNetwork,
	EventTypeButton,
	EventTypeIdentify,
	EventTypeFactoryReset,
}

// Default configuration
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 100
)

// Event is one outbound report.
type Event struct {
	ID   string
	Type EventType
	Time time.Time
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers through a bounded worker pool.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// closed is guarded by mu; publishers send under the read lock so the
	// queue is never closed under them.
	closed bool
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers handler for every event type in AllTypes.
func (b *Bus) SubscribeAll(handler Handler) {
	for _, t := range AllTypes {
		b.Subscribe(t, handler)
	}
}

// Publish stamps the event with an id and time if missing and hands it to
// every subscriber. It never blocks: when the queue is full or the bus is
// closing the event is dropped with a warning.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
		return
	}

	for _, handler := range b.handlers[event.Type] {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events and waits for queued ones until ctx is done.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.workQueue)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
