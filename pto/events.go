package pto

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventType names a committed state change.
type EventType string

const (
	RequestCreated  EventType = "pto.request.created"
	RequestApproved EventType = "pto.request.approved"
	RequestDeclined EventType = "pto.request.declined"
	RequestUpdated  EventType = "pto.request.updated"
	RequestDeleted  EventType = "pto.request.deleted"
)

// Event is emitted after the write it describes has been persisted.
// Request carries its joined daily schedules.
type Event struct {
	Type    EventType
	Request *Request
	ActorID string
}

// Listener reacts to an event. Its error never undoes the committed write.
type Listener func(ctx context.Context, ev Event) error

type subscription struct {
	name string
	fn   Listener
}

// ListenerError reports which listener failed for which event.
type ListenerError struct {
	Listener string
	Event    EventType
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s on %s: %v", e.Listener, e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Bus dispatches post-commit events to listeners synchronously, in the order
// they subscribed.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[EventType][]subscription), logger: logger}
}

// Subscribe registers fn for events of type t.
func (b *Bus) Subscribe(t EventType, name string, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{name: name, fn: fn})
}

// Publish runs every listener for ev.Type. All listeners run even when one
// fails; the failures are logged and returned.
func (b *Bus) Publish(ctx context.Context, ev Event) []error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := b.run(ctx, s, ev); err != nil {
			b.logger.Warn("event listener failed",
				zap.String("event", string(ev.Type)),
				zap.String("listener", s.name),
				zap.Error(err),
			)
			errs = append(errs, &ListenerError{Listener: s.name, Event: ev.Type, Err: err})
		}
	}
	return errs
}

func (b *Bus) run(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, ev)
}
