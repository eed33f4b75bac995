package authclient

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authclient/credstore"
)

// EventName identifies a session-lifecycle event.
type EventName string

const (
	// EventLogout fires when the session ends: forced by the client or requested by the user.
	EventLogout EventName = "logout"
	// EventTokenRefreshed fires after a successful silent token rotation.
	EventTokenRefreshed EventName = "token-refreshed"
)

// LogoutReason explains an EventLogout.
type LogoutReason string

const (
	ReasonUnauthorized  LogoutReason = "unauthorized"
	ReasonManual        LogoutReason = "manual"
	ReasonRefreshFailed LogoutReason = "refresh-failed"
)

// Event is a fire-and-forget session broadcast.
//
// Reason is set for EventLogout; Credentials carries the new token set for
// EventTokenRefreshed.
type Event struct {
	Name        EventName             `json:"name"`
	Reason      LogoutReason          `json:"reason,omitempty"`
	Credentials credstore.Credentials `json:"credentials,omitzero"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Redacted returns a copy without token material, safe to log or forward.
// Token type and expiry are kept.
func (e Event) Redacted() Event {
	e.Credentials.AccessToken = ""
	e.Credentials.RefreshToken = ""
	return e
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    EventName // empty matches every event
	handler Handler
}

// EventBus is an injectable publish/subscribe hub for session events.
//
// A nil *EventBus is valid: Publish is a no-op and Subscribe returns a no-op
// unsubscribe.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger

	failures atomic.Uint64
}

// NewEventBus returns an empty bus. logger may be nil.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EventBus{logger: logger}
}

// Subscribe registers handler for name and returns a function that removes it.
// The returned function is idempotent.
func (b *EventBus) Subscribe(name EventName, handler Handler) (unsubscribe func()) {
	return b.add(name, handler)
}

// SubscribeAll registers handler for every event.
func (b *EventBus) SubscribeAll(handler Handler) (unsubscribe func()) {
	return b.add("", handler)
}

func (b *EventBus) add(name EventName, handler Handler) func() {
	if b == nil || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			next := make([]subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to the subscribers registered at the time of the call.
// A panicking handler is recovered and logged; delivery continues.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.name != "" && s.name != ev.Name {
			continue
		}
		b.deliver(s, ev)
	}
}

// Subscribers returns the number of registered handlers.
func (b *EventBus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// HandlerFailures returns how many deliveries ended in a recovered panic.
func (b *EventBus) HandlerFailures() uint64 {
	if b == nil {
		return 0
	}
	return b.failures.Load()
}

func (b *EventBus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.logger.Error("event handler panicked",
				slog.String("event", string(ev.Name)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.handler(ev)
}
