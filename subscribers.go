package authclient

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
)

// ChannelSubscriber buffers events on a channel for consumers that poll.
// Events published while the buffer is full are dropped and counted.
type ChannelSubscriber struct {
	events  chan Event
	dropped atomic.Uint64
}

func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSubscriber{
		events: make(chan Event, buffer),
	}
}

// Handle is the Handler to pass to Subscribe.
func (s *ChannelSubscriber) Handle(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *ChannelSubscriber) Events() <-chan Event {
	return s.events
}

func (s *ChannelSubscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// JSONWriterSubscriber writes each event as one JSON line. Tokens are
// redacted; only the expiry and token type of a refreshed set are written.
type JSONWriterSubscriber struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSubscriber(w io.Writer) *JSONWriterSubscriber {
	return &JSONWriterSubscriber{
		writer: w,
	}
}

func (s *JSONWriterSubscriber) Handle(ev Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(ev.Redacted())
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// AsyncHandler relays events to a slow handler on its own goroutine so the
// publishing request is never blocked by it.
//
// Handle and Close are serialized by mu: once Close holds it, no send can be
// in flight, so every accepted event is delivered before Close returns.
type AsyncHandler struct {
	handler    Handler
	dropIfFull bool
	ch         chan Event
	done       chan struct{}
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// NewAsyncHandler starts a relay with the given buffer. When dropIfFull is
// false, Handle blocks until the buffer has room.
func NewAsyncHandler(handler Handler, buffer int, dropIfFull bool) *AsyncHandler {
	if buffer <= 0 {
		buffer = 1
	}
	a := &AsyncHandler{
		handler:    handler,
		dropIfFull: dropIfFull,
		ch:         make(chan Event, buffer),
		done:       make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()

	return a
}

func (a *AsyncHandler) run() {
	defer a.wg.Done()

	for {
		select {
		case ev := <-a.ch:
			a.handler(ev)
		case <-a.done:
			for {
				select {
				case ev := <-a.ch:
					a.handler(ev)
				default:
					return
				}
			}
		}
	}
}

// Handle is the Handler to pass to Subscribe. Events arriving after Close
// are counted as dropped.
func (a *AsyncHandler) Handle(ev Event) {
	if a == nil {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}

	if a.dropIfFull {
		select {
		case a.ch <- ev:
			a.accepted.Add(1)
		default:
			a.dropped.Add(1)
		}
		return
	}

	a.ch <- ev
	a.accepted.Add(1)
}

// Close stops accepting events, drains the buffer and waits for the relay.
// It waits for blocked Handle calls to finish their send first.
func (a *AsyncHandler) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.done)
	a.mu.Unlock()

	a.wg.Wait()
}

// Accepted returns how many events were queued for the handler.
func (a *AsyncHandler) Accepted() uint64 {
	if a == nil {
		return 0
	}
	return a.accepted.Load()
}

func (a *AsyncHandler) Dropped() uint64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}
