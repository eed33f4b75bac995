package nats

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	natspkg "github.com/nats-io/nats.go"

	"github.com/MrEthical07/authclient"
)

// DefaultSubject is used when NewBridge is given an empty subject.
const DefaultSubject = "authclient.session"

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*natspkg.Conn)(nil)

// Message is the wire form of a forwarded event.
type Message struct {
	Event     authclient.EventName    `json:"event"`
	Reason    authclient.LogoutReason `json:"reason,omitempty"`
	TokenType string                  `json:"token_type,omitempty"`
	ExpiresAt int64                   `json:"expires_at,omitempty"`
	Source    string                  `json:"source,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Bridge publishes every event it handles. Publish failures are logged and
// counted, never returned to the event bus.
type Bridge struct {
	pub     Publisher
	subject string
	source  string
	logger  *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewBridge returns a bridge publishing to subject. source identifies this
// client instance in messages and may be empty.
func NewBridge(pub Publisher, subject, source string, logger *slog.Logger) *Bridge {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{pub: pub, subject: subject, source: source, logger: logger}
}

// Connect dials a NATS server with the client's naming conventions.
func Connect(url, name string, opts ...natspkg.Option) (*natspkg.Conn, error) {
	if name != "" {
		opts = append([]natspkg.Option{natspkg.Name(name)}, opts...)
	}
	return natspkg.Connect(url, opts...)
}

// Attach subscribes the bridge to every event on bus.
func (b *Bridge) Attach(bus *authclient.EventBus) (detach func()) {
	return bus.SubscribeAll(b.Handle)
}

// Handle is an authclient.Handler.
func (b *Bridge) Handle(ev authclient.Event) {
	if b == nil || b.pub == nil {
		return
	}
	ev = ev.Redacted()
	msg := Message{
		Event:     ev.Name,
		Reason:    ev.Reason,
		TokenType: ev.Credentials.TokenType,
		ExpiresAt: ev.Credentials.ExpiresAt,
		Source:    b.source,
		Timestamp: ev.Timestamp,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.failed.Add(1)
		return
	}
	if err := b.pub.Publish(b.subject, data); err != nil {
		b.failed.Add(1)
		b.logger.Warn("session event publish failed",
			slog.String("subject", b.subject),
			slog.String("event", string(ev.Name)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.published.Add(1)
}

// Published returns the number of successfully published messages.
func (b *Bridge) Published() uint64 {
	return b.published.Load()
}

// Failed returns the number of messages that could not be published.
func (b *Bridge) Failed() uint64 {
	return b.failed.Load()
}
