package nats

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/credstore"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, append([]byte(nil), data...))
	return nil
}

func TestBridgeForwardsLogout(t *testing.T) {
	pub := &recordingPublisher{}
	bus := authclient.NewEventBus(nil)
	b := NewBridge(pub, "", "worker-1", nil)
	detach := b.Attach(bus)
	defer detach()

	bus.Publish(authclient.Event{Name: authclient.EventLogout, Reason: authclient.ReasonRefreshFailed})

	if len(pub.payloads) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.payloads))
	}
	if pub.subjects[0] != DefaultSubject {
		t.Fatalf("unexpected subject %q", pub.subjects[0])
	}
	var msg Message
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != authclient.EventLogout || msg.Reason != authclient.ReasonRefreshFailed || msg.Source != "worker-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("expected timestamp")
	}
	if b.Published() != 1 || b.Failed() != 0 {
		t.Fatalf("unexpected counters published=%d failed=%d", b.Published(), b.Failed())
	}
}

func TestBridgeNeverForwardsTokens(t *testing.T) {
	pub := &recordingPublisher{}
	b := NewBridge(pub, "session.events", "", nil)

	b.Handle(authclient.Event{
		Name: authclient.EventTokenRefreshed,
		Credentials: credstore.Credentials{
			AccessToken:  "secret-access",
			RefreshToken: "secret-refresh",
			TokenType:    "bearer",
			ExpiresAt:    1700000000000,
		},
	})

	raw := string(pub.payloads[0])
	if strings.Contains(raw, "secret-access") || strings.Contains(raw, "secret-refresh") {
		t.Fatalf("token leaked: %s", raw)
	}
	var msg Message
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ExpiresAt != 1700000000000 || msg.TokenType != "bearer" {
		t.Fatalf("expected expiry metadata, got %+v", msg)
	}
}

func TestBridgePublishFailureIsCounted(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	bus := authclient.NewEventBus(nil)
	b := NewBridge(pub, "", "", nil)
	b.Attach(bus)

	bus.Publish(authclient.Event{Name: authclient.EventLogout, Reason: authclient.ReasonManual})

	if b.Failed() != 1 || b.Published() != 0 {
		t.Fatalf("unexpected counters published=%d failed=%d", b.Published(), b.Failed())
	}
	if bus.HandlerFailures() != 0 {
		t.Fatal("publish failure must not surface as a handler panic")
	}
}

func TestNilBridgeIsNoOp(t *testing.T) {
	var b *Bridge
	b.Handle(authclient.Event{Name: authclient.EventLogout})
}
