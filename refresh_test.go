package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authclient/credstore"
	"github.com/MrEthical07/authclient/lock"
)

// tokenBackend serves /data, which accepts only "Bearer <valid>", and
// /auth/refresh, which rotates valid.
type tokenBackend struct {
	mu    sync.Mutex
	valid string

	refreshCalls atomic.Int32
	dataCalls    atomic.Int32

	refreshDelay  time.Duration
	refreshStatus int
	refreshBody   string

	lastRefreshAuth  string
	lastRefreshToken string
}

func (b *tokenBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/refresh":
		b.refreshCalls.Add(1)
		var in struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		b.lastRefreshAuth = r.Header.Get("Authorization")
		b.lastRefreshToken = in.RefreshToken
		b.mu.Unlock()

		if b.refreshDelay > 0 {
			time.Sleep(b.refreshDelay)
		}
		if b.refreshStatus != 0 {
			w.WriteHeader(b.refreshStatus)
			_, _ = io.WriteString(w, `{"detail":"refresh token revoked"}`)
			return
		}
		body := b.refreshBody
		if body == "" {
			body = `{"access_token":"new","token_type":"bearer","expires_in":3600}`
		}
		b.mu.Lock()
		var tr tokenResponse
		_ = json.Unmarshal([]byte(body), &tr)
		if tr.AccessToken != "" {
			b.valid = tr.AccessToken
		}
		b.mu.Unlock()
		_, _ = io.WriteString(w, body)
	default:
		b.dataCalls.Add(1)
		b.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+b.valid
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Could not validate credentials"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}
}

func eventsNamed(evs []Event, name EventName) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

var expired = credstore.Credentials{AccessToken: "old", RefreshToken: "r1", TokenType: "bearer"}

func TestUnauthorizedRefreshesAndReissues(t *testing.T) {
	backend := &tokenBackend{valid: "none"}
	h := newHarness(t, backend)
	h.login(t, expired)

	resp, err := h.client.Get(context.Background(), "/data")
	if err != nil {
		t.Fatalf("expected success after refresh, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if backend.refreshCalls.Load() != 1 || backend.dataCalls.Load() != 2 {
		t.Fatalf("expected 1 refresh and 2 data calls, got %d/%d", backend.refreshCalls.Load(), backend.dataCalls.Load())
	}
	if backend.lastRefreshAuth != "" {
		t.Fatalf("refresh call must not carry Authorization, got %q", backend.lastRefreshAuth)
	}
	if backend.lastRefreshToken != "r1" {
		t.Fatalf("expected refresh_token r1, got %q", backend.lastRefreshToken)
	}

	creds, ok := h.client.Credentials(context.Background())
	if !ok || creds.AccessToken != "new" || creds.RefreshToken != "r1" {
		t.Fatalf("expected rotated set keeping refresh token, got %+v", creds)
	}
	if creds.ExpiresAt <= time.Now().UnixMilli() {
		t.Fatalf("expected future expiry, got %d", creds.ExpiresAt)
	}

	evs := h.drainEvents()
	refreshed := eventsNamed(evs, EventTokenRefreshed)
	if len(refreshed) != 1 || refreshed[0].Credentials.AccessToken != "new" {
		t.Fatalf("expected one token-refreshed event, got %+v", evs)
	}
	if len(eventsNamed(evs, EventLogout)) != 0 {
		t.Fatal("unexpected logout")
	}
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	backend := &tokenBackend{valid: "none", refreshDelay: 50 * time.Millisecond}
	h := newHarness(t, backend)
	h.login(t, expired)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := h.client.Get(context.Background(), "/data")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := backend.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	if got := len(eventsNamed(h.drainEvents(), EventTokenRefreshed)); got != 1 {
		t.Fatalf("expected one token-refreshed event, got %d", got)
	}

	snap := h.client.MetricsSnapshot()
	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("expected one successful refresh, got %d", snap.Counters[MetricRefreshSuccess])
	}
	if snap.Counters[MetricRequestSuccess] != n {
		t.Fatalf("expected %d successes, got %d", n, snap.Counters[MetricRequestSuccess])
	}
}

func TestRefreshFailureForcesSingleLogout(t *testing.T) {
	backend := &tokenBackend{valid: "none", refreshStatus: http.StatusUnauthorized, refreshDelay: 30 * time.Millisecond}
	h := newHarness(t, backend)
	h.login(t, expired)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := h.client.Get(context.Background(), "/data")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected the original 401 to be preserved, got %v", err)
		}
	}

	if got := backend.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	if _, ok := h.client.Credentials(context.Background()); ok {
		t.Fatal("expected credentials cleared")
	}

	logouts := eventsNamed(h.drainEvents(), EventLogout)
	if len(logouts) != 1 {
		t.Fatalf("expected one logout event, got %d", len(logouts))
	}
	if logouts[0].Reason != ReasonRefreshFailed {
		t.Fatalf("expected refresh-failed, got %q", logouts[0].Reason)
	}
}

func TestRefreshFailureKeepsCause(t *testing.T) {
	backend := &tokenBackend{valid: "none", refreshStatus: http.StatusUnauthorized}
	h := newHarness(t, backend)
	h.login(t, expired)

	_, err := h.client.Get(context.Background(), "/data")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed in chain, got %v", err)
	}
	var re *RequestError
	if !errors.As(err, &re) || re.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 RequestError, got %v", err)
	}
	if len(h.recordedDelays()) != 0 {
		t.Fatal("refresh failures must not be retried")
	}
}

func TestEndedSessionDoesNotLogOutTwice(t *testing.T) {
	backend := &tokenBackend{valid: "none"}
	h := newHarness(t, backend)

	out := h.client.refresher.refresh(context.Background(), "old")
	if out.Status != RefreshNoToken {
		t.Fatalf("expected no-token outcome, got %+v", out)
	}
	if n := len(eventsNamed(h.drainEvents(), EventLogout)); n != 0 {
		t.Fatalf("expected no logout for an already ended session, got %d", n)
	}

	out = h.client.refresher.refresh(context.Background(), "")
	if out.Status != RefreshNoToken {
		t.Fatalf("expected no-token outcome, got %+v", out)
	}
	if n := len(eventsNamed(h.drainEvents(), EventLogout)); n != 1 {
		t.Fatalf("expected one logout for an anonymous 401, got %d", n)
	}
}

func TestMissingRefreshTokenLogsOutWithoutNetwork(t *testing.T) {
	backend := &tokenBackend{valid: "none"}
	h := newHarness(t, backend)
	h.login(t, credstore.Credentials{AccessToken: "old"})

	_, err := h.client.Get(context.Background(), "/data")
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected session expired without refresh token, got %v", err)
	}
	if backend.refreshCalls.Load() != 0 {
		t.Fatal("no refresh call expected")
	}
	logouts := eventsNamed(h.drainEvents(), EventLogout)
	if len(logouts) != 1 || logouts[0].Reason != ReasonUnauthorized {
		t.Fatalf("expected one unauthorized logout, got %+v", logouts)
	}
}

func TestSecondUnauthorizedAfterRefreshLogsOut(t *testing.T) {
	var refreshCalls, dataCalls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			refreshCalls.Add(1)
			_, _ = io.WriteString(w, `{"access_token":"new","refresh_token":"r2"}`)
			return
		}
		dataCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	h.login(t, expired)

	_, err := h.client.Get(context.Background(), "/data")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if refreshCalls.Load() != 1 || dataCalls.Load() != 2 {
		t.Fatalf("expected 1 refresh and 2 data calls, got %d/%d", refreshCalls.Load(), dataCalls.Load())
	}
	if _, ok := h.client.Credentials(context.Background()); ok {
		t.Fatal("expected credentials cleared")
	}

	evs := h.drainEvents()
	logouts := eventsNamed(evs, EventLogout)
	if len(logouts) != 1 || logouts[0].Reason != ReasonUnauthorized {
		t.Fatalf("expected one unauthorized logout, got %+v", evs)
	}
}

func TestRetryAfterRefreshStillBacksOff(t *testing.T) {
	var dataCalls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			_, _ = io.WriteString(w, `{"access_token":"new"}`)
			return
		}
		switch dataCalls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusUnauthorized)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			if r.Header.Get("Authorization") != "Bearer new" {
				w.WriteHeader(http.StatusUnauthorized)
			}
		}
	}))
	h.login(t, expired)

	if _, err := h.client.Get(context.Background(), "/data"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if dataCalls.Load() != 3 || len(h.recordedDelays()) != 1 {
		t.Fatalf("expected 3 data calls and 1 backoff, got %d/%v", dataCalls.Load(), h.recordedDelays())
	}
}

func TestAuthEndpointUnauthorizedClearsWithoutRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			refreshCalls.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Incorrect email or password"}`)
	}))
	h.login(t, expired)

	_, err := h.client.Post(context.Background(), "/auth/login", map[string]string{"email": "a@b.c"})
	if !errors.Is(err, ErrInvalidCredentials) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	var re *RequestError
	if !errors.As(err, &re) || re.Message != "Incorrect email or password" {
		t.Fatalf("expected backend message, got %v", err)
	}
	if refreshCalls.Load() != 0 {
		t.Fatal("auth endpoints must not trigger refresh")
	}
	if _, ok := h.client.Credentials(context.Background()); ok {
		t.Fatal("expected credentials cleared")
	}
	if n := len(eventsNamed(h.drainEvents(), EventLogout)); n != 0 {
		t.Fatalf("auth endpoint rejection publishes no logout, got %d", n)
	}
}

func TestStaleTokenSkipsRefreshCall(t *testing.T) {
	backend := &tokenBackend{valid: "fresh"}
	h := newHarness(t, backend)
	h.login(t, credstore.Credentials{AccessToken: "fresh", RefreshToken: "r1"})

	out := h.client.refresher.refresh(context.Background(), "old")
	if out.Status != RefreshSucceeded || out.Credentials.AccessToken != "fresh" {
		t.Fatalf("expected stored credentials, got %+v", out)
	}
	if backend.refreshCalls.Load() != 0 {
		t.Fatal("expected no refresh call for a stale token")
	}
	if h.client.MetricsSnapshot().Counters[MetricRefreshSkippedStale] != 1 {
		t.Fatal("expected skipped-stale metric")
	}
}

func TestRefreshWaiterCancellation(t *testing.T) {
	release := make(chan struct{})
	var refreshCalls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"access_token":"new"}`)
	}))
	h.login(t, expired)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := h.client.refresher.refresh(ctx, "old")
	if out.Status != RefreshFailed || !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected waiter to give up, got %+v", out)
	}

	close(release)
	done := h.client.refresher.refresh(context.Background(), "old")
	if done.Status != RefreshSucceeded {
		t.Fatalf("expected the detached cycle to complete, got %+v", done)
	}
	if refreshCalls.Load() != 1 {
		t.Fatalf("expected one refresh call, got %d", refreshCalls.Load())
	}
}

func TestRefreshMalformedResponseFails(t *testing.T) {
	backend := &tokenBackend{valid: "none", refreshBody: `{"token_type":"bearer"}`}
	h := newHarness(t, backend)
	h.login(t, expired)

	_, err := h.client.Get(context.Background(), "/data")
	if !errors.Is(err, ErrMalformedTokenResponse) || !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected malformed response failure, got %v", err)
	}
	logouts := eventsNamed(h.drainEvents(), EventLogout)
	if len(logouts) != 1 || logouts[0].Reason != ReasonRefreshFailed {
		t.Fatalf("expected refresh-failed logout, got %+v", logouts)
	}
}

func TestRefreshWithRedisLockAcrossClients(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	backend := &tokenBackend{valid: "none", refreshDelay: 30 * time.Millisecond}
	shared := credstore.NewRedis(rdb, "ac", "shared", 0)
	configure := func(b *Builder) {
		b.WithCredentialBackend(shared).
			WithRefreshLocker(lock.NewRedis(rdb, "ac", "shared", lock.WithPollInterval(5*time.Millisecond)))
	}

	first := newHarness(t, backend, configure)
	second := newHarnessAt(t, first.srv, first.srv.URL, configure)
	first.login(t, expired)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, h := range []*harness{first, second} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_, err := c.Get(context.Background(), "/data")
			errs <- err
		}(h.client)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := backend.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh across processes, got %d", got)
	}
	if mr.Exists("ac:refresh-lock:shared") {
		t.Fatal("lock should be released")
	}
}
