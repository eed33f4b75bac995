package authclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authclient/credstore"
	"github.com/MrEthical07/authclient/internal"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
)

// Client is an authenticated HTTP client. It is safe for concurrent use.
//
// Client instances are created by Builder.Build and are immutable afterwards.
type Client struct {
	config        Config
	http          *http.Client
	store         *credstore.Store
	bus           *EventBus
	metrics       *Metrics
	logger        *slog.Logger
	refresher     *refreshCoordinator
	authEndpoints []string
	// Login and register paths; never sent stored credentials.
	anonymousEndpoints []string

	logoutMu sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Close releases the credential backend when it holds resources.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if closer, ok := c.store.Backend().(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Events returns the bus session events are published on.
func (c *Client) Events() *EventBus {
	if c == nil {
		return nil
	}
	return c.bus
}

// Subscribe is shorthand for Events().Subscribe.
func (c *Client) Subscribe(name EventName, h Handler) (unsubscribe func()) {
	return c.Events().Subscribe(name, h)
}

// MetricsSnapshot returns a point-in-time copy of the client counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// EventHandlerFailures returns how many event deliveries panicked.
func (c *Client) EventHandlerFailures() uint64 {
	if c == nil {
		return 0
	}
	return c.bus.HandlerFailures()
}

// ResetRefresh drops a stuck in-flight refresh slot. Intended for tests.
func (c *Client) ResetRefresh() {
	if c == nil || c.refresher == nil {
		return
	}
	c.refresher.reset()
}

/*
====================================
PIPELINE
====================================
*/

// Do sends req and returns a 2xx response or a *RequestError.
//
// Transient failures (network, attempt timeout, 429, 5xx) are retried with
// exponential backoff. A 401 on a regular endpoint triggers one shared token
// refresh and a single re-issue; a second 401 ends the session. A 401 on an
// auth endpoint clears credentials without refreshing.
//
// Cancelling ctx aborts the request and any pending backoff; cancellation is
// never retried.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c == nil || c.refresher == nil {
		return nil, ErrClientNotReady
	}
	if req == nil {
		return nil, &RequestError{Op: "request", Err: fmt.Errorf("%w: nil request", ErrInvalidRequest)}
	}

	r := req.clone()
	if r.Header.Get(headerRequestID) == "" {
		r.Header.Set(headerRequestID, internal.NewRequestID())
	}

	start := c.now()
	resp, err := c.do(ctx, r)
	if c.metrics.LatencyEnabled() {
		c.metrics.Observe(MetricRequestLatency, c.now().Sub(start))
	}
	if err != nil {
		c.metrics.Inc(MetricRequestFailure)
		return nil, err
	}
	c.metrics.Inc(MetricRequestSuccess)
	return resp, nil
}

func (c *Client) do(ctx context.Context, r *Request) (*Response, error) {
	authPinned := r.Header.Get(headerAuthorization) != ""
	anonymous := !authPinned && matchPathSuffix(r.Path, c.anonymousEndpoints)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, c.cancelled(r, attempts, err)
		}

		sentWith := bearerToken(r.Header.Get(headerAuthorization))
		if !authPinned && !anonymous {
			creds, ok := c.store.Get(ctx)
			if ok && creds.Usable() {
				r.Header.Set(headerAuthorization, creds.AuthorizationHeader())
				sentWith = creds.AccessToken
			} else {
				r.Header.Del(headerAuthorization)
				sentWith = ""
			}
		}

		attempts++
		c.logger.Debug("request attempt",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.Int("attempt", attempts),
			slog.String("request_id", r.Header.Get(headerRequestID)),
		)

		resp, err := c.attempt(ctx, r)
		if err != nil {
			var re *RequestError
			if !errors.As(err, &re) {
				re = &RequestError{Op: "request", Method: r.Method, URL: r.Path, Err: err}
			}
			re.Attempts = attempts
			if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrResponseTooLarge) {
				return nil, re
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, c.cancelled(r, attempts, ctxErr)
			}
			if ok, werr := c.backoff(ctx, r, 0, attempts); ok {
				continue
			} else if werr != nil {
				return nil, werr
			}
			return nil, re
		}

		status := resp.StatusCode
		if status >= 200 && status <= 299 {
			return resp, nil
		}

		if status == http.StatusUnauthorized {
			if c.isAuthEndpoint(r.Path) {
				c.store.Clear(ctx)
				c.metrics.Inc(MetricAuthEndpointRejected)
				return nil, c.statusError(r, resp, attempts, ErrInvalidCredentials)
			}
			if r.isRefreshRetry {
				c.forceLogout(ctx, ReasonUnauthorized)
				return nil, c.statusError(r, resp, attempts, ErrSessionExpired)
			}

			r.isRefreshRetry = true
			out := c.refresher.refresh(ctx, sentWith)
			if out.Status != RefreshSucceeded {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, c.cancelled(r, attempts, ctxErr)
				}
				return nil, c.statusError(r, resp, attempts, fmt.Errorf("%w: %w", ErrSessionExpired, out.Err))
			}
			r.Header.Set(headerAuthorization, out.Credentials.AuthorizationHeader())
			authPinned = true
			continue
		}

		if IsRetryEligible(status, false) {
			if ok, werr := c.backoff(ctx, r, status, attempts); ok {
				continue
			} else if werr != nil {
				return nil, werr
			}
		}
		return nil, c.statusError(r, resp, attempts, nil)
	}
}

// backoff waits before the next retry. ok is false when the budget is spent;
// err is set when ctx ended during the wait.
func (c *Client) backoff(ctx context.Context, r *Request, status, attempts int) (ok bool, err error) {
	if r.retryCount >= c.config.Retry.MaxAttempts {
		c.metrics.Inc(MetricRetryExhausted)
		return false, nil
	}
	r.retryCount++
	delay := c.config.Retry.nextDelay(r.retryCount)
	c.metrics.Inc(MetricRetryScheduled)
	c.logger.Debug("retry scheduled",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("status", status),
		slog.Int("retry", r.retryCount),
		slog.Duration("delay", delay),
	)
	if err := c.sleep(ctx, delay); err != nil {
		return false, c.cancelled(r, attempts, err)
	}
	return true, nil
}

// attempt performs exactly one HTTP exchange bounded by Config.Timeout. It
// adds no credentials. Any status is returned as a Response; errors mean no
// response was received.
func (c *Client) attempt(ctx context.Context, r *Request) (*Response, error) {
	if _, ok := knownMethods[r.Method]; !ok {
		return nil, &RequestError{Op: "request", Method: r.Method, URL: r.Path,
			Err: fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, r.Method)}
	}
	target, err := resolveURL(c.config.BaseURL, r.Path, r.Query)
	if err != nil {
		return nil, &RequestError{Op: "request", Method: r.Method, URL: r.Path,
			Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}

	actx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(actx, r.Method, target, r.bodyReader())
	if err != nil {
		return nil, &RequestError{Op: "request", Method: r.Method, URL: target,
			Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	for k, vs := range r.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	if hreq.Header.Get(headerRequestID) == "" {
		hreq.Header.Set(headerRequestID, internal.NewRequestID())
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}
	if c.config.UserAgent != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", c.config.UserAgent)
	}

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return nil, c.networkError(r, target, err)
	}
	defer hresp.Body.Close()

	body, err := c.readBody(hresp.Body)
	if errors.Is(err, ErrResponseTooLarge) {
		return nil, &RequestError{
			Op:         "request",
			Method:     r.Method,
			URL:        target,
			StatusCode: hresp.StatusCode,
			Message:    fmt.Sprintf("body exceeds %d bytes", c.config.MaxResponseBytes),
			Err:        err,
		}
	}
	if err != nil {
		return nil, c.networkError(r, target, err)
	}
	return &Response{
		StatusCode: hresp.StatusCode,
		Header:     hresp.Header,
		Body:       body,
	}, nil
}

// readBody reads the whole body, failing once it exceeds MaxResponseBytes.
func (c *Client) readBody(body io.Reader) ([]byte, error) {
	limit := c.config.MaxResponseBytes
	if limit <= 0 {
		return io.ReadAll(body)
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func (c *Client) networkError(r *Request, target string, err error) *RequestError {
	return &RequestError{
		Op:      "request",
		Method:  r.Method,
		URL:     target,
		Message: err.Error(),
		Err:     fmt.Errorf("%w: %w", ErrNetwork, err),
	}
}

func (c *Client) cancelled(r *Request, attempts int, err error) *RequestError {
	return &RequestError{
		Op:       "request",
		Method:   r.Method,
		URL:      r.Path,
		Message:  err.Error(),
		Attempts: attempts,
		Err:      err,
	}
}

// statusError builds the terminal rejection for a non-2xx response.
func (c *Client) statusError(r *Request, resp *Response, attempts int, cause error) *RequestError {
	code, msg := parseErrorBody(resp.Body)
	return &RequestError{
		Op:         "request",
		Method:     r.Method,
		URL:        r.Path,
		StatusCode: resp.StatusCode,
		Code:       code,
		Message:    msg,
		Body:       resp.Body,
		Attempts:   attempts,
		Err:        cause,
	}
}

// forceLogout ends the session after a 401 that survived a refresh. The
// event is published only by the caller that actually cleared credentials.
func (c *Client) forceLogout(ctx context.Context, reason LogoutReason) {
	c.logoutMu.Lock()
	_, had := c.store.Get(ctx)
	if had {
		c.store.Clear(ctx)
	}
	c.logoutMu.Unlock()
	if !had {
		return
	}

	c.metrics.Inc(MetricForcedLogout)
	c.logger.Warn("session ended", slog.String("reason", string(reason)))
	c.bus.Publish(Event{Name: EventLogout, Reason: reason})
}

// isAuthEndpoint reports whether p (a path or absolute URL) ends with one of
// the allow-listed auth paths.
func (c *Client) isAuthEndpoint(p string) bool {
	return matchPathSuffix(p, c.authEndpoints)
}

func matchPathSuffix(p string, suffixes []string) bool {
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	for _, suffix := range suffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// bearerToken returns the credential part of an Authorization value.
func bearerToken(header string) string {
	if _, tok, ok := strings.Cut(strings.TrimSpace(header), " "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

/*
====================================
CONVENIENCE
====================================
*/

// Get sends a GET to path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, http.MethodPatch, path, body)
}

// Delete sends a DELETE to path.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// DoJSON sends in as JSON and decodes the response into out. Either may be nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := NewRequest(method, path, body)
	if err != nil {
		return nil, &RequestError{Op: "request", Method: method, URL: path, Err: err}
	}
	return c.Do(ctx, req)
}
