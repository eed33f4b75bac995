package authclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidRequest is returned when a request cannot be built or sent at all.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNetwork marks transport failures and attempt timeouts.
	ErrNetwork = errors.New("network failure")
	// ErrServer marks 5xx responses.
	ErrServer = errors.New("server error")
	// ErrRateLimited marks 429 responses.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized marks 401 responses that could not be recovered.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials marks a 401 from an auth endpoint (login, register, refresh, logout).
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired is returned when a 401 forced a logout.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshFailed marks a failed refresh call.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrMalformedTokenResponse marks a login, register or refresh body without an access token.
	ErrMalformedTokenResponse = errors.New("malformed token response")
	// ErrNoRefreshToken is returned when a refresh is required but no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrHTTPStatus marks any other non-2xx response.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrResponseTooLarge marks a response body over Config.MaxResponseBytes.
	ErrResponseTooLarge = errors.New("response body too large")
	// ErrClientNotReady is returned by methods called on a nil or unbuilt client.
	ErrClientNotReady = errors.New("client not initialized")
)

// RequestError is the normalized terminal failure of a request. It keeps the
// original status, backend code/message and underlying cause so callers can
// tell failures apart with errors.Is / errors.As.
type RequestError struct {
	Op         string // "request", "refresh", "login", ...
	Method     string
	URL        string
	StatusCode int    // 0 when no response was received
	Code       string // backend error code, if any
	Message    string // backend message, or the transport error text
	Body       []byte
	Attempts   int
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Method != "" {
		b.WriteByte(' ')
		b.WriteString(e.Method)
	}
	if e.URL != "" {
		b.WriteByte(' ')
		b.WriteString(e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel implied by the status code in addition to the
// wrapped cause.
func (e *RequestError) Is(target error) bool {
	if target == nil {
		return false
	}
	return target == statusSentinel(e.StatusCode)
}

// Temporary reports whether the failure was transient (network, 429, 5xx).
func (e *RequestError) Temporary() bool {
	if errors.Is(e.Err, ErrResponseTooLarge) {
		return false
	}
	return IsRetryEligible(e.StatusCode, e.StatusCode == 0 && errors.Is(e.Err, ErrNetwork))
}

func statusSentinel(status int) error {
	switch {
	case status == 0:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500 && status <= 599:
		return ErrServer
	case status < 200 || status > 299:
		return ErrHTTPStatus
	default:
		return nil
	}
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
