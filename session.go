package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MrEthical07/authclient/credstore"
)

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// Login exchanges a username and password for a credential set using the
// OAuth2 password form and stores it.
func (c *Client) Login(ctx context.Context, username, password string) (credstore.Credentials, error) {
	if c == nil || c.refresher == nil {
		return credstore.Credentials{}, ErrClientNotReady
	}
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)

	req := NewRawRequest(http.MethodPost, c.config.LoginPath, "application/x-www-form-urlencoded", []byte(form.Encode()))
	return c.authenticate(ctx, "login", req)
}

// Register creates an account and stores the returned credential set.
func (c *Client) Register(ctx context.Context, in RegisterInput) (credstore.Credentials, error) {
	if c == nil || c.refresher == nil {
		return credstore.Credentials{}, ErrClientNotReady
	}
	req, err := NewRequest(http.MethodPost, c.config.RegisterPath, in)
	if err != nil {
		return credstore.Credentials{}, &RequestError{Op: "register", Method: http.MethodPost, URL: c.config.RegisterPath, Err: err}
	}
	return c.authenticate(ctx, "register", req)
}

func (c *Client) authenticate(ctx context.Context, op string, req *Request) (credstore.Credentials, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) {
			re.Op = op
		}
		return credstore.Credentials{}, err
	}

	creds, err := parseTokenResponse(resp.Body, credstore.Credentials{}, c.now())
	if err != nil {
		return credstore.Credentials{}, &RequestError{
			Op:         op,
			Method:     req.Method,
			URL:        req.Path,
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
			Body:       resp.Body,
			Attempts:   1,
			Err:        err,
		}
	}

	c.store.Set(ctx, creds)
	c.logger.Info("session started", slog.String("op", op))
	return creds, nil
}

// Logout notifies the backend and ends the local session. The backend call is
// best effort: credentials are cleared and EventLogout{manual} is published
// even when it fails, and its error is returned for information only.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.refresher == nil {
		return ErrClientNotReady
	}

	var callErr error
	if creds, ok := c.store.Get(ctx); ok {
		body := map[string]string{}
		if creds.RefreshToken != "" {
			body["refresh_token"] = creds.RefreshToken
		}
		req, err := NewRequest(http.MethodPost, c.config.LogoutPath, body)
		if err == nil {
			req.retryCount = c.config.Retry.MaxAttempts
			_, callErr = c.Do(ctx, req)
		} else {
			callErr = err
		}
		if callErr != nil {
			c.logger.Warn("logout call failed", slog.String("error", callErr.Error()))
		}
	}

	c.store.Clear(ctx)
	c.metrics.Inc(MetricManualLogout)
	c.bus.Publish(Event{Name: EventLogout, Reason: ReasonManual})
	if callErr != nil {
		return fmt.Errorf("logout: %w", callErr)
	}
	return nil
}

// Credentials returns the stored credential set.
func (c *Client) Credentials(ctx context.Context) (credstore.Credentials, bool) {
	if c == nil {
		return credstore.Credentials{}, false
	}
	return c.store.Get(ctx)
}

// SetCredentials stores creds obtained outside Login/Register. An empty
// access token clears the store.
func (c *Client) SetCredentials(ctx context.Context, creds credstore.Credentials) {
	if c == nil {
		return
	}
	if !creds.Usable() {
		c.store.Clear(ctx)
		return
	}
	c.store.Set(ctx, creds)
}
