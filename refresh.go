package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/authclient/credstore"
	"github.com/MrEthical07/authclient/internal"
)

// RefreshStatus is the terminal state of a refresh cycle.
type RefreshStatus int

const (
	// RefreshSucceeded means a usable credential set is stored.
	RefreshSucceeded RefreshStatus = iota + 1
	// RefreshNoToken means no refresh token was stored; no call was made.
	RefreshNoToken
	// RefreshFailed means the refresh call failed and the session was ended.
	RefreshFailed
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshSucceeded:
		return "succeeded"
	case RefreshNoToken:
		return "no-token"
	case RefreshFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshOutcome is shared by every caller that joined the same cycle.
type RefreshOutcome struct {
	Status      RefreshStatus
	Credentials credstore.Credentials
	Err         error
}

// RefreshLocker serializes refresh cycles across processes that share a
// credential backend. Acquire blocks until the lock is held or ctx ends and
// returns the function that releases it.
type RefreshLocker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

const refreshKey = "refresh"

// attemptFunc performs exactly one HTTP exchange. A non-nil error means no
// response was received.
type attemptFunc func(ctx context.Context, req *Request) (*Response, error)

// refreshCoordinator owns the single in-flight refresh slot.
type refreshCoordinator struct {
	group   singleflight.Group
	store   *credstore.Store
	bus     *EventBus
	metrics *Metrics
	logger  *slog.Logger
	locker  RefreshLocker
	attempt attemptFunc
	path    string
	timeout time.Duration
	now     func() time.Time
}

// refresh joins the current cycle or starts one. staleAccessToken is the
// token the failed request was sent with.
//
// The shared computation is detached from ctx; a caller whose ctx ends stops
// waiting but the cycle still completes for everyone else.
func (rc *refreshCoordinator) refresh(ctx context.Context, staleAccessToken string) RefreshOutcome {
	leader := false
	ch := rc.group.DoChan(refreshKey, func() (any, error) {
		leader = true
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return rc.run(cctx, staleAccessToken), nil
	})

	select {
	case <-ctx.Done():
		return RefreshOutcome{Status: RefreshFailed, Err: ctx.Err()}
	case res := <-ch:
		if !leader {
			rc.metrics.Inc(MetricRefreshCoalesced)
		}
		out, ok := res.Val.(RefreshOutcome)
		if !ok {
			return RefreshOutcome{Status: RefreshFailed, Err: fmt.Errorf("%w: %v", ErrRefreshFailed, res.Err)}
		}
		return out
	}
}

// reset drops the in-flight slot so the next caller starts a new cycle.
func (rc *refreshCoordinator) reset() {
	rc.group.Forget(refreshKey)
}

func (rc *refreshCoordinator) run(ctx context.Context, staleAccessToken string) RefreshOutcome {
	rc.metrics.Inc(MetricRefreshStarted)

	if rc.locker != nil {
		release, err := rc.locker.Acquire(ctx)
		if err != nil {
			rc.logger.Warn("refresh lock unavailable, continuing without it", slog.String("error", err.Error()))
		} else {
			defer func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				if err := release(rctx); err != nil {
					rc.logger.Warn("refresh lock release failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	current, ok := rc.store.Get(ctx)
	if !ok || !current.CanRefresh() {
		rc.metrics.Inc(MetricRefreshNoToken)
		// An empty store after an authenticated request means an earlier
		// cycle or Logout already ended this session and announced it.
		if ok || staleAccessToken == "" {
			rc.endSession(ctx, ReasonUnauthorized)
		}
		return RefreshOutcome{Status: RefreshNoToken, Err: ErrNoRefreshToken}
	}

	if staleAccessToken != "" && current.AccessToken != "" && current.AccessToken != staleAccessToken {
		rc.metrics.Inc(MetricRefreshSkippedStale)
		rc.logger.Debug("credentials already rotated, skipping refresh call",
			slog.String("stale", internal.TokenFingerprint(staleAccessToken)),
			slog.String("current", internal.TokenFingerprint(current.AccessToken)),
		)
		return RefreshOutcome{Status: RefreshSucceeded, Credentials: current}
	}

	next, err := rc.exchange(ctx, current)
	if err != nil {
		rc.metrics.Inc(MetricRefreshFailure)
		rc.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		rc.endSession(ctx, ReasonRefreshFailed)
		return RefreshOutcome{Status: RefreshFailed, Err: err}
	}

	rc.store.Set(ctx, next)
	rc.metrics.Inc(MetricRefreshSuccess)
	rc.logger.Debug("token refreshed", slog.String("token", internal.TokenFingerprint(next.AccessToken)))
	rc.bus.Publish(Event{Name: EventTokenRefreshed, Credentials: next})
	return RefreshOutcome{Status: RefreshSucceeded, Credentials: next}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// exchange issues the single refresh call. It never carries an
// Authorization header and is never retried.
func (rc *refreshCoordinator) exchange(ctx context.Context, current credstore.Credentials) (credstore.Credentials, error) {
	req, err := NewRequest(http.MethodPost, rc.path, refreshRequest{RefreshToken: current.RefreshToken})
	if err != nil {
		return credstore.Credentials{}, err
	}

	resp, err := rc.attempt(ctx, req)
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) {
			re.Op = "refresh"
			re.Err = fmt.Errorf("%w: %w", ErrRefreshFailed, re.Err)
			return credstore.Credentials{}, re
		}
		return credstore.Credentials{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code, msg := parseErrorBody(resp.Body)
		return credstore.Credentials{}, &RequestError{
			Op:         "refresh",
			Method:     req.Method,
			URL:        rc.path,
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
			Body:       resp.Body,
			Attempts:   1,
			Err:        ErrRefreshFailed,
		}
	}

	next, err := parseTokenResponse(resp.Body, current, rc.now())
	if err != nil {
		return credstore.Credentials{}, &RequestError{
			Op:         "refresh",
			Method:     req.Method,
			URL:        rc.path,
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
			Body:       resp.Body,
			Attempts:   1,
			Err:        fmt.Errorf("%w: %w", ErrRefreshFailed, err),
		}
	}
	return next, nil
}

// endSession clears credentials and announces the logout once per cycle.
func (rc *refreshCoordinator) endSession(ctx context.Context, reason LogoutReason) {
	rc.store.Clear(ctx)
	rc.metrics.Inc(MetricForcedLogout)
	rc.logger.Warn("session ended", slog.String("reason", string(reason)))
	rc.bus.Publish(Event{Name: EventLogout, Reason: reason})
}
