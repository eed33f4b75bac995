package credstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Backend is a persistence medium for a single credential set.
//
// Load returns (nil, nil) when nothing is stored.
type Backend interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Delete(ctx context.Context) error
}

// ErrorHook observes swallowed backend failures. op is "get", "set" or "clear".
type ErrorHook func(op string, err error)

// Store wraps a Backend with the never-failing contract the client relies on.
type Store struct {
	backend Backend
	logger  *slog.Logger
	onError ErrorHook
}

// NewStore wraps backend. A nil backend becomes an in-memory one.
func NewStore(backend Backend, logger *slog.Logger, onError ErrorHook) *Store {
	if backend == nil {
		backend = NewMemory()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		backend: backend,
		logger:  logger,
		onError: onError,
	}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get returns the stored set. ok is false when nothing usable is stored or the
// backend failed.
func (s *Store) Get(ctx context.Context) (creds Credentials, ok bool) {
	if s == nil {
		return Credentials{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			s.fail("get", fmt.Errorf("backend panic: %v", r))
			creds, ok = Credentials{}, false
		}
	}()

	c, err := s.backend.Load(ctx)
	if err != nil {
		s.fail("get", err)
		return Credentials{}, false
	}
	if c == nil || !c.Usable() {
		return Credentials{}, false
	}
	return normalize(*c), true
}

// Set persists c. Failures are swallowed.
func (s *Store) Set(ctx context.Context, c Credentials) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.fail("set", fmt.Errorf("backend panic: %v", r))
		}
	}()

	if err := s.backend.Save(ctx, normalize(c)); err != nil {
		s.fail("set", err)
	}
}

// Clear removes the stored set. Failures are swallowed.
func (s *Store) Clear(ctx context.Context) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.fail("clear", fmt.Errorf("backend panic: %v", r))
		}
	}()

	if err := s.backend.Delete(ctx); err != nil {
		s.fail("clear", err)
	}
}

func (s *Store) fail(op string, err error) {
	s.logger.Warn("credential store operation failed", slog.String("op", op), slog.Any("error", err))
	if s.onError != nil {
		s.onError(op, err)
	}
}
