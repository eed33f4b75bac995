package internal

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RequestIDSource is the entropy used for UUIDs. Tests swap it to force the
// fallback path.
var RequestIDSource io.Reader = rand.Reader

// NewRequestID returns a random v4 UUID. If the random source fails it falls
// back to a ULID, which stays unique by embedding the current time.
func NewRequestID() string {
	id, err := uuid.NewRandomFromReader(RequestIDSource)
	if err == nil {
		return id.String()
	}
	return ulid.Make().String()
}
