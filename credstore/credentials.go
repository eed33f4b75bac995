package credstore

import (
	"strings"
	"time"
)

// DefaultTokenType is applied when a credential set carries no token type.
const DefaultTokenType = "bearer"

// Credentials is the persisted credential set.
//
// ExpiresAt is epoch milliseconds; zero means the expiry is unknown.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Usable reports whether the set carries an access token.
func (c Credentials) Usable() bool {
	return c.AccessToken != ""
}

// CanRefresh reports whether a refresh can be attempted with this set.
func (c Credentials) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Expiry returns ExpiresAt as a time, or the zero time when unknown.
func (c Credentials) Expiry() time.Time {
	if c.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiresAt)
}

// Expired reports whether the set has a known expiry at or before now.
func (c Credentials) Expired(now time.Time) bool {
	if c.ExpiresAt <= 0 {
		return false
	}
	return now.UnixMilli() >= c.ExpiresAt
}

// Scheme returns the HTTP authorization scheme for the token type,
// e.g. "bearer" becomes "Bearer".
func (c Credentials) Scheme() string {
	t := strings.TrimSpace(c.TokenType)
	if t == "" {
		t = DefaultTokenType
	}
	if strings.EqualFold(t, DefaultTokenType) {
		return "Bearer"
	}
	return strings.ToUpper(t[:1]) + t[1:]
}

// AuthorizationHeader renders the Authorization header value, or "" when
// the set has no access token.
func (c Credentials) AuthorizationHeader() string {
	if !c.Usable() {
		return ""
	}
	return c.Scheme() + " " + c.AccessToken
}

func normalize(c Credentials) Credentials {
	c.TokenType = strings.TrimSpace(c.TokenType)
	if c.TokenType == "" {
		c.TokenType = DefaultTokenType
	}
	return c
}
