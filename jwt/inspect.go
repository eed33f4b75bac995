package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when the token is not a three-part compact JWT.
var ErrNotJWT = errors.New("token is not a JWT")

// Claims is the subset of registered claims the client cares about.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time // zero when the token has no exp claim
	IssuedAt  time.Time // zero when the token has no iat claim
}

var parser = jwt.NewParser()

// Inspect decodes token without verifying its signature.
func Inspect(token string) (Claims, error) {
	if strings.Count(token, ".") != 2 {
		return Claims{}, ErrNotJWT
	}

	var rc jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(token, &rc); err != nil {
		return Claims{}, err
	}

	out := Claims{
		Subject: rc.Subject,
		Issuer:  rc.Issuer,
	}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, nil
}

// ExpiresAt returns the exp claim of token. ok is false for opaque tokens
// and tokens without exp.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	c, err := Inspect(token)
	if err != nil || c.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}
