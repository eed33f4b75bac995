package authclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrEthical07/authclient/credstore"
	"github.com/MrEthical07/authclient/jwt"
)

// tokenResponse accepts both the snake_case fields the backend emits and
// camelCase variants.
type tokenResponse struct {
	AccessToken       string   `json:"access_token"`
	AccessTokenCamel  string   `json:"accessToken"`
	RefreshToken      string   `json:"refresh_token"`
	RefreshTokenCamel string   `json:"refreshToken"`
	TokenType         string   `json:"token_type"`
	TokenTypeCamel    string   `json:"tokenType"`
	ExpiresIn         *float64 `json:"expires_in"`
	ExpiresInCamel    *float64 `json:"expiresIn"`
	ExpiresAt         *float64 `json:"expires_at"`
	ExpiresAtCamel    *float64 `json:"expiresAt"`
}

// Epoch values above this are milliseconds; below are seconds.
const epochMillisThreshold = 1e12

// parseTokenResponse turns a login/register/refresh body into a credential
// set. Missing refresh token and token type fall back to prev.
func parseTokenResponse(body []byte, prev credstore.Credentials, now time.Time) (credstore.Credentials, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return credstore.Credentials{}, fmt.Errorf("%w: empty body", ErrMalformedTokenResponse)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credstore.Credentials{}, fmt.Errorf("%w: %v", ErrMalformedTokenResponse, err)
	}

	access := firstNonEmpty(tr.AccessToken, tr.AccessTokenCamel)
	if access == "" {
		return credstore.Credentials{}, fmt.Errorf("%w: missing access token", ErrMalformedTokenResponse)
	}

	out := credstore.Credentials{
		AccessToken:  access,
		RefreshToken: firstNonEmpty(tr.RefreshToken, tr.RefreshTokenCamel, prev.RefreshToken),
		TokenType:    firstNonEmpty(tr.TokenType, tr.TokenTypeCamel, prev.TokenType, credstore.DefaultTokenType),
	}

	switch {
	case firstNumber(tr.ExpiresAt, tr.ExpiresAtCamel) > 0:
		out.ExpiresAt = epochToMillis(firstNumber(tr.ExpiresAt, tr.ExpiresAtCamel))
	case firstNumber(tr.ExpiresIn, tr.ExpiresInCamel) > 0:
		out.ExpiresAt = clampMillis(float64(now.UnixMilli()) + firstNumber(tr.ExpiresIn, tr.ExpiresInCamel)*1000)
	default:
		if exp, ok := jwt.ExpiresAt(access); ok {
			out.ExpiresAt = exp.UnixMilli()
		}
	}
	return out, nil
}

// maxExpiryMillis is 9999-12-31T23:59:59.999Z; later expiries are clamped.
const maxExpiryMillis = 253402300799999

func epochToMillis(v float64) int64 {
	if v >= epochMillisThreshold {
		return clampMillis(v)
	}
	return clampMillis(v * 1000)
}

func clampMillis(v float64) int64 {
	if math.IsNaN(v) || v >= maxExpiryMillis {
		return maxExpiryMillis
	}
	if v < 0 {
		return 0
	}
	return int64(math.Round(v))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}

// errorBody is the backend failure envelope. FastAPI uses detail, other
// services use error/message with an optional code.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// parseErrorBody extracts the backend code and message, if any.
func parseErrorBody(body []byte) (code, message string) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", ""
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", truncate(strings.TrimSpace(string(body)), 200)
	}
	code = rawText(eb.Code)
	message = firstNonEmpty(rawText(eb.Detail), rawText(eb.Error), eb.Message)
	return code, message
}

// rawText renders a JSON string as its value and anything else compactly.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && firstNonEmpty(nested.Message, nested.Msg) != "" {
		return firstNonEmpty(nested.Message, nested.Msg)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return truncate(buf.String(), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
