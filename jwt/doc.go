// Package jwt reads claims from access tokens handed out by the backend.
//
// The client never holds the signing key, so tokens are decoded without
// signature verification. The result is only used for scheduling hints such
// as the expiry of a credential set; authorization stays with the server.
package jwt
