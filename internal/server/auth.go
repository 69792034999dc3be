package server

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-KEY"

// Authenticator decides whether a request's headers identify an allowed caller.
type Authenticator interface {
	Check(h http.Header) bool
}

// HeaderAuthenticator compares APIKeyHeader against a configured key in
// constant time. An empty configured key rejects every request.
type HeaderAuthenticator struct {
	key []byte
}

// NewHeaderAuthenticator creates a HeaderAuthenticator for key.
func NewHeaderAuthenticator(key string) *HeaderAuthenticator {
	return &HeaderAuthenticator{key: []byte(key)}
}

// Check implements Authenticator.
func (a *HeaderAuthenticator) Check(h http.Header) bool {
	if len(a.key) == 0 {
		return false
	}
	got := h.Get(APIKeyHeader)
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), a.key) == 1
}
