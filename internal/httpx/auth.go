package httpx

import (
	"encoding/base64"
	"net/http"
	"sync"
)

// AuthConfig applies credentials to an outgoing request.
type AuthConfig interface {
	Apply(req *http.Request)
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (a NoAuth) Apply(req *http.Request) {}

// BasicAuth uses HTTP Basic Authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds Basic auth header to the request.
func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// BearerToken uses Bearer token authentication.
type BearerToken struct {
	Token string
}

// Apply adds Bearer token header to the request.
func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// APIKey uses API key authentication.
type APIKey struct {
	Key    string
	Header string // Header name (default: X-API-Key)
}

// Apply adds API key header to the request.
func (a APIKey) Apply(req *http.Request) {
	if a.Key == "" {
		return
	}
	header := a.Header
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, a.Key)
}

// TokenSource supplies a short-lived access token, refreshing as needed.
type TokenSource interface {
	Token() (string, error)
}

// RefreshingBearer uses Bearer tokens pulled from a TokenSource on every
// request, for OAuth-style APIs where access tokens expire.
type RefreshingBearer struct {
	Source TokenSource

	mu   sync.Mutex
	last string
}

// Apply adds a fresh Bearer token header to the request. A source failure
// falls back to the last known token so an in-flight sync can still try.
func (a *RefreshingBearer) Apply(req *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, err := a.Source.Token()
	if err != nil {
		token = a.last
	} else {
		a.last = token
	}
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
