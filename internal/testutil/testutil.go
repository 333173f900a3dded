// Package testutil provides shared fixtures and fake servers for tests.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tunegate/tunegate/storage"
)

// GenerateRandomString generates a random URL-safe string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// FreshTokenRecord returns a token record valid for another hour.
func FreshTokenRecord() *storage.TokenRecord {
	return storage.NewTokenRecord(
		GenerateRandomString(32),
		"Bearer",
		3600,
		GenerateRandomString(32),
		"user-read-private playlist-read-private",
		time.Now(),
	)
}

// ExpiredTokenRecord returns a token record whose access token lapsed an
// hour ago but which still carries a refresh token.
func ExpiredTokenRecord() *storage.TokenRecord {
	return storage.NewTokenRecord(
		GenerateRandomString(32),
		"Bearer",
		3600,
		GenerateRandomString(32),
		"user-read-private",
		time.Now().Add(-2*time.Hour),
	)
}

// NearExpiryTokenRecord returns a token record that is technically still
// valid but lapses within seconds.
func NearExpiryTokenRecord() *storage.TokenRecord {
	return storage.NewTokenRecord(
		GenerateRandomString(32),
		"Bearer",
		10,
		GenerateRandomString(32),
		"user-read-private",
		time.Now(),
	)
}

// TokenResponse is the JSON shape a provider token endpoint answers with.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenServer is a fake provider token endpoint. It records every form it
// receives and answers with a configurable token response.
type TokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []map[string]string

	// Response is returned for every request unless Status is non-2xx
	Response TokenResponse
	Status   int
}

// NewTokenServer starts a fake token endpoint answering with a fresh
// access/refresh token pair. Callers close it via t.Cleanup.
func NewTokenServer(t *testing.T) *TokenServer {
	t.Helper()

	ts := &TokenServer{
		Response: TokenResponse{
			AccessToken:  "access-" + GenerateRandomString(16),
			TokenType:    "Bearer",
			RefreshToken: "refresh-" + GenerateRandomString(16),
			ExpiresIn:    3600,
			Scope:        "user-read-private",
		},
		Status: http.StatusOK,
	}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		form := make(map[string]string, len(r.PostForm))
		for name := range r.PostForm {
			form[name] = r.PostForm.Get(name)
		}
		ts.mu.Lock()
		ts.requests = append(ts.requests, form)
		status := ts.Status
		resp := ts.Response
		ts.mu.Unlock()

		if status < 200 || status > 299 {
			http.Error(w, `{"error":"invalid_grant"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)

	return ts
}

// Requests returns a copy of every form the endpoint received.
func (ts *TokenServer) Requests() []map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]map[string]string, len(ts.requests))
	copy(out, ts.requests)
	return out
}

// SetResponse replaces the canned token response.
func (ts *TokenServer) SetResponse(resp TokenResponse) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Response = resp
}

// SetStatus makes the endpoint answer with the given HTTP status.
func (ts *TokenServer) SetStatus(status int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Status = status
}

// CatalogCall records one request the fake catalog received.
type CatalogCall struct {
	Path   string
	Query  map[string]string
	Bearer string
}

// CatalogServer is a fake catalog API. Handlers are registered per path;
// unregistered paths answer 404. Every request is recorded with its bearer
// token so tests can assert on authorization behavior.
type CatalogServer struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []CatalogCall
	handlers map[string]http.HandlerFunc

	// RejectBearer causes 401 for requests carrying this exact token
	RejectBearer string
}

// NewCatalogServer starts a fake catalog API. Callers register paths with
// Handle and close it via t.Cleanup.
func NewCatalogServer(t *testing.T) *CatalogServer {
	t.Helper()

	cs := &CatalogServer{handlers: make(map[string]http.HandlerFunc)}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := ""
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			bearer = auth[7:]
		}

		query := make(map[string]string)
		for name := range r.URL.Query() {
			query[name] = r.URL.Query().Get(name)
		}

		cs.mu.Lock()
		cs.calls = append(cs.calls, CatalogCall{Path: r.URL.Path, Query: query, Bearer: bearer})
		reject := cs.RejectBearer
		handler := cs.handlers[r.URL.Path]
		cs.mu.Unlock()

		if reject != "" && bearer == reject {
			http.Error(w, `{"error":{"status":401,"message":"token expired"}}`, http.StatusUnauthorized)
			return
		}
		if handler == nil {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(cs.Close)

	return cs
}

// Handle registers a handler for an exact path.
func (cs *CatalogServer) Handle(path string, handler http.HandlerFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers[path] = handler
}

// HandleJSON registers a handler answering 200 with the JSON encoding of v.
func (cs *CatalogServer) HandleJSON(path string, v any) {
	cs.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})
}

// Calls returns a copy of every recorded request.
func (cs *CatalogServer) Calls() []CatalogCall {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]CatalogCall, len(cs.calls))
	copy(out, cs.calls)
	return out
}

// CallsTo returns how many requests hit the given path.
func (cs *CatalogServer) CallsTo(path string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	n := 0
	for _, call := range cs.calls {
		if call.Path == path {
			n++
		}
	}
	return n
}

// SetRejectBearer makes the catalog answer 401 for the given bearer token.
func (cs *CatalogServer) SetRejectBearer(token string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.RejectBearer = token
}
