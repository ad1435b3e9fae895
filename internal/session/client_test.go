package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darshan-rambhia/hublens/internal/credential"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCreds is an in-memory credential.Store.
type memCreds struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memCreds) Get(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[id]
	if !ok {
		return "", credential.ErrNotFound
	}
	return v, nil
}

func (m *memCreds) Set(id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = secret
	return nil
}

func (m *memCreds) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// memTokens is an in-memory TokenCache.
type memTokens struct {
	mu      sync.Mutex
	token   string
	savedAt time.Time
}

func (m *memTokens) LoadToken(string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", time.Time{}, errors.New("not found")
	}
	return m.token, m.savedAt, nil
}

func (m *memTokens) SaveToken(_ string, token string, savedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.savedAt = token, savedAt
	return nil
}

func (m *memTokens) DeleteToken(_ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || m.token == token {
		m.token = ""
	}
	return nil
}

// fakeHub is a minimal PocketBase-style server.
type fakeHub struct {
	logins    atomic.Int32
	refreshes atomic.Int32
	records   atomic.Int32

	loginDelay time.Duration
	// recordsStatus, when set, decides the status for the nth records call
	// (1-based) given the bearer token.
	recordsStatus func(n int32, token string) int
}

func (h *fakeHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/users/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		n := h.logins.Add(1)
		time.Sleep(h.loginDelay)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message":"Failed to authenticate."}`)
			return
		}
		fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
	})
	mux.HandleFunc("POST /api/collections/users/auth-refresh", func(w http.ResponseWriter, r *http.Request) {
		n := h.refreshes.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+testJWT {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"invalid token"}`)
			return
		}
		fmt.Fprintf(w, `{"token":"%s-r%d"}`, testJWT, n)
	})
	mux.HandleFunc("GET /api/collections/{name}/records", func(w http.ResponseWriter, r *http.Request) {
		n := h.records.Add(1)
		token := r.Header.Get("Authorization")
		if h.recordsStatus != nil {
			if st := h.recordsStatus(n, token); st != http.StatusOK {
				w.WriteHeader(st)
				fmt.Fprint(w, `{"message":"nope"}`)
				return
			}
		}
		if token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"page":1,"perPage":500,"totalPages":1,"totalItems":1,"items":[{"id":"s1","name":"alpha"}]}`)
	})
	return mux
}

var testJWT = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) +
	".eyJpZCI6IngifQ.c2ln"

func newTestClient(t *testing.T, srv *httptest.Server, secret string, tokens TokenCache) (*Client, *memCreds) {
	t.Helper()
	creds := &memCreds{data: map[string]string{}}
	if secret != "" {
		creds.data["i1"] = secret
	}
	c, err := New(model.Instance{ID: "i1", URL: srv.URL, Email: "me@example.com"}, creds, tokens)
	require.NoError(t, err)
	return c, creds
}

func TestToken_ConcurrentCallersShareOneLogin(t *testing.T) {
	hub := &fakeHub{loginDelay: 50 * time.Millisecond}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	c, _ := newTestClient(t, srv, "secret", nil)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.AuthenticatedRequest(context.Background(), c.URL("/api/collections/systems/records", nil))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hub.logins.Load())
	assert.Equal(t, int32(5), hub.records.Load())
}

func TestToken_ConcurrentStaleTokenSharesOneLogin(t *testing.T) {
	hub := &fakeHub{
		loginDelay: 50 * time.Millisecond,
		recordsStatus: func(_ int32, token string) int {
			if token == "Bearer stale" {
				return http.StatusUnauthorized
			}
			return http.StatusOK
		},
	}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	tokens := &memTokens{token: "stale", savedAt: time.Now()}
	c, _ := newTestClient(t, srv, "secret", tokens)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.AuthenticatedRequest(context.Background(), c.URL("/api/collections/systems/records", nil))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hub.logins.Load())
	assert.Equal(t, "tok-1", tokens.token)
}

func TestAuthenticatedRequest_RetriesOnceAfter401(t *testing.T) {
	hub := &fakeHub{recordsStatus: func(n int32, _ string) int {
		if n == 1 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	tokens := &memTokens{token: "stale", savedAt: time.Now()}
	c, _ := newTestClient(t, srv, "secret", tokens)

	body, err := c.AuthenticatedRequest(context.Background(), c.URL("/api/collections/systems/records", nil))
	require.NoError(t, err)
	assert.Contains(t, string(body), "alpha")
	assert.Equal(t, int32(2), hub.records.Load())
	assert.Equal(t, int32(1), hub.logins.Load())
	assert.Equal(t, "tok-1", tokens.token, "fresh token cached")
}

func TestAuthenticatedRequest_Second401IsAuthRequired(t *testing.T) {
	hub := &fakeHub{recordsStatus: func(int32, string) int { return http.StatusUnauthorized }}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	c, _ := newTestClient(t, srv, "secret", nil)

	_, err := c.AuthenticatedRequest(context.Background(), c.URL("/api/collections/systems/records", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, int32(2), hub.records.Load(), "no third attempt")
}

func TestToken_DiskCache(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()

	fresh := &memTokens{token: "cached", savedAt: time.Now().Add(-5 * time.Minute)}
	c, _ := newTestClient(t, srv, "secret", fresh)
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Equal(t, int32(0), hub.logins.Load())

	expired := &memTokens{token: "cached", savedAt: time.Now().Add(-11 * time.Minute)}
	c, _ = newTestClient(t, srv, "secret", expired)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestToken_RefreshRotatesStoredToken(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	c, creds := newTestClient(t, srv, testJWT, nil)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testJWT+"-r1", tok)
	assert.Equal(t, int32(1), hub.refreshes.Load())
	assert.Equal(t, int32(0), hub.logins.Load())

	stored, err := creds.Get("i1")
	require.NoError(t, err)
	assert.Equal(t, tok, stored)
}

func TestToken_PasswordNotReplaced(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	c, creds := newTestClient(t, srv, "secret", nil)

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	stored, _ := creds.Get("i1")
	assert.Equal(t, "secret", stored)
}

func TestToken_LoginRejected(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	c, _ := newTestClient(t, srv, "wrong", nil)

	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Failed to authenticate.", apiErr.Message)
}

func TestToken_NoCredential(t *testing.T) {
	srv := httptest.NewServer((&fakeHub{}).handler())
	defer srv.Close()
	c, _ := newTestClient(t, srv, "", nil)

	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestNew_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "hub.local", "ftp://hub.local", "http://", "://x"} {
		_, err := New(model.Instance{ID: "i", URL: raw}, &memCreds{}, nil)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", raw)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/collections/users/auth-with-password", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token":"t"}`)
	})
	mux.HandleFunc("/structured", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `<html>bad gateway</html>`)
	})
	srv := httptest.NewServer(mux)
	c, _ := newTestClient(t, srv, "secret", nil)
	ctx := context.Background()

	_, err := c.AuthenticatedRequest(ctx, c.URL("/structured", nil))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	assert.True(t, apiErr.IsRetryable())

	_, err = c.AuthenticatedRequest(ctx, c.URL("/plain", nil))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 502, httpErr.StatusCode)
	assert.Equal(t, srv.URL+"/plain", httpErr.URL)
	assert.True(t, IsRetryable(err))

	_, err = c.AuthenticatedRequest(ctx, "not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)

	srv.Close()
	_, err = c.AuthenticatedRequest(ctx, c.URL("/plain", nil))
	require.Error(t, err)
	assert.False(t, errors.As(err, &apiErr))
	assert.False(t, errors.As(err, &httpErr))
}

func TestIsJWT(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{testJWT, true},
		{"hunter2", false},
		{"a.b.c", false},
		{"..", false},
		{base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT"}`)) + ".x.y", false},
		{testJWT + ".extra", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsJWT(tt.in), tt.in)
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 404, StatusCode(fmt.Errorf("wrap: %w", &APIError{StatusCode: 404})))
	assert.Equal(t, 502, StatusCode(&HTTPError{StatusCode: 502}))
	assert.Equal(t, 0, StatusCode(errors.New("x")))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestURL_KeepsBasePath(t *testing.T) {
	c, err := New(model.Instance{ID: "i", URL: "https://example.com/beszel/"}, &memCreds{}, nil)
	require.NoError(t, err)
	got := c.URL("/api/collections/systems/records", map[string][]string{"page": {strconv.Itoa(2)}})
	assert.Equal(t, "https://example.com/beszel/api/collections/systems/records?page=2", got)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"api 500", &APIError{StatusCode: 500}, true},
		{"api 400", &APIError{StatusCode: 400}, false},
		{"http 429 wrapped", fmt.Errorf("system s1: %w", &HTTPError{StatusCode: 429}), true},
		{"http 404", &HTTPError{StatusCode: 404}, false},
		{"auth", ErrAuthRequired, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestLogout(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub.handler())
	defer srv.Close()
	tokens := &memTokens{}
	c, creds := newTestClient(t, srv, "secret", tokens)

	_, err := c.AuthenticatedRequest(context.Background(), c.URL("/api/collections/systems/records", nil))
	require.NoError(t, err)
	require.Equal(t, "tok-1", tokens.token)

	require.NoError(t, c.Logout())
	assert.Empty(t, tokens.token)
	_, err = creds.Get("i1")
	assert.NoError(t, err, "credential kept")

	_, err = c.AuthenticatedRequest(context.Background(), c.URL("/api/collections/systems/records", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(2), hub.logins.Load(), "next request logs in again")
}
