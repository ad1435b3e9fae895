// Package session keeps one authenticated session per hub instance. It
// resolves bearer tokens from memory, a short-lived disk cache, or a fresh
// login/refresh exchange, retries once on 401, and paginates collection
// listings.
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darshan-rambhia/hublens/internal/credential"
	"github.com/darshan-rambhia/hublens/internal/model"
)

const (
	// TokenCacheValidity is how long a disk-cached token is trusted.
	TokenCacheValidity = 600 * time.Second

	requestTimeout = 30 * time.Second
	maxBody        = 32 << 20

	passwordPath = "/api/collections/users/auth-with-password"
	refreshPath  = "/api/collections/users/auth-refresh"
)

// TokenCache persists the most recent bearer token per instance.
// *store.Store implements it.
type TokenCache interface {
	LoadToken(instanceID string) (string, time.Time, error)
	SaveToken(instanceID, token string, savedAt time.Time) error
	DeleteToken(instanceID, token string) error
}

// Client is the session for one hub instance. It is safe for concurrent use.
type Client struct {
	inst   model.Instance
	base   *url.URL
	client *http.Client
	creds  credential.Store
	tokens TokenCache
	now    func() time.Time

	mu     sync.Mutex
	token  string
	flight singleflight.Group
}

// New creates a session for inst. tokens may be nil to disable the disk
// cache.
func New(inst model.Instance, creds credential.Store, tokens TokenCache) (*Client, error) {
	base, err := ParseBaseURL(inst.URL)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: inst.Insecure},
	}
	return &Client{
		inst:   inst,
		base:   base,
		client: &http.Client{Transport: transport, Timeout: requestTimeout},
		creds:  creds,
		tokens: tokens,
		now:    time.Now,
	}, nil
}

// ParseBaseURL validates a hub base URL: absolute http(s) with a host.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u.RawQuery, u.Fragment = "", ""
	return u, nil
}

// Instance returns the instance this session belongs to.
func (c *Client) Instance() model.Instance { return c.inst }

// URL resolves an API path against the instance base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()
	return u.String()
}

// Token returns a valid bearer token, exchanging the stored credential if
// neither memory nor the disk cache holds one. Concurrent callers share a
// single exchange.
func (c *Client) Token(ctx context.Context) (string, error) {
	if tok := c.memToken(); tok != "" {
		return tok, nil
	}

	ch := c.flight.DoChan("token", func() (any, error) {
		if tok := c.memToken(); tok != "" {
			return tok, nil
		}
		if tok, ok := c.diskToken(); ok {
			c.setToken(tok)
			return tok, nil
		}
		// Detached so one cancelled caller does not fail everyone waiting.
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		defer cancel()
		tok, err := c.exchange(ectx)
		if err != nil {
			return "", err
		}
		c.setToken(tok)
		if c.tokens != nil {
			if err := c.tokens.SaveToken(c.inst.ID, tok, c.now()); err != nil {
				slog.Warn("caching token failed", "instance", c.inst.ID, "error", err)
			}
		}
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) memToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

func (c *Client) diskToken() (string, bool) {
	if c.tokens == nil {
		return "", false
	}
	tok, savedAt, err := c.tokens.LoadToken(c.inst.ID)
	if err != nil || tok == "" {
		return "", false
	}
	age := c.now().Sub(savedAt)
	if age < 0 || age >= TokenCacheValidity {
		return "", false
	}
	return tok, true
}

// invalidate forgets failed if it is still the current token. A token that
// was already replaced by a concurrent refresh is left alone.
func (c *Client) invalidate(failed string) {
	c.mu.Lock()
	if c.token == failed {
		c.token = ""
	}
	c.mu.Unlock()
	if c.tokens != nil {
		if err := c.tokens.DeleteToken(c.inst.ID, failed); err != nil {
			slog.Warn("dropping cached token failed", "instance", c.inst.ID, "error", err)
		}
	}
}

// Logout drops the in-memory and cached token. The stored credential is
// kept.
func (c *Client) Logout() error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if c.tokens == nil {
		return nil
	}
	if err := c.tokens.DeleteToken(c.inst.ID, ""); err != nil {
		return fmt.Errorf("dropping cached token: %w", err)
	}
	return nil
}

type authResponse struct {
	Token string `json:"token"`
}

// exchange trades the stored credential for a fresh token. A JWT-shaped
// credential is refreshed and rotated; anything else is a password.
func (c *Client) exchange(ctx context.Context) (string, error) {
	secret, err := c.creds.Get(c.inst.ID)
	if errors.Is(err, credential.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrAuthRequired, ErrNoCredential)
	}
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}

	var body []byte
	if IsJWT(secret) {
		slog.Debug("refreshing token", "instance", c.inst.ID)
		body, err = c.do(ctx, http.MethodPost, c.URL(refreshPath, nil), secret, nil)
	} else {
		slog.Debug("logging in with password", "instance", c.inst.ID)
		payload, _ := json.Marshal(map[string]string{"identity": c.inst.Email, "password": secret})
		body, err = c.do(ctx, http.MethodPost, c.URL(passwordPath, nil), "", payload)
	}
	if err != nil {
		switch StatusCode(err) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		return "", err
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding auth response: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: empty token in auth response", ErrAuthRequired)
	}

	if IsJWT(secret) && resp.Token != secret {
		if err := c.creds.Set(c.inst.ID, resp.Token); err != nil {
			slog.Warn("rotating stored token failed", "instance", c.inst.ID, "error", err)
		}
	}
	return resp.Token, nil
}

// AuthenticatedRequest performs a GET with a bearer token attached. On 401
// the token is invalidated, re-resolved and the request retried once.
func (c *Client) AuthenticatedRequest(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, rawURL, err)
	}

	for attempt := 0; ; attempt++ {
		tok, err := c.Token(ctx)
		if err != nil {
			return nil, err
		}
		body, err := c.do(ctx, http.MethodGet, rawURL, tok, nil)
		if err == nil {
			return body, nil
		}
		if StatusCode(err) != http.StatusUnauthorized {
			return nil, err
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		slog.Warn("request unauthorized, refreshing token", "instance", c.inst.ID)
		c.invalidate(tok)
	}
}

// do performs one HTTP call and maps non-2xx responses to APIError or
// HTTPError.
func (c *Client) do(ctx context.Context, method, rawURL, token string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for %s: %v", ErrInvalidURL, rawURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp.StatusCode, body, req.URL)
	}
	return body, nil
}

func responseError(status int, body []byte, u *url.URL) error {
	var e struct {
		Message *string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != nil {
		return &APIError{StatusCode: status, Message: *e.Message, Endpoint: u.Path}
	}
	return &HTTPError{StatusCode: status, URL: u.String()}
}
