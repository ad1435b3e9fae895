package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookName(t *testing.T) {
	assert.Equal(t, "webhook", NewWebhook("http://localhost", "", nil).Name())
}

func TestWebhookSendJSON(t *testing.T) {
	var got map[string]any
	var method, contentType, custom string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		custom = r.Header.Get("X-Api-Key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, "", map[string]string{"X-Api-Key": "k"})
	err := p.Send(context.Background(), model.Notification{
		AlertType: "Memory",
		Severity:  SeverityWarning,
		Title:     "homelab: Memory",
		Instance:  "homelab",
		Subject:   "s1",
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "k", custom)
	assert.Equal(t, "hublens", got["source"])
	assert.Equal(t, "alert", got["event"])
	assert.Equal(t, "Memory", got["alert_type"], "notification fields are flattened")
	assert.Equal(t, "s1", got["subject"])
}

func TestWebhookResolvedEvent(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, http.MethodPut, nil).Send(context.Background(), model.Notification{Resolved: true})
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Event)
	assert.True(t, got.Resolved)
}

func TestWebhookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "", nil).Send(context.Background(), model.Notification{})
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestWebhookSendBadURL(t *testing.T) {
	err := NewWebhook("://bad", "", nil).Send(context.Background(), model.Notification{})
	assert.ErrorContains(t, err, "webhook: build request")
}
