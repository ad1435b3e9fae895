package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNtfyName(t *testing.T) {
	p := NewNtfy("http://localhost", "alerts", "")
	assert.Equal(t, "ntfy", p.Name())
}

func TestNtfySendCritical(t *testing.T) {
	var gotReq *http.Request
	var gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "/hub-alerts/", "tk_secret")
	err := p.Send(context.Background(), model.Notification{
		AlertType: "Status",
		Severity:  SeverityCritical,
		Title:     "homelab: Status",
		Message:   "alpha is down",
		Instance:  "homelab",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "/hub-alerts", gotReq.URL.Path)
	assert.Equal(t, "homelab: Status", gotReq.Header.Get("Title"))
	assert.Equal(t, "urgent", gotReq.Header.Get("Priority"))
	assert.Equal(t, "rotating_light,Status,homelab", gotReq.Header.Get("Tags"))
	assert.Equal(t, "Bearer tk_secret", gotReq.Header.Get("Authorization"))
	assert.Equal(t, "alpha is down", gotBody)
}

func TestNtfyPriorityAndTags(t *testing.T) {
	tests := []struct {
		name     string
		notif    model.Notification
		priority string
		tags     string
	}{
		{"warning", model.Notification{Severity: SeverityWarning, AlertType: "CPU"}, "high", "warning,CPU"},
		{"info", model.Notification{Severity: SeverityInfo}, "low", "information_source"},
		{"resolved", model.Notification{Severity: SeverityCritical, Resolved: true}, "default", "white_check_mark"},
		{"unknown", model.Notification{Severity: "weird"}, "default", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.priority, ntfyPriority(tt.notif))
			assert.Equal(t, tt.tags, ntfyTags(tt.notif))
		})
	}
}

func TestNtfyNoTokenNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewNtfy(srv.URL+"/", "alerts", "").Send(context.Background(), model.Notification{Title: "x"}))
}

func TestNtfySendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewNtfy(srv.URL, "alerts", "").Send(context.Background(), model.Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestNtfySendCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewNtfy(srv.URL, "alerts", "").Send(ctx, model.Notification{Title: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNtfySendBadURL(t *testing.T) {
	err := NewNtfy("://bad", "alerts", "").Send(context.Background(), model.Notification{})
	assert.ErrorContains(t, err, "ntfy: build request")
}
