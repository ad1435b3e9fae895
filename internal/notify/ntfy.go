package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
)

// NtfyProvider publishes notifications to an ntfy topic.
type NtfyProvider struct {
	url    string
	topic  string
	token  string
	client *http.Client
}

// NewNtfy creates an ntfy provider. token is optional and sent as a bearer
// access token.
func NewNtfy(url, topic, token string) *NtfyProvider {
	return &NtfyProvider{
		url:    strings.TrimRight(url, "/"),
		topic:  strings.Trim(topic, "/"),
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *NtfyProvider) Name() string { return "ntfy" }

func (n *NtfyProvider) Send(ctx context.Context, notif model.Notification) error {
	endpoint := n.url + "/" + n.topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(notif.Message))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}

	req.Header.Set("Title", notif.Title)
	req.Header.Set("Priority", ntfyPriority(notif))
	req.Header.Set("Tags", ntfyTags(notif))
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func ntfyPriority(n model.Notification) string {
	if n.Resolved {
		return "default"
	}
	switch n.Severity {
	case SeverityCritical:
		return "urgent"
	case SeverityWarning:
		return "high"
	case SeverityInfo:
		return "low"
	default:
		return "default"
	}
}

func ntfyTags(n model.Notification) string {
	var tags []string
	switch {
	case n.Resolved:
		tags = append(tags, "white_check_mark")
	case n.Severity == SeverityCritical:
		tags = append(tags, "rotating_light")
	case n.Severity == SeverityWarning:
		tags = append(tags, "warning")
	case n.Severity == SeverityInfo:
		tags = append(tags, "information_source")
	}
	if n.AlertType != "" {
		tags = append(tags, n.AlertType)
	}
	if n.Instance != "" {
		tags = append(tags, n.Instance)
	}
	return strings.Join(tags, ",")
}
