// Package notify delivers alert notifications to local channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/hublens/internal/model"
)

// Severity levels carried by notifications.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Provider sends notifications through a specific channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// Broadcast sends n to every provider. Delivery continues past failures;
// the returned error joins every provider's error.
func Broadcast(ctx context.Context, providers []Provider, n model.Notification) error {
	var errs []error
	for _, p := range providers {
		if err := p.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FormatSeverity returns an uppercase severity label.
func FormatSeverity(s string) string {
	return strings.ToUpper(s)
}

// FormatMessage renders a notification as one plain-text line for channels
// without structured fields.
func FormatMessage(n model.Notification) string {
	var b strings.Builder
	if n.Resolved {
		b.WriteString("[RESOLVED] ")
	} else if n.Severity != "" {
		fmt.Fprintf(&b, "[%s] ", FormatSeverity(n.Severity))
	}
	b.WriteString(n.Title)
	if n.Message != "" {
		b.WriteString(": ")
		b.WriteString(n.Message)
	}
	return b.String()
}
