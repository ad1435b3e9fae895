package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/nicholas-fedor/shoutrrr"

	"github.com/darshan-rambhia/hublens/internal/model"
)

// Sender abstracts Shoutrrr dispatch so providers can be tested without
// hitting real services.
type Sender interface {
	Send(serviceURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(serviceURL, message string) error {
	return shoutrrr.Send(serviceURL, message)
}

// ShoutrrrProvider delivers notifications to any Shoutrrr service URL
// (discord://, telegram://, smtp://, ...).
type ShoutrrrProvider struct {
	url    string
	sender Sender
}

// NewShoutrrr creates a provider for a Shoutrrr service URL. A nil sender
// uses the real library.
func NewShoutrrr(serviceURL string, sender Sender) (*ShoutrrrProvider, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("shoutrrr: parse url: %w", err)
	}
	if u.Scheme == "" {
		return nil, errors.New("shoutrrr: url has no service scheme")
	}
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &ShoutrrrProvider{url: serviceURL, sender: sender}, nil
}

func (s *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send renders n as plain text. The library call is not cancellable, so
// only an already-cancelled context is honoured.
func (s *ShoutrrrProvider) Send(ctx context.Context, n model.Notification) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("shoutrrr: %w", err)
	}
	if err := s.sender.Send(s.url, FormatMessage(n)); err != nil {
		return fmt.Errorf("shoutrrr: send: %w", err)
	}
	return nil
}
