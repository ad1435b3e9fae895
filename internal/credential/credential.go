// Package credential persists per-instance secrets (passwords or long-lived
// tokens) keyed by instance id.
package credential

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNotFound is returned when no secret is stored for an instance.
	ErrNotFound = errors.New("credential not found")
	// ErrUnavailable is returned when the backing store cannot be accessed
	// from this process.
	ErrUnavailable = errors.New("credential store unavailable")
)

// Store reads and writes secrets keyed by instance id.
type Store interface {
	Get(id string) (string, error)
	Set(id, secret string) error
	Delete(id string) error
}

// Fallback combines an access-controlled primary store with a shared
// secondary store that sibling processes can read.
type Fallback struct {
	Primary   Store
	Secondary Store
}

// Get reads from the primary store and falls back to the secondary when the
// primary is unavailable or has no entry.
func (f Fallback) Get(id string) (string, error) {
	secret, err := f.Primary.Get(id)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if f.Secondary == nil {
		return "", err
	}
	slog.Debug("primary credential store miss, trying fallback", "instance", id, "error", err)
	return f.Secondary.Get(id)
}

// Set writes the secret to both stores so that processes which cannot open
// the primary still find it in the secondary. It fails only when the
// primary rejects the secret outright or neither store accepted it.
func (f Fallback) Set(id, secret string) error {
	perr := f.Primary.Set(id, secret)
	if perr != nil && !errors.Is(perr, ErrUnavailable) {
		return perr
	}
	if f.Secondary == nil {
		return perr
	}
	serr := f.Secondary.Set(id, secret)
	switch {
	case perr != nil && serr != nil:
		return errors.Join(fmt.Errorf("primary: %w", perr), fmt.Errorf("secondary: %w", serr))
	case perr != nil:
		slog.Warn("primary credential store unavailable, wrote fallback only", "instance", id)
	case serr != nil:
		slog.Warn("mirroring credential to shared store failed", "instance", id, "error", serr)
	}
	return nil
}

// Delete removes the secret from both stores. Missing entries are not errors.
func (f Fallback) Delete(id string) error {
	var errs []error
	if err := f.Primary.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	if f.Secondary != nil {
		if err := f.Secondary.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("secondary: %w", err))
		}
	}
	return errors.Join(errs...)
}
