package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one plaintext file per instance in a shared directory so
// that sibling processes without access to the sealed store (a widget
// extension, for example) can still authenticate. Files are mode 0600.
type FileStore struct {
	Dir string
}

func (f FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid instance id %q", id)
	}
	return filepath.Join(f.Dir, id+".cred"), nil
}

// Get returns the stored secret for id.
func (f FileStore) Get(id string) (string, error) {
	p, err := f.path(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(data), nil
}

// Set writes the secret for id atomically.
func (f FileStore) Set(id, secret string) error {
	p, err := f.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(f.Dir, ".cred-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if _, err := tmp.WriteString(secret); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	return os.Rename(tmp.Name(), p)
}

// Delete removes the secret for id.
func (f FileStore) Delete(id string) error {
	p, err := f.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("removing credential file: %w", err)
	}
	return nil
}
