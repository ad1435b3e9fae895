// Package instance keeps the list of configured hubs and their credentials.
package instance

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darshan-rambhia/hublens/internal/credential"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/session"
	"github.com/darshan-rambhia/hublens/internal/store"
)

var (
	// ErrNotFound means no instance has the requested id.
	ErrNotFound = errors.New("instance not found")
	// ErrMissingSecret means an instance was added without a password or token.
	ErrMissingSecret = errors.New("password or token required")
	// ErrMissingEmail means a password was given without an identity to log in with.
	ErrMissingEmail = errors.New("email required for password login")
)

// Store persists instance rows. DeleteInstance also drops everything keyed
// by the instance.
type Store interface {
	UpsertInstance(inst model.Instance) error
	GetInstance(id string) (model.Instance, error)
	ListInstances() ([]model.Instance, error)
	DeleteInstance(id string) error
	DeleteToken(instanceID, token string) error
}

// PinRemover drops in-memory pinned lists for an instance.
type PinRemover interface {
	RemoveInstance(instanceID string) error
}

// Params describes an instance to add or the fields to change on update.
// Empty fields are left unchanged by Update.
type Params struct {
	Name     string
	URL      string
	Email    string
	Secret   string
	Insecure *bool
}

// Registry adds, updates and removes instances.
type Registry struct {
	st    Store
	creds credential.Store
	pins  PinRemover
	now   func() time.Time
	newID func() string
}

// New creates a registry. pins may be nil.
func New(st Store, creds credential.Store, pins PinRemover) *Registry {
	return &Registry{
		st:    st,
		creds: creds,
		pins:  pins,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Add validates p, stores its secret and records the instance under a new
// id.
func (r *Registry) Add(p Params) (model.Instance, error) {
	u, err := session.ParseBaseURL(p.URL)
	if err != nil {
		return model.Instance{}, err
	}
	if p.Secret == "" {
		return model.Instance{}, ErrMissingSecret
	}
	if p.Email == "" && !session.IsJWT(p.Secret) {
		return model.Instance{}, ErrMissingEmail
	}

	inst := model.Instance{
		ID:        r.newID(),
		Name:      strings.TrimSpace(p.Name),
		URL:       strings.TrimRight(u.String(), "/"),
		Email:     p.Email,
		CreatedAt: r.now().UTC(),
	}
	if inst.Name == "" {
		inst.Name = u.Hostname()
	}
	if p.Insecure != nil {
		inst.Insecure = *p.Insecure
	}

	if err := r.creds.Set(inst.ID, p.Secret); err != nil {
		return model.Instance{}, fmt.Errorf("storing credential: %w", err)
	}
	if err := r.st.UpsertInstance(inst); err != nil {
		if derr := r.creds.Delete(inst.ID); derr != nil {
			slog.Warn("rolling back credential", "instance", inst.ID, "error", derr)
		}
		return model.Instance{}, fmt.Errorf("saving instance: %w", err)
	}
	slog.Info("instance added", "instance", inst.ID, "name", inst.Name, "url", inst.URL)
	return inst, nil
}

// Update changes the non-empty fields of p on an existing instance. A new
// secret or address drops the cached token.
func (r *Registry) Update(id string, p Params) (model.Instance, error) {
	inst, err := r.Get(id)
	if err != nil {
		return model.Instance{}, err
	}

	resetToken := false
	if p.URL != "" {
		u, err := session.ParseBaseURL(p.URL)
		if err != nil {
			return model.Instance{}, err
		}
		inst.URL = strings.TrimRight(u.String(), "/")
		resetToken = true
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		inst.Name = name
	}
	if p.Email != "" {
		inst.Email = p.Email
		resetToken = true
	}
	if p.Insecure != nil {
		inst.Insecure = *p.Insecure
	}
	if p.Secret != "" {
		if err := r.creds.Set(id, p.Secret); err != nil {
			return model.Instance{}, fmt.Errorf("storing credential: %w", err)
		}
		resetToken = true
	}

	if err := r.st.UpsertInstance(inst); err != nil {
		return model.Instance{}, fmt.Errorf("saving instance: %w", err)
	}
	if resetToken {
		if err := r.st.DeleteToken(id, ""); err != nil {
			slog.Warn("dropping cached token", "instance", id, "error", err)
		}
	}
	return inst, nil
}

// Get returns one instance.
func (r *Registry) Get(id string) (model.Instance, error) {
	inst, err := r.st.GetInstance(id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Instance{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return inst, err
}

// List returns all instances, oldest first.
func (r *Registry) List() ([]model.Instance, error) {
	return r.st.ListInstances()
}

// Resolve finds an instance by id or, failing that, by unique name.
func (r *Registry) Resolve(ref string) (model.Instance, error) {
	all, err := r.List()
	if err != nil {
		return model.Instance{}, err
	}
	var byName []model.Instance
	for _, inst := range all {
		if inst.ID == ref {
			return inst, nil
		}
		if inst.Name == ref {
			byName = append(byName, inst)
		}
	}
	switch len(byName) {
	case 0:
		return model.Instance{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	case 1:
		return byName[0], nil
	default:
		return model.Instance{}, fmt.Errorf("name %q matches %d instances, use the id", ref, len(byName))
	}
}

// RemoveInstance deletes the instance with its credential, cached token,
// pinned items and alert state. Every step is attempted; the errors are
// joined.
func (r *Registry) RemoveInstance(id string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}

	var errs []error
	if err := r.creds.Delete(id); err != nil && !errors.Is(err, credential.ErrNotFound) {
		errs = append(errs, fmt.Errorf("deleting credential: %w", err))
	}
	if r.pins != nil {
		if err := r.pins.RemoveInstance(id); err != nil {
			errs = append(errs, fmt.Errorf("removing pins: %w", err))
		}
	}
	if err := r.st.DeleteInstance(id); err != nil {
		errs = append(errs, fmt.Errorf("deleting instance: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("instance removed", "instance", id)
	return nil
}
