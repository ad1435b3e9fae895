package api

import (
	"context"
	"slices"
	"sync"

	"github.com/darshan-rambhia/hublens/internal/alerts"
	"github.com/darshan-rambhia/hublens/internal/dashboard"
	"github.com/darshan-rambhia/hublens/internal/model"
)

// DetailsSource fetches a system's static description.
type DetailsSource interface {
	SystemDetails(ctx context.Context, systemID string) (*model.SystemDetails, error)
}

// View is everything the API serves for one instance.
type View struct {
	Dashboard *dashboard.Dashboard
	Alerts    *alerts.Tracker
	Details   DetailsSource
}

// ID returns the instance id of the view.
func (v View) ID() string { return v.Dashboard.Instance().ID }

// Views is the set of running instances, in registration order.
type Views struct {
	mu    sync.RWMutex
	views []View
}

// NewViews returns an empty set.
func NewViews() *Views { return &Views{} }

// Add registers v, replacing any view with the same instance id.
func (s *Views) Add(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(v.ID()); i >= 0 {
		s.views[i] = v
		return
	}
	s.views = append(s.views, v)
}

// Remove drops the view for an instance.
func (s *Views) Remove(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(instanceID); i >= 0 {
		s.views = slices.Delete(s.views, i, i+1)
	}
}

// Get returns the view for instanceID, or the first view when instanceID is
// empty.
func (s *Views) Get(instanceID string) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if instanceID == "" {
		if len(s.views) == 0 {
			return View{}, false
		}
		return s.views[0], true
	}
	if i := s.indexLocked(instanceID); i >= 0 {
		return s.views[i], true
	}
	return View{}, false
}

// List returns all views.
func (s *Views) List() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.views)
}

func (s *Views) indexLocked(id string) int {
	return slices.IndexFunc(s.views, func(v View) bool { return v.ID() == id })
}
