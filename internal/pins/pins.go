// Package pins manages the per-system lists of pinned dashboard items.
package pins

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/darshan-rambhia/hublens/internal/model"
)

// Store persists pinned lists.
type Store interface {
	SavePins(instanceID, systemID string, items model.PinnedList) error
	LoadPins() (map[model.PinScope]model.PinnedList, error)
	DeletePins(instanceID string) error
}

// Manager is the in-memory view of every pinned list, written through to a
// Store. Lists never contain two items with the same key.
type Manager struct {
	mu    sync.RWMutex
	st    Store
	items map[model.PinScope]model.PinnedList
}

// New loads all pinned lists from st.
func New(st Store) (*Manager, error) {
	loaded, err := st.LoadPins()
	if err != nil {
		return nil, fmt.Errorf("loading pins: %w", err)
	}
	m := &Manager{st: st, items: make(map[model.PinScope]model.PinnedList, len(loaded))}
	for scope, list := range loaded {
		m.items[scope] = dedupe(list)
	}
	return m, nil
}

func scope(instanceID, systemID string) model.PinScope {
	return model.PinScope{InstanceID: instanceID, SystemID: systemID}
}

// List returns a copy of the pinned items for one system, in pin order.
func (m *Manager) List(instanceID, systemID string) model.PinnedList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items[scope(instanceID, systemID)])
}

// Scopes returns every scope with at least one pin, ordered by key.
func (m *Manager) Scopes() []model.PinScope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.SortedFunc(maps.Keys(m.items), func(a, b model.PinScope) int {
		return cmp.Or(cmp.Compare(a.InstanceID, b.InstanceID), cmp.Compare(a.SystemID, b.SystemID))
	})
}

// IsPinned reports whether item is pinned on the system.
func (m *Manager) IsPinned(instanceID, systemID string, item model.PinnedItem) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return indexOf(m.items[scope(instanceID, systemID)], item) >= 0
}

// Pin appends item to the system's list. It reports false when the item was
// already pinned.
func (m *Manager) Pin(instanceID, systemID string, item model.PinnedItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := scope(instanceID, systemID)
	list := m.items[sc]
	if indexOf(list, item) >= 0 {
		return false, nil
	}
	next := append(slices.Clone(list), item)
	if err := m.saveLocked(sc, next); err != nil {
		return false, err
	}
	return true, nil
}

// Unpin removes item from the system's list. It reports false when the item
// was not pinned.
func (m *Manager) Unpin(instanceID, systemID string, item model.PinnedItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := scope(instanceID, systemID)
	list := m.items[sc]
	i := indexOf(list, item)
	if i < 0 {
		return false, nil
	}
	next := slices.Delete(slices.Clone(list), i, i+1)
	if err := m.saveLocked(sc, next); err != nil {
		return false, err
	}
	return true, nil
}

// Toggle pins item if absent and unpins it otherwise, returning the new
// state.
func (m *Manager) Toggle(instanceID, systemID string, item model.PinnedItem) (bool, error) {
	if m.IsPinned(instanceID, systemID, item) {
		_, err := m.Unpin(instanceID, systemID, item)
		return false, err
	}
	_, err := m.Pin(instanceID, systemID, item)
	return err == nil, err
}

// RemoveInstance drops every list belonging to the instance.
func (m *Manager) RemoveInstance(instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.st.DeletePins(instanceID); err != nil {
		return err
	}
	maps.DeleteFunc(m.items, func(sc model.PinScope, _ model.PinnedList) bool {
		return sc.InstanceID == instanceID
	})
	return nil
}

func (m *Manager) saveLocked(sc model.PinScope, list model.PinnedList) error {
	if err := m.st.SavePins(sc.InstanceID, sc.SystemID, list); err != nil {
		return fmt.Errorf("saving pins %s: %w", sc.Key(), err)
	}
	if len(list) == 0 {
		delete(m.items, sc)
		return nil
	}
	m.items[sc] = list
	return nil
}

func indexOf(list model.PinnedList, item model.PinnedItem) int {
	key := item.Key()
	return slices.IndexFunc(list, func(p model.PinnedItem) bool { return p.Key() == key })
}

func dedupe(list model.PinnedList) model.PinnedList {
	seen := make(map[string]bool, len(list))
	out := make(model.PinnedList, 0, len(list))
	for _, it := range list {
		if seen[it.Key()] {
			continue
		}
		seen[it.Key()] = true
		out = append(out, it)
	}
	return out
}
