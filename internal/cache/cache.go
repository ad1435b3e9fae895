// Package cache holds the per-instance dashboard state: systems, per-system
// series, the active system's stacked views and the loading status.
package cache

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
)

// Status is the observable loading state of a dashboard.
type Status struct {
	Loading   bool      `json:"loading"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	HasData   bool      `json:"has_data"`
}

// SystemResult is the processed output of one system's fetch pipeline.
type SystemResult struct {
	SystemID   string
	Points     []model.SystemDataPoint
	Containers []model.ProcessedContainerData
}

// Deriver builds the stacked CPU and memory views from one system's
// container series.
type Deriver func(containers []model.ProcessedContainerData) (cpu, mem model.StackedSeries)

// Slice is the active system's data as exposed to presentation.
type Slice struct {
	SystemID      string                                `json:"system_id"`
	Points        []model.SystemDataPoint               `json:"points"`
	Containers    map[string][]model.ContainerDataPoint `json:"containers"`
	StackedCPU    model.StackedSeries                   `json:"stacked_cpu"`
	StackedMemory model.StackedSeries                   `json:"stacked_memory"`
	Status        Status                                `json:"status"`
}

// Cache is a thread-safe in-memory store for one instance's dashboard.
// Series are only replaced through Commit, so readers never observe a
// half-merged cycle.
type Cache struct {
	mu sync.RWMutex

	Systems       []model.System
	SystemPoints  map[string][]model.SystemDataPoint
	Containers    map[string][]model.ProcessedContainerData
	ActiveSystem  string
	StackedCPU    model.StackedSeries
	StackedMemory model.StackedSeries
	Status        Status
}

// CacheSnapshot is a read-only deep copy of the cache state.
type CacheSnapshot struct {
	Systems       []model.System
	SystemPoints  map[string][]model.SystemDataPoint
	Containers    map[string][]model.ProcessedContainerData
	ActiveSystem  string
	StackedCPU    model.StackedSeries
	StackedMemory model.StackedSeries
	Status        Status
}

// New returns an initialized Cache.
func New() *Cache {
	return &Cache{
		SystemPoints: make(map[string][]model.SystemDataPoint),
		Containers:   make(map[string][]model.ProcessedContainerData),
	}
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := CacheSnapshot{
		Systems:       slices.Clone(c.Systems),
		SystemPoints:  make(map[string][]model.SystemDataPoint, len(c.SystemPoints)),
		Containers:    make(map[string][]model.ProcessedContainerData, len(c.Containers)),
		ActiveSystem:  c.ActiveSystem,
		StackedCPU:    copyStacked(c.StackedCPU),
		StackedMemory: copyStacked(c.StackedMemory),
		Status:        c.Status,
	}
	for id, pts := range c.SystemPoints {
		snap.SystemPoints[id] = copyPoints(pts)
	}
	for id, cs := range c.Containers {
		snap.Containers[id] = copyContainers(cs)
	}
	return snap
}

// ActiveSlice returns a deep copy of the active system's data.
func (c *Cache) ActiveSlice() Slice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Slice{
		SystemID:      c.ActiveSystem,
		Points:        copyPoints(c.SystemPoints[c.ActiveSystem]),
		Containers:    make(map[string][]model.ContainerDataPoint),
		StackedCPU:    copyStacked(c.StackedCPU),
		StackedMemory: copyStacked(c.StackedMemory),
		Status:        c.Status,
	}
	for _, pc := range c.Containers[c.ActiveSystem] {
		s.Containers[pc.Name] = slices.Clone(pc.Points)
	}
	return s
}

// SystemList returns a copy of the known systems.
func (c *Cache) SystemList() []model.System {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.Systems)
}

// Active returns the active system id.
func (c *Cache) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ActiveSystem
}

// CurrentStatus returns the loading status.
func (c *Cache) CurrentStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

// Commit merges one cycle's per-system results and recomputes the active
// system's stacks from the merged data, all under one lock. Systems no
// longer listed are dropped. When no system is active the first listed one
// becomes active.
func (c *Cache) Commit(systems []model.System, results []SystemResult, updatedAt time.Time, derive Deriver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Systems = slices.Clone(systems)
	listed := make(map[string]bool, len(systems))
	for _, s := range systems {
		listed[s.ID] = true
	}
	maps.DeleteFunc(c.SystemPoints, func(id string, _ []model.SystemDataPoint) bool { return !listed[id] })
	maps.DeleteFunc(c.Containers, func(id string, _ []model.ProcessedContainerData) bool { return !listed[id] })

	for _, r := range results {
		c.SystemPoints[r.SystemID] = r.Points
		c.Containers[r.SystemID] = r.Containers
	}

	if !listed[c.ActiveSystem] {
		c.ActiveSystem = ""
		if len(systems) > 0 {
			c.ActiveSystem = systems[0].ID
		}
	}
	c.deriveLocked(derive)

	c.Status = Status{UpdatedAt: updatedAt, HasData: true}
}

// SetActive switches the active system and rebuilds its stacks from cached
// container data.
func (c *Cache) SetActive(systemID string, derive Deriver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActiveSystem = systemID
	c.deriveLocked(derive)
}

func (c *Cache) deriveLocked(derive Deriver) {
	c.StackedCPU, c.StackedMemory = model.StackedSeries{}, model.StackedSeries{}
	if derive == nil || c.ActiveSystem == "" {
		return
	}
	c.StackedCPU, c.StackedMemory = derive(c.Containers[c.ActiveSystem])
}

// SetLoading marks a refresh as started or finished without touching data.
func (c *Cache) SetLoading(loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status.Loading = loading
}

// Fail records a failed refresh. Cached data is retained.
func (c *Cache) Fail(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status.Loading = false
	c.Status.Error = msg
}

// Reset discards all data, e.g. after the instance is removed.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Systems = nil
	c.SystemPoints = make(map[string][]model.SystemDataPoint)
	c.Containers = make(map[string][]model.ProcessedContainerData)
	c.ActiveSystem = ""
	c.StackedCPU, c.StackedMemory = model.StackedSeries{}, model.StackedSeries{}
	c.Status = Status{}
}

func copyPoints(pts []model.SystemDataPoint) []model.SystemDataPoint {
	if pts == nil {
		return nil
	}
	out := make([]model.SystemDataPoint, len(pts))
	for i, p := range pts {
		p.Temperatures = slices.Clone(p.Temperatures)
		out[i] = p
	}
	return out
}

func copyContainers(cs []model.ProcessedContainerData) []model.ProcessedContainerData {
	if cs == nil {
		return nil
	}
	out := make([]model.ProcessedContainerData, len(cs))
	for i, pc := range cs {
		out[i] = model.ProcessedContainerData{Name: pc.Name, Points: slices.Clone(pc.Points)}
	}
	return out
}

func copyStacked(s model.StackedSeries) model.StackedSeries {
	return model.StackedSeries{Points: slices.Clone(s.Points), Domain: slices.Clone(s.Domain)}
}
