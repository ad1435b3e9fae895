// Package dashboard orchestrates the fetch, transform, downsample and stack
// pipeline for every system of one hub instance and publishes the result
// through a cache.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/hublens/internal/cache"
	"github.com/darshan-rambhia/hublens/internal/downsample"
	"github.com/darshan-rambhia/hublens/internal/events"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/session"
	"github.com/darshan-rambhia/hublens/internal/stack"
	"github.com/darshan-rambhia/hublens/internal/store"
	"github.com/darshan-rambhia/hublens/internal/timerange"
	"github.com/darshan-rambhia/hublens/internal/transform"
)

// AuthFailureLimit is the number of consecutive auth-failed cycles after
// which the instance is removed.
const AuthFailureLimit = 2

// DefaultRetryDelay is how soon Run retries after a retryable hub error.
const DefaultRetryDelay = 15 * time.Second

var (
	// ErrStaleCycle means a cycle's results were discarded because the time
	// range or active system changed, a newer cycle committed first, or the
	// context was cancelled.
	ErrStaleCycle = errors.New("refresh cycle superseded")
	// ErrInstanceRemoved means repeated auth failures removed the instance.
	ErrInstanceRemoved = errors.New("instance removed after repeated authentication failures")
	// ErrUnknownSystem is returned when activating a system the hub did not
	// list.
	ErrUnknownSystem = errors.New("unknown system")
)

// Hub is the subset of a hub session the dashboard needs.
// *session.Client implements it.
type Hub interface {
	Instance() model.Instance
	Systems(ctx context.Context) ([]model.System, error)
	SystemStats(ctx context.Context, filter string) ([]model.SystemStatsRecord, error)
	ContainerStats(ctx context.Context, filter string) ([]model.ContainerStatsRecord, error)
}

// loggerOut is implemented by hubs that can drop their session token.
type loggerOut interface {
	Logout() error
}

// InstanceRemover deletes an instance and all of its client state.
type InstanceRemover interface {
	RemoveInstance(id string) error
}

// Settings persists small per-instance preferences.
type Settings interface {
	SetSetting(key, value string) error
	GetSetting(key string) (string, error)
}

// Options configures a Dashboard. Zero values select defaults.
type Options struct {
	Range    timerange.Range
	Method   downsample.Method
	Bus      *events.Bus
	Remover  InstanceRemover
	Settings Settings
	Now      func() time.Time
	// RetryDelay shortens the wait after a retryable failure. It never
	// lengthens the regular refresh interval.
	RetryDelay time.Duration
}

// Dashboard runs refresh cycles for one instance.
type Dashboard struct {
	hub      Hub
	cache    *cache.Cache
	bus      *events.Bus
	remover  InstanceRemover
	settings Settings
	method   downsample.Method
	now      func() time.Time
	retry    time.Duration
	wake     chan struct{}

	mu           sync.Mutex
	rng          timerange.Range
	gen          uint64 // bumped when the selection changes
	seq          uint64 // last started cycle
	committed    uint64 // last committed cycle
	authFailures int
	removed      bool
}

// New creates a dashboard for hub. Persisted time range and active system
// are restored from opts.Settings when present.
func New(hub Hub, opts Options) *Dashboard {
	d := &Dashboard{
		hub:      hub,
		cache:    cache.New(),
		bus:      opts.Bus,
		remover:  opts.Remover,
		settings: opts.Settings,
		method:   opts.Method,
		now:      opts.Now,
		rng:      opts.Range,
		retry:    opts.RetryDelay,
		wake:     make(chan struct{}, 1),
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.retry <= 0 {
		d.retry = DefaultRetryDelay
	}
	if d.settings != nil {
		if v, err := d.settings.GetSetting(d.key(store.SettingTimeRange)); err == nil {
			if r, err := timerange.Parse(v); err == nil {
				d.rng = r
			}
		}
		if v, err := d.settings.GetSetting(d.key(store.SettingActiveSystem)); err == nil && v != "" {
			d.cache.SetActive(v, deriveStacks)
		}
	}
	return d
}

func (d *Dashboard) key(name string) string {
	return store.InstanceSettingKey(name, d.hub.Instance().ID)
}

// Instance returns the instance this dashboard serves.
func (d *Dashboard) Instance() model.Instance { return d.hub.Instance() }

// Cache exposes the underlying cache for read access.
func (d *Dashboard) Cache() *cache.Cache { return d.cache }

// ActiveSlice returns a deep copy of the active system's data.
func (d *Dashboard) ActiveSlice() cache.Slice { return d.cache.ActiveSlice() }

// Range returns the current time range.
func (d *Dashboard) Range() timerange.Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng
}

// SetTimeRange changes the window, discards any in-flight cycle and wakes
// the refresh loop.
func (d *Dashboard) SetTimeRange(r timerange.Range) {
	d.mu.Lock()
	changed := d.rng != r
	d.rng = r
	d.gen++
	d.mu.Unlock()

	if changed && d.settings != nil {
		if err := d.settings.SetSetting(d.key(store.SettingTimeRange), r.String()); err != nil {
			slog.Warn("saving time range failed", "instance", d.hub.Instance().ID, "error", err)
		}
	}
	d.poke()
}

// SetActiveSystem switches the active system. Stacks are rebuilt from
// cached data immediately, any in-flight cycle is discarded and the loop is
// woken for a fresh one.
func (d *Dashboard) SetActiveSystem(systemID string) error {
	if systems := d.cache.SystemList(); len(systems) > 0 {
		if !slices.ContainsFunc(systems, func(s model.System) bool { return s.ID == systemID }) {
			return fmt.Errorf("%w: %s", ErrUnknownSystem, systemID)
		}
	}

	d.mu.Lock()
	d.gen++
	d.cache.SetActive(systemID, deriveStacks)
	d.mu.Unlock()

	if d.settings != nil {
		if err := d.settings.SetSetting(d.key(store.SettingActiveSystem), systemID); err != nil {
			slog.Warn("saving active system failed", "instance", d.hub.Instance().ID, "error", err)
		}
	}
	d.poke()
	return nil
}

// Refresh asks the run loop to start a cycle now.
func (d *Dashboard) Refresh() { d.poke() }

func (d *Dashboard) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// FetchAll runs one refresh cycle: list systems, fetch and process every
// system concurrently, then merge and rebuild stacks in one commit. Any
// system failing aborts the batch and the previous cache is kept.
func (d *Dashboard) FetchAll(ctx context.Context) error {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return ErrInstanceRemoved
	}
	d.seq++
	seq, gen, rng := d.seq, d.gen, d.rng
	d.mu.Unlock()

	inst := d.hub.Instance()
	start := d.now()
	d.cache.SetLoading(true)
	d.publishStatus()

	systems, err := d.hub.Systems(ctx)
	if err != nil {
		return d.fail(ctx, seq, gen, fmt.Errorf("listing systems: %w", err))
	}

	results := make([]cache.SystemResult, len(systems))
	g, gctx := errgroup.WithContext(ctx)
	for i, sys := range systems {
		g.Go(func() error {
			r, err := d.fetchSystem(gctx, sys.ID, rng, start)
			if err != nil {
				return fmt.Errorf("system %s: %w", sys.ID, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return d.fail(ctx, seq, gen, err)
	}

	d.mu.Lock()
	if err := d.staleLocked(ctx, seq, gen); err != nil {
		d.mu.Unlock()
		d.cache.SetLoading(false)
		return err
	}
	d.committed = seq
	d.authFailures = 0
	d.cache.Commit(systems, results, d.now(), deriveStacks)
	d.mu.Unlock()

	d.publishStatus()
	slog.Debug("dashboard refreshed", "instance", inst.ID, "systems", len(systems), "took", time.Since(start))
	return nil
}

// staleLocked reports whether a cycle must be discarded. Caller holds d.mu.
func (d *Dashboard) staleLocked(ctx context.Context, seq, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStaleCycle, err)
	}
	if gen != d.gen || seq < d.committed {
		return ErrStaleCycle
	}
	return nil
}

// fail records a failed cycle. Auth failures count toward removal of the
// instance; other failures leave cached data in place with an error.
func (d *Dashboard) fail(ctx context.Context, seq, gen uint64, err error) error {
	inst := d.hub.Instance()

	d.mu.Lock()
	if stale := d.staleLocked(ctx, seq, gen); stale != nil {
		d.mu.Unlock()
		d.cache.SetLoading(false)
		return stale
	}
	removeNow := false
	if errors.Is(err, session.ErrAuthRequired) {
		d.authFailures++
		if d.authFailures >= AuthFailureLimit {
			d.authFailures = 0
			d.removed = true
			removeNow = true
		}
	}
	failures := d.authFailures
	d.mu.Unlock()

	switch {
	case removeNow:
		slog.Error("removing instance after repeated auth failures", "instance", inst.ID, "error", err)
		if lo, ok := d.hub.(loggerOut); ok {
			if lerr := lo.Logout(); lerr != nil {
				slog.Warn("logout failed", "instance", inst.ID, "error", lerr)
			}
		}
		if d.remover != nil {
			if rerr := d.remover.RemoveInstance(inst.ID); rerr != nil {
				slog.Error("removing instance failed", "instance", inst.ID, "error", rerr)
			}
		}
		d.cache.Reset()
		d.bus.Publish(events.Event{Type: events.InstanceRemoved, Instance: inst.ID, Message: err.Error()})
		return fmt.Errorf("%w: %w", ErrInstanceRemoved, err)
	case errors.Is(err, session.ErrAuthRequired):
		slog.Warn("authentication failed, will retry", "instance", inst.ID, "attempt", failures, "error", err)
		d.cache.Fail("Authentication failed, retrying on next refresh")
	default:
		d.cache.Fail(err.Error())
	}
	d.publishStatus()
	return err
}

func (d *Dashboard) publishStatus() {
	d.bus.Publish(events.Event{
		Type:     events.StatusChanged,
		Instance: d.hub.Instance().ID,
		System:   d.cache.Active(),
		Payload:  d.cache.CurrentStatus(),
	})
}

// fetchSystem runs one system's pipeline: two parallel fetches, transform,
// dedupe and downsample.
func (d *Dashboard) fetchSystem(ctx context.Context, systemID string, rng timerange.Range, now time.Time) (cache.SystemResult, error) {
	filter := session.And(session.SystemFilter(systemID), rng.Filter(now))

	var (
		sysRecs []model.SystemStatsRecord
		conRecs []model.ContainerStatsRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		conRecs, err = d.hub.ContainerStats(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		sysRecs, err = d.hub.SystemStats(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return cache.SystemResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return cache.SystemResult{}, err
	}

	points := transform.SystemPoints(transform.DedupeSystemStats(sysRecs))
	points = downsample.Downsample(points, rng.BucketInterval(span(points)), d.method)

	containers := transform.ContainerData(conRecs)
	for i := range containers {
		pts := containers[i].Points
		containers[i].Points = downsample.Downsample(pts, rng.BucketInterval(span(pts)), d.method)
	}

	return cache.SystemResult{SystemID: systemID, Points: points, Containers: containers}, nil
}

// span is the time covered by a date-sorted series.
func span[P downsample.Point[P]](pts []P) time.Duration {
	if len(pts) < 2 {
		return 0
	}
	return pts[len(pts)-1].Time().Sub(pts[0].Time())
}

func deriveStacks(cs []model.ProcessedContainerData) (cpu, mem model.StackedSeries) {
	return stack.FromContainers(cs, model.ContainerCPU), stack.FromContainers(cs, model.ContainerMemory)
}

// nextWait is the refresh interval, cut short after a retryable failure.
func (d *Dashboard) nextWait(err error) time.Duration {
	wait := d.Range().RefreshInterval()
	if err != nil && session.IsRetryable(err) && d.retry < wait {
		return d.retry
	}
	return wait
}

// Run refreshes immediately and then on the current range's cadence,
// re-reading the range each iteration. It returns when ctx is cancelled or
// the instance has been removed.
func (d *Dashboard) Run(ctx context.Context) error {
	inst := d.hub.Instance()
	slog.Info("dashboard started", "instance", inst.ID, "name", inst.Name, "range", d.Range())

	for {
		err := d.FetchAll(ctx)
		switch {
		case errors.Is(err, ErrInstanceRemoved):
			slog.Info("dashboard stopped, instance removed", "instance", inst.ID)
			return nil
		case errors.Is(err, ErrStaleCycle):
			slog.Debug("refresh cycle discarded", "instance", inst.ID)
		case err != nil:
			slog.Error("refresh failed", "instance", inst.ID, "error", err)
		}

		timer := time.NewTimer(d.nextWait(err))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("dashboard stopped", "instance", inst.ID)
			return ctx.Err()
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
