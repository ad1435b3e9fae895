package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/darshan-rambhia/hublens/internal/cache"
	"github.com/darshan-rambhia/hublens/internal/downsample"
	"github.com/darshan-rambhia/hublens/internal/events"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/session"
	"github.com/darshan-rambhia/hublens/internal/timerange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	t0       = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
)

func ts(t time.Time) string { return timerange.FormatTimestamp(t) }

// fakeHub serves canned records per system and records filters.
type fakeHub struct {
	mu        sync.Mutex
	systems   []model.System
	sysStats  map[string][]model.SystemStatsRecord
	conStats  map[string][]model.ContainerStatsRecord
	filters   []string
	err       error
	block     chan struct{} // when set, SystemStats waits on it
	listCalls int
	logouts   int
}

func (h *fakeHub) Logout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logouts++
	return nil
}

func (h *fakeHub) Instance() model.Instance { return model.Instance{ID: "inst-1", Name: "home"} }

func (h *fakeHub) Systems(context.Context) ([]model.System, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listCalls++
	if h.err != nil {
		return nil, h.err
	}
	return h.systems, nil
}

func (h *fakeHub) SystemStats(ctx context.Context, filter string) ([]model.SystemStatsRecord, error) {
	h.mu.Lock()
	h.filters = append(h.filters, filter)
	block := h.block
	h.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sysStats[systemOf(filter)], nil
}

func (h *fakeHub) ContainerStats(_ context.Context, filter string) ([]model.ContainerStatsRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conStats[systemOf(filter)], nil
}

func (h *fakeHub) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// systemOf pulls the id out of "system = 'id' && ...".
func systemOf(filter string) string {
	_, rest, _ := strings.Cut(filter, "system = '")
	id, _, _ := strings.Cut(rest, "'")
	return id
}

func newHub() *fakeHub {
	return &fakeHub{
		systems: []model.System{{ID: "s1", Name: "alpha"}, {ID: "s2", Name: "beta"}},
		sysStats: map[string][]model.SystemStatsRecord{
			"s1": {
				{ID: "a", System: "s1", Type: "1m", Created: ts(t0), Stats: model.SystemStats{CPU: 10, MemPct: 40}},
				{ID: "b", System: "s1", Type: "1m", Created: ts(t0.Add(time.Minute)), Stats: model.SystemStats{CPU: 20, MemPct: 41}},
			},
			"s2": {
				{ID: "c", System: "s2", Type: "1m", Created: ts(t0), Stats: model.SystemStats{CPU: 70, MemPct: 90}},
			},
		},
		conStats: map[string][]model.ContainerStatsRecord{
			"s1": {
				{ID: "r0", System: "s1", Created: ts(t0), Stats: []model.ContainerStat{{Name: "web", CPU: 10, Mem: 100}, {Name: "db", CPU: 5, Mem: 300}}},
				{ID: "r1", System: "s1", Created: ts(t0.Add(time.Minute)), Stats: []model.ContainerStat{{Name: "web", CPU: 20, Mem: 100}, {Name: "db", CPU: 5, Mem: 300}}},
				{ID: "r2", System: "s1", Created: ts(t0.Add(2 * time.Minute)), Stats: []model.ContainerStat{{Name: "web", CPU: 30, Mem: 100}, {Name: "db", CPU: 5, Mem: 300}}},
			},
		},
	}
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *fakeRemover) RemoveInstance(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return nil
}

type memSettings map[string]string

func (m memSettings) SetSetting(k, v string) error { m[k] = v; return nil }
func (m memSettings) GetSetting(k string) (string, error) {
	v, ok := m[k]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func newDashboard(hub *fakeHub, opts Options) *Dashboard {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return New(hub, opts)
}

func TestFetchAll_EndToEnd(t *testing.T) {
	d := newDashboard(newHub(), Options{})
	require.NoError(t, d.FetchAll(context.Background()))

	s := d.ActiveSlice()
	assert.Equal(t, "s1", s.SystemID)
	require.Len(t, s.Points, 2)
	assert.Equal(t, 10.0, s.Points[0].CPU)

	require.Len(t, s.Containers, 2)
	assert.Len(t, s.Containers["web"], 3)
	assert.Len(t, s.Containers["db"], 3)

	assert.Equal(t, []string{"db", "web"}, s.StackedCPU.Domain)
	require.GreaterOrEqual(t, len(s.StackedCPU.Points), 2)
	assert.Equal(t, model.StackedPoint{Date: t0, Name: "db", YStart: 0, YEnd: 5}, s.StackedCPU.Points[0])
	assert.Equal(t, model.StackedPoint{Date: t0, Name: "web", YStart: 5, YEnd: 15}, s.StackedCPU.Points[1])
	assert.Equal(t, []string{"web", "db"}, s.StackedMemory.Domain)

	st := s.Status
	assert.True(t, st.HasData)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
}

func TestFetchAll_FilterCombinesSystemAndRange(t *testing.T) {
	hub := newHub()
	d := newDashboard(hub, Options{Range: timerange.Last24Hours})
	require.NoError(t, d.FetchAll(context.Background()))

	assert.ElementsMatch(t, []string{
		"system = 's1' && created >= '2026-03-13 09:31:53.589Z'",
		"system = 's2' && created >= '2026-03-13 09:31:53.589Z'",
	}, hub.filters)
}

func TestFetchAll_DownsamplesLongSeries(t *testing.T) {
	hub := newHub()
	var recs []model.ContainerStatsRecord
	for i := range 300 {
		at := t0.Add(time.Duration(i) * 10 * time.Second)
		recs = append(recs, model.ContainerStatsRecord{
			ID: fmt.Sprint(i), System: "s1", Created: ts(at),
			Stats: []model.ContainerStat{{Name: "web", CPU: float64(i)}},
		})
	}
	hub.conStats["s1"] = recs

	d := newDashboard(hub, Options{Range: timerange.LastHour, Method: downsample.Max})
	require.NoError(t, d.FetchAll(context.Background()))

	// 2990s / 120 target points is below the 30s floor, so buckets are 30s
	// wide and hold three samples each.
	pts := d.ActiveSlice().Containers["web"]
	require.Len(t, pts, 100)
	assert.Equal(t, 2.0, pts[0].CPU)
	assert.Equal(t, t0, pts[0].Date)
}

func TestFetchAll_FailureKeepsPreviousCache(t *testing.T) {
	hub := newHub()
	d := newDashboard(hub, Options{})
	require.NoError(t, d.FetchAll(context.Background()))

	hub.setErr(errors.New("connection refused"))
	err := d.FetchAll(context.Background())
	require.Error(t, err)

	s := d.ActiveSlice()
	assert.Len(t, s.Points, 2, "previous data retained")
	assert.Contains(t, s.Status.Error, "connection refused")
	assert.True(t, s.Status.HasData)
	assert.False(t, s.Status.Loading)
}

func TestFetchAll_AuthEscalation(t *testing.T) {
	hub := newHub()
	remover := &fakeRemover{}
	bus := events.NewBus()
	var removedEvents []events.Event
	bus.Subscribe(func(e events.Event) { removedEvents = append(removedEvents, e) }, events.InstanceRemoved)

	d := newDashboard(hub, Options{Remover: remover, Bus: bus})
	require.NoError(t, d.FetchAll(context.Background()))

	hub.setErr(fmt.Errorf("listing: %w", session.ErrAuthRequired))

	err := d.FetchAll(context.Background())
	assert.ErrorIs(t, err, session.ErrAuthRequired)
	assert.NotErrorIs(t, err, ErrInstanceRemoved)
	assert.Empty(t, remover.removed)
	assert.Zero(t, hub.logouts)
	assert.Equal(t, "Authentication failed, retrying on next refresh", d.ActiveSlice().Status.Error)
	assert.Len(t, d.ActiveSlice().Points, 2)

	err = d.FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrInstanceRemoved)
	assert.Equal(t, []string{"inst-1"}, remover.removed)
	assert.Equal(t, 1, hub.logouts, "session dropped before removal")
	assert.Len(t, removedEvents, 1)
	assert.Empty(t, d.ActiveSlice().Points, "cache cleared")

	// Further cycles do nothing.
	assert.ErrorIs(t, d.FetchAll(context.Background()), ErrInstanceRemoved)
	assert.Len(t, remover.removed, 1)
}

func TestFetchAll_AuthCounterResetsOnSuccess(t *testing.T) {
	hub := newHub()
	remover := &fakeRemover{}
	d := newDashboard(hub, Options{Remover: remover})

	hub.setErr(session.ErrAuthRequired)
	assert.Error(t, d.FetchAll(context.Background()))
	hub.setErr(nil)
	require.NoError(t, d.FetchAll(context.Background()))
	hub.setErr(session.ErrAuthRequired)
	assert.Error(t, d.FetchAll(context.Background()))

	assert.Empty(t, remover.removed)
}

func TestFetchAll_StaleCycleDiscarded(t *testing.T) {
	hub := newHub()
	hub.block = make(chan struct{})
	d := newDashboard(hub, Options{})

	done := make(chan error, 1)
	go func() { done <- d.FetchAll(context.Background()) }()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.filters) == 2
	}, time.Second, 5*time.Millisecond)

	d.SetTimeRange(timerange.Last7Days)
	close(hub.block)

	err := <-done
	assert.ErrorIs(t, err, ErrStaleCycle)
	s := d.ActiveSlice()
	assert.False(t, s.Status.HasData)
	assert.False(t, s.Status.Loading)
	assert.Empty(t, s.Points)
}

func TestFetchAll_CancelledContext(t *testing.T) {
	hub := newHub()
	hub.block = make(chan struct{})
	d := newDashboard(hub, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.FetchAll(ctx) }()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.filters) > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, ErrStaleCycle)
	assert.False(t, d.ActiveSlice().Status.HasData)
	assert.Empty(t, d.ActiveSlice().Status.Error, "cancellation is not reported as a failure")
}

func TestSetActiveSystem(t *testing.T) {
	settings := memSettings{}
	d := newDashboard(newHub(), Options{Settings: settings})
	require.NoError(t, d.FetchAll(context.Background()))

	require.NoError(t, d.SetActiveSystem("s2"))
	s := d.ActiveSlice()
	assert.Equal(t, "s2", s.SystemID)
	assert.Equal(t, 70.0, s.Points[0].CPU)
	assert.Empty(t, s.StackedCPU.Domain)
	assert.Equal(t, "s2", settings["active_system:inst-1"])

	assert.ErrorIs(t, d.SetActiveSystem("nope"), ErrUnknownSystem)
}

func TestSettingsRestored(t *testing.T) {
	settings := memSettings{"time_range:inst-1": "7d", "active_system:inst-1": "s2"}
	d := newDashboard(newHub(), Options{Settings: settings})
	assert.Equal(t, timerange.Last7Days, d.Range())

	require.NoError(t, d.FetchAll(context.Background()))
	assert.Equal(t, "s2", d.ActiveSlice().SystemID)

	d.SetTimeRange(timerange.LastHour)
	assert.Equal(t, "1h", settings["time_range:inst-1"])
}

func TestStatusEventsPublished(t *testing.T) {
	bus := events.NewBus()
	var mu sync.Mutex
	var loading []bool
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		loading = append(loading, e.Payload.(cache.Status).Loading)
	}, events.StatusChanged)

	d := newDashboard(newHub(), Options{Bus: bus})
	require.NoError(t, d.FetchAll(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, loading)
}

func TestRun_StopsOnCancel(t *testing.T) {
	hub := newHub()
	d := newDashboard(hub, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.ActiveSlice().Status.HasData }, time.Second, 5*time.Millisecond)

	d.Refresh()
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.listCalls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_ReturnsWhenInstanceRemoved(t *testing.T) {
	hub := newHub()
	hub.setErr(session.ErrAuthRequired)
	d := newDashboard(hub, Options{Remover: &fakeRemover{}})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	// First failure sleeps for the refresh interval; wake it for the second.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.listCalls == 1
	}, time.Second, 5*time.Millisecond)
	d.Refresh()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after instance removal")
	}
}

func TestRun_RetriesSoonerAfterRetryableError(t *testing.T) {
	hub := newHub()
	hub.setErr(&session.HTTPError{StatusCode: http.StatusServiceUnavailable, URL: "http://hub/api/collections/systems/records"})
	d := newDashboard(hub, Options{RetryDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx) //nolint:errcheck

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.listCalls >= 3
	}, time.Second, 5*time.Millisecond)

	hub.setErr(nil)
	require.Eventually(t, func() bool { return d.ActiveSlice().Status.HasData }, time.Second, 5*time.Millisecond)
}

func TestNextWait(t *testing.T) {
	d := newDashboard(newHub(), Options{RetryDelay: time.Second})
	hourly := timerange.LastHour.RefreshInterval()

	assert.Equal(t, hourly, d.nextWait(nil))
	assert.Equal(t, hourly, d.nextWait(errors.New("decoding failed")))
	assert.Equal(t, hourly, d.nextWait(&session.HTTPError{StatusCode: http.StatusNotFound}))
	assert.Equal(t, time.Second, d.nextWait(fmt.Errorf("system s1: %w", &session.APIError{StatusCode: http.StatusTooManyRequests})))

	slow := newDashboard(newHub(), Options{RetryDelay: 2 * hourly})
	assert.Equal(t, hourly, slow.nextWait(&session.HTTPError{StatusCode: http.StatusBadGateway}))
}
