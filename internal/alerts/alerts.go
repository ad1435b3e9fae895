// Package alerts tracks a hub's alert history and decides which records are
// new enough to notify about.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/darshan-rambhia/hublens/internal/events"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/notify"
	"github.com/darshan-rambhia/hublens/internal/store"
)

// HistoryCap bounds the retained in-memory history.
const HistoryCap = 200

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 60 * time.Second

// Source lists alert history from a hub.
type Source interface {
	Instance() model.Instance
	AlertHistory(ctx context.Context, since time.Time, limit int) ([]model.AlertHistoryRecord, error)
}

// StateStore persists the seen-id set and the last check time.
type StateStore interface {
	SaveAlertState(instanceID string, st store.AlertState) error
	LoadAlertState(instanceID string) (store.AlertState, error)
}

// Options configures a Tracker.
type Options struct {
	State     StateStore
	Providers []notify.Provider
	Bus       *events.Bus
	Interval  time.Duration
	Now       func() time.Time
}

// Tracker polls one instance's alert history.
type Tracker struct {
	src       Source
	state     StateStore
	providers []notify.Provider
	bus       *events.Bus
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	seen    map[string]struct{}
	history []model.AlertHistoryRecord
	since   time.Time
}

// New creates a tracker and restores persisted state. Without saved state
// the tracker starts from now, so history that predates it is never
// announced.
func New(src Source, opts Options) *Tracker {
	t := &Tracker{
		src:       src,
		state:     opts.State,
		providers: opts.Providers,
		bus:       opts.Bus,
		interval:  opts.Interval,
		now:       opts.Now,
		seen:      make(map[string]struct{}),
	}
	if t.interval <= 0 {
		t.interval = DefaultPollInterval
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.since = t.now()

	if t.state == nil {
		return t
	}
	st, err := t.state.LoadAlertState(src.Instance().ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		slog.Warn("loading alert state", "instance", src.Instance().ID, "error", err)
	default:
		for _, id := range st.Seen {
			t.seen[id] = struct{}{}
		}
		if !st.Since.IsZero() {
			t.since = st.Since
		}
	}
	return t
}

// Since returns the lower bound of the next check.
func (t *Tracker) Since() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.since
}

// CheckForNew fetches history created at or after since and returns the
// records not seen before, newest first. The returned records are marked
// seen.
func (t *Tracker) CheckForNew(ctx context.Context, since time.Time) ([]model.AlertHistoryRecord, error) {
	recs, err := t.src.AlertHistory(ctx, since, HistoryCap)
	if err != nil {
		return nil, fmt.Errorf("fetching alert history: %w", err)
	}

	t.mu.Lock()
	var fresh []model.AlertHistoryRecord
	for _, r := range recs {
		if _, ok := t.seen[r.ID]; ok {
			continue
		}
		t.seen[r.ID] = struct{}{}
		fresh = append(fresh, r)
	}
	slices.SortStableFunc(fresh, newestFirst)
	// Already-seen records are merged too so that history rebuilt after a
	// restart keeps their ids through the prune.
	t.mergeLocked(recs)
	t.pruneLocked()
	t.since = t.now()
	st := t.stateLocked()
	t.mu.Unlock()

	t.persist(st)
	return fresh, nil
}

// mergeLocked folds records into history by id, newest first, truncated to
// HistoryCap.
func (t *Tracker) mergeLocked(recs []model.AlertHistoryRecord) {
	for _, r := range recs {
		i := slices.IndexFunc(t.history, func(h model.AlertHistoryRecord) bool { return h.ID == r.ID })
		if i >= 0 {
			t.history[i] = r
			continue
		}
		t.history = append(t.history, r)
	}
	slices.SortStableFunc(t.history, newestFirst)
	if len(t.history) > HistoryCap {
		t.history = t.history[:HistoryCap]
	}
}

// pruneLocked reduces the seen set to the ids still in history.
func (t *Tracker) pruneLocked() {
	keep := make(map[string]struct{}, len(t.history))
	for _, h := range t.history {
		if _, ok := t.seen[h.ID]; ok {
			keep[h.ID] = struct{}{}
		}
	}
	t.seen = keep
}

// MarkSeen records ids as already notified.
func (t *Tracker) MarkSeen(ids ...string) {
	t.mu.Lock()
	for _, id := range ids {
		t.seen[id] = struct{}{}
	}
	st := t.stateLocked()
	t.mu.Unlock()
	t.persist(st)
}

// Prune drops seen ids whose records are no longer retained.
func (t *Tracker) Prune() {
	t.mu.Lock()
	t.pruneLocked()
	st := t.stateLocked()
	t.mu.Unlock()
	t.persist(st)
}

// Seen returns the seen ids, sorted.
func (t *Tracker) Seen() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedIDs(t.seen)
}

// History returns a copy of the retained history, newest first.
func (t *Tracker) History() []model.AlertHistoryRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

func (t *Tracker) stateLocked() store.AlertState {
	return store.AlertState{Seen: sortedIDs(t.seen), Since: t.since}
}

func (t *Tracker) persist(st store.AlertState) {
	if t.state == nil {
		return
	}
	if err := t.state.SaveAlertState(t.src.Instance().ID, st); err != nil {
		slog.Error("saving alert state", "instance", t.src.Instance().ID, "error", err)
	}
}

// Poll runs one check from the last check time and delivers whatever is
// new.
func (t *Tracker) Poll(ctx context.Context) ([]model.AlertHistoryRecord, error) {
	fresh, err := t.CheckForNew(ctx, t.Since())
	if err != nil {
		return nil, err
	}
	// Oldest first so notifications arrive in the order they happened.
	for i := len(fresh) - 1; i >= 0; i-- {
		t.deliver(ctx, fresh[i])
	}
	return fresh, nil
}

func (t *Tracker) deliver(ctx context.Context, rec model.AlertHistoryRecord) {
	inst := t.src.Instance()
	n := Notification(inst, rec)

	t.bus.Publish(events.Event{
		Type:      events.AlertNew,
		Instance:  inst.ID,
		System:    rec.System,
		Message:   n.Title,
		Payload:   rec,
		Timestamp: rec.Created,
	})

	if err := notify.Broadcast(ctx, t.providers, n); err != nil {
		slog.Error("sending notification", "instance", inst.ID, "alert", rec.ID, "error", err)
	}
	slog.Info("alert delivered", "instance", inst.ID, "system", rec.System, "name", rec.Name, "resolved", rec.Resolved != nil)
}

// Notification renders a history record for notify providers.
func Notification(inst model.Instance, rec model.AlertHistoryRecord) model.Notification {
	label := inst.Name
	if label == "" {
		label = inst.ID
	}
	n := model.Notification{
		AlertType: rec.Name,
		Severity:  notify.SeverityWarning,
		Title:     fmt.Sprintf("%s: %s", label, rec.Name),
		Message:   fmt.Sprintf("%s triggered on system %s (value %.2f)", rec.Name, rec.System, rec.Value),
		Instance:  label,
		Subject:   rec.System,
		Timestamp: rec.Created,
		Metadata:  map[string]string{"record": rec.ID},
	}
	if rec.Resolved != nil {
		n.Resolved = true
		n.Severity = notify.SeverityInfo
		n.Message = fmt.Sprintf("%s resolved on system %s", rec.Name, rec.System)
	}
	return n
}

// Run polls on the configured interval until ctx is cancelled. Per-cycle
// errors are logged and the loop continues.
func (t *Tracker) Run(ctx context.Context) error {
	inst := t.src.Instance().ID
	slog.Info("alert tracker started", "instance", inst, "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if fresh, err := t.Poll(ctx); err != nil {
			if ctx.Err() == nil {
				slog.Error("alert poll failed", "instance", inst, "error", err)
			}
		} else {
			slog.Debug("alert poll", "instance", inst, "new", len(fresh))
		}

		select {
		case <-ctx.Done():
			slog.Info("alert tracker stopped", "instance", inst)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newestFirst(a, b model.AlertHistoryRecord) int {
	return b.Created.Compare(a.Created)
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
