package api

import (
	"cmp"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/darshan-rambhia/hublens/internal/cache"
	"github.com/darshan-rambhia/hublens/internal/model"
)

// widgetItem is the latest value of one pinned chart. Value is null when
// nothing has been fetched or the metric has no single headline number.
type widgetItem struct {
	Key    string     `json:"key"`
	Kind   string     `json:"kind"`
	Metric string     `json:"metric"`
	Name   string     `json:"name,omitempty"`
	Value  *float64   `json:"value"`
	Date   *time.Time `json:"date,omitempty"`
}

type widgetResponse struct {
	Instance   string       `json:"instance"`
	System     string       `json:"system"`
	SystemName string       `json:"system_name"`
	Status     cache.Status `json:"status"`
	Items      []widgetItem `json:"items"`
}

// handleWidget returns the pinned items of one system with their latest
// values. The system defaults to the active one.
// @Summary Widget values
// @Description Latest value of every pinned chart for one system
// @Produce json
// @Param instance query string false "Instance ID"
// @Param system query string false "System ID (defaults to the active system)"
// @Success 200 {object} widgetResponse
// @Failure 404 {object} errorResponse "Unknown instance"
// @Router /api/widget [get]
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	snap := v.Dashboard.Cache().Snapshot()
	systemID := r.URL.Query().Get("system")
	if systemID == "" {
		systemID = snap.ActiveSystem
	}

	resp := widgetResponse{
		Instance: v.ID(),
		System:   systemID,
		Status:   snap.Status,
		Items:    []widgetItem{},
	}
	if i := slices.IndexFunc(snap.Systems, func(sys model.System) bool { return sys.ID == systemID }); i >= 0 {
		resp.SystemName = snap.Systems[i].Name
	}

	pts := snap.SystemPoints[systemID]
	containers := snap.Containers[systemID]
	for _, item := range s.pins.List(v.ID(), systemID) {
		wi := describe(item)
		wi.Value, wi.Date = latestValue(item, pts, containers)
		resp.Items = append(resp.Items, wi)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func describe(item model.PinnedItem) widgetItem {
	wi := widgetItem{Key: item.Key()}
	if b, err := model.MarshalPinned(item); err == nil {
		var env pinRequest
		if json.Unmarshal(b, &env) == nil {
			wi.Kind, wi.Metric, wi.Name = env.Kind, env.Metric, env.Name
		}
	}
	return wi
}

func latestValue(item model.PinnedItem, pts []model.SystemDataPoint, containers []model.ProcessedContainerData) (*float64, *time.Time) {
	switch it := item.(type) {
	case model.SystemMetric:
		if len(pts) == 0 {
			return nil, nil
		}
		last := pts[len(pts)-1]
		switch it.Metric {
		case model.MetricCPU:
			return ptr(last.CPU), ptr(last.Date)
		case model.MetricMemory:
			return ptr(last.MemPct), ptr(last.Date)
		case model.MetricTemperature:
			if len(last.Temperatures) == 0 {
				return nil, ptr(last.Date)
			}
			hottest := slices.MaxFunc(last.Temperatures, func(a, b model.SensorReading) int {
				return cmp.Compare(a.Value, b.Value)
			})
			return ptr(hottest.Value), ptr(last.Date)
		}
		return nil, ptr(last.Date)

	case model.ContainerMetric:
		i := slices.IndexFunc(containers, func(c model.ProcessedContainerData) bool { return c.Name == it.Name })
		if i < 0 || len(containers[i].Points) == 0 {
			return nil, nil
		}
		last := containers[i].Points[len(containers[i].Points)-1]
		return ptr(containerValue(last, it.Metric)), ptr(last.Date)

	case model.StackedContainers:
		var latest time.Time
		for _, c := range containers {
			if n := len(c.Points); n > 0 && c.Points[n-1].Date.After(latest) {
				latest = c.Points[n-1].Date
			}
		}
		if latest.IsZero() {
			return nil, nil
		}
		var total float64
		for _, c := range containers {
			if n := len(c.Points); n > 0 && c.Points[n-1].Date.Equal(latest) {
				total += containerValue(c.Points[n-1], it.Metric)
			}
		}
		return ptr(total), ptr(latest)
	}
	return nil, nil
}

func containerValue(p model.ContainerDataPoint, metric model.ContainerMetricKind) float64 {
	if metric == model.ContainerMemory {
		return p.Mem
	}
	return p.CPU
}

func ptr[T any](v T) *T { return &v }
