package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/darshan-rambhia/hublens/internal/cache"
	"github.com/darshan-rambhia/hublens/internal/dashboard"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/timerange"
)

type instanceResponse struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	Range        string       `json:"range"`
	ActiveSystem string       `json:"active_system"`
	Status       cache.Status `json:"status"`
}

// @Summary List instances
// @Description Registered hub instances with their range, active system and refresh status
// @Produce json
// @Success 200 {array} instanceResponse
// @Router /api/instances [get]
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	views := s.views.List()
	resp := make([]instanceResponse, 0, len(views))
	for _, v := range views {
		inst := v.Dashboard.Instance()
		resp = append(resp, instanceResponse{
			ID:           inst.ID,
			Name:         inst.Name,
			URL:          inst.URL,
			Range:        v.Dashboard.Range().String(),
			ActiveSystem: v.Dashboard.Cache().Active(),
			Status:       v.Dashboard.Cache().CurrentStatus(),
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// @Summary List systems
// @Description Systems reported by the hub on the last successful refresh
// @Produce json
// @Param instance query string false "Instance ID (defaults to the first instance)"
// @Success 200 {array} model.System
// @Failure 404 {object} errorResponse "Unknown instance"
// @Router /api/systems [get]
func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	systems := v.Dashboard.Cache().SystemList()
	if systems == nil {
		systems = []model.System{}
	}
	writeJSON(w, r, http.StatusOK, systems)
}

// @Summary System details
// @Description Static host information for one system, fetched live from the hub
// @Produce json
// @Param instance query string false "Instance ID"
// @Param systemID path string true "System ID"
// @Success 200 {object} model.SystemDetails
// @Failure 404 {object} errorResponse "No details for this system"
// @Failure 502 {object} errorResponse "Hub request failed"
// @Router /api/systems/{systemID}/details [get]
func (s *Server) handleSystemDetails(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if v.Details == nil {
		writeError(w, r, http.StatusNotFound, "system details not available")
		return
	}
	d, err := v.Details.SystemDetails(r.Context(), r.PathValue("systemID"))
	if err != nil {
		slog.Error("fetching system details", "instance", v.ID(), "error", err)
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	if d == nil {
		writeError(w, r, http.StatusNotFound, "system details not available")
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

type sliceResponse struct {
	Range      string `json:"range"`
	AxisFormat string `json:"axis_format"`
	cache.Slice
}

// @Summary Active system slice
// @Description Downsampled series, container data and stacked geometry for the active system
// @Produce json
// @Param instance query string false "Instance ID"
// @Success 200 {object} sliceResponse
// @Failure 404 {object} errorResponse "Unknown instance"
// @Router /api/slice [get]
func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	rng := v.Dashboard.Range()
	writeJSON(w, r, http.StatusOK, sliceResponse{
		Range:      rng.String(),
		AxisFormat: rng.AxisFormat(),
		Slice:      v.Dashboard.ActiveSlice(),
	})
}

// @Summary Select active system
// @Param instance query string false "Instance ID"
// @Param systemID path string true "System ID"
// @Success 204
// @Failure 404 {object} errorResponse "Unknown instance or system"
// @Router /api/active/{systemID} [put]
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	err := v.Dashboard.SetActiveSystem(r.PathValue("systemID"))
	if errors.Is(err, dashboard.ErrUnknownSystem) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Select time range
// @Description Changes the chart window and triggers a refresh
// @Param instance query string false "Instance ID"
// @Param range path string true "Time range" Enums(1h, 12h, 24h, 7d, 30d)
// @Success 204
// @Failure 400 {object} errorResponse "Unknown range"
// @Router /api/range/{range} [put]
func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	rng, err := timerange.Parse(r.PathValue("range"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v.Dashboard.SetTimeRange(rng)
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Trigger refresh
// @Param instance query string false "Instance ID"
// @Success 202
// @Router /api/refresh [post]
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	v.Dashboard.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

type pinRequest struct {
	Kind   string `json:"kind"`
	Metric string `json:"metric"`
	Name   string `json:"name,omitempty"`
}

type pinResponse struct {
	Key    string `json:"key"`
	Pinned bool   `json:"pinned"`
}

// @Summary List pinned charts
// @Produce json
// @Param instance query string false "Instance ID"
// @Param systemID path string true "System ID"
// @Success 200 {array} object "Pinned items in pin order"
// @Router /api/pins/{systemID} [get]
func (s *Server) handleListPins(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, s.pins.List(v.ID(), r.PathValue("systemID")))
}

// @Summary Pin a chart
// @Accept json
// @Produce json
// @Param instance query string false "Instance ID"
// @Param systemID path string true "System ID"
// @Param pin body pinRequest true "Item to pin"
// @Success 201 {object} pinResponse "Pinned"
// @Success 200 {object} pinResponse "Already pinned"
// @Failure 400 {object} errorResponse "Invalid item"
// @Router /api/pins/{systemID} [post]
func (s *Server) handleAddPin(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req pinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("decoding pin: %v", err))
		return
	}
	item, err := model.ParsePinned(req.Kind, req.Metric, req.Name)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.pins.Pin(v.ID(), r.PathValue("systemID"), item)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, pinResponse{Key: item.Key(), Pinned: true})
}

// @Summary Unpin a chart
// @Param instance query string false "Instance ID"
// @Param systemID path string true "System ID"
// @Param kind query string true "Item kind" Enums(system, container, stacked)
// @Param metric query string true "Metric name"
// @Param name query string false "Container name"
// @Success 204
// @Failure 400 {object} errorResponse "Invalid item"
// @Failure 404 {object} errorResponse "Not pinned"
// @Router /api/pins/{systemID} [delete]
func (s *Server) handleRemovePin(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	item, err := model.ParsePinned(q.Get("kind"), q.Get("metric"), q.Get("name"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.pins.Unpin(v.ID(), r.PathValue("systemID"), item)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "not pinned")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Alert history
// @Description Retained alert history, newest first
// @Produce json
// @Param instance query string false "Instance ID"
// @Success 200 {array} model.AlertHistoryRecord
// @Router /api/alerts [get]
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	hist := []model.AlertHistoryRecord{}
	if v.Alerts != nil {
		if h := v.Alerts.History(); h != nil {
			hist = h
		}
	}
	writeJSON(w, r, http.StatusOK, hist)
}

// @Summary Refresh status
// @Description Loading, error and last-update state per instance
// @Produce json
// @Success 200 {object} map[string]cache.Status
// @Router /api/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := make(map[string]cache.Status)
	for _, v := range s.views.List() {
		resp[v.ID()] = v.Dashboard.Cache().CurrentStatus()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// @Summary Health check
// @Description Returns service health and per-instance data freshness
// @Produce json
// @Success 200 {object} map[string]any
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	views := s.views.List()
	instances := make(map[string]string, len(views))
	healthy := false
	for _, v := range views {
		st := v.Dashboard.Cache().CurrentStatus()
		if !st.HasData {
			instances[v.Dashboard.Instance().Name] = "no data"
			continue
		}
		healthy = true
		instances[v.Dashboard.Instance().Name] = fmt.Sprintf("%ds ago", int(now.Sub(st.UpdatedAt)/time.Second))
	}

	status := "ok"
	if !healthy {
		status = "no_data"
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": now.Unix(),
		"instances": instances,
	})
}
