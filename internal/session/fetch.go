package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/timerange"
)

// PerPage is the page size requested from list endpoints.
const PerPage = 500

// Query narrows a collection listing. A zero Page fetches every page; a
// positive Page fetches only that page. PerPage defaults to PerPage.
type Query struct {
	Filter  string
	Sort    string
	Page    int
	PerPage int
}

type listResponse[T any] struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
	Items      []T `json:"items"`
}

// Fetch lists records of a collection, walking pages 1..totalPages in order
// and concatenating their items.
func Fetch[T any](ctx context.Context, c *Client, collection string, q Query) ([]T, error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = PerPage
	}
	page := q.Page
	single := page > 0
	if !single {
		page = 1
	}

	var items []T
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := url.Values{}
		v.Set("page", strconv.Itoa(page))
		v.Set("perPage", strconv.Itoa(perPage))
		if q.Filter != "" {
			v.Set("filter", q.Filter)
		}
		if q.Sort != "" {
			v.Set("sort", q.Sort)
		}

		body, err := c.AuthenticatedRequest(ctx, c.URL("/api/collections/"+url.PathEscape(collection)+"/records", v))
		if err != nil {
			return nil, fmt.Errorf("listing %s page %d: %w", collection, page, err)
		}
		var resp listResponse[T]
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decoding %s page %d: %w", collection, page, err)
		}
		items = append(items, resp.Items...)

		if single || page >= resp.TotalPages || len(resp.Items) == 0 {
			return items, nil
		}
		page++
	}
}

// Quote renders s as a single-quoted filter literal.
func Quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// SystemFilter selects records belonging to one system.
func SystemFilter(systemID string) string {
	return "system = " + Quote(systemID)
}

// CreatedSince selects records created at or after t.
func CreatedSince(t time.Time) string {
	return "created >= " + Quote(timerange.FormatTimestamp(t))
}

// And joins non-empty predicates with &&. Predicates containing || are
// parenthesized.
func And(preds ...string) string {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		if p == "" {
			continue
		}
		if strings.Contains(p, "||") {
			p = "(" + p + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " && ")
}

// ParseTime parses a hub timestamp.
func ParseTime(s string) (time.Time, error) {
	return timerange.ParseTimestamp(s)
}

// Systems lists every system visible to the account.
func (c *Client) Systems(ctx context.Context) ([]model.System, error) {
	return Fetch[model.System](ctx, c, "systems", Query{Sort: "name"})
}

// SystemStats lists system_stats records matching filter.
func (c *Client) SystemStats(ctx context.Context, filter string) ([]model.SystemStatsRecord, error) {
	return Fetch[model.SystemStatsRecord](ctx, c, "system_stats", Query{Filter: filter, Sort: "created"})
}

// ContainerStats lists container_stats records matching filter.
func (c *Client) ContainerStats(ctx context.Context, filter string) ([]model.ContainerStatsRecord, error) {
	return Fetch[model.ContainerStatsRecord](ctx, c, "container_stats", Query{Filter: filter, Sort: "created"})
}

// Alerts lists configured alert rules.
func (c *Client) Alerts(ctx context.Context) ([]model.AlertRecord, error) {
	return Fetch[model.AlertRecord](ctx, c, "alerts", Query{})
}

type alertHistoryWire struct {
	ID       string  `json:"id"`
	System   string  `json:"system"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Resolved string  `json:"resolved"`
	Created  string  `json:"created"`
}

// AlertHistory returns alert history created at or after since, newest
// first. A positive limit fetches a single page of that size. Records with
// an unparseable creation time are dropped.
func (c *Client) AlertHistory(ctx context.Context, since time.Time, limit int) ([]model.AlertHistoryRecord, error) {
	q := Query{Sort: "-created"}
	if !since.IsZero() {
		q.Filter = CreatedSince(since)
	}
	if limit > 0 {
		q.Page, q.PerPage = 1, limit
	}
	wire, err := Fetch[alertHistoryWire](ctx, c, "alerts_history", q)
	if err != nil {
		return nil, err
	}

	out := make([]model.AlertHistoryRecord, 0, len(wire))
	for _, w := range wire {
		created, err := ParseTime(w.Created)
		if err != nil {
			continue
		}
		rec := model.AlertHistoryRecord{ID: w.ID, System: w.System, Name: w.Name, Value: w.Value, Created: created}
		if w.Resolved != "" {
			if r, err := ParseTime(w.Resolved); err == nil {
				rec.Resolved = &r
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// SystemDetails returns the extended details of a system, or nil when the
// hub does not serve them.
func (c *Client) SystemDetails(ctx context.Context, systemID string) (*model.SystemDetails, error) {
	v := url.Values{}
	v.Set("filter", SystemFilter(systemID))
	v.Set("perPage", "1")
	body, err := c.AuthenticatedRequest(ctx, c.URL("/api/collections/system_details/records", v))
	if StatusCode(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching details for %s: %w", systemID, err)
	}
	var resp listResponse[model.SystemDetails]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding details for %s: %w", systemID, err)
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	return &resp.Items[0], nil
}
