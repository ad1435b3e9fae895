// Package transform reshapes raw hub records into display points.
package transform

import (
	"cmp"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/timerange"
)

// SystemPoints converts system_stats records into display points sorted by
// date. Records with an unparseable timestamp are dropped.
func SystemPoints(records []model.SystemStatsRecord) []model.SystemDataPoint {
	points := make([]model.SystemDataPoint, 0, len(records))
	for _, r := range records {
		date, err := timerange.ParseTimestamp(r.Created)
		if err != nil {
			slog.Debug("dropping system stats record", "id", r.ID, "error", err)
			continue
		}
		points = append(points, model.SystemDataPoint{
			Date:         date,
			CPU:          r.Stats.CPU,
			MemPct:       r.Stats.MemPct,
			Temperatures: sensorReadings(r.Stats.Temperatures),
		})
	}
	slices.SortStableFunc(points, func(a, b model.SystemDataPoint) int {
		return a.Date.Compare(b.Date)
	})
	return points
}

func sensorReadings(temps map[string]float64) []model.SensorReading {
	readings := make([]model.SensorReading, 0, len(temps))
	for name, v := range temps {
		readings = append(readings, model.SensorReading{Name: name, Value: v})
	}
	slices.SortFunc(readings, func(a, b model.SensorReading) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return readings
}

// ContainerData fans container_stats records out into one series per
// container name. Series are sorted by name and points by date.
func ContainerData(records []model.ContainerStatsRecord) []model.ProcessedContainerData {
	byName := make(map[string][]model.ContainerDataPoint)
	for _, r := range records {
		date, err := timerange.ParseTimestamp(r.Created)
		if err != nil {
			slog.Debug("dropping container stats record", "id", r.ID, "error", err)
			continue
		}
		for _, c := range r.Stats {
			byName[c.Name] = append(byName[c.Name], model.ContainerDataPoint{
				Date: date,
				CPU:  c.CPU,
				Mem:  c.Mem,
			})
		}
	}

	out := make([]model.ProcessedContainerData, 0, len(byName))
	for name, points := range byName {
		slices.SortStableFunc(points, func(a, b model.ContainerDataPoint) int {
			return a.Date.Compare(b.Date)
		})
		out = append(out, model.ProcessedContainerData{Name: name, Points: points})
	}
	slices.SortFunc(out, func(a, b model.ProcessedContainerData) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// DedupeSystemStats keeps one record per (system, minute). When the hub
// returns rows of several granularities for the same minute, the row with
// the shortest aggregation window wins. A window that does not parse ranks
// below every window that does; ties keep the first record seen. Records
// with an unparseable timestamp pass through untouched so SystemPoints can
// drop them.
func DedupeSystemStats(records []model.SystemStatsRecord) []model.SystemStatsRecord {
	type key struct {
		system string
		minute int64
	}
	type entry struct {
		index    int
		duration int64
	}

	best := make(map[key]entry, len(records))
	var keep []int
	for i, r := range records {
		date, err := timerange.ParseTimestamp(r.Created)
		if err != nil {
			keep = append(keep, i)
			continue
		}
		k := key{system: r.System, minute: date.Truncate(time.Minute).Unix()}
		d := windowDuration(r.Type)
		if cur, ok := best[k]; !ok || d < cur.duration {
			best[k] = entry{index: i, duration: d}
		}
	}
	for _, e := range best {
		keep = append(keep, e.index)
	}
	slices.Sort(keep)

	out := make([]model.SystemStatsRecord, 0, len(keep))
	for _, i := range keep {
		out = append(out, records[i])
	}
	return out
}

func windowDuration(t string) int64 {
	d, err := time.ParseDuration(t)
	if err != nil {
		return math.MaxInt64
	}
	return int64(d)
}
