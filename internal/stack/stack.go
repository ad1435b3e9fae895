// Package stack builds cumulative "stacked area" geometry across named
// series that share a metric.
package stack

import (
	"cmp"
	"slices"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
)

// Value is one sample of an entity's series.
type Value struct {
	Date  time.Time
	Value float64
}

// Series is the samples of one named entity.
type Series struct {
	Name   string
	Values []Value
}

// Stack returns one [YStart, YEnd) interval per (date, entity) pair across
// the union of all dates, plus the domain: entity names ordered by ascending
// mean value (ties by name). Entities are stacked in domain order, so the
// smallest consumer sits at the bottom. An entity with no sample at a date
// contributes a zero-width interval there. If an entity has several samples
// at the same date the last one wins.
//
// Points are ordered by date, then by domain position.
func Stack(series []Series) ([]model.StackedPoint, []string) {
	type ranked struct {
		name string
		mean float64
	}

	values := make(map[string]map[int64]float64, len(series))
	var dates []time.Time
	seenDate := make(map[int64]bool)
	var order []ranked

	for _, s := range series {
		byDate, ok := values[s.Name]
		if !ok {
			byDate = make(map[int64]float64, len(s.Values))
			values[s.Name] = byDate
			order = append(order, ranked{name: s.Name, mean: mean(s.Values)})
		}
		for _, v := range s.Values {
			key := v.Date.UnixNano()
			byDate[key] = v.Value
			if !seenDate[key] {
				seenDate[key] = true
				dates = append(dates, v.Date)
			}
		}
	}

	slices.SortStableFunc(order, func(a, b ranked) int {
		if c := cmp.Compare(a.mean, b.mean); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	domain := make([]string, len(order))
	for i, r := range order {
		domain[i] = r.name
	}

	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	points := make([]model.StackedPoint, 0, len(dates)*len(domain))
	for _, d := range dates {
		key := d.UnixNano()
		var total float64
		for _, name := range domain {
			v := values[name][key] // zero when missing
			points = append(points, model.StackedPoint{
				Date:   d,
				Name:   name,
				YStart: total,
				YEnd:   total + v,
			})
			total += v
		}
	}
	return points, domain
}

func mean(vs []Value) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v.Value
	}
	return sum / float64(len(vs))
}

// FromContainers stacks container series on cpu or memory.
func FromContainers(data []model.ProcessedContainerData, metric model.ContainerMetricKind) model.StackedSeries {
	series := make([]Series, 0, len(data))
	for _, c := range data {
		s := Series{Name: c.Name, Values: make([]Value, len(c.Points))}
		for i, p := range c.Points {
			v := p.CPU
			if metric == model.ContainerMemory {
				v = p.Mem
			}
			s.Values[i] = Value{Date: p.Date, Value: v}
		}
		series = append(series, s)
	}
	points, domain := Stack(series)
	return model.StackedSeries{Points: points, Domain: domain}
}
