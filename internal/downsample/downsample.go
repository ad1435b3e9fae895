// Package downsample reduces long time series to a bounded number of points
// by aggregating fixed-width time buckets.
package downsample

import (
	"fmt"
	"slices"
	"time"
)

// Threshold is the series length at or below which Downsample is a no-op.
const Threshold = 150

// Method selects how the values inside a bucket are combined.
type Method int

const (
	Average Method = iota
	Max
	Median
)

// ParseMethod converts "average", "max" or "median" to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "average", "avg", "":
		return Average, nil
	case "max":
		return Max, nil
	case "median":
		return Median, nil
	}
	return 0, fmt.Errorf("unknown downsample method %q (expected average, max or median)", s)
}

func (m Method) String() string {
	switch m {
	case Average:
		return "average"
	case Max:
		return "max"
	case Median:
		return "median"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Point is a timestamped sample with one or more numeric fields. WithValues
// builds a new point of the same type at date carrying the given values, in
// the order Values returns them.
type Point[P any] interface {
	Time() time.Time
	Values() []float64
	WithValues(date time.Time, values []float64) P
}

// Downsample aggregates points into buckets of width interval. Series of
// Threshold points or fewer are returned unchanged. Each bucket starts at its
// first point and collects every following point strictly before
// start+interval; the output point carries the bucket's earliest date.
func Downsample[P Point[P]](points []P, interval time.Duration, method Method) []P {
	if len(points) <= Threshold || interval <= 0 {
		return points
	}

	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b P) int {
		return a.Time().Compare(b.Time())
	})

	out := make([]P, 0, len(sorted)/2)
	start := 0
	bucketEnd := sorted[0].Time().Add(interval)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Time().Before(bucketEnd) {
			continue
		}
		out = append(out, aggregate(sorted[start:i], method))
		start = i
		bucketEnd = sorted[i].Time().Add(interval)
	}
	out = append(out, aggregate(sorted[start:], method))
	return out
}

// aggregate collapses a non-empty, date-sorted bucket into one point.
func aggregate[P Point[P]](bucket []P, method Method) P {
	first := bucket[0]
	if len(bucket) == 1 {
		return first
	}

	width := len(first.Values())
	columns := make([][]float64, width)
	for f := range columns {
		columns[f] = make([]float64, 0, len(bucket))
	}
	for _, p := range bucket {
		vals := p.Values()
		for f := 0; f < width && f < len(vals); f++ {
			columns[f] = append(columns[f], vals[f])
		}
	}

	values := make([]float64, width)
	for f, col := range columns {
		values[f] = Aggregate(col, method)
	}
	return first.WithValues(first.Time(), values)
}

// Aggregate combines values with method. Median returns the element at
// index len/2 of the sorted values, so even-sized inputs yield the upper of
// the two middle elements rather than their mean.
func Aggregate(values []float64, method Method) float64 {
	if len(values) == 0 {
		return 0
	}
	switch method {
	case Max:
		return slices.Max(values)
	case Median:
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		return sorted[len(sorted)/2]
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}
