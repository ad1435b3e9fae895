// Package timerange maps the user-selected chart window to query filters,
// axis formats, refresh cadence and downsampling bucket widths.
package timerange

import (
	"fmt"
	"strings"
	"time"
)

// Range is a relative chart window ending now.
type Range int

const (
	LastHour Range = iota
	Last12Hours
	Last24Hours
	Last7Days
	Last30Days
)

// TimestampLayout is the hub's filter timestamp format (UTC, milliseconds,
// literal trailing Z).
const TimestampLayout = "2006-01-02 15:04:05.000Z"

// clockSkew pushes the window start forward so points arriving now are not
// excluded by a slightly slow device clock.
const clockSkew = 5 * time.Minute

// All lists every range in display order.
var All = []Range{LastHour, Last12Hours, Last24Hours, Last7Days, Last30Days}

var names = map[Range]string{
	LastHour:    "1h",
	Last12Hours: "12h",
	Last24Hours: "24h",
	Last7Days:   "7d",
	Last30Days:  "30d",
}

// Parse converts "1h", "12h", "24h", "7d" or "30d" to a Range.
func Parse(s string) (Range, error) {
	valid := make([]string, 0, len(All))
	for _, r := range All {
		if names[r] == s {
			return r, nil
		}
		valid = append(valid, names[r])
	}
	return 0, fmt.Errorf("unknown time range %q (expected one of %s)", s, strings.Join(valid, ", "))
}

func (r Range) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return fmt.Sprintf("Range(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Range) MarshalText() ([]byte, error) {
	if _, ok := names[r]; !ok {
		return nil, fmt.Errorf("invalid time range %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Range) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Window is the length of the range.
func (r Range) Window() time.Duration {
	switch r {
	case LastHour:
		return time.Hour
	case Last12Hours:
		return 12 * time.Hour
	case Last24Hours:
		return 24 * time.Hour
	case Last7Days:
		return 7 * 24 * time.Hour
	case Last30Days:
		return 30 * 24 * time.Hour
	}
	return time.Hour
}

// Start is the earliest timestamp included by Filter at now.
func (r Range) Start(now time.Time) time.Time {
	return now.Add(clockSkew).Add(-r.Window()).UTC()
}

// Filter returns the server-side filter expression selecting the window.
func (r Range) Filter(now time.Time) string {
	return fmt.Sprintf("created >= '%s'", FormatTimestamp(r.Start(now)))
}

// FormatTimestamp renders t in the hub's filter format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a hub timestamp. The hub's own layout is tried
// first, then RFC 3339 and the layout without milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// AxisFormat is the time.Format layout for chart axis labels.
func (r Range) AxisFormat() string {
	if r.Window() <= 24*time.Hour {
		return "15:04"
	}
	return "02/01"
}

// RefreshInterval is how often data for this range should be re-fetched.
func (r Range) RefreshInterval() time.Duration {
	switch r {
	case LastHour:
		return 60 * time.Second
	case Last12Hours:
		return 1800 * time.Second
	default:
		return 3600 * time.Second
	}
}

// TargetPoints is the desired number of points per series after downsampling.
func (r Range) TargetPoints() int {
	if r == LastHour {
		return 120
	}
	return 100
}

// MinBucket is the smallest downsampling bucket allowed for the range.
func (r Range) MinBucket() time.Duration {
	switch r {
	case LastHour, Last12Hours:
		return 30 * time.Second
	case Last24Hours:
		return 60 * time.Second
	case Last7Days:
		return 300 * time.Second
	default:
		return 900 * time.Second
	}
}

// BucketInterval derives the downsampling bucket width for a series that
// spans total.
func (r Range) BucketInterval(total time.Duration) time.Duration {
	return max(r.MinBucket(), total/time.Duration(r.TargetPoints()))
}
