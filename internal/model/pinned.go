package model

import (
	"encoding/json"
	"fmt"
)

// SystemMetricKind names a system-level chart.
type SystemMetricKind string

const (
	MetricInfo              SystemMetricKind = "info"
	MetricCPU               SystemMetricKind = "cpu"
	MetricMemory            SystemMetricKind = "memory"
	MetricTemperature       SystemMetricKind = "temperature"
	MetricDiskIO            SystemMetricKind = "disk_io"
	MetricDiskUsage         SystemMetricKind = "disk_usage"
	MetricBandwidth         SystemMetricKind = "bandwidth"
	MetricLoad              SystemMetricKind = "load"
	MetricSwap              SystemMetricKind = "swap"
	MetricGPU               SystemMetricKind = "gpu"
	MetricNetworkInterfaces SystemMetricKind = "network_interfaces"
	MetricExtraFilesystems  SystemMetricKind = "extra_filesystems"
)

var systemMetrics = map[SystemMetricKind]bool{
	MetricInfo: true, MetricCPU: true, MetricMemory: true, MetricTemperature: true,
	MetricDiskIO: true, MetricDiskUsage: true, MetricBandwidth: true, MetricLoad: true,
	MetricSwap: true, MetricGPU: true, MetricNetworkInterfaces: true, MetricExtraFilesystems: true,
}

// ContainerMetricKind names a per-container chart metric.
type ContainerMetricKind string

const (
	ContainerCPU    ContainerMetricKind = "cpu"
	ContainerMemory ContainerMetricKind = "memory"
)

func (k ContainerMetricKind) valid() bool {
	return k == ContainerCPU || k == ContainerMemory
}

// PinnedItem identifies one chart pinned to the dashboard. The set of
// implementations is closed: SystemMetric, ContainerMetric and
// StackedContainers.
type PinnedItem interface {
	// Key is a stable identity used for de-duplication.
	Key() string
	pinned()
}

// SystemMetric pins a system-level chart.
type SystemMetric struct {
	Metric SystemMetricKind
}

// ContainerMetric pins one named container's cpu or memory chart.
type ContainerMetric struct {
	Name   string
	Metric ContainerMetricKind
}

// StackedContainers pins the stacked all-containers chart for a metric.
type StackedContainers struct {
	Metric ContainerMetricKind
}

func (s SystemMetric) Key() string      { return "system:" + string(s.Metric) }
func (c ContainerMetric) Key() string   { return "container:" + string(c.Metric) + ":" + c.Name }
func (s StackedContainers) Key() string { return "stacked:" + string(s.Metric) }

func (SystemMetric) pinned()      {}
func (ContainerMetric) pinned()   {}
func (StackedContainers) pinned() {}

// pinnedEnvelope is the persisted JSON form of a PinnedItem.
type pinnedEnvelope struct {
	Kind   string `json:"kind"`
	Metric string `json:"metric"`
	Name   string `json:"name,omitempty"`
}

// MarshalPinned encodes a PinnedItem to its tagged JSON form.
func MarshalPinned(item PinnedItem) ([]byte, error) {
	var env pinnedEnvelope
	switch v := item.(type) {
	case SystemMetric:
		env = pinnedEnvelope{Kind: "system", Metric: string(v.Metric)}
	case ContainerMetric:
		env = pinnedEnvelope{Kind: "container", Metric: string(v.Metric), Name: v.Name}
	case StackedContainers:
		env = pinnedEnvelope{Kind: "stacked", Metric: string(v.Metric)}
	default:
		return nil, fmt.Errorf("unknown pinned item %T", item)
	}
	return json.Marshal(env)
}

// UnmarshalPinned decodes and validates a tagged PinnedItem.
func UnmarshalPinned(data []byte) (PinnedItem, error) {
	var env pinnedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing pinned item: %w", err)
	}
	return env.item()
}

func (e pinnedEnvelope) item() (PinnedItem, error) {
	switch e.Kind {
	case "system":
		m := SystemMetricKind(e.Metric)
		if !systemMetrics[m] {
			return nil, fmt.Errorf("unknown system metric %q", e.Metric)
		}
		return SystemMetric{Metric: m}, nil
	case "container":
		m := ContainerMetricKind(e.Metric)
		if !m.valid() {
			return nil, fmt.Errorf("unknown container metric %q", e.Metric)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("container pin requires a name")
		}
		return ContainerMetric{Name: e.Name, Metric: m}, nil
	case "stacked":
		m := ContainerMetricKind(e.Metric)
		if !m.valid() {
			return nil, fmt.Errorf("unknown container metric %q", e.Metric)
		}
		return StackedContainers{Metric: m}, nil
	default:
		return nil, fmt.Errorf("unknown pinned item kind %q", e.Kind)
	}
}

// PinnedList is an ordered list of pins with JSON support.
type PinnedList []PinnedItem

func (l PinnedList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for _, item := range l {
		b, err := MarshalPinned(item)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func (l *PinnedList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing pinned list: %w", err)
	}
	out := make(PinnedList, 0, len(raw))
	for _, r := range raw {
		item, err := UnmarshalPinned(r)
		if err != nil {
			return err
		}
		out = append(out, item)
	}
	*l = out
	return nil
}

// PinScope identifies the pinned list of one system on one instance.
type PinScope struct {
	InstanceID string
	SystemID   string
}

// Key returns the scope's "{instanceId}-{systemId}" form.
func (s PinScope) Key() string { return s.InstanceID + "-" + s.SystemID }

// ParsePinned builds a PinnedItem from CLI/API fields.
func ParsePinned(kind, metric, name string) (PinnedItem, error) {
	return pinnedEnvelope{Kind: kind, Metric: metric, Name: name}.item()
}
