// Package model defines all shared domain types for hublens.
package model

import "time"

// Instance is one configured connection to a monitoring hub.
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Email     string    `json:"email"`
	Insecure  bool      `json:"insecure"`
	CreatedAt time.Time `json:"created_at"`
}

// System status values reported by the hub.
const (
	StatusUp      = "up"
	StatusDown    = "down"
	StatusPaused  = "paused"
	StatusPending = "pending"
)

// SystemInfo is the live info blob attached to a system record.
// Field tags follow the hub's compact wire names.
type SystemInfo struct {
	Hostname     string      `json:"h"`
	Kernel       string      `json:"k"`
	CPUModel     string      `json:"m"`
	Cores        int         `json:"c"`
	Threads      int         `json:"t"`
	Uptime       uint64      `json:"u"`
	CPU          float64     `json:"cpu"`
	MemPct       float64     `json:"mp"`
	DiskPct      float64     `json:"dp"`
	Bandwidth    float64     `json:"b"`
	LoadAvg      [3]float64  `json:"la"`
	AgentVersion string      `json:"v"`
	Battery      *[2]float64 `json:"bat,omitempty"` // percent, charge state
	GPUPct       *float64    `json:"g,omitempty"`
	Podman       bool        `json:"p,omitempty"`
	Services     *[2]int     `json:"sv,omitempty"` // total, failed
}

// System is a monitored host within an instance.
type System struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Status  string     `json:"status"`
	Host    string     `json:"host"`
	Port    string     `json:"port"`
	Info    SystemInfo `json:"info"`
	Updated string     `json:"updated"`
}

// SystemStats is one snapshot of host-level metrics.
type SystemStats struct {
	CPU          float64            `json:"cpu"`
	Mem          float64            `json:"m"`
	MemUsed      float64            `json:"mu"`
	MemPct       float64            `json:"mp"`
	MemBuffCache float64            `json:"mb"`
	Swap         float64            `json:"s"`
	SwapUsed     float64            `json:"su"`
	DiskTotal    float64            `json:"d"`
	DiskUsed     float64            `json:"du"`
	DiskPct      float64            `json:"dp"`
	DiskRead     float64            `json:"dr"`
	DiskWrite    float64            `json:"dw"`
	NetSent      float64            `json:"ns"`
	NetRecv      float64            `json:"nr"`
	Bandwidth    *[2]float64        `json:"b,omitempty"` // sent, received bytes/s
	Temperatures map[string]float64 `json:"t,omitempty"`
	LoadAvg      *[3]float64        `json:"la,omitempty"`
	GPUPct       *float64           `json:"g,omitempty"`
}

// SystemStatsRecord is a stored system_stats row. Type is the aggregation
// window the hub used for the row ("1m", "10m", "20m", ...).
type SystemStatsRecord struct {
	ID      string      `json:"id"`
	System  string      `json:"system"`
	Type    string      `json:"type"`
	Created string      `json:"created"`
	Stats   SystemStats `json:"stats"`
}

// ContainerStat is one container's measurement inside a container_stats row.
type ContainerStat struct {
	Name    string  `json:"n"`
	CPU     float64 `json:"c"`
	Mem     float64 `json:"m"`
	NetSent float64 `json:"ns,omitempty"`
	NetRecv float64 `json:"nr,omitempty"`
}

// ContainerStatsRecord is a stored container_stats row describing every
// container on one system at one instant.
type ContainerStatsRecord struct {
	ID      string          `json:"id"`
	System  string          `json:"system"`
	Type    string          `json:"type"`
	Created string          `json:"created"`
	Stats   []ContainerStat `json:"stats"`
}

// SensorReading is one named temperature value.
type SensorReading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SystemDataPoint is a display-ready host sample.
type SystemDataPoint struct {
	Date         time.Time       `json:"date"`
	CPU          float64         `json:"cpu"`
	MemPct       float64         `json:"mem_pct"`
	Temperatures []SensorReading `json:"temperatures"`
}

// ContainerDataPoint is a display-ready container sample.
type ContainerDataPoint struct {
	Date time.Time `json:"date"`
	CPU  float64   `json:"cpu"`
	Mem  float64   `json:"mem"`
}

// ProcessedContainerData is the time-ordered series of one container on one
// system. It is rebuilt on every fetch cycle.
type ProcessedContainerData struct {
	Name   string               `json:"name"`
	Points []ContainerDataPoint `json:"points"`
}

// StackedPoint is one entity's cumulative interval [YStart, YEnd) at Date.
type StackedPoint struct {
	Date   time.Time `json:"date"`
	Name   string    `json:"name"`
	YStart float64   `json:"y_start"`
	YEnd   float64   `json:"y_end"`
}

// StackedSeries is the chart geometry plus the stacking/legend order.
type StackedSeries struct {
	Points []StackedPoint `json:"points"`
	Domain []string       `json:"domain"`
}

// AlertRecord is a configured alert rule on the hub.
type AlertRecord struct {
	ID        string  `json:"id"`
	System    string  `json:"system"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Min       float64 `json:"min"`
	Triggered bool    `json:"triggered"`
}

// AlertHistoryRecord is an immutable record of a triggered alert.
type AlertHistoryRecord struct {
	ID       string     `json:"id"`
	System   string     `json:"system"`
	Name     string     `json:"name"`
	Value    float64    `json:"value"`
	Resolved *time.Time `json:"resolved,omitempty"`
	Created  time.Time  `json:"created"`
}

// Notification represents a structured alert message delivered locally.
type Notification struct {
	AlertType string            `json:"alert_type"`
	Severity  string            `json:"severity"` // "info", "warning", "critical"
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Instance  string            `json:"instance"`
	Subject   string            `json:"subject"`
	Timestamp time.Time         `json:"timestamp"`
	Resolved  bool              `json:"resolved"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SystemDetails is the extended static description of a system. Older hubs
// do not serve it.
type SystemDetails struct {
	ID       string `json:"id"`
	System   string `json:"system"`
	Hostname string `json:"hostname"`
	Kernel   string `json:"kernel"`
	OS       string `json:"os_name"`
	Arch     string `json:"arch"`
	CPUModel string `json:"cpu"`
	Cores    int    `json:"cores"`
	Threads  int    `json:"threads"`
	Memory   uint64 `json:"memory"`
	Podman   bool   `json:"podman"`
	Updated  string `json:"updated"`
}
