package model

import "time"

// Time, Values and WithValues let the downsampler aggregate system points.
// Temperatures are not aggregated; a rebuilt point keeps the readings of the
// point it was built from.
func (p SystemDataPoint) Time() time.Time { return p.Date }

func (p SystemDataPoint) Values() []float64 { return []float64{p.CPU, p.MemPct} }

func (p SystemDataPoint) WithValues(date time.Time, v []float64) SystemDataPoint {
	p.Date = date
	p.CPU, p.MemPct = v[0], v[1]
	return p
}

func (p ContainerDataPoint) Time() time.Time { return p.Date }

func (p ContainerDataPoint) Values() []float64 { return []float64{p.CPU, p.Mem} }

func (p ContainerDataPoint) WithValues(date time.Time, v []float64) ContainerDataPoint {
	return ContainerDataPoint{Date: date, CPU: v[0], Mem: v[1]}
}
