package model

import "time"

// Reading is the tagged variant produced once at the ingestion boundary.
// Downstream code switches on the concrete type instead of re-parsing the
// wire payload.
type Reading interface {
	At() time.Time
	reading()
}

// Moisture is a soil moisture sample in percent.
type Moisture struct {
	Value     float64
	Timestamp time.Time
}

// Temperature is an ambient temperature sample in degrees Celsius.
type Temperature struct {
	Value     float64
	Timestamp time.Time
}

// LightDetected records that light above the sensing threshold was seen.
// The raw level is not kept; the log is a sparse detection log.
type LightDetected struct {
	Timestamp time.Time
}

func (m Moisture) At() time.Time      { return m.Timestamp }
func (t Temperature) At() time.Time   { return t.Timestamp }
func (l LightDetected) At() time.Time { return l.Timestamp }

func (Moisture) reading()      {}
func (Temperature) reading()   {}
func (LightDetected) reading() {}
