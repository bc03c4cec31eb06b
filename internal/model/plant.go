package model

import "time"

// TimedValue is one sampled sensor value with its arrival timestamp.
type TimedValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Plant is the per-device record: configuration plus rolling history logs.
// Name doubles as the topic-hierarchy key, so a rename has to retire the
// old device registration before establishing the new one.
type Plant struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	MinimumMoisture float64 `json:"minimumMoisture"` // percent, 0..100
	WaterVolume     int     `json:"waterVolume"`     // mL per watering
	MinimumLight    float64 `json:"minimumLight"`    // hours required per 48h window
	LightHours      float64 `json:"lightHours"`      // grow-light run time per trigger

	MoistureChannel      int `json:"moistureChannel"`
	LightChannel         int `json:"lightChannel"`
	PumpChannel          int `json:"pumpChannel"`
	LightActuatorChannel int `json:"lightActuatorChannel"`

	// Logs are append-only, ordered by arrival. Arrival order is close to
	// but not guaranteed to be device chronological order.
	WaterLog       []time.Time  `json:"waterLog"`
	MoistureLog    []TimedValue `json:"moistureLog"`
	TemperatureLog []TimedValue `json:"temperatureLog"`
	LightLog       []time.Time  `json:"lightLog"`

	// Opaque blob reference, passed through untouched.
	PlantImage string `json:"plantImage"`
}

// LastMoisture returns the most recently appended moisture reading.
func (p *Plant) LastMoisture() (TimedValue, bool) {
	if len(p.MoistureLog) == 0 {
		return TimedValue{}, false
	}
	return p.MoistureLog[len(p.MoistureLog)-1], true
}

// LastWatering returns the most recent watering timestamp. ok is false when
// the plant has never been watered.
func (p *Plant) LastWatering() (time.Time, bool) {
	if len(p.WaterLog) == 0 {
		return time.Time{}, false
	}
	return p.WaterLog[len(p.WaterLog)-1], true
}

// LightDetectionsSince counts lightLog entries at or after cutoff.
func (p *Plant) LightDetectionsSince(cutoff time.Time) int {
	n := 0
	for _, t := range p.LightLog {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}
