package syncer

import (
	"testing"
	"time"
)

func TestDecodePlantFullDocument(t *testing.T) {
	doc := []byte(`{
		"name": "Fern",
		"minimumMoisture": 40,
		"waterVolume": 250,
		"minimumLight": 20,
		"lightHours": 6,
		"moistureLog": [{"timestamp": "2026-03-01T12:00:00Z", "value": 37.5}],
		"waterLog": ["2026-03-01T08:00:00Z"],
		"lightLog": ["2026-03-01T09:00:00Z"]
	}`)
	p, err := decodePlant("p1", doc)
	if err != nil {
		t.Fatalf("decodePlant: %v", err)
	}
	if p.ID != "p1" || p.Name != "Fern" {
		t.Errorf("identity = %q/%q", p.ID, p.Name)
	}
	if p.MinimumMoisture != 40 || p.WaterVolume != 250 || p.MinimumLight != 20 || p.LightHours != 6 {
		t.Errorf("settings = %+v", p)
	}
	if len(p.MoistureLog) != 1 || p.MoistureLog[0].Value != 37.5 {
		t.Errorf("moistureLog = %v", p.MoistureLog)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if len(p.WaterLog) != 1 || !p.WaterLog[0].Equal(want) {
		t.Errorf("waterLog = %v", p.WaterLog)
	}
}

// Documents written by older clients omit the log arrays entirely; they
// must come back as empty slices, not nil, so appends and rolling-window
// counts work without special cases.
func TestDecodePlantDefaultsAbsentLogs(t *testing.T) {
	p, err := decodePlant("p2", []byte(`{"name": "Ivy", "minimumMoisture": 30}`))
	if err != nil {
		t.Fatalf("decodePlant: %v", err)
	}
	if p.WaterLog == nil || p.MoistureLog == nil || p.TemperatureLog == nil || p.LightLog == nil {
		t.Errorf("nil log slice survived decode: %+v", p)
	}
	if len(p.WaterLog)+len(p.MoistureLog)+len(p.TemperatureLog)+len(p.LightLog) != 0 {
		t.Errorf("defaulted logs not empty: %+v", p)
	}
}

func TestDecodePlantKeepsEmbeddedID(t *testing.T) {
	p, err := decodePlant("row-key", []byte(`{"id": "doc-id", "name": "Aloe"}`))
	if err != nil {
		t.Fatalf("decodePlant: %v", err)
	}
	if p.ID != "doc-id" {
		t.Errorf("id = %q, want the document's own id", p.ID)
	}
}

func TestDecodePlantRejectsMalformed(t *testing.T) {
	if _, err := decodePlant("p3", []byte(`{"name": `)); err == nil {
		t.Error("malformed document decoded without error")
	}
}

func TestDecodePlantChannels(t *testing.T) {
	doc := []byte(`{"name": "Palm", "moistureChannel": 1, "lightChannel": 2, "pumpChannel": 3, "lightActuatorChannel": 4}`)
	p, err := decodePlant("p4", doc)
	if err != nil {
		t.Fatalf("decodePlant: %v", err)
	}
	if p.MoistureChannel != 1 || p.LightChannel != 2 || p.PumpChannel != 3 || p.LightActuatorChannel != 4 {
		t.Errorf("channels = %+v", p)
	}
}
