package policy

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greenkeep/plantmonitor/internal/model"
	"github.com/greenkeep/plantmonitor/internal/state"
	"github.com/greenkeep/plantmonitor/internal/topic"
)

type published struct {
	topic   string
	qos     byte
	payload string
}

type fakeBus struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakeBus) Publish(tpc string, qos byte, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{tpc, qos, payload})
	return nil
}

func (f *fakeBus) commands() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saves []map[string]any
}

func (f *fakeSaver) SavePlant(_ context.Context, _ string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, fields)
	return nil
}

func newTestEvaluator(cfg Config) (*Evaluator, *state.Store, *fakeBus, *fakeSaver) {
	store := state.NewStore()
	bus := &fakeBus{}
	saver := &fakeSaver{}
	e := NewEvaluator(bus, topic.NewCodec(""), store, saver, cfg)
	return e, store, bus, saver
}

func dryPlant() model.Plant {
	return model.Plant{
		ID:              "p1",
		Name:            "Fern",
		MinimumMoisture: 40,
		WaterVolume:     250,
		MinimumLight:    20,
		LightHours:      6,
		MoistureLog: []model.TimedValue{
			{Timestamp: time.Now(), Value: 25},
		},
		// enough light that the lighting rule stays quiet
		LightLog: manyPings(time.Now(), 100, 1000*time.Second),
	}
}

func manyPings(end time.Time, n int, gap time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = end.Add(-time.Duration(n-i) * gap)
	}
	return out
}

func TestLowMoistureEmitsWateringCommand(t *testing.T) {
	e, store, bus, saver := newTestEvaluator(Config{})
	store.Put(dryPlant())

	e.Evaluate(context.Background(), mustGet(t, store, "p1"))

	cmds := bus.commands()
	if len(cmds) != 1 {
		t.Fatalf("sent %d commands, want 1: %+v", len(cmds), cmds)
	}
	if cmds[0].payload != "pump_on_250" {
		t.Errorf("payload = %q", cmds[0].payload)
	}
	if cmds[0].topic != e.codec.Command("Fern") {
		t.Errorf("topic = %q", cmds[0].topic)
	}
	if cmds[0].qos != 2 {
		t.Errorf("qos = %d, want 2", cmds[0].qos)
	}

	p := mustGet(t, store, "p1")
	if len(p.WaterLog) != 1 {
		t.Errorf("WaterLog len = %d, want exactly 1", len(p.WaterLog))
	}

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if len(saver.saves) != 1 {
		t.Fatalf("saves = %d, want 1", len(saver.saves))
	}
	if _, ok := saver.saves[0]["waterLog"]; !ok {
		t.Errorf("persisted fields = %v, want waterLog", saver.saves[0])
	}
}

func TestWateringCooldownSuppressesSecondCommand(t *testing.T) {
	e, store, bus, _ := newTestEvaluator(Config{})
	store.Put(dryPlant())

	e.Evaluate(context.Background(), mustGet(t, store, "p1"))
	// moisture still low 30s later, well inside the 600s cooldown
	e.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	e.Evaluate(context.Background(), mustGet(t, store, "p1"))

	if n := countPump(bus.commands()); n != 1 {
		t.Errorf("pump commands = %d, want at most 1 within cooldown", n)
	}
	p := mustGet(t, store, "p1")
	if len(p.WaterLog) != 1 {
		t.Errorf("WaterLog len = %d, want 1", len(p.WaterLog))
	}
}

func TestWateringResumesAfterCooldown(t *testing.T) {
	e, store, bus, _ := newTestEvaluator(Config{})
	store.Put(dryPlant())

	e.Evaluate(context.Background(), mustGet(t, store, "p1"))
	e.now = func() time.Time { return time.Now().Add(601 * time.Second) }
	e.Evaluate(context.Background(), mustGet(t, store, "p1"))

	if n := countPump(bus.commands()); n != 2 {
		t.Errorf("pump commands = %d, want 2 once cooldown passed", n)
	}
}

func TestNeverWateredSkipsCooldownGate(t *testing.T) {
	e, store, bus, _ := newTestEvaluator(Config{})
	p := dryPlant()
	p.WaterLog = nil
	store.Put(p)

	e.Evaluate(context.Background(), mustGet(t, store, "p1"))
	if n := countPump(bus.commands()); n != 1 {
		t.Errorf("pump commands = %d, want 1 for never-watered plant", n)
	}
}

func TestNoMoistureReadingSkipsPlant(t *testing.T) {
	e, store, bus, _ := newTestEvaluator(Config{})
	p := dryPlant()
	p.MoistureLog = nil
	store.Put(p)

	e.evaluateWatering(context.Background(), mustGet(t, store, "p1"))
	if n := countPump(bus.commands()); n != 0 {
		t.Errorf("pump commands = %d, want 0 with no reading", n)
	}
}

// 50 detections x 1000s = 50000s, roughly 13.9 hours of estimated
// exposure: under a 20h minimum the light turns on, under 10h it stays
// off.
func TestLightWindowEstimate(t *testing.T) {
	for _, tc := range []struct {
		minimumLight float64
		wantCommand  bool
	}{
		{20, true},
		{10, false},
	} {
		e, store, bus, _ := newTestEvaluator(Config{LightPingInterval: 1000 * time.Second})
		p := dryPlant()
		p.MinimumMoisture = 0 // watering rule quiet
		p.MinimumLight = tc.minimumLight
		p.LightLog = manyPings(time.Now(), 50, time.Minute)
		store.Put(p)

		e.Evaluate(context.Background(), mustGet(t, store, "p1"))

		var got bool
		for _, c := range bus.commands() {
			if strings.HasPrefix(c.payload, "light_on_") {
				got = true
				if c.payload != "light_on_6" {
					t.Errorf("payload = %q, want light_on_6", c.payload)
				}
			}
		}
		if got != tc.wantCommand {
			t.Errorf("minimumLight=%.0f: command emitted = %v, want %v", tc.minimumLight, got, tc.wantCommand)
		}
	}
}

func TestLightWindowExcludesOldDetections(t *testing.T) {
	e, store, bus, _ := newTestEvaluator(Config{LightPingInterval: 1000 * time.Second})
	p := dryPlant()
	p.MinimumMoisture = 0
	p.MinimumLight = 10
	// plenty of light, but all of it before the 48h window
	p.LightLog = manyPings(time.Now().Add(-49*time.Hour), 100, time.Minute)
	store.Put(p)

	e.Evaluate(context.Background(), mustGet(t, store, "p1"))

	var got bool
	for _, c := range bus.commands() {
		if strings.HasPrefix(c.payload, "light_on_") {
			got = true
		}
	}
	if !got {
		t.Error("stale detections outside the window suppressed the light command")
	}
}

func TestEvaluateAllCoversFleet(t *testing.T) {
	e, store, bus, _ := newTestEvaluator(Config{Workers: 2})
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		p := dryPlant()
		p.ID = name
		p.Name = name
		store.Put(p)
	}

	e.EvaluateAll(context.Background())
	if n := countPump(bus.commands()); n != 5 {
		t.Errorf("pump commands = %d, want one per plant", n)
	}
}

func countPump(cmds []published) int {
	n := 0
	for _, c := range cmds {
		if strings.HasPrefix(c.payload, "pump_on_") {
			n++
		}
	}
	return n
}

func mustGet(t *testing.T, s *state.Store, id string) model.Plant {
	t.Helper()
	p, ok := s.Get(id)
	if !ok {
		t.Fatalf("plant %s missing", id)
	}
	return p
}
