// Package policy runs the periodic control loop: inspect each plant's
// snapshot state, decide watering and lighting, and emit actuator
// commands.
package policy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/greenkeep/plantmonitor/internal/metrics"
	"github.com/greenkeep/plantmonitor/internal/model"
	"github.com/greenkeep/plantmonitor/internal/state"
	"github.com/greenkeep/plantmonitor/internal/topic"
	"github.com/greenkeep/plantmonitor/pkg/mqttbus"
)

// Publisher is the slice of the transport session the evaluator needs.
type Publisher interface {
	Publish(topic string, qos byte, payload string) error
}

// FieldSaver persists one top-level document field for a plant.
type FieldSaver interface {
	SavePlant(ctx context.Context, id string, fields map[string]any) error
}

type Config struct {
	Interval time.Duration // evaluation cadence
	Cooldown time.Duration // minimum gap between waterings of one plant
	Window   time.Duration // trailing span that light detections count in

	// LightPingInterval is the device's light reporting cadence. The
	// exposure estimate multiplies detections by this constant; devices
	// that vary their cadence make the estimate approximate, which is
	// accepted.
	LightPingInterval time.Duration

	Workers int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 600 * time.Second
	}
	if c.Window <= 0 {
		c.Window = 48 * time.Hour
	}
	if c.LightPingInterval <= 0 {
		c.LightPingInterval = 1000 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

type Evaluator struct {
	bus   Publisher
	codec topic.Codec
	store *state.Store
	saver FieldSaver
	cfg   Config

	now func() time.Time
}

func NewEvaluator(bus Publisher, codec topic.Codec, store *state.Store, saver FieldSaver, cfg Config) *Evaluator {
	cfg.applyDefaults()
	return &Evaluator{
		bus:   bus,
		codec: codec,
		store: store,
		saver: saver,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Start runs evaluation cycles until ctx is cancelled.
func (e *Evaluator) Start(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	log.Printf("policy: evaluating every %s (cooldown %s, window %s)",
		e.cfg.Interval, e.cfg.Cooldown, e.cfg.Window)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll fans the fleet out to a bounded worker pool; plants are
// independent, so cross-plant parallelism is safe.
func (e *Evaluator) EvaluateAll(ctx context.Context) {
	plants := e.store.ListAll()
	jobs := make(chan model.Plant)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				e.Evaluate(ctx, p)
			}
		}()
	}
	for _, p := range plants {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	metrics.PolicyCycles.Inc()
}

// Evaluate applies both rules to one plant snapshot. The two machines are
// orthogonal and recomputed from state each cycle; no decision flags are
// stored between cycles.
func (e *Evaluator) Evaluate(ctx context.Context, p model.Plant) {
	e.evaluateWatering(ctx, p)
	e.evaluateLighting(p)
}

func (e *Evaluator) evaluateWatering(ctx context.Context, p model.Plant) {
	latest, ok := p.LastMoisture()
	if !ok {
		log.Printf("policy: %s has no moisture reading yet, skipping", p.Name)
		return
	}
	if latest.Value >= p.MinimumMoisture {
		return
	}

	now := e.now()
	if last, watered := p.LastWatering(); watered && now.Sub(last) <= e.cfg.Cooldown {
		log.Printf("policy: %s below threshold but inside cooldown (watered %s ago)",
			p.Name, now.Sub(last).Round(time.Second))
		return
	}

	if err := e.bus.Publish(e.codec.Command(p.Name), mqttbus.QoSCommand, topic.PumpOn(p.WaterVolume)); err != nil {
		log.Printf("policy: watering command for %s failed: %v", p.Name, err)
		return
	}
	metrics.CommandsPublished.WithLabelValues("pump_on").Inc()
	log.Printf("policy: watering %s (%.1f%% < %.1f%%, %dmL)",
		p.Name, latest.Value, p.MinimumMoisture, p.WaterVolume)

	updated, err := e.store.Upsert(p.ID, func(pl *model.Plant) {
		pl.WaterLog = append(pl.WaterLog, now)
	})
	if err != nil {
		log.Printf("policy: %s removed before waterLog append", p.ID)
		return
	}

	// The watering record is persisted before the cycle is considered
	// complete for this plant; a failure keeps memory as interim truth.
	if err := e.saver.SavePlant(ctx, updated.ID, map[string]any{"waterLog": updated.WaterLog}); err != nil {
		metrics.PersistenceErrors.Inc()
		log.Printf("policy: persist waterLog for %s failed: %v", p.Name, err)
	}
}

func (e *Evaluator) evaluateLighting(p model.Plant) {
	cutoff := e.now().Add(-e.cfg.Window)
	detections := p.LightDetectionsSince(cutoff)
	estimated := float64(detections) * e.cfg.LightPingInterval.Hours()
	if estimated >= p.MinimumLight {
		return
	}

	if err := e.bus.Publish(e.codec.Command(p.Name), mqttbus.QoSCommand, topic.LightOn(p.LightHours)); err != nil {
		log.Printf("policy: lighting command for %s failed: %v", p.Name, err)
		return
	}
	metrics.CommandsPublished.WithLabelValues("light_on").Inc()
	log.Printf("policy: lighting %s (%.1fh of light in window < %.1fh wanted)",
		p.Name, estimated, p.MinimumLight)
}
