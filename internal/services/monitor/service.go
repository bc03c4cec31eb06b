// Package monitor wires the session together: one transport session, one
// state store, the ingestion pipeline, and the policy evaluator, plus the
// user-triggered plant operations.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/greenkeep/plantmonitor/internal/metrics"
	"github.com/greenkeep/plantmonitor/internal/model"
	"github.com/greenkeep/plantmonitor/internal/services/ingest"
	"github.com/greenkeep/plantmonitor/internal/services/policy"
	"github.com/greenkeep/plantmonitor/internal/state"
	"github.com/greenkeep/plantmonitor/internal/topic"
	"github.com/greenkeep/plantmonitor/pkg/mqttbus"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

var (
	ErrNotFound  = errors.New("monitor: no such plant")
	ErrBadName   = errors.New("monitor: invalid plant name")
	ErrNameTaken = errors.New("monitor: plant name already in use")
)

// Bus is the transport session surface the monitor drives.
type Bus interface {
	Subscribe(topic string, qos byte)
	Unsubscribe(topic string)
	Publish(topic string, qos byte, payload string) error
	OnMessage(mqttbus.Handler)
	Close()
}

// Syncer is the durable document store boundary.
type Syncer interface {
	Account(ctx context.Context, email string) (model.Account, error)
	LoadAccountPlants(ctx context.Context, ids []string) ([]model.Plant, error)
	CreatePlant(ctx context.Context, p model.Plant) (string, error)
	SavePlant(ctx context.Context, id string, fields map[string]any) error
	DeletePlant(ctx context.Context, id string) error
	AddOwnedPlant(ctx context.Context, email, plantID string) error
	RemoveOwnedPlant(ctx context.Context, email, plantID string) error
}

type Monitor struct {
	bus       Bus
	codec     topic.Codec
	store     *state.Store
	sync      Syncer
	pipeline  *ingest.Pipeline
	evaluator *policy.Evaluator

	mu      sync.Mutex
	account model.Account
	cancel  context.CancelFunc
}

func New(bus Bus, codec topic.Codec, store *state.Store, sync Syncer, history ingest.HistorySink, cfg policy.Config) *Monitor {
	m := &Monitor{
		bus:   bus,
		codec: codec,
		store: store,
		sync:  sync,
	}
	m.pipeline = ingest.New(codec, store, sync, history)
	m.evaluator = policy.NewEvaluator(bus, codec, store, sync, cfg)
	return m
}

// Start loads the account's plants into the state store, subscribes their
// telemetry, and launches the ingestion and policy loops.
func (m *Monitor) Start(ctx context.Context, email string) error {
	account, err := m.sync.Account(ctx, email)
	if err != nil {
		return fmt.Errorf("monitor: load account %s: %w", email, err)
	}
	plants, err := m.sync.LoadAccountPlants(ctx, account.OwnedPlants)
	if err != nil {
		return fmt.Errorf("monitor: load plants: %w", err)
	}
	m.store.LoadAll(plants)

	m.bus.OnMessage(m.pipeline.Handle)
	for _, p := range plants {
		m.bus.Subscribe(m.codec.PlantWildcard(p.Name), mqttbus.QoSTelemetry)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.account = account
	m.cancel = cancel
	m.mu.Unlock()

	go m.pipeline.Start(loopCtx)
	go m.evaluator.Start(loopCtx)

	log.Printf("monitor: session started for %s with %d plants", email, len(plants))
	return nil
}

// Close stops the loops, unsubscribes everything, and releases the
// transport. In-flight publishes are best effort.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.bus.Close()
	m.store.Clear()
	log.Printf("monitor: session closed")
}

// Plants lists the current in-memory records.
func (m *Monitor) Plants() []model.Plant {
	return m.store.ListAll()
}

// Plant returns one record by id.
func (m *Monitor) Plant(id string) (model.Plant, error) {
	p, ok := m.store.Get(id)
	if !ok {
		return model.Plant{}, ErrNotFound
	}
	return p, nil
}

// AddPlant creates the durable document, registers the device wiring on
// the utility channel, and brings the plant into the live session.
func (m *Monitor) AddPlant(ctx context.Context, p model.Plant) (model.Plant, error) {
	if !topic.ValidPlantName(p.Name) {
		return model.Plant{}, ErrBadName
	}
	if _, exists := m.store.GetByName(p.Name); exists {
		return model.Plant{}, ErrNameTaken
	}

	id, err := m.sync.CreatePlant(ctx, p)
	if err != nil {
		return model.Plant{}, err
	}
	p.ID = id

	m.mu.Lock()
	email := m.account.Email
	m.mu.Unlock()
	if err := m.sync.AddOwnedPlant(ctx, email, id); err != nil {
		return model.Plant{}, err
	}

	if err := m.bus.Publish(m.codec.Utility(), mqttbus.QoSCommand, topic.RegistryAdd(p)); err != nil {
		log.Printf("monitor: registry add for %s failed: %v", p.Name, err)
	}
	metrics.CommandsPublished.WithLabelValues("registry_add").Inc()

	m.store.Put(p)
	m.bus.Subscribe(m.codec.PlantWildcard(p.Name), mqttbus.QoSTelemetry)
	log.Printf("monitor: added plant %s (%s)", p.Name, id)
	return p, nil
}

// DeletePlant retires the device registration and removes the plant from
// the session, the owner registry, and the document store.
func (m *Monitor) DeletePlant(ctx context.Context, id string) error {
	p, ok := m.store.Get(id)
	if !ok {
		return ErrNotFound
	}

	if err := m.bus.Publish(m.codec.Utility(), mqttbus.QoSCommand, topic.RegistryRemove(p.Name)); err != nil {
		log.Printf("monitor: registry remove for %s failed: %v", p.Name, err)
	}
	metrics.CommandsPublished.WithLabelValues("registry_remove").Inc()
	m.bus.Unsubscribe(m.codec.PlantWildcard(p.Name))

	m.mu.Lock()
	email := m.account.Email
	m.mu.Unlock()
	if err := m.sync.RemoveOwnedPlant(ctx, email, id); err != nil {
		log.Printf("monitor: registry update after delete of %s failed: %v", id, err)
	}
	if err := m.sync.DeletePlant(ctx, id); err != nil {
		return err
	}

	m.store.Remove(id)
	log.Printf("monitor: deleted plant %s (%s)", p.Name, id)
	return nil
}

// Rename retires the old topic wiring before establishing the new one:
// utility remove for the old name, then add under the new name. The local
// record reflects the new name immediately.
func (m *Monitor) Rename(ctx context.Context, id, newName string) (model.Plant, error) {
	if !topic.ValidPlantName(newName) {
		return model.Plant{}, ErrBadName
	}
	old, ok := m.store.Get(id)
	if !ok {
		return model.Plant{}, ErrNotFound
	}
	if newName == old.Name {
		return old, nil
	}
	if _, exists := m.store.GetByName(newName); exists {
		return model.Plant{}, ErrNameTaken
	}

	if err := m.bus.Publish(m.codec.Utility(), mqttbus.QoSCommand, topic.RegistryRemove(old.Name)); err != nil {
		log.Printf("monitor: registry remove for %s failed: %v", old.Name, err)
	}
	metrics.CommandsPublished.WithLabelValues("registry_remove").Inc()
	m.bus.Unsubscribe(m.codec.PlantWildcard(old.Name))

	updated, err := m.store.Upsert(id, func(pl *model.Plant) { pl.Name = newName })
	if err != nil {
		return model.Plant{}, ErrNotFound
	}

	if err := m.bus.Publish(m.codec.Utility(), mqttbus.QoSCommand, topic.RegistryAdd(updated)); err != nil {
		log.Printf("monitor: registry add for %s failed: %v", newName, err)
	}
	metrics.CommandsPublished.WithLabelValues("registry_add").Inc()
	m.bus.Subscribe(m.codec.PlantWildcard(newName), mqttbus.QoSTelemetry)

	if err := m.sync.SavePlant(ctx, id, map[string]any{"name": newName}); err != nil {
		metrics.PersistenceErrors.Inc()
		log.Printf("monitor: persist rename of %s failed: %v", id, err)
	}
	log.Printf("monitor: renamed %s: %s -> %s", id, old.Name, newName)
	return updated, nil
}

// Settings is a partial configuration update; nil fields are untouched.
type Settings struct {
	MinimumMoisture *float64 `json:"minimumMoisture"`
	WaterVolume     *int     `json:"waterVolume"`
	MinimumLight    *float64 `json:"minimumLight"`
	LightHours      *float64 `json:"lightHours"`
}

// UpdateSettings applies the patch locally and persists the changed
// fields.
func (m *Monitor) UpdateSettings(ctx context.Context, id string, s Settings) (model.Plant, error) {
	fields := make(map[string]any)
	updated, err := m.store.Upsert(id, func(pl *model.Plant) {
		if s.MinimumMoisture != nil {
			pl.MinimumMoisture = *s.MinimumMoisture
			fields["minimumMoisture"] = *s.MinimumMoisture
		}
		if s.WaterVolume != nil {
			pl.WaterVolume = *s.WaterVolume
			fields["waterVolume"] = *s.WaterVolume
		}
		if s.MinimumLight != nil {
			pl.MinimumLight = *s.MinimumLight
			fields["minimumLight"] = *s.MinimumLight
		}
		if s.LightHours != nil {
			pl.LightHours = *s.LightHours
			fields["lightHours"] = *s.LightHours
		}
	})
	if err != nil {
		return model.Plant{}, ErrNotFound
	}
	if len(fields) == 0 {
		return updated, nil
	}
	if err := m.sync.SavePlant(ctx, id, fields); err != nil {
		metrics.PersistenceErrors.Inc()
		log.Printf("monitor: persist settings of %s failed: %v", id, err)
	}
	return updated, nil
}

// WaterNow dispenses the configured volume immediately, outside the
// policy loop, and records the watering.
func (m *Monitor) WaterNow(ctx context.Context, id string) error {
	p, ok := m.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := m.bus.Publish(m.codec.Command(p.Name), mqttbus.QoSCommand, topic.PumpOn(p.WaterVolume)); err != nil {
		return err
	}
	metrics.CommandsPublished.WithLabelValues("pump_on").Inc()

	now := timeNow()
	updated, err := m.store.Upsert(id, func(pl *model.Plant) {
		pl.WaterLog = append(pl.WaterLog, now)
	})
	if err != nil {
		return ErrNotFound
	}
	if err := m.sync.SavePlant(ctx, id, map[string]any{"waterLog": updated.WaterLog}); err != nil {
		metrics.PersistenceErrors.Inc()
		log.Printf("monitor: persist manual watering of %s failed: %v", id, err)
	}
	return nil
}

// SetLight toggles the grow light by hand.
func (m *Monitor) SetLight(_ context.Context, id string, on bool) error {
	p, ok := m.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	payload := topic.TurnLightOff
	if on {
		payload = topic.TurnLightOn
	}
	if err := m.bus.Publish(m.codec.Command(p.Name), mqttbus.QoSCommand, payload); err != nil {
		return err
	}
	metrics.CommandsPublished.WithLabelValues("light_toggle").Inc()
	return nil
}
