// Package ingest consumes inbound telemetry, appends typed readings to
// the plant state store, and queues the mutated field for persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenkeep/plantmonitor/internal/metrics"
	"github.com/greenkeep/plantmonitor/internal/model"
	"github.com/greenkeep/plantmonitor/internal/state"
	"github.com/greenkeep/plantmonitor/internal/topic"
	"github.com/greenkeep/plantmonitor/pkg/dedup"
)

// lightThreshold is the sensing floor: readings at or below it produce no
// lightLog entry, keeping the log a sparse "light detected" record.
const lightThreshold = 0

// FieldSaver persists one top-level document field for a plant.
type FieldSaver interface {
	SavePlant(ctx context.Context, id string, fields map[string]any) error
}

// HistorySink receives every accepted raw reading (time-series history).
type HistorySink interface {
	Write(plantID, plantName string, channel topic.Channel, value float64, at time.Time)
}

type saveReq struct {
	plantID string
	fields  map[string]any
}

// Pipeline is the single downstream consumer of the transport session.
type Pipeline struct {
	codec   topic.Codec
	store   *state.Store
	saver   FieldSaver
	history HistorySink
	guard   *dedup.Guard

	// Single writer goroutine drains this queue, preserving per-plant
	// append order of persistence writes.
	queue chan saveReq

	now func() time.Time
}

func New(codec topic.Codec, store *state.Store, saver FieldSaver, history HistorySink) *Pipeline {
	return &Pipeline{
		codec:   codec,
		store:   store,
		saver:   saver,
		history: history,
		guard:   dedup.New(10*time.Minute, 20000),
		queue:   make(chan saveReq, 256),
		now:     time.Now,
	}
}

// Start runs the persistence writer until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.queue:
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.saver.SavePlant(wctx, req.plantID, req.fields); err != nil {
				metrics.PersistenceErrors.Inc()
				log.Printf("ingest: persist %s failed, memory stays ahead: %v", req.plantID, err)
			}
			cancel()
		}
	}
}

// Handle processes one inbound message. Message-level problems are logged
// and dropped; Handle never returns an error that would stall the stream.
func (p *Pipeline) Handle(tpc string, msg mqtt.Message) error {
	if msg.MessageID() != 0 && p.guard.Seen(fmt.Sprintf("%s|%d", tpc, msg.MessageID())) {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonDuplicate).Inc()
		return nil
	}

	addr, err := p.codec.Decode(tpc)
	if err != nil {
		if errors.Is(err, topic.ErrUnknownChannel) {
			metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownChannel).Inc()
		}
		log.Printf("ingest: dropped message on %s: %v", tpc, err)
		return nil
	}
	if addr.Direction != topic.DirectionOut {
		return nil // command echo, not ours to consume
	}

	plant, ok := p.store.GetByName(addr.Plant)
	if !ok {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownPlant).Inc()
		log.Printf("ingest: unknown plant %q on %s", addr.Plant, tpc)
		return nil
	}

	reading, raw, err := p.parse(addr.Channel, string(msg.Payload()))
	if err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonMalformedPayload).Inc()
		log.Printf("ingest: malformed %s payload %q for %s", addr.Channel, msg.Payload(), addr.Plant)
		return nil
	}

	if p.history != nil {
		p.history.Write(plant.ID, plant.Name, addr.Channel, raw, p.now())
	}
	if reading == nil {
		return nil // light at or below the sensing threshold
	}

	updated, field, err := p.append(plant.ID, reading)
	if err != nil {
		log.Printf("ingest: plant %s vanished mid-append", plant.ID)
		return nil
	}
	metrics.MessagesConsumed.WithLabelValues(string(addr.Channel)).Inc()

	p.enqueueSave(updated, field)
	return nil
}

// parse decodes the payload once into a tagged reading. A nil reading
// with nil error means the value was sensed but is not logged.
func (p *Pipeline) parse(ch topic.Channel, payload string) (model.Reading, float64, error) {
	now := p.now()
	switch ch {
	case topic.ChannelMoisture:
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, 0, err
		}
		return model.Moisture{Value: v, Timestamp: now}, v, nil
	case topic.ChannelTemperature:
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, 0, err
		}
		return model.Temperature{Value: v, Timestamp: now}, v, nil
	case topic.ChannelLight:
		v, err := strconv.Atoi(payload)
		if err != nil {
			return nil, 0, err
		}
		if v <= lightThreshold {
			return nil, float64(v), nil
		}
		return model.LightDetected{Timestamp: now}, float64(v), nil
	default:
		return nil, 0, fmt.Errorf("unhandled channel %q", ch)
	}
}

// append applies the reading to the store and names the mutated document
// field for the persistence write.
func (p *Pipeline) append(id string, r model.Reading) (model.Plant, string, error) {
	var field string
	updated, err := p.store.Upsert(id, func(pl *model.Plant) {
		switch v := r.(type) {
		case model.Moisture:
			pl.MoistureLog = append(pl.MoistureLog, model.TimedValue{Timestamp: v.Timestamp, Value: v.Value})
			field = "moistureLog"
		case model.Temperature:
			pl.TemperatureLog = append(pl.TemperatureLog, model.TimedValue{Timestamp: v.Timestamp, Value: v.Value})
			field = "temperatureLog"
		case model.LightDetected:
			pl.LightLog = append(pl.LightLog, v.Timestamp)
			field = "lightLog"
		}
	})
	return updated, field, err
}

func (p *Pipeline) enqueueSave(updated model.Plant, field string) {
	var value any
	switch field {
	case "moistureLog":
		value = updated.MoistureLog
	case "temperatureLog":
		value = updated.TemperatureLog
	case "lightLog":
		value = updated.LightLog
	default:
		return
	}
	select {
	case p.queue <- saveReq{plantID: updated.ID, fields: map[string]any{field: value}}:
	default:
		metrics.PersistenceErrors.Inc()
		log.Printf("ingest: persistence queue full, dropped %s write for %s", field, updated.ID)
	}
}
