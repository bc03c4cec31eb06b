// Package simulator stands in for the boardside firmware: it publishes
// moisture, light, and temperature telemetry for a set of plants and
// reacts to actuator and registry commands. Development tool only.
package simulator

import (
	"context"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenkeep/plantmonitor/internal/topic"
	"github.com/greenkeep/plantmonitor/pkg/mqttbus"
)

// Bus is the transport surface the simulator needs.
type Bus interface {
	Subscribe(topic string, qos byte)
	Publish(topic string, qos byte, payload string) error
	OnMessage(mqttbus.Handler)
}

type plantSim struct {
	mu       sync.Mutex
	name     string
	moisture float64 // percent, decays until watered
	lightOn  bool
	lightOff *time.Timer
}

type Simulator struct {
	bus      Bus
	codec    topic.Codec
	interval time.Duration

	mu     sync.Mutex
	plants map[string]*plantSim
	rng    *rand.Rand
}

func New(bus Bus, codec topic.Codec, interval time.Duration, names []string) *Simulator {
	s := &Simulator{
		bus:      bus,
		codec:    codec,
		interval: interval,
		plants:   make(map[string]*plantSim),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, n := range names {
		s.plants[n] = &plantSim{name: n, moisture: 30 + s.rng.Float64()*40}
	}
	return s
}

// Start subscribes the command topics and publishes telemetry on the
// interval until ctx is cancelled.
func (s *Simulator) Start(ctx context.Context) {
	s.bus.OnMessage(s.handle)
	s.bus.Subscribe(s.codec.Utility(), mqttbus.QoSCommand)
	s.mu.Lock()
	for name := range s.plants {
		s.bus.Subscribe(s.codec.Command(name), mqttbus.QoSCommand)
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishAll()
		}
	}
}

func (s *Simulator) publishAll() {
	s.mu.Lock()
	sims := make([]*plantSim, 0, len(s.plants))
	for _, p := range s.plants {
		sims = append(sims, p)
	}
	s.mu.Unlock()

	for _, p := range sims {
		p.mu.Lock()
		p.moisture -= 0.2 + s.rng.Float64()*0.3 // slow drying between waterings
		if p.moisture < 0 {
			p.moisture = 0
		}
		moisture := p.moisture
		lightOn := p.lightOn
		name := p.name
		p.mu.Unlock()

		light := 0
		if lightOn || daytime() {
			light = 100 + s.rng.Intn(700)
		}
		temperature := 19 + s.rng.Float64()*4

		s.publish(name, topic.ChannelMoisture, strconv.FormatFloat(moisture, 'f', 1, 64))
		s.publish(name, topic.ChannelLight, strconv.Itoa(light))
		s.publish(name, topic.ChannelTemperature, strconv.FormatFloat(temperature, 'f', 1, 64))
	}
}

func (s *Simulator) publish(plant string, ch topic.Channel, payload string) {
	if err := s.bus.Publish(s.codec.Telemetry(plant, ch), mqttbus.QoSTelemetry, payload); err != nil {
		log.Printf("simulator: publish %s/%s: %v", plant, ch, err)
	}
}

func (s *Simulator) handle(tpc string, msg mqtt.Message) error {
	if tpc == s.codec.Utility() {
		return s.handleRegistry(string(msg.Payload()))
	}

	addr, err := s.codec.Decode(tpc)
	if err != nil || addr.Direction != topic.DirectionIn {
		return nil
	}
	s.mu.Lock()
	p, ok := s.plants[addr.Plant]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	payload := string(msg.Payload())
	switch {
	case strings.HasPrefix(payload, "pump_on_"):
		ml, err := strconv.Atoi(strings.TrimPrefix(payload, "pump_on_"))
		if err != nil {
			return nil
		}
		p.mu.Lock()
		p.moisture += float64(ml) / 10
		if p.moisture > 100 {
			p.moisture = 100
		}
		p.mu.Unlock()
		log.Printf("simulator: %s pumped %dmL", addr.Plant, ml)
	case strings.HasPrefix(payload, "light_on_"):
		hours, err := strconv.ParseFloat(strings.TrimPrefix(payload, "light_on_"), 64)
		if err != nil {
			return nil
		}
		s.setLight(p, true, time.Duration(hours*float64(time.Hour)))
		log.Printf("simulator: %s light on for %.1fh", addr.Plant, hours)
	case payload == topic.TurnLightOn:
		s.setLight(p, true, 0)
	case payload == topic.TurnLightOff:
		s.setLight(p, false, 0)
	}
	return nil
}

// setLight flips the lamp; a positive duration schedules the revert.
func (s *Simulator) setLight(p *plantSim, on bool, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lightOff != nil {
		p.lightOff.Stop()
		p.lightOff = nil
	}
	p.lightOn = on
	if on && d > 0 {
		p.lightOff = time.AfterFunc(d, func() {
			p.mu.Lock()
			p.lightOn = false
			p.lightOff = nil
			p.mu.Unlock()
		})
	}
}

func (s *Simulator) handleRegistry(payload string) error {
	verb, name, _, err := topic.ParseRegistry(payload)
	if err != nil {
		log.Printf("simulator: %v", err)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch verb {
	case "add":
		if _, ok := s.plants[name]; !ok {
			s.plants[name] = &plantSim{name: name, moisture: 30 + s.rng.Float64()*40}
			s.bus.Subscribe(s.codec.Command(name), mqttbus.QoSCommand)
			log.Printf("simulator: registered %s", name)
		}
	case "remove":
		delete(s.plants, name)
		log.Printf("simulator: removed %s", name)
	}
	return nil
}

func daytime() bool {
	h := time.Now().Hour()
	return h >= 8 && h < 18
}
