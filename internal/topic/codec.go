// Package topic maps logical (plant, channel, direction) addresses to the
// slash-delimited MQTT topic hierarchy and encodes the text payload verbs
// understood by the boardside firmware.
package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/greenkeep/plantmonitor/internal/model"
)

const DefaultNamespace = "cs326/plantMonitor"

// Channel names a signal stream for a plant.
type Channel string

const (
	ChannelMoisture    Channel = "moisture"
	ChannelLight       Channel = "light"
	ChannelTemperature Channel = "temperature"
)

// Direction is the flow of a topic relative to the device.
type Direction string

const (
	DirectionOut Direction = "out" // telemetry, device -> broker
	DirectionIn  Direction = "in"  // commands, broker -> device
)

var (
	ErrBadTopic       = errors.New("topic: not in this namespace or malformed")
	ErrUnknownChannel = errors.New("topic: unknown channel segment")
	ErrBadPlantName   = errors.New("topic: plant name must be non-empty and slash-free")
)

// Address is the decoded form of a plant-scoped topic.
type Address struct {
	Plant     string
	Channel   Channel // empty for command (in) topics
	Direction Direction
}

// Codec encodes and decodes topics under a fixed namespace root.
type Codec struct {
	Namespace string
}

func NewCodec(namespace string) Codec {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Codec{Namespace: strings.Trim(namespace, "/")}
}

// ValidPlantName reports whether name can be used as a topic segment.
func ValidPlantName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/#+")
}

// Telemetry returns <ns>/<plant>/out/<channel>.
func (c Codec) Telemetry(plant string, ch Channel) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.Namespace, plant, DirectionOut, ch)
}

// Command returns <ns>/<plant>/in.
func (c Codec) Command(plant string) string {
	return fmt.Sprintf("%s/%s/%s", c.Namespace, plant, DirectionIn)
}

// Utility returns the broker-wide registry command topic.
func (c Codec) Utility() string {
	return c.Namespace + "/utility"
}

// PlantWildcard subscribes all telemetry channels of one plant.
func (c Codec) PlantWildcard(plant string) string {
	return fmt.Sprintf("%s/%s/%s/#", c.Namespace, plant, DirectionOut)
}

// AllTelemetry subscribes every plant's telemetry under the namespace.
func (c Codec) AllTelemetry() string {
	return fmt.Sprintf("%s/+/%s/#", c.Namespace, DirectionOut)
}

// Decode parses a plant-scoped topic back into an Address. The utility
// topic decodes to an empty plant with no channel.
func (c Codec) Decode(tpc string) (Address, error) {
	rest, ok := strings.CutPrefix(tpc, c.Namespace+"/")
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrBadTopic, tpc)
	}
	if rest == "utility" {
		return Address{Direction: DirectionIn}, nil
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && parts[1] == string(DirectionIn):
		return Address{Plant: parts[0], Direction: DirectionIn}, nil
	case len(parts) == 3 && parts[1] == string(DirectionOut):
		ch := Channel(parts[2])
		switch ch {
		case ChannelMoisture, ChannelLight, ChannelTemperature:
			return Address{Plant: parts[0], Channel: ch, Direction: DirectionOut}, nil
		default:
			return Address{}, fmt.Errorf("%w: %q", ErrUnknownChannel, parts[2])
		}
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrBadTopic, tpc)
	}
}

// ---- payload verbs ----

// PumpOn dispenses volume mL through the plant's pump.
func PumpOn(volumeML int) string {
	return fmt.Sprintf("pump_on_%d", volumeML)
}

// LightOn runs the grow light for the given number of hours.
func LightOn(hours float64) string {
	return "light_on_" + strconv.FormatFloat(hours, 'f', -1, 64)
}

const (
	TurnLightOn  = "turn_light_on"
	TurnLightOff = "turn_light_off"
)

// RegistryAdd wires a named plant to its four board channels.
func RegistryAdd(p model.Plant) string {
	return fmt.Sprintf("add %s %d %d %d %d",
		p.Name, p.MoistureChannel, p.LightChannel, p.PumpChannel, p.LightActuatorChannel)
}

// RegistryRemove retires a named plant from the device registry.
func RegistryRemove(name string) string {
	return "remove " + name
}

// ParseRegistry parses an utility-channel payload. Used by the device
// simulator; the core only emits these.
func ParseRegistry(payload string) (verb, name string, channels [4]int, err error) {
	fields := strings.Fields(payload)
	switch {
	case len(fields) == 2 && fields[0] == "remove":
		return "remove", fields[1], channels, nil
	case len(fields) == 6 && fields[0] == "add":
		for i := 0; i < 4; i++ {
			n, convErr := strconv.Atoi(fields[2+i])
			if convErr != nil {
				return "", "", channels, fmt.Errorf("topic: bad channel %q in add", fields[2+i])
			}
			channels[i] = n
		}
		return "add", fields[1], channels, nil
	default:
		return "", "", channels, fmt.Errorf("topic: unrecognized registry payload %q", payload)
	}
}
