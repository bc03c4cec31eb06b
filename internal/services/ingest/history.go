package ingest

import (
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/greenkeep/plantmonitor/internal/topic"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// History writes every accepted raw reading to InfluxDB through the
// non-blocking write API. Write errors are logged off the async error
// channel and never slow ingestion down.
type History struct {
	client influxdb2.Client
	api    api.WriteAPI
}

func NewHistory(cfg InfluxConfig) *History {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	h := &History{client: client, api: writeAPI}
	go func() {
		for err := range writeAPI.Errors() {
			if err != nil {
				log.Printf("history: influx write error: %v", err)
			}
		}
	}()
	return h
}

// Write queues one point, measurement named after the channel.
func (h *History) Write(plantID, plantName string, channel topic.Channel, value float64, at time.Time) {
	point := influxdb2.NewPoint(
		string(channel),
		map[string]string{"plant_id": plantID, "plant_name": plantName},
		map[string]interface{}{"value": value},
		at,
	)
	h.api.WritePoint(point)
}

// Close flushes pending points and releases the client.
func (h *History) Close() {
	h.api.Flush()
	h.client.Close()
}
