package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/greenkeep/plantmonitor/internal/simulator"
	"github.com/greenkeep/plantmonitor/internal/topic"
	"github.com/greenkeep/plantmonitor/pkg/mqttbus"
)

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := mqttbus.Connect(ctx, mqttbus.Config{
		Host:     env("MQTT_HOST", "localhost"),
		Port:     envInt("MQTT_PORT", 1883),
		User:     env("MQTT_USER", ""),
		Password: env("MQTT_PASSWORD", ""),
		ClientID: "plantmon-simulator-" + env("HOSTNAME", "local"),
	})
	if err != nil {
		log.Fatalf("broker connect failed: %v", err)
	}

	names := strings.Split(env("SIM_PLANTS", "Keanu_Leaves,Samuel_Stems"), ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	interval := time.Duration(envInt("SIM_INTERVAL_SEC", 10)) * time.Second

	sim := simulator.New(bus, topic.NewCodec(env("TOPIC_NAMESPACE", "")), interval, names)
	go sim.Start(ctx)
	log.Printf("simulator running for %v every %s", names, interval)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	cancel()
}
