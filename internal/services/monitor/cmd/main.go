package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenkeep/plantmonitor/internal/services/ingest"
	"github.com/greenkeep/plantmonitor/internal/services/monitor"
	"github.com/greenkeep/plantmonitor/internal/services/policy"
	"github.com/greenkeep/plantmonitor/internal/services/syncer"
	"github.com/greenkeep/plantmonitor/internal/state"
	"github.com/greenkeep/plantmonitor/internal/topic"
	"github.com/greenkeep/plantmonitor/pkg/mqttbus"
)

func main() {
	cfg := loadConfig()
	if cfg.PostgresDSN == "" {
		log.Fatalf("POSTGRES_DSN is required")
	}
	if cfg.AccountEmail == "" {
		log.Fatalf("ACCOUNT_EMAIL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := mqttbus.Connect(ctx, mqttbus.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		User:     cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: cfg.ClientID,
	})
	if err != nil {
		log.Fatalf("broker connect failed: %v", err)
	}

	store, err := syncer.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("document store open failed: %v", err)
	}
	defer store.Close()

	var history ingest.HistorySink
	if cfg.InfluxURL != "" {
		h := ingest.NewHistory(ingest.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		defer h.Close()
		history = h
	}

	mon := monitor.New(bus, topic.NewCodec(cfg.Namespace), state.NewStore(), store, history, policy.Config{
		Interval:          cfg.PolicyInterval,
		Cooldown:          cfg.WaterCooldown,
		Window:            cfg.LightWindow,
		LightPingInterval: cfg.LightPingInterval,
		Workers:           cfg.PolicyWorkers,
	})
	if err := mon.Start(ctx, cfg.AccountEmail); err != nil {
		log.Fatalf("session start failed: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: monitor.NewRouter(mon),
	}
	go func() {
		log.Printf("ops api listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Printf("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(shutCtx)
	shutCancel()
	mon.Close()
	cancel()
}
