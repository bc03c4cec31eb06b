package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	ClientID     string
	Namespace    string

	PostgresDSN  string
	AccountEmail string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	HTTPPort int

	PolicyInterval    time.Duration
	WaterCooldown     time.Duration
	LightWindow       time.Duration
	LightPingInterval time.Duration
	PolicyWorkers     int
}

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

func envSeconds(key string, def time.Duration) time.Duration {
	if n := envInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func loadConfig() Config {
	return Config{
		MQTTHost:     env("MQTT_HOST", "localhost"),
		MQTTPort:     envInt("MQTT_PORT", 1883),
		MQTTUser:     env("MQTT_USER", ""),
		MQTTPassword: env("MQTT_PASSWORD", ""),
		ClientID:     env("MQTT_CLIENT_ID", "plantmon-"+env("HOSTNAME", "local")),
		Namespace:    env("TOPIC_NAMESPACE", ""),

		PostgresDSN:  env("POSTGRES_DSN", ""),
		AccountEmail: env("ACCOUNT_EMAIL", ""),

		InfluxURL:    env("INFLUX_URL", ""),
		InfluxToken:  env("INFLUX_TOKEN", ""),
		InfluxOrg:    env("INFLUX_ORG", "plantmon"),
		InfluxBucket: env("INFLUX_BUCKET", "telemetry"),

		HTTPPort: envInt("HTTP_PORT", 8080),

		PolicyInterval:    envSeconds("POLICY_INTERVAL_SEC", 30*time.Second),
		WaterCooldown:     envSeconds("WATER_COOLDOWN_SEC", 600*time.Second),
		LightWindow:       envSeconds("LIGHT_WINDOW_SEC", 48*time.Hour),
		LightPingInterval: envSeconds("LIGHT_PING_INTERVAL_SEC", 1000*time.Second),
		PolicyWorkers:     envInt("POLICY_WORKERS", 4),
	}
}
