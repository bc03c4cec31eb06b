// Package metrics registers the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantmon_messages_consumed_total",
		Help: "Inbound telemetry messages accepted, by channel.",
	}, []string{"channel"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantmon_messages_dropped_total",
		Help: "Inbound messages dropped, by reason.",
	}, []string{"reason"})

	CommandsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantmon_commands_published_total",
		Help: "Actuator and registry commands published, by kind.",
	}, []string{"kind"})

	PolicyCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plantmon_policy_cycles_total",
		Help: "Completed control policy evaluation cycles.",
	})

	PersistenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plantmon_persistence_errors_total",
		Help: "Durable store writes that failed.",
	})
)

// Drop reasons.
const (
	ReasonUnknownPlant     = "unknown_plant"
	ReasonUnknownChannel   = "unknown_channel"
	ReasonMalformedPayload = "malformed_payload"
	ReasonDuplicate        = "duplicate"
)
