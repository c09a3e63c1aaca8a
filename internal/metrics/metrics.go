package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes, used as the "outcome" label.
const (
	OutcomeStored      = "stored"
	OutcomeIgnored     = "ignored"
	OutcomeDecodeError = "decode_error"
	OutcomeInvalid     = "invalid"
	OutcomeStoreError  = "store_error"
	OutcomeDropped     = "dropped"
)

// Messages received from the broker, labeled by how they ended
var IngestMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iot_bridge_ingest_messages_total",
		Help: "Telemetry messages handled by the ingestion pipeline",
	},
	[]string{"outcome"},
)

// Insert latency, including time spent waiting for a pooled connection
var StoreWriteSeconds = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "iot_bridge_store_write_seconds",
		Help:    "Latency of a single telemetry insert",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
)

// Deliveries accepted by Submit and not yet picked up by a worker
var IngestQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "iot_bridge_ingest_queue_depth",
		Help: "Messages waiting for an ingestion worker",
	},
)

// Last stored readings, handy for a Grafana single-stat without hitting the DB
var LastTemperature = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "iot_bridge_last_temperature_celsius",
		Help: "Temperature of the most recently stored reading",
	},
)

var LastHumidity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "iot_bridge_last_humidity_percent",
		Help: "Humidity of the most recently stored reading",
	},
)

var LastLux = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "iot_bridge_last_lux",
		Help: "Light level of the most recently stored reading",
	},
)

// Wall time of GET /api/data_sensor, all three reads included
var SummarySeconds = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "iot_bridge_summary_seconds",
		Help:    "Time to compute one sensor summary",
		Buckets: prometheus.DefBuckets,
	},
)

// Relay commands, labeled by state and result (ok, invalid, publish_error)
var ControlCommands = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iot_bridge_control_commands_total",
		Help: "Relay control requests handled by the dispatcher",
	},
	[]string{"state", "result"},
)
