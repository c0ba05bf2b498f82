// Package cyclemetrics exposes the outcome of a collection cycle in the
// Prometheus text format, for the node_exporter textfile collector.
package cyclemetrics

import (
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "serverpop"

const ErrWriteTextfile = errors.ErrorCode("cyclemetrics_write_textfile_failed")

// Recorder holds the gauges of a single cycle in a private registry.
type Recorder struct {
	registry *prometheus.Registry

	queryServers *prometheus.GaugeVec
	queryUp      *prometheus.GaugeVec
	rows         prometheus.Gauge
	players      prometheus.Gauge
	servers      prometheus.Gauge
	skipped      prometheus.Gauge
	duration     prometheus.Gauge
	timestamp    prometheus.Gauge
	success      prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queryServers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "servers",
			Help:      "Servers returned by each server-list query",
		}, []string{"query"}),
		queryUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "up",
			Help:      "Whether the server-list query succeeded",
		}, []string{"query"}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "rows",
			Help:      "Aggregated rows produced by the last cycle",
		}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "players",
			Help:      "Players counted by the last cycle",
		}),
		servers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "servers",
			Help:      "Servers seen by the last cycle",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "skipped_servers",
			Help:      "Servers ignored for lacking a map",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of the last cycle",
		}),
		timestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "timestamp_seconds",
			Help:      "Collection timestamp of the last cycle",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "success",
			Help:      "Whether the last cycle completed",
		}),
	}

	r.registry.MustRegister(
		r.queryServers, r.queryUp,
		r.rows, r.players, r.servers, r.skipped,
		r.duration, r.timestamp, r.success,
	)

	return r
}

// ObserveQuery records the outcome of one server-list query.
func (r *Recorder) ObserveQuery(name string, servers int, err error) {
	up := 1.0
	if err != nil {
		up = 0
	}
	r.queryUp.WithLabelValues(name).Set(up)
	r.queryServers.WithLabelValues(name).Set(float64(servers))
}

// ObserveBatch records the aggregation output.
func (r *Recorder) ObserveBatch(rows, players, servers, skipped int) {
	r.rows.Set(float64(rows))
	r.players.Set(float64(players))
	r.servers.Set(float64(servers))
	r.skipped.Set(float64(skipped))
}

// ObserveCycle records when the cycle ran, how long it took and whether it succeeded.
func (r *Recorder) ObserveCycle(at time.Time, took time.Duration, err error) {
	r.timestamp.Set(float64(at.Unix()))
	r.duration.Set(took.Seconds())
	if err != nil {
		r.success.Set(0)
		return
	}
	r.success.Set(1)
}

// Gatherer exposes the private registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically replaces path with the current metrics.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.New().Wrap(ErrWriteTextfile, err)
	}
	return nil
}
