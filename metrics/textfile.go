package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poundifdef/queuecheck/models"
)

// WriteTextfile writes the outcome of one check in the node_exporter textfile
// format. The depth gauge is left out when the queue was never counted.
func WriteTextfile(path string, queue string, backend string, r models.Result, elapsed time.Duration) error {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"queue": queue, "backend": backend}

	status := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "queuecheck_status",
		Help:        "Nagios status code of the last check (0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN).",
		ConstLabels: labels,
	})
	status.Set(float64(r.Status.ExitCode()))

	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "queuecheck_duration_seconds",
		Help:        "Time taken by the last check.",
		ConstLabels: labels,
	})
	duration.Set(elapsed.Seconds())

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "queuecheck_last_run_timestamp_seconds",
		Help:        "Unix time of the last check.",
		ConstLabels: labels,
	})
	lastRun.SetToCurrentTime()

	registry.MustRegister(status, duration, lastRun)

	if r.Count >= 0 {
		depth := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "queuecheck_queue_messages",
			Help:        "Messages waiting on the queue at the last check.",
			ConstLabels: labels,
		})
		depth.Set(float64(r.Count))
		registry.MustRegister(depth)
	}

	return prometheus.WriteToTextfile(path, registry)
}
