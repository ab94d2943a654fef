package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects one run's metrics on a private registry so each run
// writes a complete textfile.
type Recorder struct {
	registry *prometheus.Registry

	stepDuration *prometheus.GaugeVec
	stepFailures *prometheus.GaugeVec
	apps         *prometheus.GaugeVec
	success      prometheus.Gauge
	lastRun      prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "foldhost",
				Subsystem: "deploy",
				Name:      "step_duration_seconds",
				Help:      "Duration of each pipeline step in the last run.",
			},
			[]string{"step"},
		),
		stepFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "foldhost",
				Subsystem: "deploy",
				Name:      "step_failures",
				Help:      "Recoverable failures per step in the last run.",
			},
			[]string{"step"},
		),
		apps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "foldhost",
				Subsystem: "deploy",
				Name:      "apps",
				Help:      "Apps in the desired topology by kind.",
			},
			[]string{"kind"},
		),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foldhost",
			Subsystem: "deploy",
			Name:      "success",
			Help:      "1 if the last run reached DONE.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foldhost",
			Subsystem: "deploy",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(r.stepDuration, r.stepFailures, r.apps, r.success, r.lastRun)
	return r
}

func (r *Recorder) ObserveStep(step string, d time.Duration, failures int) {
	r.stepDuration.WithLabelValues(step).Set(d.Seconds())
	r.stepFailures.WithLabelValues(step).Set(float64(failures))
}

func (r *Recorder) SetApps(kind string, n int) {
	r.apps.WithLabelValues(kind).Set(float64(n))
}

func (r *Recorder) Finish(ok bool, at time.Time) {
	if ok {
		r.success.Set(1)
	} else {
		r.success.Set(0)
	}
	r.lastRun.Set(float64(at.Unix()))
}

// Gatherer exposes the registry, e.g. for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
