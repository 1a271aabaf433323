package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "tweetproof"

// Metrics holds the Prometheus collectors of the proof and its spool.
type Metrics struct {
	Registry *prometheus.Registry

	Runs              *prometheus.CounterVec
	RewardSubmissions *prometheus.CounterVec
	SpoolReplays      *prometheus.CounterVec
	SpoolPending      prometheus.Gauge
}

// Replay and submission results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed proof runs by verdict.",
		}, []string{"verdict"}),
		RewardSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_submissions_total",
			Help:      "Reward submissions by result; failed ones are spooled.",
		}, []string{"result"}),
		SpoolReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_replays_total",
			Help:      "Operator replays of spooled reward payloads by result.",
		}, []string{"result"}),
		SpoolPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_pending",
			Help:      "Spooled reward payloads not yet delivered.",
		}),
	}
	m.Registry.MustRegister(m.Runs, m.RewardSubmissions, m.SpoolReplays, m.SpoolPending)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node_exporter textfile
// collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}

// Push replaces the job's metrics on a Pushgateway. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.Registry).PushContext(ctx)
}

func (m *Metrics) ObserveRun(verdict string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveSubmission(ok bool) {
	if m == nil {
		return
	}
	m.RewardSubmissions.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveReplay(ok bool) {
	if m == nil {
		return
	}
	m.SpoolReplays.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.SpoolPending.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultFailed
}
