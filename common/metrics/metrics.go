package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder collects harness metrics for one process. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ScenarioRunsTotal     *prometheus.CounterVec
	ScenarioDuration      *prometheus.HistogramVec
	FixtureReleasesTotal  *prometheus.CounterVec
	DisruptionsTotal      *prometheus.CounterVec
	WaitDuration          *prometheus.HistogramVec
	LogSignatureHitsTotal *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ScenarioRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceph_e2e_scenario_runs_total",
				Help: "Number of scenario runs by result",
			},
			[]string{"scenario", "result"},
		),
		ScenarioDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ceph_e2e_scenario_duration_seconds",
				Help:    "Wall clock duration of scenario runs, cleanup included",
				Buckets: prometheus.ExponentialBuckets(10, 2, 10),
			},
			[]string{"scenario"},
		),
		FixtureReleasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceph_e2e_fixture_releases_total",
				Help: "Number of fixture release actions by result",
			},
			[]string{"scenario", "result"},
		),
		DisruptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceph_e2e_disruptions_total",
				Help: "Number of injected faults by result",
			},
			[]string{"disruptor", "result"},
		),
		WaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ceph_e2e_wait_duration_seconds",
				Help:    "Time spent polling for eventual consistency",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"result"},
		),
		LogSignatureHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ceph_e2e_log_signature_hits_total",
				Help: "Number of forbidden log signatures found",
			},
			[]string{"daemon"},
		),
	}
	r.registry.MustRegister(
		r.ScenarioRunsTotal,
		r.ScenarioDuration,
		r.FixtureReleasesTotal,
		r.DisruptionsTotal,
		r.WaitDuration,
		r.LogSignatureHitsTotal,
	)
	return r
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveScenario records the result of a scenario run.
func (r *Recorder) ObserveScenario(scenario, res string, d time.Duration) {
	if r == nil {
		return
	}
	r.ScenarioRunsTotal.WithLabelValues(scenario, res).Inc()
	r.ScenarioDuration.WithLabelValues(scenario).Observe(d.Seconds())
}

func (r *Recorder) FixtureReleased(scenario string, err error) {
	if r == nil {
		return
	}
	r.FixtureReleasesTotal.WithLabelValues(scenario, result(err == nil)).Inc()
}

func (r *Recorder) Disruption(disruptor string, err error) {
	if r == nil {
		return
	}
	r.DisruptionsTotal.WithLabelValues(disruptor, result(err == nil)).Inc()
}

func (r *Recorder) ObserveWait(d time.Duration, ok bool) {
	if r == nil {
		return
	}
	r.WaitDuration.WithLabelValues(result(ok)).Observe(d.Seconds())
}

func (r *Recorder) LogSignatureHits(daemon string, hits int) {
	if r == nil || hits == 0 {
		return
	}
	r.LogSignatureHitsTotal.WithLabelValues(daemon).Add(float64(hits))
}

// Gatherer exposes the registry, e.g. for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Push sends the collected metrics to a Prometheus Pushgateway.
func (r *Recorder) Push(url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(r.registry).Push()
}
