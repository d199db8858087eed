package runner

import (
	"context"
	"fmt"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/cluster"
	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
	"ceph-e2e/common/loki"
	"ceph-e2e/common/metrics"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Runner drives scenarios against the configured cluster. It owns the
// process wide metrics and the Loki run markers.
type Runner struct {
	cfg     e2e_config.E2EConfig
	log     logr.Logger
	cluster *cluster.Cluster
	metrics *metrics.Recorder
	loki    *loki.Client
}

func New(cfg e2e_config.E2EConfig, cl *cluster.Cluster, log logr.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		log:     log,
		cluster: cl,
		metrics: metrics.NewRecorder(),
		loki:    loki.New(cfg, log),
	}
}

// FromConfig returns a Runner for the inventory of cfg, reaching the nodes
// through their e2e-agents.
func FromConfig(cfg e2e_config.E2EConfig, log logr.Logger) (*Runner, error) {
	cl, err := cluster.FromConfig(cfg, cluster.AgentDialer(cfg, log))
	if err != nil {
		return nil, err
	}
	return New(cfg, cl, log), nil
}

func (r *Runner) Cluster() *cluster.Cluster {
	return r.cluster
}

func (r *Runner) Metrics() *metrics.Recorder {
	return r.metrics
}

// Precheck verifies that every node answers and that the cluster is not
// in HEALTH_ERR.
func (r *Runner) Precheck(ctx context.Context) error {
	var errs []error
	for _, n := range r.cluster.Nodes() {
		// understood by sh and cmd alike
		if _, err := n.Exec(ctx, "echo ok"); err != nil {
			errs = append(errs, errors.Wrapf(err, "node %s", n.Hostname))
		}
	}
	if len(errs) != 0 {
		return utilerrors.NewAggregate(errs)
	}
	ceph, err := cephcli.ForCluster(r.cluster, r.log)
	if err != nil {
		return err
	}
	status, checks, err := ceph.Health(ctx)
	if err != nil {
		return err
	}
	r.log.Info("Cluster health", "status", status, "checks", checks)
	if status == "HEALTH_ERR" {
		return failure.OperationFailedf("cluster health is %s: %v", status, checks)
	}
	return nil
}

// Run runs one scenario, bracketed by Loki markers.
func (r *Runner) Run(ctx context.Context, s harness.Scenario) harness.Outcome {
	r.loki.SendMarker(ctx, "Start of scenario "+s.Name)
	out := harness.Run(ctx, harness.Env{
		Log:     r.log,
		Cluster: r.cluster,
		Config:  r.cfg,
		Metrics: r.metrics,
	}, s)
	r.loki.SendMarker(ctx, fmt.Sprintf("End of scenario %s: %s", s.Name, out.Result()))
	return out
}

// RunAll runs the scenarios in order. A cancelled context still lets each
// remaining scenario report its outcome.
func (r *Runner) RunAll(ctx context.Context, scenarios []harness.Scenario) []harness.Outcome {
	outcomes := make([]harness.Outcome, 0, len(scenarios))
	for _, s := range scenarios {
		outcomes = append(outcomes, r.Run(ctx, s))
	}
	return outcomes
}

// PushMetrics pushes to the configured Pushgateway, if any.
func (r *Runner) PushMetrics() error {
	if err := r.metrics.Push(r.cfg.Metrics.PushGateway, r.cfg.Metrics.Job); err != nil {
		return errors.Wrapf(err, "pushing metrics to %s", r.cfg.Metrics.PushGateway)
	}
	return nil
}

// Code is the process exit status for outcomes, 1 if any of them failed.
func Code(outcomes []harness.Outcome) int {
	for _, o := range outcomes {
		if o.Code() != 0 {
			return 1
		}
	}
	return 0
}
