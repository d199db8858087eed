package harness

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"ceph-e2e/common/cluster"
	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/metrics"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// Phase is the last completed step of a scenario run.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseProvisioned
	PhaseActed
	PhaseVerified
	PhaseCleaned
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseProvisioned:
		return "PROVISIONED"
	case PhaseActed:
		return "ACTED"
	case PhaseVerified:
		return "VERIFIED"
	case PhaseCleaned:
		return "CLEANED"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Env is what a scenario gets to work with. A fresh Fixtures stack is
// attached for every run.
type Env struct {
	Log      logr.Logger
	Cluster  *cluster.Cluster
	Config   e2e_config.E2EConfig
	Metrics  *metrics.Recorder
	Fixtures *Fixtures
	RunID    string
}

// WaitFor polls cond with the configured interval and timeout.
func (env *Env) WaitFor(ctx context.Context, what string, cond ConditionFunc) error {
	return env.WaitForWithin(ctx, what, env.Config.WaitTimeout(), cond)
}

// WaitForWithin polls cond with the configured interval and the given timeout.
func (env *Env) WaitForWithin(ctx context.Context, what string, timeout time.Duration, cond ConditionFunc) error {
	env.Log.Info("waiting", "for", what, "timeout", timeout)
	return poll(ctx, env.Metrics, what, env.Config.PollInterval(), timeout, cond)
}

// Acquire registers the release action of a fixture on the run's stack.
func (env *Env) Acquire(name string, release ReleaseFunc) {
	env.Fixtures.Acquire(name, release)
}

// Disrupt starts a disruptor whose Stop is registered as a fixture, so it
// never outlives the run.
func (env *Env) Disrupt(ctx context.Context, cfg DisruptorConfig, inject func(ctx context.Context) error) *Disruptor {
	d := StartDisruptor(ctx, env.Log, env.Metrics, cfg, inject)
	env.Acquire("disruptor "+cfg.Name, d.release)
	return d
}

// PhaseFunc is one step of a scenario.
type PhaseFunc func(ctx context.Context, env *Env) error

// Scenario is the unit the runner drives. Nil phases are skipped.
type Scenario struct {
	Name      string
	Provision PhaseFunc
	Act       PhaseFunc
	Verify    PhaseFunc
}

// Outcome is the result of one scenario run.
type Outcome struct {
	Scenario string
	RunID    string
	// Reached is the last phase completed before cleanup
	Reached    Phase
	Err        error
	CleanupErr error
	Skipped    bool
	SkipReason string
	Duration   time.Duration
}

// Passed reports whether the run, cleanup included, succeeded.
func (o Outcome) Passed() bool {
	return o.Err == nil && o.CleanupErr == nil
}

// Code is the process exit status for the outcome, 0 or 1.
func (o Outcome) Code() int {
	if o.Passed() {
		return 0
	}
	return 1
}

// Result is a label for logs and metrics.
func (o Outcome) Result() string {
	switch {
	case !o.Passed():
		return "fail"
	case o.Skipped:
		return "skip"
	}
	return "pass"
}

// Aggregate returns the primary and cleanup errors together, nil when
// the run passed.
func (o Outcome) Aggregate() error {
	var errs []error
	if o.Err != nil {
		errs = append(errs, o.Err)
	}
	if o.CleanupErr != nil {
		errs = append(errs, errors.Wrap(o.CleanupErr, "cleanup"))
	}
	return utilerrors.NewAggregate(errs)
}

// Run drives s through provision, act and verify, then releases every
// acquired fixture whatever happened before. Errors and panics are caught
// here and reported through the Outcome.
func Run(ctx context.Context, base Env, s Scenario) Outcome {
	start := time.Now()
	env := base
	if base.Log == nil {
		base.Log = logf.Log
	}
	if env.RunID == "" {
		env.RunID = uuid.New().String()
	}
	env.Log = base.Log.WithName(s.Name).WithValues("run", env.RunID)
	env.Fixtures = NewFixtures(s.Name, env.Log, env.Metrics)

	out := Outcome{Scenario: s.Name, RunID: env.RunID, Reached: PhaseInit}
	env.Log.Info("scenario started")

	phases := []struct {
		fn   PhaseFunc
		next Phase
	}{
		{s.Provision, PhaseProvisioned},
		{s.Act, PhaseActed},
		{s.Verify, PhaseVerified},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			out.Err = errors.Wrapf(err, "before %s", p.next)
			break
		}
		if p.fn != nil {
			if err := safeCall(ctx, &env, p.fn); err != nil {
				out.Err = errors.Wrapf(err, "%s phase", phaseVerb(p.next))
				break
			}
		}
		out.Reached = p.next
		env.Log.Info("phase completed", "phase", p.next)
	}

	if failure.IsSkip(out.Err) {
		var se *failure.SkipError
		_ = errors.As(out.Err, &se)
		out.Skipped = true
		out.SkipReason = se.Reason
		out.Err = nil
		env.Log.Info("scenario skipped", "reason", out.SkipReason)
	} else if out.Err != nil {
		env.Log.Error(out.Err, "scenario failed", "phase", out.Reached, "kind", failure.Kind(out.Err))
	}

	cleanupCtx, cancel := cleanupContext(env.Config)
	out.CleanupErr = env.Fixtures.ReleaseAll(cleanupCtx)
	cancel()
	if out.CleanupErr != nil {
		env.Log.Error(out.CleanupErr, "cleanup failed")
	}

	out.Duration = time.Since(start)
	env.Metrics.ObserveScenario(s.Name, out.Result(), out.Duration)
	env.Log.Info("scenario finished", "result", out.Result(), "reached", out.Reached, "duration", out.Duration.Round(time.Second))
	return out
}

// Cleanup must run even when the scenario context has been cancelled.
func cleanupContext(cfg e2e_config.E2EConfig) (context.Context, context.CancelFunc) {
	if timeout := cfg.CleanupTimeout(); timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}

func safeCall(ctx context.Context, env *Env, fn PhaseFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, env)
}

func phaseVerb(p Phase) string {
	switch p {
	case PhaseProvisioned:
		return "provision"
	case PhaseActed:
		return "act"
	case PhaseVerified:
		return "verify"
	}
	return p.String()
}
