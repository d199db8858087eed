package harness

import (
	"context"
	"fmt"

	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/metrics"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var _ = Describe("Run", func() {
	var (
		base     Env
		released []string
	)

	acquire := func(env *Env, names ...string) {
		for _, name := range names {
			name := name
			env.Acquire(name, func(context.Context) error {
				released = append(released, name)
				return nil
			})
		}
	}

	BeforeEach(func() {
		released = nil
		base = Env{Log: logf.Log, Config: e2e_config.Default(), Metrics: metrics.NewRecorder()}
	})

	It("passes through every phase and cleans up", func() {
		out := Run(context.Background(), base, Scenario{
			Name: "happy",
			Provision: func(ctx context.Context, env *Env) error {
				acquire(env, "pool", "export")
				return nil
			},
			Act: func(ctx context.Context, env *Env) error {
				acquire(env, "mount")
				return nil
			},
			Verify: func(ctx context.Context, env *Env) error { return nil },
		})
		Expect(out.Code()).To(BeZero())
		Expect(out.Reached).To(Equal(PhaseVerified))
		Expect(out.Aggregate()).To(BeNil())
		Expect(released).To(Equal([]string{"mount", "export", "pool"}))
		Expect(testutil.ToFloat64(base.Metrics.ScenarioRunsTotal.WithLabelValues("happy", "pass"))).To(Equal(1.0))
	})

	It("releases fixtures when act fails", func() {
		out := Run(context.Background(), base, Scenario{
			Name: "act-fails",
			Provision: func(ctx context.Context, env *Env) error {
				acquire(env, "pool")
				return nil
			},
			Act: func(ctx context.Context, env *Env) error {
				acquire(env, "mount")
				return failure.OperationFailedf("mount failed")
			},
			Verify: func(ctx context.Context, env *Env) error {
				Fail("verify must not run")
				return nil
			},
		})
		Expect(out.Code()).To(Equal(1))
		Expect(out.Reached).To(Equal(PhaseProvisioned))
		Expect(failure.IsOperationFailed(out.Err)).To(BeTrue())
		Expect(out.Err.Error()).To(HavePrefix("act phase"))
		Expect(released).To(Equal([]string{"mount", "pool"}))
	})

	It("releases fixtures when verify panics", func() {
		out := Run(context.Background(), base, Scenario{
			Name: "verify-panics",
			Provision: func(ctx context.Context, env *Env) error {
				acquire(env, "pool")
				return nil
			},
			Verify: func(ctx context.Context, env *Env) error {
				panic("unexpected nil")
			},
		})
		Expect(out.Code()).To(Equal(1))
		Expect(out.Reached).To(Equal(PhaseActed))
		Expect(out.Err).To(MatchError(ContainSubstring("panic: unexpected nil")))
		Expect(released).To(Equal([]string{"pool"}))
	})

	It("keeps the primary error when cleanup fails too", func() {
		out := Run(context.Background(), base, Scenario{
			Name: "both-fail",
			Provision: func(ctx context.Context, env *Env) error {
				env.Acquire("export", func(context.Context) error { return fmt.Errorf("export busy") })
				return nil
			},
			Verify: func(ctx context.Context, env *Env) error {
				return &failure.AssertionError{What: "owner", Expected: "squashuser", Actual: "root"}
			},
		})
		Expect(out.Code()).To(Equal(1))
		Expect(failure.IsAssertion(out.Err)).To(BeTrue())
		Expect(out.CleanupErr).To(MatchError(ContainSubstring("export busy")))
		agg := out.Aggregate().Error()
		Expect(agg).To(ContainSubstring("expected squashuser, got root"))
		Expect(agg).To(ContainSubstring("cleanup"))
	})

	It("fails a passing run whose cleanup fails", func() {
		out := Run(context.Background(), base, Scenario{
			Name: "leak",
			Provision: func(ctx context.Context, env *Env) error {
				env.Acquire("pool", func(context.Context) error { return fmt.Errorf("pool in use") })
				return nil
			},
		})
		Expect(out.Err).To(BeNil())
		Expect(out.Reached).To(Equal(PhaseVerified))
		Expect(out.Code()).To(Equal(1))
	})

	It("passes a skipped scenario", func() {
		out := Run(context.Background(), base, Scenario{
			Name: "skipped",
			Provision: func(ctx context.Context, env *Env) error {
				return failure.Skipf("build 5.3 is not supported")
			},
		})
		Expect(out.Code()).To(BeZero())
		Expect(out.Skipped).To(BeTrue())
		Expect(out.SkipReason).To(Equal("build 5.3 is not supported"))
		Expect(out.Result()).To(Equal("skip"))
	})

	It("cleans up with a live context after cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		var cleanupCtxErr error
		out := Run(ctx, base, Scenario{
			Name: "cancelled",
			Provision: func(ctx context.Context, env *Env) error {
				env.Acquire("pool", func(ctx context.Context) error {
					cleanupCtxErr = ctx.Err()
					return nil
				})
				cancel()
				return nil
			},
			Act: func(ctx context.Context, env *Env) error {
				Fail("act must not run")
				return nil
			},
		})
		Expect(out.Code()).To(Equal(1))
		Expect(out.Err).To(MatchError(ContainSubstring("context canceled")))
		Expect(cleanupCtxErr).ToNot(HaveOccurred())
	})

	It("names phases", func() {
		Expect(PhaseInit.String()).To(Equal("INIT"))
		Expect(PhaseCleaned.String()).To(Equal("CLEANED"))
	})
})

var _ = Describe("Assertions", func() {
	It("compares values", func() {
		Expect(AssertEqual("owner", "squashuser", "squashuser")).To(Succeed())
		err := AssertEqual("owner", "squashuser", "root")
		Expect(failure.IsAssertion(err)).To(BeTrue())
	})

	It("compares integers read back several ways", func() {
		Expect(AssertEqualInts("osd.1 osd_memory_target", 5500000000, 5500000000, 5500000000)).To(Succeed())
		Expect(AssertEqualInts("osd.1 osd_memory_target", 5500000000, 5500000000, 4500000000)).ToNot(Succeed())
		Expect(AssertEqualInts("osd.1 osd_memory_target", 5500000000)).ToNot(Succeed())
	})

	It("checks containment", func() {
		Expect(AssertContains("stat", "squashuser\n", "squashuser")).To(Succeed())
		Expect(failure.IsAssertion(AssertContains("stat", "root\n", "squashuser"))).To(BeTrue())
	})
})
