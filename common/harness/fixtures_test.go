package harness

import (
	"context"
	"fmt"

	"ceph-e2e/common/failure"
	"ceph-e2e/common/metrics"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var _ = Describe("Fixtures", func() {
	var (
		rec      *metrics.Recorder
		fixtures *Fixtures
		order    []string
	)

	release := func(name string, err error) ReleaseFunc {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}

	BeforeEach(func() {
		order = nil
		rec = metrics.NewRecorder()
		fixtures = NewFixtures("unit", logf.Log, rec)
	})

	It("releases in reverse order of acquisition", func() {
		fixtures.Acquire("pool", release("pool", nil))
		fixtures.Acquire("export", release("export", nil))
		fixtures.Acquire("mount", release("mount", nil))

		Expect(fixtures.ReleaseAll(context.Background())).To(Succeed())
		Expect(order).To(Equal([]string{"mount", "export", "pool"}))
		Expect(fixtures.Released()).To(Equal(order))
		Expect(fixtures.Len()).To(BeZero())
	})

	It("releases each fixture once", func() {
		fixtures.Acquire("pool", release("pool", nil))
		Expect(fixtures.ReleaseAll(context.Background())).To(Succeed())
		Expect(fixtures.ReleaseAll(context.Background())).To(Succeed())
		Expect(order).To(Equal([]string{"pool"}))
	})

	It("continues past failures and aggregates them", func() {
		fixtures.Acquire("pool", release("pool", nil))
		fixtures.Acquire("export", release("export", fmt.Errorf("export busy")))
		fixtures.Acquire("mount", release("mount", fmt.Errorf("device busy")))

		err := fixtures.ReleaseAll(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("releasing mount: device busy"))
		Expect(err.Error()).To(ContainSubstring("releasing export: export busy"))
		Expect(order).To(Equal([]string{"mount", "export", "pool"}))
		Expect(testutil.ToFloat64(rec.FixtureReleasesTotal.WithLabelValues("unit", "failure"))).To(Equal(2.0))
		Expect(testutil.ToFloat64(rec.FixtureReleasesTotal.WithLabelValues("unit", "success"))).To(Equal(1.0))
	})

	It("treats an absent resource as released", func() {
		fixtures.Acquire("export", release("export", errors.Wrap(failure.ErrNotFound, "export /export_1")))
		Expect(fixtures.ReleaseAll(context.Background())).To(Succeed())
	})

	It("recovers a panicking release and carries on", func() {
		fixtures.Acquire("pool", release("pool", nil))
		fixtures.Acquire("broken", func(context.Context) error {
			panic("boom")
		})

		err := fixtures.ReleaseAll(context.Background())
		Expect(err).To(MatchError(ContainSubstring("panic: boom")))
		Expect(order).To(Equal([]string{"pool"}))
	})
})
