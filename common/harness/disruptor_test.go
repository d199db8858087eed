package harness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"ceph-e2e/common/metrics"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var _ = Describe("Disruptor", func() {
	var rec *metrics.Recorder

	BeforeEach(func() {
		rec = metrics.NewRecorder()
	})

	It("ends by itself after the iteration cap", func() {
		var count int32
		d := StartDisruptor(context.Background(), logf.Log, rec, DisruptorConfig{
			Name: "mgr-fail", Interval: 5 * time.Millisecond, Iterations: 6,
		}, func(context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		Eventually(d.Done(), time.Second).Should(BeClosed())
		Expect(d.Wait()).To(Succeed())
		Expect(atomic.LoadInt32(&count)).To(Equal(int32(6)))
		Expect(testutil.ToFloat64(rec.DisruptionsTotal.WithLabelValues("mgr-fail", "success"))).To(Equal(6.0))
	})

	It("stops on request and Stop can be repeated", func() {
		var count int32
		d := StartDisruptor(context.Background(), logf.Log, rec, DisruptorConfig{
			Name: "forever", Interval: 5 * time.Millisecond,
		}, func(context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		Eventually(func() int32 { return atomic.LoadInt32(&count) }, time.Second).Should(BeNumerically(">=", 2))
		Expect(d.Stop()).To(Succeed())
		Expect(d.Done()).To(BeClosed())
		stoppedAt := atomic.LoadInt32(&count)
		Consistently(func() int32 { return atomic.LoadInt32(&count) }, 50*time.Millisecond).Should(Equal(stoppedAt))
		Expect(d.Stop()).To(Succeed())
	})

	It("gives up after too many consecutive failures", func() {
		d := StartDisruptor(context.Background(), logf.Log, rec, DisruptorConfig{
			Name: "failing", Interval: time.Millisecond, MaxConsecutiveFailures: 3,
		}, func(context.Context) error {
			return fmt.Errorf("no standby mgr")
		})
		Eventually(d.Done(), time.Second).Should(BeClosed())
		err := d.Stop()
		Expect(err).To(MatchError(ContainSubstring("3 consecutive injections failed")))
		_, failed := d.Counts()
		Expect(failed).To(Equal(3))
	})

	It("tolerates isolated failures", func() {
		var count int32
		d := StartDisruptor(context.Background(), logf.Log, rec, DisruptorConfig{
			Name: "flaky", Interval: time.Millisecond, Iterations: 6, MaxConsecutiveFailures: 2,
		}, func(context.Context) error {
			if atomic.AddInt32(&count, 1)%2 == 0 {
				return fmt.Errorf("flake")
			}
			return nil
		})
		Expect(d.Wait()).To(Succeed())
		injected, failed := d.Counts()
		Expect(injected).To(Equal(3))
		Expect(failed).To(Equal(3))
	})

	It("is stopped by the fixture stack", func() {
		env := &Env{Log: logf.Log, Metrics: rec, Fixtures: NewFixtures("unit", logf.Log, rec)}
		d := env.Disrupt(context.Background(), DisruptorConfig{Name: "bg", Interval: time.Millisecond}, func(context.Context) error {
			return nil
		})
		Expect(env.Fixtures.Len()).To(Equal(1))
		Expect(env.Fixtures.ReleaseAll(context.Background())).To(Succeed())
		Expect(d.Done()).To(BeClosed())
	})
})
