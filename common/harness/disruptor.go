package harness

import (
	"context"
	"sync"
	"time"

	"ceph-e2e/common/metrics"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DisruptorConfig controls a background fault injector.
type DisruptorConfig struct {
	Name     string
	Interval time.Duration
	// Iterations caps the number of injections, zero means until stopped
	Iterations int
	// MaxConsecutiveFailures ends the disruptor with an error, zero disables the check
	MaxConsecutiveFailures int
}

// Disruptor repeatedly injects a fault while the scenario proceeds.
type Disruptor struct {
	cfg     DisruptorConfig
	log     logr.Logger
	metrics *metrics.Recorder
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}

	mu       sync.Mutex
	injected int
	failed   int
	stopped  bool
}

// StartDisruptor starts calling inject at the configured interval, the
// first injection happens immediately. The disruptor ends when Stop is
// called, ctx is done, the iteration cap is reached or too many
// consecutive injections failed.
func StartDisruptor(ctx context.Context, log logr.Logger, rec *metrics.Recorder, cfg DisruptorConfig, inject func(ctx context.Context) error) *Disruptor {
	dctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(dctx)
	d := &Disruptor{
		cfg:     cfg,
		log:     log.WithName("disruptor").WithValues("disruptor", cfg.Name),
		metrics: rec,
		cancel:  cancel,
		group:   group,
		done:    make(chan struct{}),
	}
	group.Go(func() error {
		defer close(d.done)
		return d.loop(gctx, inject)
	})
	d.log.Info("started", "interval", cfg.Interval, "iterations", cfg.Iterations)
	return d
}

func (d *Disruptor) loop(ctx context.Context, inject func(ctx context.Context) error) error {
	consecutive := 0
	for i := 0; d.cfg.Iterations == 0 || i < d.cfg.Iterations; i++ {
		if i > 0 {
			timer := time.NewTimer(d.cfg.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		err := inject(ctx)
		if ctx.Err() != nil {
			// stopped while injecting, the result is meaningless
			return nil
		}
		d.metrics.Disruption(d.cfg.Name, err)
		d.mu.Lock()
		if err != nil {
			d.failed++
		} else {
			d.injected++
		}
		d.mu.Unlock()
		if err == nil {
			consecutive = 0
			d.log.V(1).Info("injected", "iteration", i+1)
			continue
		}
		consecutive++
		d.log.Error(err, "injection failed", "iteration", i+1, "consecutive", consecutive)
		if d.cfg.MaxConsecutiveFailures > 0 && consecutive >= d.cfg.MaxConsecutiveFailures {
			return errors.Wrapf(err, "%s: %d consecutive injections failed", d.cfg.Name, consecutive)
		}
	}
	d.log.Info("iterations exhausted")
	return nil
}

// Done is closed once the disruptor has ended.
func (d *Disruptor) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the disruptor ends by itself and returns its error.
func (d *Disruptor) Wait() error {
	return d.group.Wait()
}

// Stop ends the disruptor and waits for it. It is safe to call more than
// once, every call returns the same result.
func (d *Disruptor) Stop() error {
	d.cancel()
	err := d.group.Wait()
	d.mu.Lock()
	injected, failed, first := d.injected, d.failed, !d.stopped
	d.stopped = true
	d.mu.Unlock()
	if first {
		d.log.Info("stopped", "injected", injected, "failed", failed)
	}
	return err
}

// release stops the disruptor on cleanup. An error already returned by an
// explicit Stop is not reported twice.
func (d *Disruptor) release(context.Context) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	err := d.Stop()
	if stopped {
		return nil
	}
	return err
}

// Counts returns the number of successful and failed injections so far.
func (d *Disruptor) Counts() (injected, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.injected, d.failed
}
