package harness

import (
	"context"
	"time"

	"ceph-e2e/common/failure"
	"ceph-e2e/common/metrics"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ConditionFunc reports whether the awaited state has been reached.
// Errors are treated as transient, except for configuration errors
// which end the wait.
type ConditionFunc func(ctx context.Context) (bool, error)

const defaultPollInterval = time.Second

// Poll calls cond every interval until it returns true, the timeout
// expires or ctx is done. On expiry a *failure.TimeoutError carrying the
// last transient error is returned. A zero timeout bounds the wait by ctx
// only.
func Poll(ctx context.Context, what string, interval, timeout time.Duration, cond ConditionFunc) error {
	return poll(ctx, nil, what, interval, timeout, cond)
}

func poll(ctx context.Context, rec *metrics.Recorder, what string, interval, timeout time.Duration, cond ConditionFunc) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	pollCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	var lastErr error
	err := wait.PollImmediateUntil(interval, func() (bool, error) {
		done, err := cond(pollCtx)
		if err != nil {
			if failure.IsConfiguration(err) {
				return false, err
			}
			lastErr = err
			return false, nil
		}
		lastErr = nil
		return done, nil
	}, pollCtx.Done())
	rec.ObserveWait(time.Since(start), err == nil)

	switch {
	case err == nil:
		return nil
	case err != wait.ErrWaitTimeout:
		return err
	case ctx.Err() != nil:
		return errors.Wrapf(ctx.Err(), "waiting for %s", what)
	}
	return &failure.TimeoutError{What: what, Timeout: timeout, LastErr: lastErr}
}
