package harness

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"ceph-e2e/common/failure"
	"ceph-e2e/common/metrics"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// ReleaseFunc undoes the acquisition of a fixture. It must tolerate the
// resource being already gone, returning nil or an error wrapping
// failure.ErrNotFound.
type ReleaseFunc func(ctx context.Context) error

type fixture struct {
	name    string
	release ReleaseFunc
}

// Fixtures is the release stack of one scenario run. Releases run in
// reverse order of acquisition and each one runs exactly once.
type Fixtures struct {
	mu       sync.Mutex
	scenario string
	log      logr.Logger
	metrics  *metrics.Recorder
	stack    []fixture
	released []string
}

func NewFixtures(scenario string, log logr.Logger, rec *metrics.Recorder) *Fixtures {
	return &Fixtures{
		scenario: scenario,
		log:      log.WithName("fixtures"),
		metrics:  rec,
	}
}

// Acquire registers the release action of a fixture which has just been
// created.
func (f *Fixtures) Acquire(name string, release ReleaseFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log.V(1).Info("acquired", "fixture", name)
	f.stack = append(f.stack, fixture{name: name, release: release})
}

// Len returns the number of fixtures not yet released.
func (f *Fixtures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stack)
}

// Released returns the names of released fixtures in release order.
func (f *Fixtures) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *Fixtures) pop() (fixture, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stack) == 0 {
		return fixture{}, false
	}
	top := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	f.released = append(f.released, top.name)
	return top, true
}

// ReleaseAll releases every outstanding fixture, newest first. A failed
// release does not stop the others, all failures are returned together.
func (f *Fixtures) ReleaseAll(ctx context.Context) error {
	var errs []error
	for {
		fx, ok := f.pop()
		if !ok {
			break
		}
		err := safeRelease(ctx, fx)
		if failure.IsNotFound(err) {
			f.log.Info("already released", "fixture", fx.name)
			err = nil
		}
		f.metrics.FixtureReleased(f.scenario, err)
		if err != nil {
			f.log.Error(err, "release failed", "fixture", fx.name)
			errs = append(errs, errors.Wrapf(err, "releasing %s", fx.name))
			continue
		}
		f.log.Info("released", "fixture", fx.name)
	}
	return utilerrors.NewAggregate(errs)
}

func safeRelease(ctx context.Context, fx fixture) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fx.release(ctx)
}
