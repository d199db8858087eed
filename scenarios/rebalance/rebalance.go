package rebalance

// OSD removal while PGs rebalance: an OSD of the pool's acting set is
// removed and re-added while the active mgr is failed over repeatedly. The
// mgr must not trace back and the pool must keep its redundancy.

import (
	"context"
	"fmt"
	"strconv"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/cluster"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
	"ceph-e2e/common/logs"
	"ceph-e2e/common/loki"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

type rebalanceTest struct {
	cfg    *rebalanceConfig
	ceph   *cephcli.Ceph
	rados  *cephcli.Rados
	logs   logs.Source
	object *cephcli.Object

	acting []int
	// osd is removed and re-added, it lives on host backed by device
	osd    int
	host   *cluster.Node
	device string
	// markedOut are marked back in on cleanup
	markedOut sets.Int

	window    *cephcli.Window
	activeMgr string
}

// Scenario returns the in progress rebalance scenario.
func Scenario() harness.Scenario {
	return (&rebalanceTest{}).scenario()
}

func (t *rebalanceTest) scenario() harness.Scenario {
	return harness.Scenario{
		Name:      "osd_inprogress_rebalance",
		Provision: t.provision,
		Act:       t.act,
		Verify:    t.verify,
	}
}

func (t *rebalanceTest) provision(ctx context.Context, env *harness.Env) error {
	cfg, err := newConfig(env.Config)
	if err != nil {
		return err
	}
	t.cfg = cfg
	t.markedOut = sets.NewInt()
	clients, err := env.Cluster.Require(cluster.RoleClient, 1)
	if err != nil {
		return err
	}
	if t.ceph, err = cephcli.ForCluster(env.Cluster, env.Log); err != nil {
		return err
	}
	t.rados = cephcli.NewRados(clients[0], env.Log)
	if t.logs == nil {
		if t.logs, err = t.logSource(env); err != nil {
			return err
		}
	}

	// released last
	env.Acquire("cluster health", func(ctx context.Context) error {
		t.ceph.LogHealth(ctx)
		return nil
	})
	if len(cfg.deletePools) > 0 {
		env.Acquire("pools to delete", t.deletePools)
	}

	pool := cfg.pool
	if err := t.ceph.CreatePool(ctx, pool); err != nil {
		return err
	}
	env.Acquire("pool "+pool.Name, func(ctx context.Context) error {
		if err := t.ceph.DeletePool(ctx, pool.Name); err != nil {
			return err
		}
		if pool.Type == "erasure" {
			return t.ceph.DeleteErasureProfile(ctx, pool.ProfileName())
		}
		return nil
	})

	if err := t.rados.Bench(ctx, pool.Name, benchSeconds, cfg.objects); err != nil {
		return err
	}
	if cfg.radosPut {
		if t.object, err = t.rados.Put(ctx, pool.Name, putSize); err != nil {
			return err
		}
	}

	tuning := []struct{ name, value string }{
		{overrideRecovery, "true"},
		{maxBackfills, strconv.Itoa(cfg.maxBackfills)},
		{recoveryMaxActive, strconv.Itoa(cfg.recoveryMaxActive)},
	}
	for _, o := range tuning {
		if err := t.setOSDOption(ctx, env, o.name, o.value); err != nil {
			return err
		}
	}

	if err := t.waitForClean(ctx, env); err != nil {
		return err
	}
	if t.acting, err = t.ceph.ActingSet(ctx, pool.Name); err != nil {
		return err
	}
	if len(t.acting) < 2 {
		return failure.ConfigErrorf("the test requires an acting set of 2 OSDs or more, got %v", t.acting)
	}
	env.Log.Info("Acting set", "pool", pool.Name, "osds", t.acting)
	return nil
}

func (t *rebalanceTest) act(ctx context.Context, env *harness.Env) error {
	var err error
	t.osd = t.acting[0]
	if t.host, err = t.ceph.OSDHost(ctx, env.Cluster, t.osd); err != nil {
		return err
	}
	if t.device, err = cephcli.DevicePath(ctx, t.host, t.osd); err != nil {
		return err
	}
	env.Log.Info("OSD to remove", "osd", t.osd, "host", t.host.Hostname, "device", t.device)

	service, err := t.ceph.OSDService(ctx, t.osd)
	if err != nil {
		return err
	}
	if err := t.ceph.SetManaged(ctx, service, false); err != nil {
		return err
	}
	env.Acquire("unmanaged "+service, func(ctx context.Context) error {
		return t.ceph.SetManaged(ctx, service, true)
	})
	env.Acquire(fmt.Sprintf("membership of osd.%d", t.osd), func(ctx context.Context) error {
		return t.restore(ctx, env)
	})

	if err := t.markOut(ctx, t.osd); err != nil {
		return err
	}
	if err := t.waitForClean(ctx, env); err != nil {
		return err
	}

	if t.window, err = t.ceph.OpenWindow(ctx); err != nil {
		return err
	}
	if t.activeMgr, err = t.ceph.ActiveMgr(ctx); err != nil {
		return err
	}
	env.Log.Info("Active mgr", "mgr", t.activeMgr)
	failover := env.Disrupt(ctx, harness.DisruptorConfig{
		Name:                   "mgr failover",
		Interval:               t.cfg.mgrFailInterval,
		Iterations:             t.cfg.mgrFailIterations,
		MaxConsecutiveFailures: maxFailoverFailures,
	}, t.ceph.FailMgr)

	if err := t.ceph.RemoveOSD(ctx, t.osd, true); err != nil {
		return err
	}
	if err := t.waitForRemoval(ctx, env); err != nil {
		return err
	}
	if err := t.endFailover(failover); err != nil {
		return err
	}
	if err := t.window.Close(ctx, t.ceph); err != nil {
		return err
	}

	if err := t.waitForClean(ctx, env); err != nil {
		return err
	}
	if err := t.ceph.ZapDevice(ctx, t.host.Hostname, t.device); err != nil {
		return err
	}
	if err := t.waitForDevice(ctx, env, false); err != nil {
		return err
	}

	second := t.acting[1]
	env.Log.Info("Second OSD to mark out", "osd", second)
	if err := t.markOut(ctx, second); err != nil {
		return err
	}
	if err := t.ceph.AddOSD(ctx, t.host.Hostname, t.device); err != nil {
		return err
	}
	if err := t.waitForDevice(ctx, env, true); err != nil {
		return err
	}
	return t.waitForClean(ctx, env)
}

func (t *rebalanceTest) verify(ctx context.Context, env *harness.Env) error {
	after, err := t.ceph.ActingSet(ctx, t.cfg.pool.Name)
	if err != nil {
		return err
	}
	env.Log.Info("Acting set after rebalance", "before", t.acting, "after", after)
	if err := harness.AssertEqual("acting set size of "+t.cfg.pool.Name, len(t.acting), len(after)); err != nil {
		return err
	}

	q := t.window.Query("mgr", t.activeMgr)
	if err := logs.CheckAbsent(ctx, env.Log, env.Metrics, t.logs, q, t.cfg.signatures); err != nil {
		return err
	}

	if t.object != nil {
		if err := t.rados.Get(ctx, t.object); err != nil {
			return err
		}
	}

	osds, err := t.ceph.OSDs(ctx)
	if err != nil {
		return err
	}
	if !osds.Has(t.osd) {
		return &failure.AssertionError{What: "osd ls", Expected: t.osd, Actual: osds.List(), Detail: "re-added OSD missing"}
	}
	env.Log.Info("Verification of OSD rebalancing completed")
	return nil
}

// logSource returns where daemon logs are read from.
func (t *rebalanceTest) logSource(env *harness.Env) (logs.Source, error) {
	switch t.cfg.logSource {
	case "", "journal":
		return cephcli.NewJournal(t.ceph, env.Cluster), nil
	case "loki":
		if c := loki.New(env.Config, env.Log); c != nil {
			return c, nil
		}
		return nil, failure.ConfigErrorf("log source loki is not configured")
	}
	return nil, failure.ConfigErrorf("unknown log source %q", t.cfg.logSource)
}

// setOSDOption sets an option for all OSDs, the value it replaced is
// put back on release.
func (t *rebalanceTest) setOSDOption(ctx context.Context, env *harness.Env, name, value string) error {
	restore, err := t.ceph.Override(ctx, cephcli.Type("osd"), name, value)
	if err != nil {
		return err
	}
	env.Acquire("osd option "+name, restore)
	return nil
}

func (t *rebalanceTest) deletePools(ctx context.Context) error {
	var errs []error
	for _, name := range t.cfg.deletePools {
		if err := t.ceph.DeletePool(ctx, name); err != nil && !failure.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (t *rebalanceTest) markOut(ctx context.Context, id int) error {
	if err := t.ceph.MarkOut(ctx, id); err != nil {
		return err
	}
	t.markedOut.Insert(id)
	return nil
}

// endFailover lets a bounded failover run to completion and stops an
// unbounded one.
func (t *rebalanceTest) endFailover(d *harness.Disruptor) error {
	if t.cfg.mgrFailIterations > 0 {
		<-d.Done()
	}
	if err := d.Stop(); err != nil {
		return failure.OperationFailed("mgr failover", err)
	}
	injected, failed := d.Counts()
	if injected == 0 && failed > 0 {
		return failure.OperationFailedf("mgr failover: all %d attempts failed", failed)
	}
	return nil
}

// restore brings the removed OSD back if the run did not, and marks in
// every OSD the run marked out.
func (t *rebalanceTest) restore(ctx context.Context, env *harness.Env) error {
	osds, err := t.ceph.OSDs(ctx)
	if err != nil {
		return err
	}
	env.Log.Info("Active OSDs", "osds", osds.List())
	var errs []error
	if !osds.Has(t.osd) && t.device != "" {
		env.Log.Info("Re-adding OSD", "osd", t.osd, "host", t.host.Hostname, "device", t.device)
		if err := t.ceph.AddOSD(ctx, t.host.Hostname, t.device); err != nil {
			errs = append(errs, err)
		} else if err := t.waitForDevice(ctx, env, true); err != nil {
			errs = append(errs, err)
		}
	}

	dump, err := t.ceph.OSDDump(ctx)
	if err != nil {
		return utilerrors.NewAggregate(append(errs, err))
	}
	for _, id := range t.markedOut.List() {
		if state, ok := dump[id]; ok && state.In == 0 {
			if err := t.ceph.MarkIn(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (t *rebalanceTest) waitForClean(ctx context.Context, env *harness.Env) error {
	pool := t.cfg.pool.Name
	return env.WaitFor(ctx, "PGs of "+pool+" active+clean", func(ctx context.Context) (bool, error) {
		return t.ceph.PGsClean(ctx, pool)
	})
}

func (t *rebalanceTest) waitForRemoval(ctx context.Context, env *harness.Env) error {
	return env.WaitFor(ctx, fmt.Sprintf("removal of osd.%d", t.osd), func(ctx context.Context) (bool, error) {
		queue, err := t.ceph.RemovalQueue(ctx)
		if err != nil || queue.Has(t.osd) {
			return false, err
		}
		osds, err := t.ceph.OSDs(ctx)
		if err != nil {
			return false, err
		}
		return !osds.Has(t.osd), nil
	})
}

func (t *rebalanceTest) waitForDevice(ctx context.Context, env *harness.Env, present bool) error {
	state := "absent from"
	if present {
		state = "present on"
	}
	what := fmt.Sprintf("osd.%d %s %s", t.osd, state, t.host.Hostname)
	return env.WaitFor(ctx, what, func(ctx context.Context) (bool, error) {
		found, err := cephcli.DevicePresent(ctx, t.host, t.osd)
		if err != nil {
			return false, err
		}
		return found == present, nil
	})
}
