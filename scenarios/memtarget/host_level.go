package memtarget

import (
	"context"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/cluster"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
)

// hostLevelTest sets the option for the OSDs of one host while one of
// them carries a daemon override.
type hostLevelTest struct {
	memTargetTest
	host string
	// hostOSD is overridden before the host value is set
	hostOSD int
	// secondOSD inherits the host value, then gets overridden
	secondOSD int
	baseline  int64
}

// HostLevel returns the host versus daemon precedence scenario.
func HostLevel() harness.Scenario {
	return (&hostLevelTest{}).scenario()
}

func (t *hostLevelTest) scenario() harness.Scenario {
	return harness.Scenario{
		Name:      "osd_memory_target_host_level",
		Provision: t.provision,
		Act:       t.act,
		Verify:    t.verify,
	}
}

func (t *hostLevelTest) provision(ctx context.Context, env *harness.Env) error {
	if err := t.setup(ctx, env); err != nil {
		return err
	}
	supported, err := t.cfg.hostLevelSupported()
	if err != nil {
		return err
	}
	if !supported {
		return failure.Skipf("host level %s is not supported on build %s", option, t.cfg.rhbuild)
	}

	nodes := env.Cluster.GetNodes(cluster.RoleOsd)
	if len(nodes) == 0 {
		return failure.ConfigErrorf("the test requires at least one osd node")
	}
	t.host = nodes[t.cfg.pick(len(nodes))].Hostname
	osds, err := t.ceph.HostOSDs(ctx, t.host)
	if err != nil {
		return err
	}
	if len(osds) < 2 {
		return failure.ConfigErrorf("the test requires 2 OSDs on %s, %d available", t.host, len(osds))
	}
	env.Log.Info("Random OSD host chosen", "host", t.host, "osds", osds)

	var rest []int
	t.hostOSD, rest = t.choose(osds)
	// secondOSD has to inherit the host value
	entries, err := t.ceph.DumpConfig(ctx, option)
	if err != nil {
		return err
	}
	overridden := map[string]bool{}
	for _, e := range entries {
		overridden[e.Section] = true
	}
	var inheriting []int
	for _, id := range rest {
		if !overridden[cephcli.OSD(id).String()] {
			inheriting = append(inheriting, id)
		}
	}
	if len(inheriting) == 0 {
		return failure.ConfigErrorf("every other OSD on %s carries its own %s", t.host, option)
	}
	t.secondOSD, _ = t.choose(inheriting)
	get, show, err := t.ceph.IntValue(ctx, t.secondOSD, option)
	if err != nil {
		return err
	}
	env.Log.Info("Initial "+option, "osd", t.secondOSD, "get", get, "show", show)
	// what the OSD falls back to once neither a host nor a daemon value is set
	if t.baseline, err = t.inherited(ctx, t.host, false); err != nil {
		return err
	}
	env.Log.Info("Baseline "+option, "host", t.host, "value", t.baseline)
	return nil
}

func (t *hostLevelTest) act(ctx context.Context, env *harness.Env) error {
	env.Log.Info("Chosen OSD", "osd", t.hostOSD)
	if err := t.set(ctx, env, cephcli.OSD(t.hostOSD), hostOSDValue); err != nil {
		return err
	}
	if err := t.expectOSD(ctx, env, t.hostOSD, hostOSDValue); err != nil {
		return err
	}

	if err := t.set(ctx, env, cephcli.Host("osd", t.host), hostValue); err != nil {
		return err
	}
	env.Log.Info("Another OSD chosen", "osd", t.secondOSD)
	if err := t.expectOSD(ctx, env, t.secondOSD, hostValue); err != nil {
		return err
	}
	return t.set(ctx, env, cephcli.OSD(t.secondOSD), secondOSDValue)
}

func (t *hostLevelTest) verify(ctx context.Context, env *harness.Env) error {
	// the daemon override predates the host value and wins over it
	if err := t.expectOSD(ctx, env, t.hostOSD, hostOSDValue); err != nil {
		return err
	}
	if err := t.expectOSD(ctx, env, t.secondOSD, secondOSDValue); err != nil {
		return err
	}
	env.Log.Info("Daemon overrides take precedence over the host value")

	if err := t.remove(ctx, env, cephcli.OSD(t.secondOSD)); err != nil {
		return err
	}
	if err := t.expectOSD(ctx, env, t.secondOSD, hostValue); err != nil {
		return err
	}
	if err := t.remove(ctx, env, cephcli.Host("osd", t.host)); err != nil {
		return err
	}
	return t.expectOSD(ctx, env, t.secondOSD, t.baseline)
}
