package memtarget

import (
	"context"
	"strconv"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
)

// osdLevelTest sets the option for the osd type, then overrides it for
// one random OSD.
type osdLevelTest struct {
	memTargetTest
	osds   []int
	target int
	host   string
}

// OSDLevel returns the osd type versus daemon precedence scenario.
func OSDLevel() harness.Scenario {
	return (&osdLevelTest{}).scenario()
}

func (t *osdLevelTest) scenario() harness.Scenario {
	return harness.Scenario{
		Name:      "osd_memory_target_osd_level",
		Provision: t.provision,
		Act:       t.act,
		Verify:    t.verify,
	}
}

func (t *osdLevelTest) provision(ctx context.Context, env *harness.Env) error {
	if err := t.setup(ctx, env); err != nil {
		return err
	}
	osds, err := t.ceph.OSDs(ctx)
	if err != nil {
		return err
	}
	if osds.Len() == 0 {
		return failure.ConfigErrorf("the cluster has no OSDs")
	}
	t.osds = osds.List()
	env.Log.Info("OSDs", "ids", t.osds)
	return nil
}

func (t *osdLevelTest) act(ctx context.Context, env *harness.Env) error {
	if err := t.set(ctx, env, cephcli.Type("osd"), typeValue); err != nil {
		return err
	}
	got, err := t.ceph.GetConfig(ctx, cephcli.Type("osd"), option)
	if err != nil {
		return err
	}
	if err := harness.AssertEqual(option+" at osd", value(typeValue), got); err != nil {
		return err
	}

	t.target, _ = t.choose(t.osds)
	if t.host, err = t.ceph.DaemonHost(ctx, "osd", strconv.Itoa(t.target)); err != nil {
		return err
	}
	env.Log.Info("Chosen OSD", "osd", t.target, "host", t.host)
	// a host mask on the chosen host still wins over the type value
	_, overridden, err := t.ceph.Stored(ctx, cephcli.OSD(t.target), option)
	if err != nil {
		return err
	}
	if !overridden {
		want, err := t.inherited(ctx, t.host, true)
		if err != nil {
			return err
		}
		if err := t.expectOSD(ctx, env, t.target, want); err != nil {
			return err
		}
	}
	return t.set(ctx, env, cephcli.OSD(t.target), osdValue)
}

func (t *osdLevelTest) verify(ctx context.Context, env *harness.Env) error {
	if err := t.expectOSD(ctx, env, t.target, osdValue); err != nil {
		return err
	}
	env.Log.Info("Daemon override took effect over the osd type value", "osd", t.target)

	if err := t.remove(ctx, env, cephcli.OSD(t.target)); err != nil {
		return err
	}
	want, err := t.inherited(ctx, t.host, true)
	if err != nil {
		return err
	}
	return t.expectOSD(ctx, env, t.target, want)
}
