package memtarget

// Precedence of osd_memory_target across the config store scopes: a
// daemon override wins over the host mask, which wins over the osd type.

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"

	"github.com/pkg/errors"
)

// Scenarios returns the enabled memory target scenarios.
func Scenarios(cfg e2e_config.E2EConfig) ([]harness.Scenario, error) {
	var out []harness.Scenario
	if cfg.OsdMemoryTarget.OsdLevel {
		out = append(out, OSDLevel())
	}
	if cfg.OsdMemoryTarget.HostLevel {
		out = append(out, HostLevel())
	}
	if len(out) == 0 {
		return nil, failure.ConfigErrorf("neither osd_level nor host_level is enabled")
	}
	return out, nil
}

type memTargetTest struct {
	cfg  *memTargetConfig
	ceph *cephcli.Ceph
	// overrides the random choice in tests
	pick func(n int) int
}

func (t *memTargetTest) setup(ctx context.Context, env *harness.Env) error {
	cfg, err := newConfig(env)
	if err != nil {
		return err
	}
	if t.pick != nil {
		cfg.pick = t.pick
	}
	t.cfg = cfg
	if t.ceph, err = cephcli.ForCluster(env.Cluster, env.Log); err != nil {
		return err
	}
	entries, err := t.ceph.DumpConfig(ctx, option)
	if err != nil {
		return err
	}
	env.Log.Info("Original values of "+option, "entries", len(entries))
	for _, e := range entries {
		env.Log.Info(option, "section", e.Section, "mask", e.Mask, "value", e.Value)
	}
	return nil
}

func (t *memTargetTest) choose(ids []int) (int, []int) {
	i := t.cfg.pick(len(ids))
	rest := append(append([]int(nil), ids[:i]...), ids[i+1:]...)
	return ids[i], rest
}

// set changes the option in section, what the section held before is put
// back on release.
func (t *memTargetTest) set(ctx context.Context, env *harness.Env, s cephcli.Section, v int64) error {
	env.Log.Info("Setting "+option, "section", s, "value", v)
	restore, err := t.ceph.Override(ctx, s, option, value(v))
	if err != nil {
		return err
	}
	env.Acquire(fmt.Sprintf("%s at %s", option, s), restore)
	return nil
}

// inherited returns the value an OSD on host without a daemon entry
// resolves to: the host mask when useHost is set, then the osd type, then
// global, then the built in default.
func (t *memTargetTest) inherited(ctx context.Context, host string, useHost bool) (int64, error) {
	entries, err := t.ceph.DumpConfig(ctx, option)
	if err != nil {
		return 0, err
	}
	byScope := map[string]string{}
	for _, e := range entries {
		scope := e.Section
		if e.Mask != "" {
			scope += "/" + e.Mask
		}
		byScope[scope] = e.Value
	}
	var scopes []cephcli.Section
	if useHost {
		scopes = append(scopes, cephcli.Host("osd", host))
	}
	scopes = append(scopes, cephcli.Type("osd"), cephcli.Global())
	for _, s := range scopes {
		if v, ok := byScope[s.String()]; ok {
			return parseValue(s, v)
		}
	}
	def, err := t.ceph.OptionDefault(ctx, option)
	if err != nil {
		return 0, err
	}
	return parseValue(cephcli.Global(), def)
}

func parseValue(s cephcli.Section, v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s at %s", option, s)
	}
	return n, nil
}

func (t *memTargetTest) remove(ctx context.Context, env *harness.Env, s cephcli.Section) error {
	env.Log.Info("Removing "+option, "section", s)
	return t.ceph.RemoveConfig(ctx, s, option)
}

// expectOSD waits for `config get` and `config show` of the OSD to both
// report want. A persistent divergence is an assertion failure.
func (t *memTargetTest) expectOSD(ctx context.Context, env *harness.Env, id int, want int64) error {
	var get, show int64
	what := fmt.Sprintf("osd.%d %s", id, option)
	err := env.WaitForWithin(ctx, fmt.Sprintf("%s to be %d", what, want), t.cfg.settleTimeout, func(ctx context.Context) (bool, error) {
		var err error
		get, show, err = t.ceph.IntValue(ctx, id, option)
		if err != nil {
			return false, err
		}
		return get == want && show == want, nil
	})
	if failure.IsTimeout(err) {
		if aerr := harness.AssertEqualInts(what, want, get, show); aerr != nil {
			return aerr
		}
	}
	if err != nil {
		return err
	}
	env.Log.Info("Verified "+option, "osd", id, "get", get, "show", show)
	return nil
}
