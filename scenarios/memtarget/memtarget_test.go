package memtarget

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ceph-e2e/common/cluster"
	"ceph-e2e/common/cluster/clustertest"
	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

const defaultTarget = "4294967296"

// configStore resolves options like the monitors do: daemon, then host
// mask, then type, then global.
type configStore struct {
	mu     sync.Mutex
	values map[string]string
	hosts  map[string][]int
	// ignoreHostMask reproduces builds where host masks do not propagate
	ignoreHostMask bool
}

func newConfigStore() *configStore {
	return &configStore{
		values: map[string]string{},
		hosts:  map[string][]int{"node1": {0, 1, 2}, "node2": {3, 4}},
	}
}

func (s *configStore) hostOf(id int) string {
	for h, ids := range s.hosts {
		for _, i := range ids {
			if i == id {
				return h
			}
		}
	}
	return ""
}

func (s *configStore) resolve(who, name string) string {
	var chain []string
	var id int
	if _, err := fmt.Sscanf(who, "osd.%d", &id); err == nil {
		chain = append(chain, who)
		if !s.ignoreHostMask {
			chain = append(chain, "osd/host:"+s.hostOf(id))
		}
		chain = append(chain, "osd")
	} else {
		chain = append(chain, who)
	}
	chain = append(chain, "global")
	for _, w := range chain {
		if v, ok := s.values[w+" "+name]; ok {
			return v
		}
	}
	return defaultTarget
}

func (s *configStore) exec(cmd string, sudo bool) (string, error) {
	args, ok := clustertest.CephArgs(cmd)
	if !ok {
		return "", fmt.Errorf("unexpected command %s", cmd)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(args) == 5 && args[0] == "config" && args[1] == "set":
		s.values[args[2]+" "+args[3]] = args[4]
		return "", nil
	case len(args) == 4 && args[0] == "config" && args[1] == "rm":
		delete(s.values, args[2]+" "+args[3])
		return "", nil
	case len(args) == 4 && args[0] == "config" && (args[1] == "get" || args[1] == "show"):
		return s.resolve(args[2], args[3]) + "\n", nil
	case strings.Join(args, " ") == "config dump --format json":
		entries := []map[string]string{}
		for k, v := range s.values {
			parts := strings.SplitN(k, " ", 2)
			// host scopes are dumped as the type section with a mask
			section := strings.SplitN(parts[0], "/", 2)
			e := map[string]string{"section": section[0], "name": parts[1], "value": v}
			if len(section) == 2 {
				e["mask"] = section[1]
			}
			entries = append(entries, e)
		}
		out, _ := json.Marshal(entries)
		return string(out), nil
	case strings.Join(args, " ") == "config help osd_memory_target --format json":
		return `{"name":"osd_memory_target","type":"size","default":` + defaultTarget + `}`, nil
	case len(args) == 8 && args[0] == "orch" && args[1] == "ps" && args[4] == "--daemon_id":
		var daemons []map[string]interface{}
		var id int
		fmt.Sscan(args[5], &id)
		if h := s.hostOf(id); h != "" {
			daemons = append(daemons, map[string]interface{}{
				"daemon_type": "osd", "daemon_id": args[5], "hostname": h, "status": 1,
			})
		}
		out, _ := json.Marshal(daemons)
		return string(out), nil
	case strings.Join(args, " ") == "osd ls --format json":
		var ids []int
		for _, h := range s.hosts {
			ids = append(ids, h...)
		}
		sort.Ints(ids)
		out, _ := json.Marshal(ids)
		return string(out), nil
	case len(args) == 7 && args[0] == "orch" && args[1] == "ps" && args[3] == "--daemon_type":
		var daemons []map[string]interface{}
		for _, id := range s.hosts[args[2]] {
			daemons = append(daemons, map[string]interface{}{
				"daemon_type": "osd", "daemon_id": fmt.Sprint(id), "hostname": args[2], "status": 1,
			})
		}
		out, _ := json.Marshal(daemons)
		return string(out), nil
	}
	return "", fmt.Errorf("unexpected ceph %s", strings.Join(args, " "))
}

func (s *configStore) set() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ = Describe("osd_memory_target precedence", func() {
	var (
		store *configStore
		env   harness.Env
	)

	// pickFirst makes the random choices deterministic
	pickFirst := func(n int) int { return 0 }

	BeforeEach(func() {
		store = newConfigStore()
		installer := &clustertest.MockExecutor{MockExec: store.exec}
		cfg := e2e_config.Default()
		cfg.Wait.PollInterval = "5ms"
		cfg.OsdMemoryTarget.SettleTimeout = "50ms"
		env = harness.Env{
			Log:    logf.Log,
			Config: cfg,
			Cluster: cluster.New(
				cluster.NewNode("installer", "10.0.0.1", installer, cluster.RoleInstaller, cluster.RoleMon),
				cluster.NewNode("node1", "10.0.0.2", &clustertest.MockExecutor{}, cluster.RoleOsd),
			),
		}
	})

	Context("osd level", func() {
		It("lets the daemon override win over the type value and reverts", func() {
			t := &osdLevelTest{memTargetTest: memTargetTest{pick: func(n int) int { return n - 1 }}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(out.Code()).To(BeZero())
			Expect(t.target).To(Equal(4))
			Expect(store.set()).To(BeEmpty())
		})

		It("expects the host value back on an OSD whose host carries one", func() {
			store.values["osd/host:node1 "+option] = "3000000000"
			t := &osdLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(out.Code()).To(BeZero())
			Expect(t.target).To(Equal(0))
			Expect(t.host).To(Equal("node1"))
			Expect(store.values).To(Equal(map[string]string{"osd/host:node1 " + option: "3000000000"}))
		})

		It("restores a type value set before the run", func() {
			store.values["osd "+option] = "7000000000"
			t := &osdLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(store.values).To(Equal(map[string]string{"osd " + option: "7000000000"}))
		})

		It("fails when the daemon override does not take", func() {
			t := &osdLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			s := t.scenario()
			act := s.Act
			s.Act = func(ctx context.Context, env *harness.Env) error {
				if err := act(ctx, env); err != nil {
					return err
				}
				// a stale type value masks the override
				store.mu.Lock()
				store.values[fmt.Sprintf("osd.%d %s", t.target, option)] = value(typeValue)
				store.mu.Unlock()
				return nil
			}
			out := harness.Run(context.Background(), env, s)
			Expect(out.Code()).To(Equal(1))
			Expect(failure.IsAssertion(out.Err)).To(BeTrue())
			Expect(out.Err.Error()).To(ContainSubstring("osd.0 osd_memory_target"))
			Expect(store.set()).To(BeEmpty())
		})
	})

	Context("host level", func() {
		It("propagates the host value to OSDs without an override", func() {
			t := &hostLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(t.host).To(Equal("node1"))
			Expect(t.hostOSD).To(Equal(0))
			Expect(t.secondOSD).To(Equal(1))
			Expect(t.baseline).To(Equal(int64(4294967296)))
			Expect(store.set()).To(BeEmpty())
		})

		It("falls back past an existing host value and restores it", func() {
			store.values["osd/host:node1 "+option] = "3000000000"
			t := &hostLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(out.Code()).To(BeZero())
			Expect(t.baseline).To(Equal(int64(4294967296)))
			Expect(store.values).To(Equal(map[string]string{"osd/host:node1 " + option: "3000000000"}))
		})

		It("uses the osd type value as the baseline", func() {
			store.values["osd "+option] = "3500000000"
			t := &hostLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(t.baseline).To(Equal(int64(3500000000)))
			Expect(store.set()).To(ConsistOf("osd " + option))
		})

		It("picks a second OSD without its own value", func() {
			store.values["osd.1 "+option] = "3200000000"
			t := &hostLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Aggregate()).ToNot(HaveOccurred())
			Expect(t.secondOSD).To(Equal(2))
			Expect(store.values).To(Equal(map[string]string{"osd.1 " + option: "3200000000"}))
		})

		It("keeps the values observed at each step", func() {
			t := &hostLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			s := t.scenario()
			var afterAct map[string]string
			s.Verify = func(ctx context.Context, env *harness.Env) error {
				afterAct = map[string]string{}
				for _, who := range []string{"osd.0", "osd.1", "osd.2"} {
					afterAct[who] = store.resolve(who, option)
				}
				return nil
			}
			out := harness.Run(context.Background(), env, s)
			Expect(out.Code()).To(BeZero())
			Expect(afterAct).To(Equal(map[string]string{
				"osd.0": "4500000000",
				"osd.1": "5800000000",
				"osd.2": "5500000000",
			}))
		})

		It("fails when the host value does not propagate", func() {
			store.ignoreHostMask = true
			t := &hostLevelTest{memTargetTest: memTargetTest{pick: pickFirst}}
			out := harness.Run(context.Background(), env, t.scenario())
			Expect(out.Code()).To(Equal(1))
			Expect(out.Reached).To(Equal(harness.PhaseProvisioned))
			var ae *failure.AssertionError
			Expect(errors.As(out.Err, &ae)).To(BeTrue())
			Expect(ae.Expected).To(Equal(hostValue))
			Expect(store.set()).To(BeEmpty())
		})

		It("is skipped on builds without the fix", func() {
			env.Config.OsdMemoryTarget.Rhbuild = "5.3-rhel-8"
			out := harness.Run(context.Background(), env, HostLevel())
			Expect(out.Code()).To(BeZero())
			Expect(out.Skipped).To(BeTrue())
		})

		It("needs two OSDs on the host", func() {
			store.hosts = map[string][]int{"node1": {0}}
			out := harness.Run(context.Background(), env, HostLevel())
			Expect(out.Code()).To(Equal(1))
			Expect(failure.IsConfiguration(out.Err)).To(BeTrue())
		})
	})

	It("runs the enabled levels", func() {
		cfg := e2e_config.Default()
		_, err := Scenarios(cfg)
		Expect(failure.IsConfiguration(err)).To(BeTrue())
		cfg.OsdMemoryTarget.OsdLevel = true
		cfg.OsdMemoryTarget.HostLevel = true
		scenarios, err := Scenarios(cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(scenarios).To(HaveLen(2))
	})

	It("parses the build gate", func() {
		c := &memTargetConfig{rhbuild: "6.1-rhel-9"}
		Expect(c.hostLevelSupported()).To(BeTrue())
		c.rhbuild = "7.0"
		Expect(c.hostLevelSupported()).To(BeTrue())
		c.rhbuild = ""
		Expect(c.hostLevelSupported()).To(BeTrue())
		c.rhbuild = "quincy"
		_, err := c.hostLevelSupported()
		Expect(failure.IsConfiguration(err)).To(BeTrue())
	})
})
