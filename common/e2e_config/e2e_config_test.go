package e2e_config_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"ceph-e2e/common/e2e_config"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Configuration", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "e2e_config")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	write := func(content string) string {
		path := filepath.Join(dir, "cfg.yaml")
		Expect(ioutil.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	const inventory = `
configName: unit
cluster:
  nodes:
    - hostname: node1
      ip: 10.0.0.1
      roles: [installer, mon, osd]
    - hostname: win1
      agentAddr: win1.lab
      roles: [windows_client]
      os: windows
`

	It("fills defaults around the file settings", func() {
		cfg, err := e2e_config.Load(write(inventory))
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.ConfigName).To(Equal("unit"))
		Expect(cfg.Cluster.Nodes).To(HaveLen(2))
		Expect(cfg.Cluster.Nodes[0].OS).To(Equal("linux"))
		Expect(cfg.Cluster.Nodes[1].AgentAddr).To(Equal("win1.lab"))
		Expect(cfg.Agent.Port).To(Equal("10012"))
		Expect(cfg.PollInterval()).To(Equal(5 * time.Second))
		Expect(cfg.WaitTimeout()).To(Equal(900 * time.Second))
		Expect(cfg.SettleTimeout()).To(Equal(time.Minute))
		Expect(cfg.Logs.Source).To(Equal("journal"))
		Expect(cfg.NfsExportRootsquash.SquashUser).To(Equal("squashuser"))
		Expect(cfg.OsdInprogressRebalance.PoolType).To(Equal("replicated"))
		Expect(cfg.OsdMemoryTarget.OsdLevel).To(BeFalse())
	})

	It("reads scenario sections", func() {
		cfg, err := e2e_config.Load(write(inventory + `
wait:
  pollInterval: 1s
nfsExportRootsquash:
  ha: true
  vip: 10.0.0.100/24
  nfs_version: "4"
osdInprogressRebalance:
  pool_type: erasure
  delete_pools: [rbd, scratch]
osdMemoryTarget:
  host_level: true
  rhbuild: 7.0-rhel-9
`))
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.PollInterval()).To(Equal(time.Second))
		Expect(cfg.NfsExportRootsquash.Ha).To(BeTrue())
		Expect(cfg.NfsExportRootsquash.Vip).To(Equal("10.0.0.100/24"))
		Expect(cfg.OsdInprogressRebalance.DeletePools).To(Equal([]string{"rbd", "scratch"}))
		Expect(cfg.OsdMemoryTarget.HostLevel).To(BeTrue())
		Expect(cfg.OsdMemoryTarget.Rhbuild).To(Equal("7.0-rhel-9"))
	})

	It("reports a missing file", func() {
		_, err := e2e_config.Load(filepath.Join(dir, "absent.yaml"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("could not read config file"))
	})

	DescribeTable("rejects invalid settings",
		func(extra, msg string) {
			_, err := e2e_config.Load(write(inventory + extra))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(msg))
		},
		Entry("duration", "wait:\n  timeout: soon\n", "wait.timeout"),
		Entry("log source", "logs:\n  source: syslog\n", `unknown log source "syslog"`),
		Entry("pool type", "osdInprogressRebalance:\n  pool_type: tiered\n", `unknown pool type "tiered"`),
	)

	It("rejects duplicate and unreachable nodes", func() {
		cfg := e2e_config.Default()
		cfg.Cluster.Nodes = []e2e_config.NodeConfig{{Hostname: "node1", IPAddress: "10.0.0.1"}, {Hostname: "node1", IPAddress: "10.0.0.2"}}
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("duplicate cluster node node1")))
		cfg.Cluster.Nodes = []e2e_config.NodeConfig{{Hostname: "node2"}}
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("neither ip nor agentAddr")))
		cfg.Cluster.Nodes = []e2e_config.NodeConfig{{IPAddress: "10.0.0.3"}}
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("without hostname")))
	})

	It("treats an unset duration as no bound", func() {
		var cfg e2e_config.E2EConfig
		Expect(cfg.CleanupTimeout()).To(BeZero())
	})
})
