package e2e_config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const ConfigDir = "/configurations"

// NodeConfig describes one host of the cluster under test.
type NodeConfig struct {
	Hostname  string   `yaml:"hostname"`
	IPAddress string   `yaml:"ip"`
	Roles     []string `yaml:"roles"`
	// AgentAddr is the address the e2e-agent listens on, defaults to IPAddress
	AgentAddr string `yaml:"agentAddr"`
	// OS is either linux or windows
	OS string `yaml:"os" env-default:"linux"`
}

// E2EConfig is a application configuration structure
type E2EConfig struct {
	ConfigName string `yaml:"configName" env-default:"default"`

	// Generic configuration files used for CI and automation should not define E2eRootDir
	E2eRootDir string `yaml:"e2eRootDir" env:"e2e_root_dir"`
	// Run configuration
	ReportsDir string `yaml:"reportsDir" env:"e2e_reports_dir"`
	Debug      bool   `yaml:"debug" env:"e2e_debug" env-default:"false"`

	// Cluster inventory, the cluster handle is built from this
	Cluster struct {
		Nodes []NodeConfig `yaml:"nodes"`
	} `yaml:"cluster"`

	Agent struct {
		Port string `yaml:"port" env:"e2e_agent_port" env-default:"10012"`
		// Upper bound for a single remote command
		Timeout string `yaml:"timeout" env:"e2e_agent_timeout" env-default:"900s"`
	} `yaml:"agent"`

	// Wait defaults for eventual consistency checks
	Wait struct {
		PollInterval string `yaml:"pollInterval" env-default:"5s"`
		Timeout      string `yaml:"timeout" env-default:"900s"`
		// Bound on the whole cleanup phase
		CleanupTimeout string `yaml:"cleanupTimeout" env-default:"1800s"`
	} `yaml:"wait"`

	Logs struct {
		// journal or loki
		Source       string `yaml:"source" env:"e2e_log_source" env-default:"journal"`
		LokiURL      string `yaml:"lokiUrl" env:"e2e_loki_url"`
		LokiUser     string `yaml:"lokiUser" env:"grafana_api_user"`
		LokiPassword string `yaml:"lokiPassword" env:"grafana_api_pw"`
		LokiRunID    string `yaml:"lokiRunId" env:"loki_run_id"`
	} `yaml:"logs"`

	Metrics struct {
		PushGateway string `yaml:"pushGateway" env:"e2e_pushgateway"`
		Job         string `yaml:"job" env-default:"ceph_e2e"`
	} `yaml:"metrics"`

	// Individual Test parameters
	NfsExportRootsquash struct {
		Servers        int    `yaml:"servers" env-default:"1"`
		Port           string `yaml:"port" env-default:"2049"`
		NfsVersion     string `yaml:"nfs_version" env-default:"3"`
		Ha             bool   `yaml:"ha" env-default:"false"`
		Vip            string `yaml:"vip"`
		LinuxClients   int    `yaml:"linux_clients" env-default:"1"`
		WindowsClients int    `yaml:"windows_clients" env-default:"1"`
		FsName         string `yaml:"fs_name" env-default:"cephfs"`
		NfsName        string `yaml:"nfs_name" env-default:"cephfs-nfs"`
		SquashUser     string `yaml:"squash_user" env-default:"squashuser"`
		WindowsDrive   string `yaml:"windows_drive" env-default:"Z:"`
		EntryCount     int    `yaml:"entry_count" env-default:"10"`
	} `yaml:"nfsExportRootsquash"`

	OsdInprogressRebalance struct {
		PoolName          string   `yaml:"pool_name" env-default:"e2e-rebalance"`
		PoolType          string   `yaml:"pool_type" env-default:"replicated"`
		PgNum             int      `yaml:"pg_num" env-default:"32"`
		EcK               int      `yaml:"ec_k" env-default:"2"`
		EcM               int      `yaml:"ec_m" env-default:"1"`
		Objects           int      `yaml:"objects" env-default:"200"`
		RadosPut          bool     `yaml:"rados_put" env-default:"true"`
		MaxBackfills      int      `yaml:"max_backfills" env-default:"8"`
		RecoveryMaxActive int      `yaml:"recovery_max_active" env-default:"16"`
		DeletePools       []string `yaml:"delete_pools"`
		MgrFailIterations int      `yaml:"mgr_fail_iterations" env-default:"6"`
		MgrFailInterval   string   `yaml:"mgr_fail_interval" env-default:"5s"`
		// Signatures which must not appear in the active mgr log
		LogSignatures []string `yaml:"log_signatures"`
	} `yaml:"osdInprogressRebalance"`

	OsdMemoryTarget struct {
		OsdLevel  bool   `yaml:"osd_level" env-default:"false"`
		HostLevel bool   `yaml:"host_level" env-default:"false"`
		Rhbuild   string `yaml:"rhbuild" env:"e2e_rhbuild"`
		// How long get and show may take to agree after a change
		SettleTimeout string `yaml:"settle_timeout" env-default:"60s"`
	} `yaml:"osdMemoryTarget"`
}

var once sync.Once
var e2eConfig E2EConfig
var e2eConfigErr error

// Load reads the configuration file at configFile, environment variables
// override file settings.
func Load(configFile string) (E2EConfig, error) {
	var cfg E2EConfig
	if err := cleanenv.ReadConfig(configFile, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "could not read config file %s", configFile)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a configuration holding only defaults and environment
// settings, no file is read.
func Default() E2EConfig {
	var cfg E2EConfig
	_ = cleanenv.ReadEnv(&cfg)
	return cfg
}

// Configured reports whether a configuration file has been nominated
// via the environment.
func Configured() bool {
	_, ok := os.LookupEnv("e2e_config_file")
	return ok
}

// This function is called early from junit and various bits have not been initialised yet
// so we cannot use logf or Expect instead we use fmt.Print... and return an error.
func GetConfig() (E2EConfig, error) {
	once.Do(func() {
		// - if OS envvar e2e_config_file is a path to a file then that file is used,
		// - else a file of the same name in the configuration directory under e2e_root_dir
		value, ok := os.LookupEnv("e2e_config_file")
		if !ok {
			e2eConfigErr = errors.New("configuration file not specified, use env var e2e_config_file")
			return
		}
		configFile := value
		if _, err := os.Stat(configFile); err != nil {
			configFile = path.Clean(os.Getenv("e2e_root_dir") + ConfigDir + "/" + value)
		}
		fmt.Printf("Using configuration file %s\n", configFile)
		e2eConfig, e2eConfigErr = Load(configFile)
		if e2eConfigErr != nil {
			return
		}

		if e2eConfig.E2eRootDir == "" {
			return
		}
		cfgBytes, _ := yaml.Marshal(e2eConfig)
		cfgUsedFile := path.Clean(e2eConfig.E2eRootDir + "/artifacts/used-" + e2eConfig.ConfigName + ".yaml")
		if err := ioutil.WriteFile(cfgUsedFile, cfgBytes, 0644); err == nil {
			fmt.Printf("Resolved config written to %s\n", cfgUsedFile)
		}
	})
	return e2eConfig, e2eConfigErr
}

// Validate checks the settings that cannot be defaulted.
func (cfg E2EConfig) Validate() error {
	durations := map[string]string{
		"agent.timeout":       cfg.Agent.Timeout,
		"wait.pollInterval":   cfg.Wait.PollInterval,
		"wait.timeout":        cfg.Wait.Timeout,
		"wait.cleanupTimeout": cfg.Wait.CleanupTimeout,

		"osdInprogressRebalance.mgr_fail_interval": cfg.OsdInprogressRebalance.MgrFailInterval,
		"osdMemoryTarget.settle_timeout":           cfg.OsdMemoryTarget.SettleTimeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return errors.Wrapf(err, "invalid duration for %s", name)
		}
	}
	seen := map[string]bool{}
	for _, node := range cfg.Cluster.Nodes {
		if node.Hostname == "" {
			return errors.New("cluster node without hostname")
		}
		if seen[node.Hostname] {
			return errors.Errorf("duplicate cluster node %s", node.Hostname)
		}
		seen[node.Hostname] = true
		if node.IPAddress == "" && node.AgentAddr == "" {
			return errors.Errorf("cluster node %s has neither ip nor agentAddr", node.Hostname)
		}
	}
	switch cfg.Logs.Source {
	case "journal", "loki":
	default:
		return errors.Errorf("unknown log source %q", cfg.Logs.Source)
	}
	switch cfg.OsdInprogressRebalance.PoolType {
	case "replicated", "erasure":
	default:
		return errors.Errorf("unknown pool type %q", cfg.OsdInprogressRebalance.PoolType)
	}
	return nil
}

// PollInterval returns the parsed default polling interval.
func (cfg E2EConfig) PollInterval() time.Duration {
	return mustDuration(cfg.Wait.PollInterval)
}

// WaitTimeout returns the parsed default wait timeout.
func (cfg E2EConfig) WaitTimeout() time.Duration {
	return mustDuration(cfg.Wait.Timeout)
}

// CleanupTimeout returns the parsed bound on the cleanup phase.
func (cfg E2EConfig) CleanupTimeout() time.Duration {
	return mustDuration(cfg.Wait.CleanupTimeout)
}

// SettleTimeout bounds the wait for a config change to reach the daemons.
func (cfg E2EConfig) SettleTimeout() time.Duration {
	return mustDuration(cfg.OsdMemoryTarget.SettleTimeout)
}

// AgentTimeout returns the parsed bound on a single remote command.
func (cfg E2EConfig) AgentTimeout() time.Duration {
	return mustDuration(cfg.Agent.Timeout)
}

// Validate has already rejected malformed durations, an empty value means
// "no bound" for the callers.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
