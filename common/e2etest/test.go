package e2etest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/reporter"
	"ceph-e2e/common/runner"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

const checkTimeout = 2 * time.Minute

var gRunner *runner.Runner

// InitTesting initialise testing and setup class name + report filename.
// Suites are skipped unless a configuration file has been nominated.
func InitTesting(t *testing.T, classname string, reportname string) {
	if !e2e_config.Configured() {
		t.Skip("e2e_config_file is not set")
	}
	RegisterFailHandler(Fail)
	RunSpecsWithDefaultAndCustomReporters(t, classname, reporter.GetReporters(reportname))
}

func SetupTestEnv() {
	cfg, err := e2e_config.GetConfig()
	Expect(err).ToNot(HaveOccurred())
	logf.SetLogger(zap.New(zap.UseDevMode(true), zap.WriteTo(GinkgoWriter)))
	fmt.Printf("Configuration is \"%s\"\n", cfg.ConfigName)

	By("connecting to the e2e agents")
	gRunner, err = runner.FromConfig(cfg, logf.Log)
	Expect(err).ToNot(HaveOccurred())
}

// TeardownTestEnv pushes the suite metrics. The cluster itself is left as
// the scenarios restored it.
func TeardownTestEnv() {
	logf.Log.Info("TeardownTestEnv")
	if gRunner == nil {
		return
	}
	if err := gRunner.PushMetrics(); err != nil {
		logf.Log.Info("Failed to push metrics", "error", err)
	}
}

// BeforeEachCheck asserts the cluster is fit to run a scenario.
func BeforeEachCheck() error {
	logf.Log.Info("BeforeEachCheck", "test", CurrentGinkgoTestDescription().FullTestText)
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	return gRunner.Precheck(ctx)
}

// AfterEachCheck asserts the scenario left the cluster reachable and out
// of HEALTH_ERR.
func AfterEachCheck() error {
	logf.Log.Info("AfterEachCheck", "test", CurrentGinkgoTestDescription().FullTestText)
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	return gRunner.Precheck(ctx)
}

// RunScenarios runs the named scenarios, skipping the test when all of
// them were skipped by the cluster.
func RunScenarios(names ...string) {
	cfg, err := e2e_config.GetConfig()
	Expect(err).ToNot(HaveOccurred())
	scenarios, err := runner.Select(cfg, names)
	Expect(err).ToNot(HaveOccurred())

	skipped := 0
	for _, s := range scenarios {
		out := gRunner.Run(context.Background(), s)
		Expect(out.Aggregate()).ToNot(HaveOccurred(), "scenario %s reached %s", out.Scenario, out.Reached)
		if out.Skipped {
			logf.Log.Info("Scenario skipped", "scenario", out.Scenario, "reason", out.SkipReason)
			skipped++
		}
	}
	if skipped == len(scenarios) {
		Skip(fmt.Sprintf("all of %v skipped", names))
	}
}

