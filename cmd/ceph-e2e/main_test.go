package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"ceph-e2e/common/harness"
	"ceph-e2e/common/runner"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("ceph-e2e command", func() {
	var stdout, stderr *bytes.Buffer

	BeforeEach(func() {
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
		os.Unsetenv("e2e_config_file")
	})

	exec := func(args ...string) int {
		return run(context.Background(), args, stdout, stderr)
	}

	It("lists the scenarios", func() {
		Expect(exec("--list")).To(Equal(0))
		Expect(stdout.String()).To(Equal(runner.NfsExportRootsquash + "\n" +
			runner.OsdInprogressRebalance + "\n" + runner.OsdMemoryTarget + "\n"))
	})

	It("prints help", func() {
		Expect(exec("--help")).To(Equal(0))
		Expect(stdout.String()).To(ContainSubstring("--scenario"))
	})

	It("rejects unknown flags", func() {
		Expect(exec("--frobnicate")).To(Equal(exitUsage))
	})

	It("requires a configuration file", func() {
		Expect(exec("-s", runner.OsdMemoryTarget)).To(Equal(exitUsage))
		Expect(stderr.String()).To(ContainSubstring("no configuration file"))
	})

	It("requires a scenario", func() {
		Expect(exec("-c", "cfg.yaml")).To(Equal(exitUsage))
	})

	It("rejects unknown scenarios before reading the configuration", func() {
		Expect(exec("-c", "/does/not/exist.yaml", "-s", "osd_flap")).To(Equal(exitUsage))
		Expect(stderr.String()).To(ContainSubstring(`unknown scenario "osd_flap"`))
	})

	It("fails on an unreadable configuration", func() {
		Expect(exec("-c", "/does/not/exist.yaml", "-s", runner.OsdMemoryTarget)).To(Equal(exitFailed))
	})

	It("fails when the selected scenario is not configured", func() {
		dir, err := ioutil.TempDir("", "ceph-e2e")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "cfg.yaml")
		Expect(ioutil.WriteFile(path, []byte(`configName: unit
cluster:
  nodes:
    - hostname: installer
      ip: 127.0.0.1
      roles: [installer, mon]
`), 0644)).To(Succeed())
		// neither memory target level is enabled
		Expect(exec("-c", path, "-s", runner.OsdMemoryTarget)).To(Equal(exitFailed))
		Expect(stdout.String()).To(BeEmpty())
	})

	It("reports each outcome", func() {
		report(stdout, []harness.Outcome{
			{Scenario: "a", Reached: harness.PhaseVerified, RunID: "r1", Duration: 2 * time.Second},
			{Scenario: "b", Skipped: true, SkipReason: "old build"},
			{Scenario: "c", Reached: harness.PhaseProvisioned, Err: errors.New("boom")},
		})
		lines := bytes.Split(bytes.TrimSpace(stdout.Bytes()), []byte("\n"))
		Expect(lines).To(HaveLen(3))
		Expect(string(lines[0])).To(ContainSubstring("pass reached=VERIFIED run=r1 duration=2s"))
		Expect(string(lines[1])).To(ContainSubstring("skipped: old build"))
		Expect(string(lines[2])).To(ContainSubstring("fail reached=PROVISIONED"))
		Expect(string(lines[2])).To(HaveSuffix("error: boom"))
	})
})
