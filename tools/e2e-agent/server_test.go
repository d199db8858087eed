package main

import (
	"context"
	"io/ioutil"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"time"

	client "ceph-e2e/common/e2e-agent"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"k8s.io/mount-utils"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var _ = Describe("e2e-agent", func() {
	var (
		mounter *mount.FakeMounter
		ts      *httptest.Server
		agent   *client.Agent
		dir     string
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "e2e-agent")
		Expect(err).ToNot(HaveOccurred())
		mounter = mount.NewFakeMounter(nil)
		srv := newServer(mounter, false)
		// tests run the commands unprivileged
		srv.sudo = nil
		ts = httptest.NewServer(srv.router())
		u, err := url.Parse(ts.URL)
		Expect(err).ToNot(HaveOccurred())
		agent = client.New(u.Hostname(), u.Port(), 10*time.Second, logf.Log)
		ctx = context.Background()
	})

	AfterEach(func() {
		ts.Close()
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("is reachable", func() {
		Expect(agent.IsAgentReachable(ctx)).To(Succeed())
	})

	It("runs commands through the shell", func() {
		out, err := agent.Exec(ctx, "echo hello | tr a-z A-Z", false)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal("HELLO\n"))
	})

	It("reports the exit code of a failed command", func() {
		out, err := agent.Exec(ctx, "echo oops >&2; exit 3", true)
		Expect(out).To(Equal("oops\n"))
		var ce *client.CommandError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.ExitCode).To(Equal(3))
		Expect(ce.Output).To(Equal("oops\n"))
	})

	It("rejects an empty command", func() {
		_, err := agent.Exec(ctx, "", false)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no command passed"))
	})

	It("writes files, creating the parent directories", func() {
		p := filepath.Join(dir, "a", "b", "export.conf")
		Expect(agent.WriteFile(ctx, p, []byte(`{"pseudo": "/export_1"}`), 0600)).To(Succeed())
		data, err := ioutil.ReadFile(p)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal(`{"pseudo": "/export_1"}`))
		fi, err := os.Stat(p)
		Expect(err).ToNot(HaveOccurred())
		Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0600)))
	})

	It("mounts once and unmounts", func() {
		target := filepath.Join(dir, "nfs")
		req := client.MountRequest{Source: "10.0.0.3:/export", Target: target, FsType: "nfs", Options: []string{"vers=3"}}
		Expect(agent.Mount(ctx, req)).To(Succeed())
		Expect(agent.Mount(ctx, req)).To(Succeed())

		mps, err := mounter.List()
		Expect(err).ToNot(HaveOccurred())
		Expect(mps).To(HaveLen(1))
		Expect(mps[0].Device).To(Equal("10.0.0.3:/export"))
		Expect(mps[0].Type).To(Equal("nfs"))
		Expect(mps[0].Opts).To(Equal([]string{"vers=3"}))

		Expect(agent.Unmount(ctx, target)).To(Succeed())
		mps, err = mounter.List()
		Expect(err).ToNot(HaveOccurred())
		Expect(mps).To(BeEmpty())
		Expect(target).To(BeADirectory())
	})

	It("treats unmounting a plain or missing path as done", func() {
		Expect(agent.Unmount(ctx, dir)).To(Succeed())
		Expect(agent.Unmount(ctx, filepath.Join(dir, "missing"))).To(Succeed())
		Expect(mounter.GetLog()).To(BeEmpty())
	})

	It("rejects a mount without a target", func() {
		err := agent.Mount(ctx, client.MountRequest{Source: "10.0.0.3:/export"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("source and target are required"))
	})
})
