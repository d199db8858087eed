package rootsquash

// Root squash of a CephFS backed NFS export: entries created as root by a
// Windows client through the squashed export must be owned by the squash
// user when seen from a POSIX client.

import (
	"context"
	"fmt"
	"path"
	"strings"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/cluster"
	client "ceph-e2e/common/e2e-agent"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
	"ceph-e2e/common/shell"
)

type rootsquashTest struct {
	cfg     *rootsquashConfig
	ceph    *cephcli.Ceph
	servers []*cluster.Node
	linux   []*cluster.Node
	windows []*cluster.Node
	// entries created through the Windows drive, relative to the export
	entries []string
}

// Scenario returns the NFS export root squash scenario.
func Scenario() harness.Scenario {
	t := &rootsquashTest{}
	return harness.Scenario{
		Name:      "nfs_export_rootsquash",
		Provision: t.provision,
		Act:       t.act,
		Verify:    t.verify,
	}
}

func (t *rootsquashTest) provision(ctx context.Context, env *harness.Env) error {
	cfg, err := newConfig(env.Config)
	if err != nil {
		return err
	}
	t.cfg = cfg
	if t.servers, err = env.Cluster.Require(cluster.RoleNfs, cfg.servers); err != nil {
		return err
	}
	if t.linux, err = env.Cluster.Require(cluster.RoleClient, cfg.linuxClients); err != nil {
		return err
	}
	if t.windows, err = env.Cluster.Require(cluster.RoleWindowsClient, cfg.windowsClients); err != nil {
		return err
	}
	if t.ceph, err = cephcli.ForCluster(env.Cluster, env.Log); err != nil {
		return err
	}

	created, err := t.ceph.EnsureFsVolume(ctx, cfg.fsName)
	if err != nil {
		return err
	}
	if created {
		env.Acquire("fs volume "+cfg.fsName, func(ctx context.Context) error {
			return t.ceph.DeleteFsVolume(ctx, cfg.fsName)
		})
	}

	hosts := make([]string, 0, len(t.servers))
	for _, n := range t.servers {
		hosts = append(hosts, n.Hostname)
	}
	err = t.ceph.CreateNFSCluster(ctx, cephcli.NFSClusterSpec{
		Name:      cfg.nfsName,
		Hosts:     hosts,
		Port:      cfg.port,
		Ingress:   cfg.ha,
		VirtualIP: cfg.vip,
	})
	if err != nil {
		return err
	}
	env.Acquire("nfs cluster "+cfg.nfsName, func(ctx context.Context) error {
		return t.ceph.DeleteNFSCluster(ctx, cfg.nfsName)
	})
	if err := t.waitForGateways(ctx, env); err != nil {
		return err
	}

	if err := t.createExport(ctx, env, baseExport, ""); err != nil {
		return err
	}
	for _, n := range t.linux {
		if err := t.mount(ctx, env, n, baseExport, baseMount); err != nil {
			return err
		}
	}
	env.Log.Info("NFS cluster ready", "servers", hosts, "address", t.address())
	return nil
}

func (t *rootsquashTest) act(ctx context.Context, env *harness.Env) error {
	if err := t.createExport(ctx, env, squashExport, squashPolicy); err != nil {
		return err
	}
	if err := t.enableProtocol(ctx, env); err != nil {
		return err
	}
	if err := t.ceph.Redeploy(ctx, t.cfg.service()); err != nil {
		return err
	}
	if err := t.waitForGateways(ctx, env); err != nil {
		return err
	}

	posix := t.linux[0]
	if err := t.mount(ctx, env, posix, squashExport, squashMount); err != nil {
		return err
	}
	env.Acquire(fmt.Sprintf("contents of %s on %s", squashMount, posix.Hostname), func(ctx context.Context) error {
		_, err := posix.Sudo(ctx, "rm -rf "+squashMount+"/*")
		return err
	})

	return t.createEntries(ctx, env, t.windows[0])
}

func (t *rootsquashTest) verify(ctx context.Context, env *harness.Env) error {
	posix := t.linux[0]
	paths := make([]string, len(t.entries))
	quoted := make([]string, len(t.entries))
	for i, e := range t.entries {
		paths[i] = path.Join(squashMount, e)
		quoted[i] = shell.Quote(paths[i])
	}
	cmd := "stat -c '%n %U' " + strings.Join(quoted, " ")

	// attributes may lag behind the creation on another client
	var out string
	err := env.WaitFor(ctx, fmt.Sprintf("%d entries visible on %s", len(paths), posix.Hostname), func(ctx context.Context) (bool, error) {
		var err error
		out, err = posix.Sudo(ctx, cmd)
		return err == nil, err
	})
	if err != nil {
		return err
	}

	owners := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			owners[fields[0]] = fields[1]
		}
	}
	for _, p := range paths {
		if err := harness.AssertEqual("owner of "+p, t.cfg.squashUser, owners[p]); err != nil {
			return err
		}
	}
	env.Log.Info("Entries are owned by the squash user", "user", t.cfg.squashUser, "entries", len(paths))
	return nil
}

// address is where clients reach the gateways, the virtual ip with ingress.
func (t *rootsquashTest) address() string {
	if t.cfg.ha {
		return strings.SplitN(t.cfg.vip, "/", 2)[0]
	}
	if ip := t.servers[0].IPAddress; ip != "" {
		return ip
	}
	return t.servers[0].Hostname
}

func (t *rootsquashTest) waitForGateways(ctx context.Context, env *harness.Env) error {
	service := t.cfg.service()
	return env.WaitFor(ctx, service+" running", func(ctx context.Context) (bool, error) {
		return t.ceph.ServiceRunning(ctx, service)
	})
}

func (t *rootsquashTest) createExport(ctx context.Context, env *harness.Env, pseudoPath, squash string) error {
	err := t.ceph.CreateExport(ctx, cephcli.ExportSpec{
		Cluster:    t.cfg.nfsName,
		PseudoPath: pseudoPath,
		FsName:     t.cfg.fsName,
		Squash:     squash,
	})
	if err != nil {
		return err
	}
	env.Acquire("export "+pseudoPath, func(ctx context.Context) error {
		return t.ceph.DeleteExport(ctx, t.cfg.nfsName, pseudoPath)
	})
	return nil
}

// enableProtocol adds the configured NFS version to the squashed export,
// which is created for v4 only.
func (t *rootsquashTest) enableProtocol(ctx context.Context, env *harness.Env) error {
	exp, err := t.ceph.ExportInfo(ctx, t.cfg.nfsName, squashExport)
	if err != nil {
		return err
	}
	env.Log.Info("Export created", "export", exp.PseudoPath(), "squash", exp.Squash(), "protocols", exp.Protocols())
	exp.AddProtocol(t.cfg.version)
	if err := t.ceph.ApplyExport(ctx, t.cfg.nfsName, exp); err != nil {
		return err
	}

	applied, err := t.ceph.ExportInfo(ctx, t.cfg.nfsName, squashExport)
	if err != nil {
		return err
	}
	for _, p := range applied.Protocols() {
		if p == t.cfg.version {
			return nil
		}
	}
	return &failure.AssertionError{
		What:     "protocols of " + squashExport,
		Expected: t.cfg.version,
		Actual:   applied.Protocols(),
	}
}

// mount mounts export at dir on a POSIX client, the mount and the
// directory are released in reverse.
func (t *rootsquashTest) mount(ctx context.Context, env *harness.Env, n *cluster.Node, export, dir string) error {
	if _, err := n.Sudo(ctx, "mkdir -p "+shell.Quote(dir)); err != nil {
		return failure.OperationFailed("creating "+dir+" on "+n.Hostname, err)
	}
	env.Acquire(fmt.Sprintf("directory %s on %s", dir, n.Hostname), func(ctx context.Context) error {
		_, err := n.Sudo(ctx, "rm -rf "+shell.Quote(dir))
		return err
	})

	req := client.MountRequest{
		Source:  t.address() + ":" + export,
		Target:  dir,
		FsType:  "nfs",
		Options: t.cfg.mountOptions(),
	}
	if err := n.Mount(ctx, req); err != nil {
		return failure.OperationFailed(fmt.Sprintf("mounting %s on %s", req.Source, n.Hostname), err)
	}
	env.Acquire(fmt.Sprintf("mount %s on %s", dir, n.Hostname), func(ctx context.Context) error {
		return n.Unmount(ctx, dir)
	})
	env.Log.Info("Mounted", "client", n.Hostname, "source", req.Source, "target", dir)
	return nil
}

// createEntries mounts the squashed export as a drive on the Windows client
// and creates the directories and files through it.
func (t *rootsquashTest) createEntries(ctx context.Context, env *harness.Env, win *cluster.Node) error {
	drive := t.cfg.drive
	source := t.address() + ":" + squashExport
	if _, err := win.Exec(ctx, fmt.Sprintf("mount %s %s", source, drive)); err != nil {
		return failure.OperationFailed(fmt.Sprintf("mounting %s on %s", source, win.Hostname), err)
	}
	env.Acquire(fmt.Sprintf("drive %s on %s", drive, win.Hostname), func(ctx context.Context) error {
		_, err := win.Exec(ctx, "umount -f "+drive)
		return err
	})
	err := env.WaitFor(ctx, "drive "+drive+" on "+win.Hostname, func(ctx context.Context) (bool, error) {
		_, err := win.Exec(ctx, "dir "+drive+`\`)
		return err == nil, err
	})
	if err != nil {
		return err
	}

	t.entries = nil
	for i := 1; i <= t.cfg.entries; i++ {
		name := fmt.Sprintf("squashed_dir%d", i)
		if _, err := win.Exec(ctx, fmt.Sprintf(`mkdir %s\%s`, drive, name)); err != nil {
			return failure.OperationFailed("creating "+name, err)
		}
		t.entries = append(t.entries, name)
	}
	for i := 1; i <= t.cfg.entries; i++ {
		name := fmt.Sprintf("squashed_file%d", i)
		if _, err := win.Exec(ctx, fmt.Sprintf(`type nul > %s\%s`, drive, name)); err != nil {
			return failure.OperationFailed("creating "+name, err)
		}
		t.entries = append(t.entries, name)
	}
	env.Log.Info("Entries created", "client", win.Hostname, "drive", drive, "count", len(t.entries))
	return nil
}
