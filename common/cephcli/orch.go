package cephcli

import (
	"context"
	"strings"

	"ceph-e2e/common/failure"

	"github.com/pkg/errors"
)

// Daemon is one entry of `orch ps`.
type Daemon struct {
	DaemonType  string `json:"daemon_type"`
	DaemonID    string `json:"daemon_id"`
	DaemonName  string `json:"daemon_name"`
	Hostname    string `json:"hostname"`
	ServiceName string `json:"service_name"`
	Status      int    `json:"status"`
	StatusDesc  string `json:"status_desc"`
}

// Running reports whether the orchestrator sees the daemon running.
func (d Daemon) Running() bool {
	return d.Status == 1 || d.StatusDesc == "running"
}

// DaemonFilter narrows `orch ps`, empty fields are not filtered on.
type DaemonFilter struct {
	DaemonType  string
	DaemonID    string
	ServiceName string
	Hostname    string
}

// ListDaemons returns the daemons known to the orchestrator.
func (c *Ceph) ListDaemons(ctx context.Context, f DaemonFilter) ([]Daemon, error) {
	args := []string{"orch", "ps"}
	if f.Hostname != "" {
		args = append(args, f.Hostname)
	}
	if f.DaemonType != "" {
		args = append(args, "--daemon_type", f.DaemonType)
	}
	if f.DaemonID != "" {
		args = append(args, "--daemon_id", f.DaemonID)
	}
	if f.ServiceName != "" {
		args = append(args, "--service_name", f.ServiceName)
	}
	var daemons []Daemon
	if err := c.RunJSON(ctx, &daemons, args...); err != nil {
		return nil, err
	}
	return daemons, nil
}

// DaemonHost returns the hostname running daemon type.id.
func (c *Ceph) DaemonHost(ctx context.Context, daemonType, daemonID string) (string, error) {
	d, err := c.daemon(ctx, daemonType, daemonID)
	if err != nil {
		return "", err
	}
	return d.Hostname, nil
}

func (c *Ceph) daemon(ctx context.Context, daemonType, daemonID string) (Daemon, error) {
	daemons, err := c.ListDaemons(ctx, DaemonFilter{DaemonType: daemonType, DaemonID: daemonID})
	if err != nil {
		return Daemon{}, err
	}
	for _, d := range daemons {
		if d.DaemonType == daemonType && d.DaemonID == daemonID {
			return d, nil
		}
	}
	return Daemon{}, errors.Wrapf(failure.ErrNotFound, "daemon %s.%s", daemonType, daemonID)
}

// Redeploy redeploys every daemon of service.
func (c *Ceph) Redeploy(ctx context.Context, service string) error {
	_, err := c.Run(ctx, "orch", "redeploy", service)
	return err
}

// ServiceRunning reports whether service has daemons and all of them run.
func (c *Ceph) ServiceRunning(ctx context.Context, service string) (bool, error) {
	daemons, err := c.ListDaemons(ctx, DaemonFilter{ServiceName: service})
	if err != nil {
		return false, err
	}
	if len(daemons) == 0 {
		return false, nil
	}
	for _, d := range daemons {
		if !d.Running() {
			return false, nil
		}
	}
	return true, nil
}

// SetManaged toggles whether the orchestrator manages the daemons of service.
func (c *Ceph) SetManaged(ctx context.Context, service string, managed bool) error {
	verb := "set-unmanaged"
	if managed {
		verb = "set-managed"
	}
	_, err := c.Run(ctx, "orch", verb, service)
	return err
}

// FsVolumes returns the names of the CephFS volumes.
func (c *Ceph) FsVolumes(ctx context.Context) ([]string, error) {
	var vols []struct {
		Name string `json:"name"`
	}
	if err := c.RunJSON(ctx, &vols, "fs", "volume", "ls"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(vols))
	for _, v := range vols {
		names = append(names, v.Name)
	}
	return names, nil
}

// EnsureFsVolume creates the volume unless it exists, created reports
// whether it did.
func (c *Ceph) EnsureFsVolume(ctx context.Context, name string) (created bool, err error) {
	vols, err := c.FsVolumes(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range vols {
		if v == name {
			return false, nil
		}
	}
	if _, err := c.Run(ctx, "fs", "volume", "create", name); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteFsVolume removes a volume and its pools.
func (c *Ceph) DeleteFsVolume(ctx context.Context, name string) error {
	return c.allowPoolDelete(ctx, func() error {
		_, err := c.Run(ctx, "fs", "volume", "rm", name, "--yes-i-really-mean-it")
		return err
	})
}

// notices cephadm shell prints ahead of the command output
var notices = []string{"Inferring ", "Using ceph image", "Using recent ceph image", "Non-zero exit code"}

// trimNotices drops cephadm shell notices from the command output.
func trimNotices(out string) string {
	var keep []string
lines:
	for _, line := range strings.Split(out, "\n") {
		for _, n := range notices {
			if strings.HasPrefix(line, n) {
				continue lines
			}
		}
		keep = append(keep, line)
	}
	return strings.TrimSpace(strings.Join(keep, "\n"))
}
