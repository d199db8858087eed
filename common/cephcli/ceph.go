package cephcli

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"ceph-e2e/common/cluster"
	client "ceph-e2e/common/e2e-agent"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/shell"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// ceph commands exit with the errno of the failure. cephadm exits 2 on a
// usage error as well, the output tells them apart.
const exitENOENT = 2

// Ceph runs the ceph CLI inside the cephadm shell of the installer node.
type Ceph struct {
	installer *cluster.Node
	log       logr.Logger
}

func New(installer *cluster.Node, log logr.Logger) *Ceph {
	return &Ceph{installer: installer, log: log.WithName("cephcli")}
}

// ForCluster returns a Ceph bound to the installer node of c.
func ForCluster(c *cluster.Cluster, log logr.Logger) (*Ceph, error) {
	installer, err := c.Installer()
	if err != nil {
		return nil, err
	}
	return New(installer, log), nil
}

func (c *Ceph) Installer() *cluster.Node {
	return c.installer
}

// Run executes `ceph args...` and returns its output.
func (c *Ceph) Run(ctx context.Context, args ...string) (string, error) {
	return c.exec(ctx, nil, args...)
}

// RunJSON executes `ceph args... --format json` and decodes the output into v.
func (c *Ceph) RunJSON(ctx context.Context, v interface{}, args ...string) error {
	out, err := c.Run(ctx, append(append([]string(nil), args...), "--format", "json")...)
	if err != nil {
		return err
	}
	return decode(out, v, args)
}

// exec runs the ceph command with host files bind mounted into the
// container, mounts are given as host:container paths.
func (c *Ceph) exec(ctx context.Context, mounts []string, args ...string) (string, error) {
	var sb strings.Builder
	sb.WriteString("cephadm shell")
	for _, m := range mounts {
		sb.WriteString(" --mount ")
		sb.WriteString(shell.Quote(m))
	}
	sb.WriteString(" -- ceph")
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(shell.Quote(a))
	}
	cmd := sb.String()
	c.log.V(1).Info("running", "cmd", cmd)
	out, err := c.installer.Sudo(ctx, cmd)
	if err != nil {
		return out, commandFailed("ceph "+strings.Join(args, " "), err)
	}
	return out, nil
}

func commandFailed(op string, err error) error {
	var ce *client.CommandError
	if errors.As(err, &ce) && ce.ExitCode == exitENOENT && notFoundOutput(ce.Output) {
		return failure.OperationFailed(op, errors.Wrap(failure.ErrNotFound, strings.TrimSpace(ce.Output)))
	}
	return failure.OperationFailed(op, err)
}

func notFoundOutput(out string) bool {
	for _, s := range []string{"ENOENT", "does not exist", "not found", "No such file"} {
		if strings.Contains(out, s) {
			return true
		}
	}
	return false
}

func decode(out string, v interface{}, args []string) error {
	body := trimNotices(out)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return errors.Wrapf(err, "decoding output of ceph %s", strings.Join(args, " "))
	}
	return nil
}

// RemoteTime returns the clock of the installer node, log windows are
// expressed in cluster time.
func (c *Ceph) RemoteTime(ctx context.Context) (time.Time, error) {
	out, err := c.installer.Sudo(ctx, "date +%s")
	if err != nil {
		return time.Time{}, failure.OperationFailed("reading installer clock", err)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "unexpected date output %q", out)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// FSID returns the cluster fsid.
func (c *Ceph) FSID(ctx context.Context) (string, error) {
	out, err := c.Run(ctx, "fsid")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// Health returns the overall health status and the names of the raised
// health checks.
func (c *Ceph) Health(ctx context.Context) (string, []string, error) {
	var h struct {
		Status string                     `json:"status"`
		Checks map[string]json.RawMessage `json:"checks"`
	}
	if err := c.RunJSON(ctx, &h, "health", "detail"); err != nil {
		return "", nil, err
	}
	checks := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		checks = append(checks, name)
	}
	return h.Status, checks, nil
}

// LogHealth logs the cluster health, failures are only logged.
func (c *Ceph) LogHealth(ctx context.Context) {
	status, checks, err := c.Health(ctx)
	if err != nil {
		c.log.Error(err, "Failed to read cluster health")
		return
	}
	c.log.Info("Cluster health", "status", status, "checks", checks)
}
