package cephcli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ceph-e2e/common/cluster"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/logs"
	"ceph-e2e/common/shell"
)

const journalTime = "2006-01-02 15:04:05"

// Journal reads daemon logs from the systemd journal of the daemon's host.
type Journal struct {
	ceph    *Ceph
	cluster *cluster.Cluster
}

func NewJournal(ceph *Ceph, cl *cluster.Cluster) *Journal {
	return &Journal{ceph: ceph, cluster: cl}
}

// Unit is the systemd unit cephadm deploys the daemon as.
func Unit(fsid string, q logs.Query) string {
	return fmt.Sprintf("ceph-%s@%s", fsid, q.Daemon())
}

// Lines implements logs.Source.
func (j *Journal) Lines(ctx context.Context, q logs.Query) ([]string, error) {
	hostname, err := j.ceph.DaemonHost(ctx, q.DaemonType, q.DaemonID)
	if err != nil {
		return nil, err
	}
	host, err := j.cluster.NodeByHostname(hostname)
	if err != nil {
		return nil, err
	}
	fsid, err := j.ceph.FSID(ctx)
	if err != nil {
		return nil, err
	}
	cmd := strings.Join([]string{
		"journalctl", "-u", shell.Quote(Unit(fsid, q)),
		"--since", shell.Quote(q.Start.UTC().Format(journalTime) + " UTC"),
		"--until", shell.Quote(q.End.UTC().Format(journalTime) + " UTC"),
		"--no-pager", "-o", "cat",
	}, " ")
	out, err := host.Sudo(ctx, cmd)
	if err != nil {
		return nil, failure.OperationFailed("journalctl on "+host.Hostname, err)
	}
	out = strings.TrimRight(out, "\n")
	if out == "" || strings.HasPrefix(out, "-- No entries --") {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Window is a log window measured on the cluster clock.
type Window struct {
	Start time.Time
	End   time.Time
}

// OpenWindow starts a log window at the current cluster time.
func (c *Ceph) OpenWindow(ctx context.Context) (*Window, error) {
	now, err := c.RemoteTime(ctx)
	if err != nil {
		return nil, err
	}
	return &Window{Start: now}, nil
}

// Close ends the window at the current cluster time.
func (w *Window) Close(ctx context.Context, c *Ceph) error {
	now, err := c.RemoteTime(ctx)
	if err != nil {
		return err
	}
	w.End = now
	return nil
}

// Query returns the log query for daemon over the window.
func (w *Window) Query(daemonType, daemonID string) logs.Query {
	return logs.Query{DaemonType: daemonType, DaemonID: daemonID, Start: w.Start, End: w.End}
}
