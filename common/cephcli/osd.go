package cephcli

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"ceph-e2e/common/cluster"
	"ceph-e2e/common/failure"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// OSDs returns the ids of all OSDs in the osd map.
func (c *Ceph) OSDs(ctx context.Context) (sets.Int, error) {
	var ids []int
	if err := c.RunJSON(ctx, &ids, "osd", "ls"); err != nil {
		return nil, err
	}
	return sets.NewInt(ids...), nil
}

// OSDState is the osd map entry of one OSD.
type OSDState struct {
	ID int `json:"osd"`
	Up int `json:"up"`
	In int `json:"in"`
}

// OSDDump returns the osd map entries keyed by id.
func (c *Ceph) OSDDump(ctx context.Context) (map[int]OSDState, error) {
	var dump struct {
		OSDs []OSDState `json:"osds"`
	}
	if err := c.RunJSON(ctx, &dump, "osd", "dump"); err != nil {
		return nil, err
	}
	out := make(map[int]OSDState, len(dump.OSDs))
	for _, o := range dump.OSDs {
		out[o.ID] = o
	}
	return out, nil
}

func (c *Ceph) MarkOut(ctx context.Context, id int) error {
	_, err := c.Run(ctx, "osd", "out", strconv.Itoa(id))
	return err
}

func (c *Ceph) MarkIn(ctx context.Context, id int) error {
	_, err := c.Run(ctx, "osd", "in", strconv.Itoa(id))
	return err
}

// RemoveOSD queues the removal of the OSD through the orchestrator,
// zapping its device once drained.
func (c *Ceph) RemoveOSD(ctx context.Context, id int, zap bool) error {
	args := []string{"orch", "osd", "rm", strconv.Itoa(id)}
	if zap {
		args = append(args, "--zap")
	}
	_, err := c.Run(ctx, args...)
	return err
}

// RemovalQueue returns the ids of OSDs still queued for removal.
func (c *Ceph) RemovalQueue(ctx context.Context) (sets.Int, error) {
	out, err := c.Run(ctx, "orch", "osd", "rm", "status", "--format", "json")
	if err != nil {
		return nil, err
	}
	// an empty queue is reported as text whatever the format
	if strings.Contains(out, "No OSD remove/replace operations reported") {
		return sets.NewInt(), nil
	}
	var queue []struct {
		OSDID int `json:"osd_id"`
	}
	if err := decode(out, &queue, []string{"orch", "osd", "rm", "status"}); err != nil {
		return nil, err
	}
	ids := sets.NewInt()
	for _, q := range queue {
		ids.Insert(q.OSDID)
	}
	return ids, nil
}

// ZapDevice wipes a device on host so it can be reused.
func (c *Ceph) ZapDevice(ctx context.Context, host, device string) error {
	_, err := c.Run(ctx, "orch", "device", "zap", host, device, "--force")
	return err
}

// AddOSD deploys an OSD on device of host.
func (c *Ceph) AddOSD(ctx context.Context, host, device string) error {
	_, err := c.Run(ctx, "orch", "daemon", "add", "osd", host+":"+device)
	return err
}

// OSDService returns the orchestrator service the OSD belongs to.
func (c *Ceph) OSDService(ctx context.Context, id int) (string, error) {
	d, err := c.daemon(ctx, "osd", strconv.Itoa(id))
	if err != nil {
		return "", err
	}
	return d.ServiceName, nil
}

// OSDHost returns the inventory node running the OSD.
func (c *Ceph) OSDHost(ctx context.Context, cl *cluster.Cluster, id int) (*cluster.Node, error) {
	hostname, err := c.DaemonHost(ctx, "osd", strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	return cl.NodeByHostname(hostname)
}

// HostOSDs returns the ids of the OSDs deployed on host.
func (c *Ceph) HostOSDs(ctx context.Context, host string) ([]int, error) {
	daemons, err := c.ListDaemons(ctx, DaemonFilter{Hostname: host, DaemonType: "osd"})
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, d := range daemons {
		id, err := strconv.Atoi(d.DaemonID)
		if err != nil {
			return nil, errors.Wrapf(err, "unexpected osd id %q", d.DaemonID)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type lvmVolume struct {
	Devices []string          `json:"devices"`
	Type    string            `json:"type"`
	Tags    map[string]string `json:"tags"`
}

// ceph-volume runs on the OSD host itself
func lvmList(ctx context.Context, host *cluster.Node) (map[string][]lvmVolume, error) {
	out, err := host.Sudo(ctx, "cephadm ceph-volume lvm list --format json")
	if err != nil {
		return nil, failure.OperationFailed("ceph-volume lvm list on "+host.Hostname, err)
	}
	vols := map[string][]lvmVolume{}
	body := strings.TrimSpace(out)
	if i := strings.Index(body, "{"); i > 0 {
		body = body[i:]
	}
	if err := json.Unmarshal([]byte(body), &vols); err != nil {
		return nil, errors.Wrapf(err, "decoding ceph-volume output of %s", host.Hostname)
	}
	return vols, nil
}

// DevicePath returns the block device backing the OSD on host.
func DevicePath(ctx context.Context, host *cluster.Node, id int) (string, error) {
	vols, err := lvmList(ctx, host)
	if err != nil {
		return "", err
	}
	for _, v := range vols[strconv.Itoa(id)] {
		if v.Type == "block" && len(v.Devices) > 0 {
			return v.Devices[0], nil
		}
	}
	return "", errors.Wrapf(failure.ErrNotFound, "no block device for osd.%d on %s", id, host.Hostname)
}

// DevicePresent reports whether ceph-volume on host knows the OSD.
func DevicePresent(ctx context.Context, host *cluster.Node, id int) (bool, error) {
	vols, err := lvmList(ctx, host)
	if err != nil {
		return false, err
	}
	_, ok := vols[strconv.Itoa(id)]
	return ok, nil
}
