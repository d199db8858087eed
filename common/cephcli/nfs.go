package cephcli

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"ceph-e2e/common/failure"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NFSClusterSpec describes an NFS gateway cluster.
type NFSClusterSpec struct {
	Name  string
	Hosts []string
	Port  string
	// Ingress deploys haproxy/keepalived in front of the gateways on VirtualIP
	Ingress   bool
	VirtualIP string
}

// CreateNFSCluster deploys the NFS gateways.
func (c *Ceph) CreateNFSCluster(ctx context.Context, spec NFSClusterSpec) error {
	if spec.Name == "" || len(spec.Hosts) == 0 {
		return failure.ConfigErrorf("nfs cluster needs a name and at least one host")
	}
	args := []string{"nfs", "cluster", "create", spec.Name, strings.Join(spec.Hosts, ",")}
	if spec.Ingress {
		if spec.VirtualIP == "" {
			return failure.ConfigErrorf("nfs cluster %s: ingress requires a virtual ip", spec.Name)
		}
		args = append(args, "--ingress", "--virtual_ip", spec.VirtualIP)
	}
	if spec.Port != "" {
		args = append(args, "--port", spec.Port)
	}
	_, err := c.Run(ctx, args...)
	return err
}

// DeleteNFSCluster removes the NFS gateways and their exports.
func (c *Ceph) DeleteNFSCluster(ctx context.Context, name string) error {
	_, err := c.Run(ctx, "nfs", "cluster", "rm", name)
	return err
}

// ListNFSClusters returns the names of the deployed NFS clusters.
func (c *Ceph) ListNFSClusters(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.RunJSON(ctx, &names, "nfs", "cluster", "ls"); err != nil {
		return nil, err
	}
	return names, nil
}

// ExportSpec describes a CephFS backed NFS export.
type ExportSpec struct {
	Cluster    string
	PseudoPath string
	FsName     string
	// Squash is one of none, root_squash, rootsquash, all_squash
	Squash string
}

// CreateExport creates a CephFS export.
func (c *Ceph) CreateExport(ctx context.Context, spec ExportSpec) error {
	args := []string{"nfs", "export", "create", "cephfs",
		"--cluster-id", spec.Cluster,
		"--pseudo-path", spec.PseudoPath,
		"--fsname", spec.FsName,
	}
	if spec.Squash != "" {
		args = append(args, "--squash", spec.Squash)
	}
	_, err := c.Run(ctx, args...)
	return err
}

// DeleteExport removes an export, an absent export yields ErrNotFound.
func (c *Ceph) DeleteExport(ctx context.Context, cluster, pseudoPath string) error {
	exports, err := c.ListExports(ctx, cluster)
	if err != nil {
		return err
	}
	found := false
	for _, e := range exports {
		found = found || e == pseudoPath
	}
	if !found {
		return errors.Wrapf(failure.ErrNotFound, "export %s of %s", pseudoPath, cluster)
	}
	_, err = c.Run(ctx, "nfs", "export", "rm", cluster, pseudoPath)
	return err
}

// ListExports returns the pseudo paths exported by cluster.
func (c *Ceph) ListExports(ctx context.Context, cluster string) ([]string, error) {
	var paths []string
	if err := c.RunJSON(ctx, &paths, "nfs", "export", "ls", cluster); err != nil {
		return nil, err
	}
	return paths, nil
}

// Export is an export descriptor as returned by `nfs export info`.
// Unknown fields are kept so the descriptor can be applied back as is.
type Export struct {
	fields map[string]interface{}
}

func (e *Export) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.fields)
}

func (e Export) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields)
}

func (e Export) PseudoPath() string {
	s, _ := e.fields["pseudo"].(string)
	return s
}

func (e Export) Squash() string {
	s, _ := e.fields["squash"].(string)
	return s
}

// Protocols returns the NFS protocol versions the export is served with.
func (e Export) Protocols() []int {
	raw, _ := e.fields["protocols"].([]interface{})
	out := make([]int, 0, len(raw))
	for _, p := range raw {
		if f, ok := p.(float64); ok {
			out = append(out, int(f))
		}
	}
	sort.Ints(out)
	return out
}

// AddProtocol enables protocol version v on the export.
func (e *Export) AddProtocol(v int) {
	if e.fields == nil {
		e.fields = map[string]interface{}{}
	}
	protocols := e.Protocols()
	for _, p := range protocols {
		if p == v {
			return
		}
	}
	protocols = append(protocols, v)
	sort.Ints(protocols)
	raw := make([]interface{}, len(protocols))
	for i, p := range protocols {
		raw[i] = float64(p)
	}
	e.fields["protocols"] = raw
}

// ExportInfo returns the descriptor of an export.
func (c *Ceph) ExportInfo(ctx context.Context, cluster, pseudoPath string) (*Export, error) {
	out, err := c.Run(ctx, "nfs", "export", "info", cluster, pseudoPath)
	if err != nil {
		return nil, err
	}
	var exp Export
	if err := decode(out, &exp, []string{"nfs", "export", "info", cluster, pseudoPath}); err != nil {
		return nil, err
	}
	if len(exp.fields) == 0 {
		return nil, errors.Wrapf(failure.ErrNotFound, "export %s of %s", pseudoPath, cluster)
	}
	return &exp, nil
}

// containerDir is bind mounted from the installer into the cephadm shell.
const containerDir = "/var/lib/ceph"

// ApplyExport applies an edited descriptor. The descriptor is written to
// a scratch file on the installer and mounted into the admin container.
func (c *Ceph) ApplyExport(ctx context.Context, cluster string, exp *Export) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return err
	}
	name := "export-" + uuid.New().String() + ".conf"
	hostPath := path.Join("/tmp", name)
	if err := c.installer.WriteFile(ctx, hostPath, data, 0644); err != nil {
		return failure.OperationFailed("writing export descriptor", err)
	}
	defer func() {
		if _, err := c.installer.Sudo(ctx, "rm -f "+hostPath); err != nil {
			c.log.Info("Failed to remove export descriptor", "path", hostPath, "error", err)
		}
	}()
	containerPath := path.Join(containerDir, name)
	_, err = c.exec(ctx, []string{hostPath + ":" + containerPath}, "nfs", "export", "apply", cluster, "-i", containerPath)
	return err
}
