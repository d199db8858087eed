package cluster

import (
	"context"
	"os"
	"strings"

	"ceph-e2e/common/e2e_config"
	client "ceph-e2e/common/e2e-agent"
	"ceph-e2e/common/failure"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleInstaller     Role = "installer"
	RoleMon           Role = "mon"
	RoleMgr           Role = "mgr"
	RoleOsd           Role = "osd"
	RoleNfs           Role = "nfs"
	RoleClient        Role = "client"
	RoleWindowsClient Role = "windows_client"
)

const (
	OSLinux   = "linux"
	OSWindows = "windows"
)

// Executor runs operations on a single node.
type Executor interface {
	Exec(ctx context.Context, cmd string, sudo bool) (string, error)
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error
	Mount(ctx context.Context, req client.MountRequest) error
	Unmount(ctx context.Context, target string) error
}

// Node is one host of the cluster under test.
type Node struct {
	Hostname  string
	IPAddress string
	OS        string
	roles     map[Role]bool
	exec      Executor
}

// NewNode returns a node with the given roles which executes through exec.
func NewNode(hostname, ip string, exec Executor, roles ...Role) *Node {
	n := &Node{
		Hostname:  hostname,
		IPAddress: ip,
		OS:        OSLinux,
		roles:     map[Role]bool{},
		exec:      exec,
	}
	for _, role := range roles {
		n.roles[role] = true
		if role == RoleWindowsClient {
			n.OS = OSWindows
		}
	}
	return n
}

// HasRole reports whether the node carries role.
func (n *Node) HasRole(role Role) bool {
	return n.roles[role]
}

// Exec runs cmd as the agent user.
func (n *Node) Exec(ctx context.Context, cmd string) (string, error) {
	return n.exec.Exec(ctx, cmd, false)
}

// Sudo runs cmd with elevated privileges.
func (n *Node) Sudo(ctx context.Context, cmd string) (string, error) {
	return n.exec.Exec(ctx, cmd, true)
}

func (n *Node) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	return n.exec.WriteFile(ctx, path, data, mode)
}

func (n *Node) Mount(ctx context.Context, req client.MountRequest) error {
	return n.exec.Mount(ctx, req)
}

func (n *Node) Unmount(ctx context.Context, target string) error {
	return n.exec.Unmount(ctx, target)
}

func (n *Node) String() string {
	return n.Hostname
}

// Cluster is the handle on the cluster under test, nodes are kept in
// inventory order.
type Cluster struct {
	nodes []*Node
}

func New(nodes ...*Node) *Cluster {
	return &Cluster{nodes: nodes}
}

// FromConfig builds the cluster handle from the inventory, dial returns
// the executor for a node.
func FromConfig(cfg e2e_config.E2EConfig, dial func(node e2e_config.NodeConfig) Executor) (*Cluster, error) {
	if len(cfg.Cluster.Nodes) == 0 {
		return nil, failure.ConfigErrorf("cluster inventory is empty")
	}
	c := &Cluster{}
	for _, nc := range cfg.Cluster.Nodes {
		roles := make([]Role, 0, len(nc.Roles))
		for _, r := range nc.Roles {
			roles = append(roles, Role(strings.ToLower(r)))
		}
		node := NewNode(nc.Hostname, nc.IPAddress, dial(nc), roles...)
		if nc.OS != "" {
			node.OS = strings.ToLower(nc.OS)
		}
		c.nodes = append(c.nodes, node)
	}
	return c, nil
}

// AgentDialer returns a dial function that connects to each node's e2e-agent.
func AgentDialer(cfg e2e_config.E2EConfig, log logr.Logger) func(node e2e_config.NodeConfig) Executor {
	return func(node e2e_config.NodeConfig) Executor {
		addr := node.AgentAddr
		if addr == "" {
			addr = node.IPAddress
		}
		return client.New(addr, cfg.Agent.Port, cfg.AgentTimeout(), log)
	}
}

// Nodes returns all nodes.
func (c *Cluster) Nodes() []*Node {
	return append([]*Node(nil), c.nodes...)
}

// GetNodes returns the nodes carrying role.
func (c *Cluster) GetNodes(role Role) []*Node {
	var nodes []*Node
	for _, n := range c.nodes {
		if n.HasRole(role) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Require returns the first count nodes carrying role, or a
// ConfigurationError if the cluster has fewer.
func (c *Cluster) Require(role Role, count int) ([]*Node, error) {
	if count < 1 {
		return nil, failure.ConfigErrorf("the test requires at least one %s node, %d requested", role, count)
	}
	nodes := c.GetNodes(role)
	if count > len(nodes) {
		return nil, failure.ConfigErrorf("the test requires %d %s nodes, %d available", count, role, len(nodes))
	}
	return nodes[:count], nil
}

// Installer returns the node the admin CLI is run from.
func (c *Cluster) Installer() (*Node, error) {
	nodes, err := c.Require(RoleInstaller, 1)
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// NodeByHostname returns the node named hostname. The cluster may report
// fully qualified names, the short name matches as well.
func (c *Cluster) NodeByHostname(hostname string) (*Node, error) {
	short := strings.SplitN(hostname, ".", 2)[0]
	for _, n := range c.nodes {
		if n.Hostname == hostname || strings.SplitN(n.Hostname, ".", 2)[0] == short {
			return n, nil
		}
	}
	return nil, errors.Wrapf(failure.ErrNotFound, "node %s is not in the inventory", hostname)
}
