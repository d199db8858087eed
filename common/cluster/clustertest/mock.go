package clustertest

// MockExecutor is a scripted cluster.Executor for unit tests.

import (
	"context"
	"os"
	"strings"
	"sync"

	client "ceph-e2e/common/e2e-agent"
	"ceph-e2e/common/shell"

	"github.com/pkg/errors"
)

// Call records one operation issued against a MockExecutor.
type Call struct {
	Op   string
	Arg  string
	Sudo bool
}

type MockExecutor struct {
	MockExec      func(cmd string, sudo bool) (string, error)
	MockWriteFile func(path string, data []byte) error
	MockMount     func(req client.MountRequest) error
	MockUnmount   func(target string) error

	mu     sync.Mutex
	calls  []Call
	files  map[string][]byte
	mounts map[string]client.MountRequest
}

func (m *MockExecutor) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *MockExecutor) Exec(ctx context.Context, cmd string, sudo bool) (string, error) {
	m.record(Call{Op: "exec", Arg: cmd, Sudo: sudo})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.MockExec != nil {
		return m.MockExec(cmd, sudo)
	}
	return "", errors.Errorf("unexpected command %q", cmd)
}

func (m *MockExecutor) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	m.record(Call{Op: "writeFile", Arg: path})
	if m.MockWriteFile != nil {
		if err := m.MockWriteFile(path, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *MockExecutor) Mount(ctx context.Context, req client.MountRequest) error {
	m.record(Call{Op: "mount", Arg: req.Target})
	if m.MockMount != nil {
		if err := m.MockMount(req); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mounts == nil {
		m.mounts = map[string]client.MountRequest{}
	}
	m.mounts[req.Target] = req
	return nil
}

func (m *MockExecutor) Unmount(ctx context.Context, target string) error {
	m.record(Call{Op: "unmount", Arg: target})
	if m.MockUnmount != nil {
		if err := m.MockUnmount(target); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mounts, target)
	return nil
}

// Calls returns a copy of the recorded operations.
func (m *MockExecutor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Commands returns the recorded exec commands containing substr.
func (m *MockExecutor) Commands(substr string) []string {
	var out []string
	for _, c := range m.Calls() {
		if c.Op == "exec" && strings.Contains(c.Arg, substr) {
			out = append(out, c.Arg)
		}
	}
	return out
}

// File returns the content last written to path.
func (m *MockExecutor) File(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	return data, ok
}

// Mounted returns the active mounts keyed by target.
func (m *MockExecutor) Mounted() map[string]client.MountRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]client.MountRequest, len(m.mounts))
	for k, v := range m.mounts {
		out[k] = v
	}
	return out
}

// CephArgs strips the admin shell prefix from cmd, returning the ceph
// arguments and true when cmd is a ceph CLI invocation.
func CephArgs(cmd string) ([]string, bool) {
	const sep = " -- ceph "
	if !strings.HasPrefix(cmd, "cephadm shell") {
		return nil, false
	}
	i := strings.Index(cmd, sep)
	if i < 0 {
		return nil, false
	}
	return shell.Split(cmd[i+len(sep):]), true
}
