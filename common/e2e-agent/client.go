package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// RestPort is the port on which e2e-agent is listening
const RestPort = "10012"

// ExecRequest runs Cmd through the node shell, as root when Sudo is set
type ExecRequest struct {
	Cmd  string `json:"cmd"`
	Sudo bool   `json:"sudo"`
}

// ExecResponse carries the combined output and exit status of a command.
type ExecResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
	Error    string `json:"error,omitempty"`
}

// WriteFileRequest writes Content to Path on the node.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Mode    uint32 `json:"mode"`
}

// MountRequest mounts Source on Target with the given filesystem type.
type MountRequest struct {
	Source  string   `json:"source"`
	Target  string   `json:"target"`
	FsType  string   `json:"fsType"`
	Options []string `json:"options"`
}

// UnmountRequest unmounts Target, Target is left in place.
type UnmountRequest struct {
	Target string `json:"target"`
}

// StatusResponse is returned by all endpoints other than /exec.
type StatusResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CommandError a remote command ran to completion with a non-zero exit code.
type CommandError struct {
	Node     string
	Cmd      string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q on %s exited %d: %s", e.Cmd, e.Node, e.ExitCode, e.Output)
}

// Agent talks to the e2e-agent on one node.
type Agent struct {
	addr   string
	port   string
	log    logr.Logger
	client *http.Client
}

// New returns an Agent for the e2e-agent at addr:port.
// timeout bounds a single request, zero means no bound.
func New(addr, port string, timeout time.Duration, log logr.Logger) *Agent {
	if port == "" {
		port = RestPort
	}
	return &Agent{
		addr:   addr,
		port:   port,
		log:    log.WithName("e2e-agent").WithValues("addr", addr),
		client: &http.Client{Timeout: timeout},
	}
}

func (a *Agent) url(endpoint string) string {
	return "http://" + a.addr + ":" + a.port + endpoint
}

func (a *Agent) sendRequest(ctx context.Context, reqType, endpoint string, data interface{}, resp interface{}) error {
	reqData := new(bytes.Buffer)
	if data != nil {
		if err := json.NewEncoder(reqData).Encode(data); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, reqType, a.url(endpoint), reqData)
	if err != nil {
		return err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	res, err := a.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "e2e-agent %s unreachable", a.addr)
	}
	defer res.Body.Close()
	bodyBytes, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if resp != nil && len(bodyBytes) != 0 {
		if err := json.Unmarshal(bodyBytes, resp); err != nil {
			return errors.Wrapf(err, "decoding response from %s, status %d", endpoint, res.StatusCode)
		}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		if st, ok := resp.(*StatusResponse); ok && st.Error != "" {
			return errors.Errorf("%s on %s failed: %s", endpoint, a.addr, st.Error)
		}
		return errors.Errorf("%s on %s failed with status %d", endpoint, a.addr, res.StatusCode)
	}
	return nil
}

// IsAgentReachable checks if the agent is reachable
func (a *Agent) IsAgentReachable(ctx context.Context) error {
	return a.sendRequest(ctx, "GET", "/", nil, nil)
}

// Exec runs cmd on the node and returns its combined output.
// A non-zero exit code is returned as a *CommandError.
func (a *Agent) Exec(ctx context.Context, cmd string, sudo bool) (string, error) {
	a.log.V(1).Info("exec", "cmd", cmd, "sudo", sudo)
	var resp ExecResponse
	if err := a.sendRequest(ctx, "POST", "/exec", ExecRequest{Cmd: cmd, Sudo: sudo}, &resp); err != nil {
		if resp.Error != "" {
			return resp.Output, errors.Wrap(err, resp.Error)
		}
		return resp.Output, err
	}
	if resp.ExitCode != 0 {
		return resp.Output, &CommandError{Node: a.addr, Cmd: cmd, ExitCode: resp.ExitCode, Output: resp.Output}
	}
	return resp.Output, nil
}

// WriteFile writes data to path on the node.
func (a *Agent) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	a.log.V(1).Info("writeFile", "path", path, "bytes", len(data))
	var resp StatusResponse
	return a.sendRequest(ctx, "POST", "/writeFile", WriteFileRequest{Path: path, Content: data, Mode: uint32(mode)}, &resp)
}

// Mount mounts a filesystem on the node.
func (a *Agent) Mount(ctx context.Context, req MountRequest) error {
	a.log.Info("Mounting", "source", req.Source, "target", req.Target, "fsType", req.FsType)
	var resp StatusResponse
	return a.sendRequest(ctx, "POST", "/mount", req, &resp)
}

// Unmount unmounts target on the node, unmounting a path which is
// not a mount point succeeds.
func (a *Agent) Unmount(ctx context.Context, target string) error {
	a.log.Info("Unmounting", "target", target)
	var resp StatusResponse
	return a.sendRequest(ctx, "POST", "/unmount", UnmountRequest{Target: target}, &resp)
}
