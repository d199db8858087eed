package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	client "ceph-e2e/common/e2e-agent"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/mount-utils"
)

const (
	InternalServerErrorCode      = 500
	UnprocessableEntityErrorCode = 422
)

type server struct {
	mounter mount.Interface
	// shell runs a command line, e.g. sh -c
	shell []string
	// sudo is prefixed to privileged commands when not running as root
	sudo []string
}

func newServer(mounter mount.Interface, windows bool) *server {
	s := &server{mounter: mounter, shell: []string{"sh", "-c"}}
	if windows {
		s.shell = []string{"cmd", "/C"}
	} else if os.Geteuid() != 0 {
		s.sudo = []string{"sudo", "-n"}
	}
	return s
}

func (s *server) router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/", homePage)
	router.HandleFunc("/exec", s.execCmd).Methods("POST")
	router.HandleFunc("/writeFile", s.writeFile).Methods("POST")
	router.HandleFunc("/mount", s.mountFs).Methods("POST")
	router.HandleFunc("/unmount", s.unmountFs).Methods("POST")
	return router
}

func homePage(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "Welcome home!\n")
}

func reply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func fail(w http.ResponseWriter, code int, err error) {
	reply(w, code, client.StatusResponse{Error: err.Error()})
}

func (s *server) command(line string, sudo bool) *exec.Cmd {
	var args []string
	if sudo {
		args = append(args, s.sudo...)
	}
	args = append(append(args, s.shell...), line)
	return exec.Command(args[0], args[1:]...)
}

// execCmd runs the command through the shell, a non-zero exit code is
// reported in the response and not as an HTTP error.
func (s *server) execCmd(w http.ResponseWriter, r *http.Request) {
	var req client.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, UnprocessableEntityErrorCode, client.ExecResponse{Error: err.Error()})
		return
	}
	if len(req.Cmd) == 0 {
		reply(w, UnprocessableEntityErrorCode, client.ExecResponse{Error: "no command passed"})
		return
	}
	cmd := s.command(req.Cmd, req.Sudo)
	logger := log.WithFields(log.Fields{"cmd": req.Cmd, "sudo": req.Sudo})
	logger.Debug("exec")
	output, err := cmd.CombinedOutput()
	resp := client.ExecResponse{Output: string(output)}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		resp.ExitCode = exitErr.ExitCode()
		logger.WithField("exitCode", resp.ExitCode).Info("command failed")
	case err != nil:
		resp.Error = err.Error()
		logger.WithError(err).Error("command did not run")
		reply(w, InternalServerErrorCode, resp)
		return
	}
	reply(w, http.StatusOK, resp)
}

func (s *server) writeFile(w http.ResponseWriter, r *http.Request) {
	var req client.WriteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, UnprocessableEntityErrorCode, err)
		return
	}
	if req.Path == "" {
		fail(w, UnprocessableEntityErrorCode, errors.New("no path passed"))
		return
	}
	mode := os.FileMode(req.Mode)
	if mode == 0 {
		mode = 0644
	}
	if err := os.MkdirAll(filepath.Dir(req.Path), 0755); err != nil {
		fail(w, InternalServerErrorCode, err)
		return
	}
	if err := ioutil.WriteFile(req.Path, req.Content, mode); err != nil {
		fail(w, InternalServerErrorCode, err)
		return
	}
	// WriteFile leaves the mode of an existing file alone
	if err := os.Chmod(req.Path, mode); err != nil {
		fail(w, InternalServerErrorCode, err)
		return
	}
	log.WithFields(log.Fields{"path": req.Path, "bytes": len(req.Content)}).Info("file written")
	reply(w, http.StatusOK, client.StatusResponse{Message: "written " + req.Path})
}

func (s *server) mountFs(w http.ResponseWriter, r *http.Request) {
	var req client.MountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, UnprocessableEntityErrorCode, err)
		return
	}
	if req.Source == "" || req.Target == "" {
		fail(w, UnprocessableEntityErrorCode, errors.New("source and target are required"))
		return
	}
	logger := log.WithFields(log.Fields{"source": req.Source, "target": req.Target, "fsType": req.FsType})

	if err := os.MkdirAll(req.Target, 0750); err != nil {
		fail(w, InternalServerErrorCode, err)
		return
	}
	notMnt, err := s.mounter.IsLikelyNotMountPoint(req.Target)
	if err != nil {
		fail(w, InternalServerErrorCode, err)
		return
	}
	if !notMnt {
		logger.Info("already mounted")
		reply(w, http.StatusOK, client.StatusResponse{Message: req.Target + " already mounted"})
		return
	}
	if err := s.mounter.Mount(req.Source, req.Target, req.FsType, req.Options); err != nil {
		logger.WithError(err).Error("mount failed")
		fail(w, InternalServerErrorCode, err)
		return
	}
	logger.Info("mounted")
	reply(w, http.StatusOK, client.StatusResponse{Message: "mounted " + req.Target})
}

func (s *server) unmountFs(w http.ResponseWriter, r *http.Request) {
	var req client.UnmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, UnprocessableEntityErrorCode, err)
		return
	}
	if req.Target == "" {
		fail(w, UnprocessableEntityErrorCode, errors.New("no target passed"))
		return
	}
	logger := log.WithField("target", req.Target)

	notMnt, err := s.mounter.IsLikelyNotMountPoint(req.Target)
	if err != nil && !os.IsNotExist(err) {
		fail(w, InternalServerErrorCode, err)
		return
	}
	if notMnt {
		logger.Info("not mounted")
		reply(w, http.StatusOK, client.StatusResponse{Message: req.Target + " not mounted"})
		return
	}
	if err := s.mounter.Unmount(req.Target); err != nil {
		logger.WithError(err).Error("unmount failed")
		fail(w, InternalServerErrorCode, err)
		return
	}
	logger.Info("unmounted")
	reply(w, http.StatusOK, client.StatusResponse{Message: "unmounted " + req.Target})
}
