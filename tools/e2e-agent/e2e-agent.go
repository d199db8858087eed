package main

import (
	"net/http"
	"os"
	"runtime"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"k8s.io/mount-utils"
)

type options struct {
	Address     string `long:"address" env:"E2E_AGENT_ADDR" description:"Address to listen on, all interfaces when empty"`
	Port        string `long:"port" env:"REST_PORT" default:"10012" description:"Port to listen on"`
	LogLevel    string `long:"log-level" env:"E2E_AGENT_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warning" choice:"error"`
	LogEncoding string `long:"log-encoding" default:"text" choice:"text" choice:"json"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "e2e agent"
	parser.LongDescription = "Runs commands, writes files and mounts filesystems on behalf of the ceph e2e tests"
	if _, err := parser.Parse(); err != nil {
		code := 1
		if fe, ok := err.(*flags.Error); ok {
			if fe.Type == flags.ErrHelp {
				code = 0
			}
		}
		os.Exit(code)
	}

	InitLogger(opts.LogLevel, opts.LogEncoding)
	srv := newServer(mount.New(""), runtime.GOOS == "windows")
	addr := opts.Address + ":" + opts.Port
	log.WithFields(log.Fields{"addr": addr, "os": runtime.GOOS}).Info("e2e-agent started")
	log.Fatal(http.ListenAndServe(addr, srv.router()))
}
