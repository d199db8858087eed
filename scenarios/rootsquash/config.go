package rootsquash

import (
	"strconv"
	"strings"

	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
)

const (
	baseExport   = "/export"
	baseMount    = "/mnt/nfs"
	squashExport = "/export_1"
	squashMount  = "/mnt/nfs_squash"
	squashPolicy = "rootsquash"
)

type rootsquashConfig struct {
	servers        int
	port           string
	version        int
	ha             bool
	vip            string
	linuxClients   int
	windowsClients int
	fsName         string
	nfsName        string
	squashUser     string
	drive          string
	entries        int
}

func newConfig(cfg e2e_config.E2EConfig) (*rootsquashConfig, error) {
	opts := cfg.NfsExportRootsquash
	version, err := strconv.Atoi(strings.TrimPrefix(opts.NfsVersion, "v"))
	if err != nil {
		return nil, failure.ConfigErrorf("invalid nfs_version %q", opts.NfsVersion)
	}
	if opts.Ha && opts.Vip == "" {
		return nil, failure.ConfigErrorf("ha requires a vip")
	}
	if opts.EntryCount < 1 {
		return nil, failure.ConfigErrorf("entry_count must be positive, got %d", opts.EntryCount)
	}
	return &rootsquashConfig{
		servers:        opts.Servers,
		port:           opts.Port,
		version:        version,
		ha:             opts.Ha,
		vip:            opts.Vip,
		linuxClients:   opts.LinuxClients,
		windowsClients: opts.WindowsClients,
		fsName:         opts.FsName,
		nfsName:        opts.NfsName,
		squashUser:     opts.SquashUser,
		drive:          opts.WindowsDrive,
		entries:        opts.EntryCount,
	}, nil
}

func (c *rootsquashConfig) service() string {
	return "nfs." + c.nfsName
}

// mountOptions are the options of the POSIX client mounts.
func (c *rootsquashConfig) mountOptions() []string {
	opts := []string{"vers=" + strconv.Itoa(c.version)}
	if c.port != "" {
		opts = append(opts, "port="+c.port)
	}
	return opts
}
