package memtarget

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
)

const (
	option = "osd_memory_target"

	typeValue      int64 = 6000000000
	osdValue       int64 = 5000000000
	hostOSDValue   int64 = 4500000000
	hostValue      int64 = 5500000000
	secondOSDValue int64 = 5800000000

	// host level propagation is fixed from this major release on
	minHostLevelMajor = 6
)

type memTargetConfig struct {
	rhbuild       string
	settleTimeout time.Duration
	// pick returns a random index below n
	pick func(n int) int
}

func newConfig(env *harness.Env) (*memTargetConfig, error) {
	opts := env.Config.OsdMemoryTarget
	c := &memTargetConfig{
		rhbuild:       opts.Rhbuild,
		settleTimeout: env.Config.SettleTimeout(),
		pick:          rand.New(rand.NewSource(time.Now().UnixNano())).Intn,
	}
	return c, nil
}

// hostLevelSupported reports whether the build carries the host level fix.
// An unspecified build is assumed to.
func (c *memTargetConfig) hostLevelSupported() (bool, error) {
	if c.rhbuild == "" {
		return true, nil
	}
	major, err := strconv.Atoi(strings.SplitN(c.rhbuild, ".", 2)[0])
	if err != nil {
		return false, failure.ConfigErrorf("cannot parse rhbuild %q", c.rhbuild)
	}
	return major >= minHostLevelMajor, nil
}

func value(v int64) string {
	return strconv.FormatInt(v, 10)
}
