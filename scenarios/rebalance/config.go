package rebalance

import (
	"time"

	"ceph-e2e/common/cephcli"
	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
)

const (
	overrideRecovery  = "osd_mclock_override_recovery_settings"
	maxBackfills      = "osd_max_backfills"
	recoveryMaxActive = "osd_recovery_max_active"

	// rados bench stops at max objects well before this
	benchSeconds = 600
	putSize      = 4 << 20

	maxFailoverFailures = 3
)

// mgr tracebacks seen while the balancer handled an OSD removal
var defaultSignatures = []string{
	"mgr load Traceback",
	"TypeError: __init__() got an unexpected keyword argument 'original_weight'",
}

type rebalanceConfig struct {
	pool              cephcli.PoolSpec
	objects           int
	radosPut          bool
	maxBackfills      int
	recoveryMaxActive int
	deletePools       []string
	mgrFailIterations int
	mgrFailInterval   time.Duration
	signatures        []string
	logSource         string
}

func newConfig(cfg e2e_config.E2EConfig) (*rebalanceConfig, error) {
	opts := cfg.OsdInprogressRebalance
	if opts.PoolName == "" {
		return nil, failure.ConfigErrorf("pool_name is required")
	}
	if opts.PoolType != "replicated" && opts.PoolType != "erasure" {
		return nil, failure.ConfigErrorf("pool_type must be replicated or erasure, got %q", opts.PoolType)
	}
	if opts.Objects < 1 {
		return nil, failure.ConfigErrorf("objects must be positive, got %d", opts.Objects)
	}
	interval, err := time.ParseDuration(opts.MgrFailInterval)
	if err != nil {
		return nil, failure.ConfigErrorf("invalid mgr_fail_interval %q", opts.MgrFailInterval)
	}
	signatures := opts.LogSignatures
	if len(signatures) == 0 {
		signatures = defaultSignatures
	}
	return &rebalanceConfig{
		pool: cephcli.PoolSpec{
			Name:  opts.PoolName,
			Type:  opts.PoolType,
			PgNum: opts.PgNum,
			K:     opts.EcK,
			M:     opts.EcM,
		},
		objects:           opts.Objects,
		radosPut:          opts.RadosPut,
		maxBackfills:      opts.MaxBackfills,
		recoveryMaxActive: opts.RecoveryMaxActive,
		deletePools:       opts.DeletePools,
		mgrFailIterations: opts.MgrFailIterations,
		mgrFailInterval:   interval,
		signatures:        signatures,
		logSource:         cfg.Logs.Source,
	}, nil
}
