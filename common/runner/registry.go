package runner

import (
	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/harness"
	"ceph-e2e/scenarios/memtarget"
	"ceph-e2e/scenarios/rebalance"
	"ceph-e2e/scenarios/rootsquash"
)

const (
	NfsExportRootsquash    = "nfs_export_rootsquash"
	OsdInprogressRebalance = "osd_inprogress_rebalance"
	// OsdMemoryTarget expands to the levels enabled in the configuration
	OsdMemoryTarget = "osd_memory_target"
)

var registry = map[string]func(cfg e2e_config.E2EConfig) ([]harness.Scenario, error){
	NfsExportRootsquash: func(e2e_config.E2EConfig) ([]harness.Scenario, error) {
		return []harness.Scenario{rootsquash.Scenario()}, nil
	},
	OsdInprogressRebalance: func(e2e_config.E2EConfig) ([]harness.Scenario, error) {
		return []harness.Scenario{rebalance.Scenario()}, nil
	},
	OsdMemoryTarget: memtarget.Scenarios,
}

// Names lists the scenarios that can be selected.
func Names() []string {
	return []string{NfsExportRootsquash, OsdInprogressRebalance, OsdMemoryTarget}
}

func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Select returns the scenarios for names in the given order.
func Select(cfg e2e_config.E2EConfig, names []string) ([]harness.Scenario, error) {
	var out []harness.Scenario
	for _, name := range names {
		build, ok := registry[name]
		if !ok {
			return nil, failure.ConfigErrorf("unknown scenario %q", name)
		}
		scenarios, err := build(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, scenarios...)
	}
	return out, nil
}
