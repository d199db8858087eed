package cephcli

import (
	"context"

	"ceph-e2e/common/failure"
)

// ActiveMgr returns the name of the active manager daemon.
func (c *Ceph) ActiveMgr(ctx context.Context) (string, error) {
	var dump struct {
		ActiveName string `json:"active_name"`
		Available  bool   `json:"available"`
	}
	if err := c.RunJSON(ctx, &dump, "mgr", "dump"); err != nil {
		return "", err
	}
	if dump.ActiveName == "" {
		return "", failure.OperationFailedf("no active mgr")
	}
	return dump.ActiveName, nil
}

// FailMgr forces a failover of the active manager.
func (c *Ceph) FailMgr(ctx context.Context) error {
	_, err := c.Run(ctx, "mgr", "fail")
	return err
}
