package cephcli

import (
	"context"
	"strconv"
	"strings"

	"ceph-e2e/common/failure"

	"github.com/pkg/errors"
)

// PoolSpec describes a pool to create.
type PoolSpec struct {
	Name string
	// Type is replicated or erasure
	Type  string
	PgNum int
	// K and M are the erasure code data and coding chunks
	K int
	M int
	// Application is enabled on the pool, rados when empty
	Application string
}

// ProfileName is the erasure code profile created for an erasure pool.
func (p PoolSpec) ProfileName() string {
	return p.Name + "-profile"
}

// CreatePool creates the pool, and its erasure code profile for an
// erasure pool.
func (c *Ceph) CreatePool(ctx context.Context, spec PoolSpec) error {
	pg := strconv.Itoa(spec.PgNum)
	switch spec.Type {
	case "", "replicated":
		if _, err := c.Run(ctx, "osd", "pool", "create", spec.Name, pg, pg, "replicated"); err != nil {
			return err
		}
	case "erasure":
		if spec.K < 2 || spec.M < 1 {
			return failure.ConfigErrorf("erasure pool %s needs k >= 2 and m >= 1, got k=%d m=%d", spec.Name, spec.K, spec.M)
		}
		if _, err := c.Run(ctx, "osd", "erasure-code-profile", "set", spec.ProfileName(),
			"k="+strconv.Itoa(spec.K), "m="+strconv.Itoa(spec.M), "crush-failure-domain=osd"); err != nil {
			return err
		}
		if _, err := c.Run(ctx, "osd", "pool", "create", spec.Name, pg, pg, "erasure", spec.ProfileName()); err != nil {
			return err
		}
	default:
		return failure.ConfigErrorf("unknown pool type %q", spec.Type)
	}
	app := spec.Application
	if app == "" {
		app = "rados"
	}
	_, err := c.Run(ctx, "osd", "pool", "application", "enable", spec.Name, app)
	return err
}

// Pools returns the names of all pools.
func (c *Ceph) Pools(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.RunJSON(ctx, &names, "osd", "pool", "ls"); err != nil {
		return nil, err
	}
	return names, nil
}

// DeletePool deletes a pool, an absent pool yields ErrNotFound.
func (c *Ceph) DeletePool(ctx context.Context, name string) error {
	pools, err := c.Pools(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, p := range pools {
		found = found || p == name
	}
	if !found {
		return errors.Wrapf(failure.ErrNotFound, "pool %s", name)
	}
	return c.allowPoolDelete(ctx, func() error {
		_, err := c.Run(ctx, "osd", "pool", "delete", name, name, "--yes-i-really-really-mean-it")
		return err
	})
}

// allowPoolDelete lets the monitors delete pools while fn runs, the mon
// setting found before is put back afterwards.
func (c *Ceph) allowPoolDelete(ctx context.Context, fn func() error) error {
	restore, err := c.Override(ctx, Type("mon"), "mon_allow_pool_delete", "true")
	if err != nil {
		return err
	}
	err = fn()
	if rerr := restore(ctx); rerr != nil {
		if err == nil {
			return rerr
		}
		c.log.Error(rerr, "Failed to restore mon_allow_pool_delete")
	}
	return err
}

// DeleteErasureProfile removes an erasure code profile.
func (c *Ceph) DeleteErasureProfile(ctx context.Context, name string) error {
	_, err := c.Run(ctx, "osd", "erasure-code-profile", "rm", name)
	return err
}

// PG is one placement group of `pg ls-by-pool`.
type PG struct {
	PGID   string `json:"pgid"`
	State  string `json:"state"`
	Acting []int  `json:"acting"`
	Up     []int  `json:"up"`
}

// Clean reports whether the PG is fully replicated with nothing pending.
// Scrubbing does not matter.
func (p PG) Clean() bool {
	var active, clean bool
	for _, s := range strings.Split(p.State, "+") {
		switch {
		case s == "active":
			active = true
		case s == "clean":
			clean = true
		case strings.HasPrefix(s, "recover"), strings.HasPrefix(s, "backfill"),
			s == "degraded", s == "peering", s == "remapped", s == "undersized",
			s == "stale", s == "down", s == "incomplete":
			return false
		}
	}
	return active && clean
}

// PoolPGs returns the placement groups of pool.
func (c *Ceph) PoolPGs(ctx context.Context, pool string) ([]PG, error) {
	out, err := c.Run(ctx, "pg", "ls-by-pool", pool, "--format", "json")
	if err != nil {
		return nil, err
	}
	args := []string{"pg", "ls-by-pool", pool}
	// newer releases wrap the list
	var wrapped struct {
		PGStats []PG `json:"pg_stats"`
	}
	if err := decode(out, &wrapped, args); err == nil {
		return wrapped.PGStats, nil
	}
	var pgs []PG
	if err := decode(out, &pgs, args); err != nil {
		return nil, err
	}
	return pgs, nil
}

// PGsClean reports whether every PG of pool is active+clean.
func (c *Ceph) PGsClean(ctx context.Context, pool string) (bool, error) {
	pgs, err := c.PoolPGs(ctx, pool)
	if err != nil {
		return false, err
	}
	if len(pgs) == 0 {
		return false, nil
	}
	for _, pg := range pgs {
		if !pg.Clean() {
			return false, nil
		}
	}
	return true, nil
}

// ActingSet returns the acting set of the first PG of pool.
func (c *Ceph) ActingSet(ctx context.Context, pool string) ([]int, error) {
	pgs, err := c.PoolPGs(ctx, pool)
	if err != nil {
		return nil, err
	}
	if len(pgs) == 0 || len(pgs[0].Acting) == 0 {
		return nil, failure.OperationFailedf("pool %s has no acting set", pool)
	}
	return pgs[0].Acting, nil
}
