package cephcli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strconv"
	"strings"

	"ceph-e2e/common/cluster"
	"ceph-e2e/common/failure"
	"ceph-e2e/common/shell"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Rados runs the rados client on a client node.
type Rados struct {
	node *cluster.Node
	log  logr.Logger
}

func NewRados(node *cluster.Node, log logr.Logger) *Rados {
	return &Rados{node: node, log: log.WithName("rados").WithValues("client", node.Hostname)}
}

// Bench writes objects into pool, the objects are kept.
func (r *Rados) Bench(ctx context.Context, pool string, seconds, maxObjects int) error {
	cmd := strings.Join([]string{"rados", "bench", "-p", shell.Quote(pool), strconv.Itoa(seconds), "write",
		"--max-objects", strconv.Itoa(maxObjects), "--no-cleanup"}, " ")
	if _, err := r.node.Sudo(ctx, cmd); err != nil {
		return failure.OperationFailed("rados bench on "+pool, err)
	}
	return nil
}

// Object is an object written with Put, remembered for the read back check.
type Object struct {
	Pool   string
	Name   string
	Digest string
}

// Put writes size bytes of fresh content as a new object into pool.
func (r *Rados) Put(ctx context.Context, pool string, size int) (*Object, error) {
	name := "e2e-" + uuid.New().String()
	data := []byte(strings.Repeat(name, size/len(name)+1)[:size])
	local := path.Join("/tmp", name)
	if err := r.node.WriteFile(ctx, local, data, 0644); err != nil {
		return nil, failure.OperationFailed("writing rados payload", err)
	}
	defer r.remove(ctx, local)
	cmd := "rados -p " + shell.Quote(pool) + " put " + name + " " + local
	if _, err := r.node.Sudo(ctx, cmd); err != nil {
		return nil, failure.OperationFailed("rados put "+name, err)
	}
	sum := sha256.Sum256(data)
	r.log.Info("Object written", "pool", pool, "object", name, "bytes", size)
	return &Object{Pool: pool, Name: name, Digest: hex.EncodeToString(sum[:])}, nil
}

// Get reads obj back and compares its digest with the written content.
func (r *Rados) Get(ctx context.Context, obj *Object) error {
	local := path.Join("/tmp", obj.Name+".out")
	defer r.remove(ctx, local)
	cmd := "rados -p " + shell.Quote(obj.Pool) + " get " + obj.Name + " " + local + " && sha256sum " + local
	out, err := r.node.Sudo(ctx, cmd)
	if err != nil {
		return failure.OperationFailed("rados get "+obj.Name, err)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return errors.Errorf("no digest for %s", obj.Name)
	}
	if fields[0] != obj.Digest {
		return &failure.AssertionError{What: "content of object " + obj.Name, Expected: obj.Digest, Actual: fields[0]}
	}
	return nil
}

func (r *Rados) remove(ctx context.Context, p string) {
	if _, err := r.node.Sudo(ctx, "rm -f "+p); err != nil {
		r.log.Info("Failed to remove scratch file", "path", p, "error", err)
	}
}
