// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package namespace is the entry point of the RPC front end. It keeps hot
// inodes in two keyed pools, one for files and one for directories, pushes
// leaf attribute changes through the write-back queue and runs structural
// operations through the subtree protocol.
package namespace

import (
	"context"
	"errors"
	"strconv"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/objpool"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
	"github.com/cubefs/namespacedb/subtree"
	"github.com/cubefs/namespacedb/writeback"
)

type Config struct {
	Files     objpool.Config   `json:"files"`
	Dirs      objpool.Config   `json:"dirs"`
	WriteBack writeback.Config `json:"write_back"`
	Subtree   subtree.Config   `json:"subtree"`
}

func (c *Config) fillDefault() {
	if c.Files.Name == "" {
		c.Files.Name = "files"
	}
	if c.Files.Capacity <= 0 {
		c.Files.Capacity = 10000
	}
	if c.Dirs.Name == "" {
		c.Dirs.Name = "dirs"
	}
	if c.Dirs.Capacity <= 0 {
		c.Dirs.Capacity = 50000
	}
}

type Namespace struct {
	store   store.Store
	files   *objpool.Pool[*Node]
	dirs    *objpool.Pool[*Node]
	queue   *writeback.Queue
	tree    *subtree.Protocol
	strings *stringTable
	// epochs is shared by both pools so a structural change also discards
	// loads that are about to land in the other pool.
	epochs *objpool.Fence
}

func New(ctx context.Context, s store.Store, cfg Config) (*Namespace, error) {
	span := trace.SpanFromContextSafe(ctx)
	cfg.fillDefault()
	ns := &Namespace{
		store:   s,
		queue:   writeback.New(cfg.WriteBack),
		tree:    subtree.New(s, cfg.Subtree),
		strings: newStringTable(s),
		epochs:  &objpool.Fence{},
	}
	ns.files = objpool.New[*Node](cfg.Files, ns.loader(false), flushNode, objpool.WithFence(ns.epochs))
	ns.dirs = objpool.New[*Node](cfg.Dirs, ns.loader(true), flushNode, objpool.WithFence(ns.epochs))
	if err := ns.strings.load(ctx); err != nil {
		ns.queue.Close(ctx)
		return nil, err
	}
	span.Infof("namespace on %s backend ready", s.Kind())
	return ns, nil
}

func flushNode(ctx context.Context, n *Node) error {
	return n.Flush(ctx)
}

// prefetched is an inode already read from the store, handed to the loader so a
// first touch costs one read. It is only used while no invalidation has
// happened since it was read.
type prefetched struct {
	inode *proto.Inode
	epoch uint64
}

type rowKey struct{}

func withRow(ctx context.Context, inode *proto.Inode, epoch uint64) context.Context {
	return context.WithValue(ctx, rowKey{}, prefetched{inode: inode, epoch: epoch})
}

func rowFrom(ctx context.Context, id proto.Ino) (prefetched, bool) {
	r, ok := ctx.Value(rowKey{}).(prefetched)
	if !ok || r.inode.ID != id {
		return prefetched{}, false
	}
	return r, true
}

// kindError reports that id lives in the other pool.
type kindError struct {
	prefetched
}

func (e *kindError) Error() string {
	kind := "file"
	if e.inode.IsDir() {
		kind = "directory"
	}
	return "inode " + strconv.FormatUint(e.inode.ID, 10) + " is a " + kind
}

func (e *kindError) Is(target error) bool {
	return target == apierrors.ErrConflict
}

func (ns *Namespace) loader(dir bool) objpool.Loader[*Node] {
	return func(ctx context.Context, id proto.Ino) (*Node, error) {
		epoch := ns.epochs.Epoch()
		r, ok := rowFrom(ctx, id)
		if !ok || r.epoch != epoch {
			inode, err := ns.store.GetInode(ctx, id)
			if err != nil {
				return nil, err
			}
			r = prefetched{inode: inode, epoch: epoch}
		}
		if r.inode.IsDir() != dir {
			return nil, &kindError{r}
		}
		return newNode(ns.store, r.inode), nil
	}
}

func (ns *Namespace) poolOf(dir bool) *objpool.Pool[*Node] {
	if dir {
		return ns.dirs
	}
	return ns.files
}

func (ns *Namespace) Store() store.Store {
	return ns.store
}

func (ns *Namespace) pools() []*objpool.Pool[*Node] {
	return []*objpool.Pool[*Node]{ns.dirs, ns.files}
}

// resident returns the pooled node of id without taking a reference.
func (ns *Namespace) resident(id proto.Ino) (*Node, bool) {
	if n, ok := ns.dirs.Get(id); ok {
		return n, true
	}
	return ns.files.Get(id)
}

// hydrate makes sure id is pooled without holding it.
func (ns *Namespace) hydrate(ctx context.Context, id proto.Ino) (*Node, error) {
	if n, ok := ns.resident(id); ok {
		return n, nil
	}
	n, err := ns.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	ns.Release(n)
	return n, nil
}

// Acquire returns the pooled node of id and holds it until Release.
// Concurrent first touches of one id share a single store read.
func (ns *Namespace) Acquire(ctx context.Context, id proto.Ino) (*Node, error) {
	pool := ns.files
	if r, ok := rowFrom(ctx, id); ok {
		pool = ns.poolOf(r.inode.IsDir())
	} else if _, ok := ns.dirs.Get(id); ok {
		pool = ns.dirs
	}
	n, err := pool.Acquire(ctx, id)
	var kind *kindError
	if errors.As(err, &kind) {
		return ns.poolOf(kind.inode.IsDir()).Acquire(withRow(ctx, kind.inode, kind.epoch), id)
	}
	return n, err
}

func (ns *Namespace) Release(n *Node) {
	ns.poolOf(n.IsDir()).Release(n)
}

func (ns *Namespace) GetInode(ctx context.Context, id proto.Ino) (*proto.Inode, error) {
	n, err := ns.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.Inode(), nil
}

func (ns *Namespace) Lookup(ctx context.Context, parentPath, name string) (*proto.Inode, error) {
	parentPath, ok := proto.Clean(parentPath)
	if !ok || name == "" {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "bad key "+parentPath+" "+name)
	}
	return ns.lookup(ctx, proto.NaturalKey{ParentPath: parentPath, Name: name})
}

// Resolve returns the inode at an absolute path.
func (ns *Namespace) Resolve(ctx context.Context, path string) (*proto.Inode, error) {
	path, ok := proto.Clean(path)
	if !ok {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+path)
	}
	return ns.lookup(ctx, proto.KeyOf(path))
}

const lookupAttempts = 3

func (ns *Namespace) lookup(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error) {
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		for _, pool := range ns.pools() {
			if id, ok := pool.Lookup(key); ok {
				if n, ok := pool.Get(id); ok && n.Key() == key {
					return n.Inode(), nil
				}
			}
		}
		epoch := ns.epochs.Epoch()
		inode, err := ns.store.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		n, err := ns.hydrate(withRow(ctx, inode, epoch), inode.ID)
		if err != nil {
			if errors.Is(err, apierrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		// the row moved between the two reads
		if n.Key() == key {
			return n.Inode(), nil
		}
	}
	return nil, apierrors.Wrapf(apierrors.ErrConflict, nil, "lookup "+key.Path()+" kept racing a structural change")
}

// ListChildren lists the directory id by name. Children that are pooled
// are reported with their in-memory attributes.
func (ns *Namespace) ListChildren(ctx context.Context, id proto.Ino, marker string, limit int) ([]*proto.Inode, error) {
	dir, err := ns.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, apierrors.Wrapf(apierrors.ErrNotDirectory, nil, dir.Key().Path())
	}
	children, err := ns.store.ListChildren(ctx, dir.Key().Path(), marker, limit)
	if err != nil {
		return nil, err
	}
	for i, child := range children {
		if n, ok := ns.resident(child.ID); ok && n.Key() == child.Key() {
			children[i] = n.Inode()
		}
	}
	return children, nil
}

type Stats struct {
	Files            int `json:"files"`
	Dirs             int `json:"dirs"`
	WriteBackPending int `json:"write_back_pending"`
}

func (ns *Namespace) Stats() Stats {
	return Stats{Files: ns.files.Len(), Dirs: ns.dirs.Len(), WriteBackPending: ns.queue.Pending()}
}

// Owner returns the user and group names of a permission.
func (ns *Namespace) Owner(p proto.Permission) (user, group string) {
	user, _ = ns.strings.name(p.User())
	group, _ = ns.strings.name(p.Group())
	return user, group
}

// Flush writes every pending attribute change and waits for it.
func (ns *Namespace) Flush(ctx context.Context) error {
	if err := ns.queue.Drain(ctx); err != nil {
		return err
	}
	var firstErr error
	for _, pool := range ns.pools() {
		pool.Range(func(n *Node) bool {
			if err := ns.queue.FlushNow(ctx, n); err != nil {
				trace.SpanFromContextSafe(ctx).Warnf("flush inode %d failed: %s", n.ID(), err)
				if firstErr == nil {
					firstErr = err
				}
			}
			return true
		})
	}
	return firstErr
}

func (ns *Namespace) Close(ctx context.Context) error {
	if err := ns.queue.Close(ctx); err != nil {
		return err
	}
	err := ns.dirs.Close(ctx)
	if e := ns.files.Close(ctx); err == nil {
		err = e
	}
	return err
}
