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

package namespace

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/subtree"
)

// CreateInode inserts a new row below an existing directory. ParentID is
// taken from the directory. Inserting an id that already exists succeeds
// without writing.
func (ns *Namespace) CreateInode(ctx context.Context, inode *proto.Inode) error {
	if inode.ID == 0 {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "zero inode id")
	}
	if inode.ID == proto.RootID {
		if inode.ParentPath != "" || inode.Name != proto.RootName || !inode.IsDir() {
			return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "bad root "+inode.String())
		}
		return ns.store.InsertInode(ctx, inode)
	}

	parentPath, ok := proto.Clean(inode.ParentPath)
	if !ok || !proto.ValidName(inode.Name) {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "bad key "+inode.Key().String())
	}
	parent, err := ns.lookup(ctx, proto.KeyOf(parentPath))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return apierrors.Wrapf(apierrors.ErrNotDirectory, nil, parentPath)
	}

	row := inode.Clone()
	row.ParentPath = parentPath
	row.ParentID = parent.ID
	if err = ns.store.InsertInode(ctx, row); err != nil {
		return err
	}
	inode.ParentPath, inode.ParentID = row.ParentPath, row.ParentID

	// a new entry bumps the directory's modification time
	if err = ns.mutate(ctx, parent.ID, func(cur *proto.Inode) ([]proto.Update, error) {
		return []proto.Update{proto.ModificationTimeUpdate(nowMs())}, nil
	}); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("touch directory %s: %s", parentPath, err)
	}
	return nil
}

// InitRoot creates the root directory when it does not exist yet.
func (ns *Namespace) InitRoot(ctx context.Context, perm proto.Permission) error {
	now := nowMs()
	return ns.store.InsertInode(ctx, &proto.Inode{
		ID: proto.RootID, Name: proto.RootName, Permission: perm,
		AccessTime: now, ModificationTime: now,
	})
}

func splitPath(path string) (parentPath, name string, err error) {
	cleaned, ok := proto.Clean(path)
	if !ok || cleaned == "/" {
		return "", "", apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "bad path "+path)
	}
	parentPath, name = proto.Split(cleaned)
	return parentPath, name, nil
}

func (ns *Namespace) Mkdir(ctx context.Context, id proto.Ino, path string, perm proto.Permission) (*proto.Inode, error) {
	now := nowMs()
	inode := &proto.Inode{ID: id, Permission: perm, AccessTime: now, ModificationTime: now}
	var err error
	if inode.ParentPath, inode.Name, err = splitPath(path); err != nil {
		return nil, err
	}
	if err = ns.CreateInode(ctx, inode); err != nil {
		return nil, err
	}
	return inode, nil
}

// CreateFile creates a file and, when client is set, opens it for write.
func (ns *Namespace) CreateFile(ctx context.Context, id proto.Ino, path string, perm proto.Permission,
	header proto.Header, client *proto.UnderConstruction,
) (*proto.Inode, error) {
	if header.IsDir() {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "file header must not be zero")
	}
	now := nowMs()
	inode := &proto.Inode{ID: id, Permission: perm, Header: header, AccessTime: now, ModificationTime: now}
	var err error
	if inode.ParentPath, inode.Name, err = splitPath(path); err != nil {
		return nil, err
	}
	if err = ns.CreateInode(ctx, inode); err != nil {
		return nil, err
	}
	if client != nil {
		if err = ns.StartConstruction(ctx, id, client); err != nil {
			return nil, err
		}
	}
	return inode, nil
}

// flushUnder writes pending changes of every pooled node at or below root.
func (ns *Namespace) flushUnder(ctx context.Context, root string) error {
	var err error
	for _, pool := range ns.pools() {
		pool.Range(func(n *Node) bool {
			if proto.IsUnder(n.Key().Path(), root) {
				err = ns.queue.FlushNow(ctx, n)
			}
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// fence drops every pooled node at or below root. Changes that reached a
// dropped node after flushUnder are written when flush is set and discarded
// otherwise.
func (ns *Namespace) fence(ctx context.Context, root string, flush bool) {
	span := trace.SpanFromContextSafe(ctx)
	for _, pool := range ns.pools() {
		for _, n := range pool.InvalidateUnder(root) {
			if !flush {
				n.Take()
				continue
			}
			if err := ns.queue.FlushNow(ctx, n); err != nil {
				span.Warnf("fenced inode %d lost pending fields %v: %s", n.ID(), n.DirtyFields().Fields(), err)
			}
		}
	}
}

func (ns *Namespace) forget(ids []proto.Ino) {
	for _, id := range ids {
		for _, pool := range ns.pools() {
			if n, ok := pool.Invalidate(id); ok {
				n.Take()
			}
		}
	}
}

// Rename moves a subtree. Pending changes below the old path are written
// first and the moved nodes leave the pools.
func (ns *Namespace) Rename(ctx context.Context, args subtree.RenameArgs) (*subtree.Result, error) {
	oldPath, ok := proto.Clean(args.OldPath)
	if !ok {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+args.OldPath)
	}
	newPath, ok := proto.Clean(args.NewPath)
	if !ok {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+args.NewPath)
	}
	if oldPath != "/" {
		if err := ns.flushUnder(ctx, oldPath); err != nil {
			return nil, err
		}
		ns.fence(ctx, oldPath, true)
	}

	res, err := ns.tree.Rename(ctx, args)
	if err != nil {
		return nil, err
	}
	ns.fence(ctx, oldPath, true)
	ns.fence(ctx, newPath, false)
	return res, nil
}

// Chmod replaces the mode bits of path and everything below it.
func (ns *Namespace) Chmod(ctx context.Context, path string, mode uint16) (*subtree.Result, error) {
	cleaned, ok := proto.Clean(path)
	if !ok {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+path)
	}
	if err := ns.flushUnder(ctx, cleaned); err != nil {
		return nil, err
	}
	ns.fence(ctx, cleaned, true)

	res, err := ns.tree.Chmod(ctx, cleaned, mode)
	if err != nil {
		return nil, err
	}
	ns.forget(res.IDs)
	return res, nil
}

// Delete removes path and everything below it. Nothing of the subtree stays
// pooled once Delete returns.
func (ns *Namespace) Delete(ctx context.Context, path string) (*subtree.Result, error) {
	cleaned, ok := proto.Clean(path)
	if !ok {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+path)
	}
	if cleaned == "/" {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "cannot delete the root")
	}
	ns.fence(ctx, cleaned, false)

	res, err := ns.tree.Delete(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	ns.forget(res.IDs)
	ns.fence(ctx, cleaned, false)

	parentPath, _ := proto.Split(cleaned)
	if parent, err := ns.lookup(ctx, proto.KeyOf(parentPath)); err == nil {
		if err = ns.mutate(ctx, parent.ID, func(cur *proto.Inode) ([]proto.Update, error) {
			return []proto.Update{proto.ModificationTimeUpdate(nowMs())}, nil
		}); err != nil {
			trace.SpanFromContextSafe(ctx).Warnf("touch directory %s: %s", parentPath, err)
		}
	}
	return res, nil
}
