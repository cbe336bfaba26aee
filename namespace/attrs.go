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
	"time"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
)

// KeepTime leaves a timestamp unchanged in SetTimes.
const KeepTime = int64(-1)

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// mutate changes leaf attributes of id in memory and queues the write-back.
// The caller sees the new values as soon as mutate returns.
func (ns *Namespace) mutate(ctx context.Context, id proto.Ino, fn func(cur *proto.Inode) ([]proto.Update, error)) error {
	n, err := ns.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer ns.Release(n)
	if err = n.update(fn); err != nil {
		return err
	}
	ns.queue.Submit(ctx, n)
	return nil
}

func (ns *Namespace) acquireFile(ctx context.Context, id proto.Ino) (*Node, error) {
	n, err := ns.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		ns.Release(n)
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, n.Key().Path()+" is a directory")
	}
	return n, nil
}

func (ns *Namespace) SetTimes(ctx context.Context, id proto.Ino, atime, mtime int64) error {
	return ns.mutate(ctx, id, func(cur *proto.Inode) ([]proto.Update, error) {
		var updates []proto.Update
		if atime != KeepTime {
			updates = append(updates, proto.AccessTimeUpdate(atime))
		}
		if mtime != KeepTime {
			updates = append(updates, proto.ModificationTimeUpdate(mtime))
		}
		return updates, nil
	})
}

// SetPermission replaces the mode bits of one inode.
func (ns *Namespace) SetPermission(ctx context.Context, id proto.Ino, mode uint16) error {
	return ns.mutate(ctx, id, func(cur *proto.Inode) ([]proto.Update, error) {
		return []proto.Update{proto.PermissionUpdate(cur.Permission.WithMode(mode))}, nil
	})
}

func (ns *Namespace) SetOwner(ctx context.Context, id proto.Ino, user, group string) error {
	uc, err := ns.strings.code(ctx, user)
	if err != nil {
		return err
	}
	gc, err := ns.strings.code(ctx, group)
	if err != nil {
		return err
	}
	return ns.mutate(ctx, id, func(cur *proto.Inode) ([]proto.Update, error) {
		return []proto.Update{proto.PermissionUpdate(cur.Permission.WithOwner(uc, gc))}, nil
	})
}

// SetHeader replaces the header of a file. Directories have no header.
func (ns *Namespace) SetHeader(ctx context.Context, id proto.Ino, h proto.Header) error {
	if h.IsDir() {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "file header must not be zero")
	}
	return ns.mutate(ctx, id, func(cur *proto.Inode) ([]proto.Update, error) {
		if cur.IsDir() {
			return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, cur.Path()+" is a directory")
		}
		return []proto.Update{proto.HeaderUpdate(h)}, nil
	})
}

// Permission builds a permission from owner names, interning new names.
func (ns *Namespace) Permission(ctx context.Context, user, group string, mode uint16) (proto.Permission, error) {
	uc, err := ns.strings.code(ctx, user)
	if err != nil {
		return 0, err
	}
	gc, err := ns.strings.code(ctx, group)
	if err != nil {
		return 0, err
	}
	return proto.NewPermission(uc, gc, mode), nil
}

// StartConstruction opens a file for write on behalf of a client.
func (ns *Namespace) StartConstruction(ctx context.Context, id proto.Ino, uc *proto.UnderConstruction) error {
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return err
	}
	defer ns.Release(n)

	n.flushMu.Lock()
	defer n.flushMu.Unlock()
	if err = ns.store.PutUnderConstruction(ctx, id, uc); err != nil {
		return err
	}
	n.setClient(uc, false)
	return nil
}

// SetClient changes the client identity of a file under construction; the
// store is updated in the background.
func (ns *Namespace) SetClient(ctx context.Context, id proto.Ino, uc *proto.UnderConstruction) error {
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return err
	}
	defer ns.Release(n)
	if n.Client() == nil {
		if _, err = ns.store.GetUnderConstruction(ctx, id); err != nil {
			return err
		}
	}
	n.setClient(uc, true)
	ns.queue.Submit(ctx, n)
	return nil
}

func (ns *Namespace) GetClient(ctx context.Context, id proto.Ino) (*proto.UnderConstruction, error) {
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return nil, err
	}
	defer ns.Release(n)
	if uc := n.Client(); uc != nil {
		return uc, nil
	}
	return ns.store.GetUnderConstruction(ctx, id)
}

// CompleteConstruction closes a file and stamps its modification time.
func (ns *Namespace) CompleteConstruction(ctx context.Context, id proto.Ino) error {
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return err
	}
	defer ns.Release(n)

	n.flushMu.Lock()
	n.setClient(nil, false)
	err = ns.store.DeleteUnderConstruction(ctx, id)
	n.flushMu.Unlock()
	if err != nil {
		return err
	}
	if err = n.update(func(cur *proto.Inode) ([]proto.Update, error) {
		return []proto.Update{proto.ModificationTimeUpdate(nowMs())}, nil
	}); err != nil {
		return err
	}
	ns.queue.Submit(ctx, n)
	return nil
}

func (ns *Namespace) SetXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error {
	if _, err := ns.hydrate(ctx, id); err != nil {
		return err
	}
	for _, attr := range attrs {
		if attr.Name == "" {
			return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "empty xattr name")
		}
	}
	return ns.store.PutXAttrs(ctx, id, attrs)
}

func (ns *Namespace) GetXAttrs(ctx context.Context, id proto.Ino) ([]proto.XAttr, error) {
	if _, err := ns.hydrate(ctx, id); err != nil {
		return nil, err
	}
	return ns.store.GetXAttrs(ctx, id)
}

// RemoveXAttrs removes the named attributes, or all of them when attrs is empty.
func (ns *Namespace) RemoveXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error {
	if _, err := ns.hydrate(ctx, id); err != nil {
		return err
	}
	return ns.store.DeleteXAttrs(ctx, id, attrs)
}

// AppendBlock stores blk and links it after the last block of the file. It
// returns the index of the new link.
func (ns *Namespace) AppendBlock(ctx context.Context, id proto.Ino, blk *proto.Block) (int, error) {
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return 0, err
	}
	defer ns.Release(n)

	if err = ns.store.PutBlock(ctx, blk); err != nil {
		return 0, err
	}
	idx, err := ns.store.AppendBlocks(ctx, id, []proto.BlockID{blk.ID})
	if err != nil {
		return 0, err
	}
	if err = n.update(func(cur *proto.Inode) ([]proto.Update, error) {
		return []proto.Update{proto.ModificationTimeUpdate(nowMs())}, nil
	}); err != nil {
		return 0, err
	}
	ns.queue.Submit(ctx, n)
	return idx, nil
}

// GetBlocks returns the blocks of a file in index order.
func (ns *Namespace) GetBlocks(ctx context.Context, id proto.Ino) ([]*proto.Block, error) {
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return nil, err
	}
	defer ns.Release(n)

	ids, err := ns.store.ListBlockIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	blocks := make([]*proto.Block, 0, len(ids))
	for _, bid := range ids {
		blk, err := ns.store.GetBlock(ctx, bid)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

// TruncateBlocks keeps the first keep blocks of a file, deletes the rest
// and returns their ids.
func (ns *Namespace) TruncateBlocks(ctx context.Context, id proto.Ino, keep int) ([]proto.BlockID, error) {
	if keep < 0 {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "negative block count")
	}
	n, err := ns.acquireFile(ctx, id)
	if err != nil {
		return nil, err
	}
	defer ns.Release(n)

	removed, err := ns.store.TruncateBlocks(ctx, id, keep)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		if err = ns.store.DeleteBlocks(ctx, removed); err != nil {
			return nil, err
		}
	}
	return removed, nil
}
