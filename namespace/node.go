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
	"errors"
	"sync"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
	"github.com/cubefs/namespacedb/writeback"
)

// fieldClient marks a pending under-construction client identity. It sits
// above every inode column bit.
const fieldClient = proto.FieldMask(1 << 31)

// Node is a pooled inode. Its natural key never changes while it is pooled;
// structural operations drop the node and the next acquire loads a fresh one.
type Node struct {
	writeback.DirtyMask
	id    proto.Ino
	key   proto.NaturalKey
	dir   bool
	store store.Store

	// flushMu serializes store writes of this node
	flushMu sync.Mutex
	mu      sync.RWMutex
	inode   proto.Inode
	client  *proto.UnderConstruction
}

func newNode(s store.Store, inode *proto.Inode) *Node {
	return &Node{id: inode.ID, key: inode.Key(), dir: inode.IsDir(), store: s, inode: *inode}
}

func (n *Node) ID() proto.Ino {
	return n.id
}

func (n *Node) Key() proto.NaturalKey {
	return n.key
}

func (n *Node) IsDir() bool {
	return n.dir
}

func (n *Node) Dirty() bool {
	return n.Fields() != 0
}

func (n *Node) DirtyFields() proto.FieldMask {
	return n.Fields()
}

// Inode returns a snapshot of the row as this process sees it.
func (n *Node) Inode() *proto.Inode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.inode.Clone()
}

func (n *Node) Client() *proto.UnderConstruction {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.client == nil {
		return nil
	}
	uc := *n.client
	return &uc
}

// update applies the leaf updates fn derives from the current row in memory
// and marks them dirty.
func (n *Node) update(fn func(cur *proto.Inode) ([]proto.Update, error)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	updates, err := fn(&n.inode)
	if err != nil {
		return err
	}
	next := n.inode
	var mask proto.FieldMask
	for _, u := range updates {
		if u.Field.Structural() {
			return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "structural field "+u.Field.String())
		}
		if err := next.Apply(u); err != nil {
			return apierrors.Wrap(apierrors.ErrInvalidArgument, err)
		}
		mask |= u.Field.Mask()
	}
	n.inode = next
	n.Mark(mask)
	return nil
}

func (n *Node) setClient(uc *proto.UnderConstruction, dirty bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = uc
	if dirty {
		n.Mark(fieldClient)
	}
}

// Flush writes the dirty fields with their current values. Fields marked
// again while the write is in flight stay dirty. A row the store no longer
// has is not an error.
func (n *Node) Flush(ctx context.Context) error {
	n.flushMu.Lock()
	defer n.flushMu.Unlock()
	mask := n.Take()
	if mask == 0 {
		return nil
	}

	n.mu.RLock()
	updates := make([]proto.Update, 0, 4)
	for _, f := range mask.Fields() {
		v, err := n.inode.Get(f)
		if err != nil {
			n.mu.RUnlock()
			n.Mark(mask)
			return err
		}
		updates = append(updates, proto.Update{Field: f, Value: v})
	}
	var client *proto.UnderConstruction
	if mask&fieldClient != 0 && n.client != nil {
		uc := *n.client
		client = &uc
	}
	n.mu.RUnlock()

	err := n.write(ctx, updates, client)
	if errors.Is(err, apierrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		n.Mark(mask)
	}
	return err
}

func (n *Node) write(ctx context.Context, updates []proto.Update, client *proto.UnderConstruction) error {
	if client != nil {
		if err := n.store.PutUnderConstruction(ctx, n.ID(), client); err != nil {
			return err
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return n.store.SetAttributes(ctx, n.ID(), updates...)
}
