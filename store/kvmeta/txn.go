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

package kvmeta

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/namespacedb/common/kvstore"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
)

// txn owns the writer lock from Begin until Commit or Rollback; its writes
// stay in memory and land as a single engine batch.
type txn struct {
	w    *writer
	done bool
}

func (s *Store) Begin(ctx context.Context) (store.Txn, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	if atomic.LoadInt32(&s.closed) == 1 {
		s.writeMu.Unlock()
		s.pool.Release(sess)
		return nil, apierrors.ErrClosed
	}
	return &txn{w: s.newWriter(sess)}, nil
}

func (t *txn) Get(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inode, err := t.w.getByKey(ctx, key)
	return inode, classify(err)
}

func (t *txn) GetByID(ctx context.Context, id proto.Ino) (*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inode, err := t.w.getByID(ctx, id)
	return inode, classify(err)
}

func (t *txn) ScanPrefix(ctx context.Context, root string) ([]*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inodes, err := t.w.scan(ctx, descendantPrefixes(root)...)
	return inodes, classify(err)
}

func (t *txn) ScanChildren(ctx context.Context, parentPath string) ([]*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inodes, err := t.w.scan(ctx, childrenPrefix(parentPath))
	return inodes, classify(err)
}

func (t *txn) BatchInsert(ctx context.Context, rows []*proto.Inode) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, row := range rows {
		t.w.putInode(row)
	}
	return nil
}

func (t *txn) BatchDelete(ctx context.Context, keys []proto.NaturalKey) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, key := range keys {
		_, err := t.w.deleteInode(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, classify(err)
		}
		n++
	}
	return n, nil
}

func (t *txn) CopySideRecords(ctx context.Context, ids []proto.Ino, offset uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	if offset == 0 {
		return nil
	}
	for _, id := range ids {
		if err := t.w.copySideRecords(ctx, id, id+offset); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *txn) PurgeSideRecords(ctx context.Context, ids []proto.Ino) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, id := range ids {
		if err := t.w.purgeSideRecords(ctx, id); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Commit writes the pending set and the advanced marker in one batch. The
// marker is the last operation of the batch, an engine that has to split
// the batch applies it only after everything else.
func (t *txn) Commit(ctx context.Context) (proto.Marker, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	defer t.finish()
	s := t.w.s
	marker := atomic.LoadUint64(&s.marker) + 1
	if err := t.w.flush(ctx, func(batch kvstore.WriteBatch) {
		batch.Put(metaCF, markerKey, encodeIno(marker))
	}); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("commit of %d writes failed: %s", t.w.ws.len(), err)
		return 0, classify(err)
	}
	atomic.StoreUint64(&s.marker, marker)
	return marker, nil
}

func (t *txn) Rollback() {
	if t.done {
		return
	}
	t.finish()
}

func (t *txn) check() error {
	if t.done {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "transaction finished")
	}
	return nil
}

func (t *txn) finish() {
	t.done = true
	t.w.s.writeMu.Unlock()
	t.w.s.pool.Release(t.w.sess)
}
