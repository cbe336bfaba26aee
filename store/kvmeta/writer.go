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
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/cubefs/namespacedb/common/kvstore"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
)

type pendingOp struct {
	col    kvstore.CF
	key    []byte
	value  []byte
	delete bool
}

// writeSet buffers the writes of one batch. A key written twice keeps only
// its last operation; etcd refuses a transaction naming a key twice.
type writeSet struct {
	ops   map[string]*pendingOp
	order []string
}

func newWriteSet() *writeSet {
	return &writeSet{ops: make(map[string]*pendingOp)}
}

func opKey(col kvstore.CF, key []byte) string {
	return string(col) + "\xff" + string(key)
}

func (ws *writeSet) set(op *pendingOp) {
	k := opKey(op.col, op.key)
	if _, ok := ws.ops[k]; !ok {
		ws.order = append(ws.order, k)
	}
	ws.ops[k] = op
}

func (ws *writeSet) put(col kvstore.CF, key, value []byte) {
	ws.set(&pendingOp{col: col, key: key, value: value})
}

func (ws *writeSet) del(col kvstore.CF, key []byte) {
	ws.set(&pendingOp{col: col, key: key, delete: true})
}

func (ws *writeSet) lookup(col kvstore.CF, key []byte) (*pendingOp, bool) {
	op, ok := ws.ops[opKey(col, key)]
	return op, ok
}

func (ws *writeSet) len() int {
	return len(ws.order)
}

func (ws *writeSet) fill(batch kvstore.WriteBatch) {
	for _, k := range ws.order {
		op := ws.ops[k]
		if op.delete {
			batch.Delete(op.col, op.key)
		} else {
			batch.Put(op.col, op.key, op.value)
		}
	}
}

type kvPair struct {
	key   []byte
	value []byte
}

// writer reads through its own pending writes. Callers hold writeMu.
type writer struct {
	s    *Store
	sess *session
	ws   *writeSet
}

func (s *Store) newWriter(sess *session) *writer {
	return &writer{s: s, sess: sess, ws: newWriteSet()}
}

// update runs fn under the writer lock and applies its writes as one batch.
func (s *Store) update(ctx context.Context, fn func(w *writer) error) error {
	return s.withWrite(ctx, func(sess *session) error {
		w := s.newWriter(sess)
		if err := fn(w); err != nil {
			return err
		}
		return w.flush(ctx, nil)
	})
}

func (w *writer) flush(ctx context.Context, extra func(batch kvstore.WriteBatch)) error {
	if w.ws.len() == 0 && extra == nil {
		return nil
	}
	batch := w.s.kv.NewWriteBatch()
	defer batch.Close()
	w.ws.fill(batch)
	if extra != nil {
		extra(batch)
	}
	return w.s.kv.Write(ctx, batch, w.sess.wo)
}

func (w *writer) get(ctx context.Context, col kvstore.CF, key []byte) ([]byte, error) {
	if op, ok := w.ws.lookup(col, key); ok {
		if op.delete {
			return nil, kvstore.ErrNotFound
		}
		return op.value, nil
	}
	return w.s.get(ctx, w.sess, col, key)
}

// list merges the committed pairs under prefix with the pending writes,
// ordered by key.
func (w *writer) list(ctx context.Context, col kvstore.CF, prefix []byte) ([]kvPair, error) {
	merged := make(map[string][]byte)
	err := w.s.list(ctx, w.sess.ro, col, prefix, nil, func(key, value []byte) (bool, error) {
		merged[string(key)] = value
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	for _, k := range w.ws.order {
		op := w.ws.ops[k]
		if op.col != col || !bytes.HasPrefix(op.key, prefix) {
			continue
		}
		if op.delete {
			delete(merged, string(op.key))
		} else {
			merged[string(op.key)] = op.value
		}
	}
	pairs := make([]kvPair, 0, len(merged))
	for k, v := range merged {
		pairs = append(pairs, kvPair{key: []byte(k), value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].key, pairs[j].key) < 0 })
	return pairs, nil
}

func (w *writer) getByKey(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error) {
	raw, err := w.get(ctx, inodeCF, encodeRowKey(key))
	if err != nil {
		return nil, err
	}
	return decodeInode(raw)
}

// getByID follows the id index. An entry left behind by a row that was
// overwritten under another id reads as missing.
func (w *writer) getByID(ctx context.Context, id proto.Ino) (*proto.Inode, error) {
	rowKey, err := w.get(ctx, idCF, encodeIno(id))
	if err != nil {
		return nil, err
	}
	raw, err := w.get(ctx, inodeCF, rowKey)
	if err != nil {
		return nil, err
	}
	inode, err := decodeInode(raw)
	if err != nil {
		return nil, err
	}
	if inode.ID != id {
		return nil, kvstore.ErrNotFound
	}
	return inode, nil
}

func (w *writer) putInode(inode *proto.Inode) {
	rowKey := encodeRowKey(inode.Key())
	w.ws.put(inodeCF, rowKey, inode.Marshal())
	w.ws.put(idCF, encodeIno(inode.ID), rowKey)
}

// deleteInode removes the row at key, and its id index entry when that
// entry still points here.
func (w *writer) deleteInode(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error) {
	inode, err := w.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	rowKey := encodeRowKey(key)
	w.ws.del(inodeCF, rowKey)
	idKey := encodeIno(inode.ID)
	indexed, err := w.get(ctx, idCF, idKey)
	switch {
	case err == nil:
		if bytes.Equal(indexed, rowKey) {
			w.ws.del(idCF, idKey)
		}
	case !errors.Is(err, kvstore.ErrNotFound):
		return nil, err
	}
	return inode, nil
}

func (w *writer) scan(ctx context.Context, prefixes ...[]byte) ([]*proto.Inode, error) {
	var inodes []*proto.Inode
	for _, prefix := range prefixes {
		pairs, err := w.list(ctx, inodeCF, prefix)
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			inode, err := decodeInode(pair.value)
			if err != nil {
				return nil, err
			}
			inodes = append(inodes, inode)
		}
	}
	return inodes, nil
}

func (w *writer) copySideRecords(ctx context.Context, from, to proto.Ino) error {
	for _, col := range []kvstore.CF{ucCF, xattrCF} {
		raw, err := w.get(ctx, col, encodeIno(from))
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		w.ws.put(col, encodeIno(to), raw)
	}
	links, err := w.list(ctx, linkCF, encodeIno(from))
	if err != nil {
		return err
	}
	for _, link := range links {
		_, idx := decodeLinkKey(link.key)
		w.ws.put(linkCF, encodeLinkKey(to, idx), link.value)
		w.ws.put(ownerCF, link.value, encodeIno(to))
	}
	return nil
}

// purgeSideRecords drops everything keyed by id. Block owner entries are
// dropped only when they still name id.
func (w *writer) purgeSideRecords(ctx context.Context, id proto.Ino) error {
	w.ws.del(ucCF, encodeIno(id))
	w.ws.del(xattrCF, encodeIno(id))
	links, err := w.list(ctx, linkCF, encodeIno(id))
	if err != nil {
		return err
	}
	for _, link := range links {
		w.ws.del(linkCF, link.key)
		owner, err := w.get(ctx, ownerCF, link.value)
		if err == nil && decodeIno(owner) == id {
			w.ws.del(ownerCF, link.value)
		} else if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

func decodeInode(raw []byte) (*proto.Inode, error) {
	inode := &proto.Inode{}
	if err := inode.Unmarshal(raw); err != nil {
		return nil, apierrors.Wrapf(apierrors.ErrInconsistent, err, "corrupt inode row")
	}
	return inode, nil
}
