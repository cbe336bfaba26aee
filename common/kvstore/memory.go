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

package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
)

const memoryDegree = 32

type (
	// memory is a non persistent engine backed by one B-tree per column.
	// Snapshots are copy-on-write clones of every column.
	memory struct {
		lock   sync.RWMutex
		cols   map[CF]*btree.BTree
		closed bool
	}
	memItem struct {
		key   []byte
		value []byte
	}
	memSnapshot struct {
		cols map[CF]*btree.BTree
	}
	memReadOption struct {
		snap *memSnapshot
	}
	memWriteOption struct{}
	memOp          struct {
		col    CF
		key    []byte
		end    []byte
		value  []byte
		delete bool
	}
	memWriteBatch struct {
		ops []memOp
	}
	memListReader struct {
		items []*memItem
		idx   int
	}
	memKey   []byte
	memValue []byte
)

func newMemory(ctx context.Context, option *Option) (Store, error) {
	m := &memory{cols: map[CF]*btree.BTree{defaultCF: btree.New(memoryDegree)}}
	if option != nil {
		for _, col := range option.ColumnFamily {
			m.cols[col] = btree.New(memoryDegree)
		}
	}
	return m, nil
}

func (a *memItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(*memItem).key) < 0
}

func (k memKey) Key() []byte { return k }
func (k memKey) Close()      {}

func (v memValue) Value() []byte { return v }
func (v memValue) Size() int     { return len(v) }
func (v memValue) Close()        {}

func (s *memSnapshot) Close() {}

func (ro *memReadOption) SetSnapShot(snap Snapshot) {
	ro.snap = snap.(*memSnapshot)
}

func (ro *memReadOption) Close() {}

func (wo *memWriteOption) SetSync(value bool) {}
func (wo *memWriteOption) Close()             {}

func (w *memWriteBatch) Put(col CF, key, value []byte) {
	w.ops = append(w.ops, memOp{col: col, key: clone(key), value: clone(value)})
}

func (w *memWriteBatch) Delete(col CF, key []byte) {
	w.ops = append(w.ops, memOp{col: col, key: clone(key), delete: true})
}

func (w *memWriteBatch) DeleteRange(col CF, startKey, endKey []byte) {
	w.ops = append(w.ops, memOp{col: col, key: clone(startKey), end: clone(endKey), delete: true})
}

func (w *memWriteBatch) Count() int {
	return len(w.ops)
}

func (w *memWriteBatch) Close() {
	w.ops = nil
}

func (lr *memListReader) ReadNext() (key KeyGetter, val ValueGetter, err error) {
	if lr.idx >= len(lr.items) {
		return nil, nil, nil
	}
	item := lr.items[lr.idx]
	lr.idx++
	return memKey(item.key), memValue(item.value), nil
}

func (lr *memListReader) ReadNextCopy() (key []byte, value []byte, err error) {
	kg, vg, err := lr.ReadNext()
	if err != nil || kg == nil {
		return nil, nil, err
	}
	return clone(kg.Key()), clone(vg.Value()), nil
}

func (lr *memListReader) Close() {
	lr.items = nil
}

func (m *memory) Type() KVType {
	return MemoryKVType
}

func (m *memory) NewSnapshot() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	snap := &memSnapshot{cols: make(map[CF]*btree.BTree, len(m.cols))}
	for col, tree := range m.cols {
		snap.cols[col] = tree.Clone()
	}
	return snap
}

func (m *memory) CreateColumn(col CF) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.cols[col]; !ok {
		m.cols[col] = btree.New(memoryDegree)
	}
	return nil
}

func (m *memory) CheckColumns(col CF) bool {
	if col == "" {
		return true
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.cols[col]
	return ok
}

func (m *memory) Get(ctx context.Context, col CF, key []byte, readOpt ReadOption) (ValueGetter, error) {
	value, err := m.GetRaw(ctx, col, key, readOpt)
	if err != nil {
		return nil, err
	}
	return memValue(value), nil
}

func (m *memory) GetRaw(ctx context.Context, col CF, key []byte, readOpt ReadOption) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	item := m.tree(col, readOpt).Get(&memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return clone(item.(*memItem).value), nil
}

func (m *memory) SetRaw(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) error {
	batch := m.NewWriteBatch()
	batch.Put(col, key, value)
	return m.Write(ctx, batch, writeOpt)
}

func (m *memory) Delete(ctx context.Context, col CF, key []byte, writeOpt WriteOption) error {
	batch := m.NewWriteBatch()
	batch.Delete(col, key)
	return m.Write(ctx, batch, writeOpt)
}

// List materializes the range up front so that callers may write to the
// engine while iterating.
func (m *memory) List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader {
	m.lock.RLock()
	defer m.lock.RUnlock()
	lr := &memListReader{}
	if m.closed {
		return lr
	}
	start := prefix
	if len(marker) > 0 {
		start = marker
	}
	visit := func(i btree.Item) bool {
		item := i.(*memItem)
		if prefix != nil && !bytes.HasPrefix(item.key, prefix) {
			return false
		}
		lr.items = append(lr.items, item)
		return true
	}
	tree := m.tree(col, readOpt)
	if start == nil {
		tree.Ascend(visit)
	} else {
		tree.AscendGreaterOrEqual(&memItem{key: start}, visit)
	}
	return lr
}

func (m *memory) Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, op := range batch.(*memWriteBatch).ops {
		tree := m.cols[orDefault(op.col)]
		if tree == nil {
			panic(fmt.Sprintf("col:%s not exist", op.col.String()))
		}
		switch {
		case !op.delete:
			tree.ReplaceOrInsert(&memItem{key: op.key, value: op.value})
		case op.end == nil:
			tree.Delete(&memItem{key: op.key})
		default:
			var doomed []btree.Item
			tree.AscendRange(&memItem{key: op.key}, &memItem{key: op.end}, func(i btree.Item) bool {
				doomed = append(doomed, i)
				return true
			})
			for _, i := range doomed {
				tree.Delete(i)
			}
		}
	}
	return nil
}

func (m *memory) NewReadOption() ReadOption {
	return &memReadOption{}
}

func (m *memory) NewWriteOption() WriteOption {
	return &memWriteOption{}
}

func (m *memory) NewWriteBatch() WriteBatch {
	return &memWriteBatch{}
}

func (m *memory) Close() {
	m.lock.Lock()
	m.closed = true
	m.cols = map[CF]*btree.BTree{}
	m.lock.Unlock()
}

// tree must be called with the lock held.
func (m *memory) tree(col CF, readOpt ReadOption) *btree.BTree {
	cols := m.cols
	if ro, ok := readOpt.(*memReadOption); ok && ro.snap != nil {
		cols = ro.snap.cols
	}
	tree := cols[orDefault(col)]
	if tree == nil {
		panic(fmt.Sprintf("col:%s not exist", col.String()))
	}
	return tree
}

func orDefault(col CF) CF {
	if col == "" {
		return defaultCF
	}
	return col
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
