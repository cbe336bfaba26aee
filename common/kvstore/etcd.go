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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/util/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEtcdDialTimeoutMs    = 5000
	defaultEtcdRequestTimeoutMs = 3000
	defaultEtcdMaxTxnOps        = 128
	defaultEtcdPageSize         = 1000
	defaultEtcdKeyPrefix        = "/namespacedb"
)

type (
	// etcdStore maps column families to key prefixes of one etcd keyspace.
	// A batch that fits in MaxTxnOps commits as one transaction; larger
	// batches are split and the split is not atomic, a failure can leave a
	// prefix of the batch applied.
	etcdStore struct {
		client         *clientv3.Client
		prefix         string
		maxTxnOps      int
		pageSize       int
		requestTimeout time.Duration

		lock sync.RWMutex
		cols map[CF]struct{}
	}
	etcdSnapshot struct {
		rev int64
	}
	etcdReadOption struct {
		rev int64
	}
	etcdWriteOption struct{}
	etcdWriteBatch  struct {
		s   *etcdStore
		ops []clientv3.Op
	}
	etcdListReader struct {
		ctx  context.Context
		s    *etcdStore
		next []byte
		end  []byte
		rev  int64
		trim int
		page [][2][]byte
		idx  int
		more bool
		err  error
	}
)

func newEtcd(ctx context.Context, option *Option) (Store, error) {
	opt := option.Etcd
	if len(opt.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints is empty")
	}
	if opt.DialTimeoutMs <= 0 {
		opt.DialTimeoutMs = defaultEtcdDialTimeoutMs
	}
	if opt.RequestTimeoutMs <= 0 {
		opt.RequestTimeoutMs = defaultEtcdRequestTimeoutMs
	}
	if opt.MaxTxnOps <= 0 {
		opt.MaxTxnOps = defaultEtcdMaxTxnOps
	}
	if opt.PageSize <= 0 {
		opt.PageSize = defaultEtcdPageSize
	}
	if opt.KeyPrefix == "" {
		opt.KeyPrefix = defaultEtcdKeyPrefix
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opt.Endpoints,
		Username:    opt.Username,
		Password:    opt.Password,
		DialTimeout: time.Duration(opt.DialTimeoutMs) * time.Millisecond,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
		Context:     ctx,
	})
	if err != nil {
		return nil, classifyEtcdError(err)
	}

	s := &etcdStore{
		client:         client,
		prefix:         opt.KeyPrefix,
		maxTxnOps:      opt.MaxTxnOps,
		pageSize:       opt.PageSize,
		requestTimeout: time.Duration(opt.RequestTimeoutMs) * time.Millisecond,
		cols:           map[CF]struct{}{defaultCF: {}},
	}
	for _, col := range option.ColumnFamily {
		s.cols[col] = struct{}{}
	}
	return s, nil
}

func (s *etcdSnapshot) Close() {}

func (ro *etcdReadOption) SetSnapShot(snap Snapshot) {
	ro.rev = snap.(*etcdSnapshot).rev
}

func (ro *etcdReadOption) Close() {}

func (wo *etcdWriteOption) SetSync(value bool) {}
func (wo *etcdWriteOption) Close()             {}

func (w *etcdWriteBatch) Put(col CF, key, value []byte) {
	w.ops = append(w.ops, clientv3.OpPut(w.s.key(col, key), string(value)))
}

func (w *etcdWriteBatch) Delete(col CF, key []byte) {
	w.ops = append(w.ops, clientv3.OpDelete(w.s.key(col, key)))
}

func (w *etcdWriteBatch) DeleteRange(col CF, startKey, endKey []byte) {
	w.ops = append(w.ops, clientv3.OpDelete(w.s.key(col, startKey), clientv3.WithRange(w.s.key(col, endKey))))
}

func (w *etcdWriteBatch) Count() int {
	return len(w.ops)
}

func (w *etcdWriteBatch) Close() {
	w.ops = nil
}

func (s *etcdStore) Type() KVType {
	return EtcdKVType
}

// NewSnapshot pins reads to the current revision of the keyspace.
func (s *etcdStore) NewSnapshot() Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithKeysOnly(), clientv3.WithLimit(1))
	if err != nil {
		log.Warnf("etcd snapshot falls back to latest revision: %s", err)
		return &etcdSnapshot{}
	}
	return &etcdSnapshot{rev: resp.Header.Revision}
}

func (s *etcdStore) CreateColumn(col CF) error {
	s.lock.Lock()
	s.cols[col] = struct{}{}
	s.lock.Unlock()
	return nil
}

func (s *etcdStore) CheckColumns(col CF) bool {
	if col == "" {
		return true
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.cols[col]
	return ok
}

func (s *etcdStore) Get(ctx context.Context, col CF, key []byte, readOpt ReadOption) (ValueGetter, error) {
	value, err := s.GetRaw(ctx, col, key, readOpt)
	if err != nil {
		return nil, err
	}
	return memValue(value), nil
}

func (s *etcdStore) GetRaw(ctx context.Context, col CF, key []byte, readOpt ReadOption) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	opts := []clientv3.OpOption{}
	if rev := readRevision(readOpt); rev > 0 {
		opts = append(opts, clientv3.WithRev(rev))
	}
	resp, err := s.client.Get(ctx, s.key(col, key), opts...)
	if err != nil {
		return nil, classifyEtcdError(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *etcdStore) SetRaw(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) error {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	_, err := s.client.Put(ctx, s.key(col, key), string(value))
	return classifyEtcdError(err)
}

func (s *etcdStore) Delete(ctx context.Context, col CF, key []byte, writeOpt WriteOption) error {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	_, err := s.client.Delete(ctx, s.key(col, key))
	return classifyEtcdError(err)
}

func (s *etcdStore) List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader {
	colPrefix := s.key(col, nil)
	start := s.key(col, prefix)
	if len(marker) > 0 {
		start = s.key(col, marker)
	}
	var end string
	if len(prefix) > 0 {
		end = clientv3.GetPrefixRangeEnd(s.key(col, prefix))
	} else {
		end = clientv3.GetPrefixRangeEnd(colPrefix)
	}
	return &etcdListReader{
		ctx:  ctx,
		s:    s,
		next: []byte(start),
		end:  []byte(end),
		rev:  readRevision(readOpt),
		trim: len(colPrefix),
		more: true,
	}
}

// Write commits the batch in chunks of at most maxTxnOps operations. Chunks
// are committed one after another in batch order and the first failure
// stops the write, so the last operation of a batch only lands once every
// earlier chunk did.
func (s *etcdStore) Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error {
	ops := batch.(*etcdWriteBatch).ops
	if len(ops) == 0 {
		return nil
	}
	return commitChunks(ctx, ops, s.maxTxnOps, s.commit)
}

func commitChunks(ctx context.Context, ops []clientv3.Op, size int,
	commit func(ctx context.Context, ops []clientv3.Op) error,
) error {
	for start := 0; start < len(ops); start += size {
		end := start + size
		if end > len(ops) {
			end = len(ops)
		}
		if err := commit(ctx, ops[start:end]); err != nil {
			if start > 0 {
				return fmt.Errorf("%d of %d ops applied: %w", start, len(ops), err)
			}
			return err
		}
	}
	return nil
}

func (s *etcdStore) commit(ctx context.Context, ops []clientv3.Op) error {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	_, err := s.client.Txn(ctx).Then(ops...).Commit()
	return classifyEtcdError(err)
}

func (s *etcdStore) NewReadOption() ReadOption {
	return &etcdReadOption{}
}

func (s *etcdStore) NewWriteOption() WriteOption {
	return &etcdWriteOption{}
}

func (s *etcdStore) NewWriteBatch() WriteBatch {
	return &etcdWriteBatch{s: s}
}

func (s *etcdStore) Close() {
	if err := s.client.Close(); err != nil {
		log.Warnf("close etcd client failed: %s", err)
	}
}

func (s *etcdStore) key(col CF, key []byte) string {
	return s.prefix + "/" + orDefault(col).String() + "/" + string(key)
}

func (lr *etcdListReader) ReadNext() (key KeyGetter, val ValueGetter, err error) {
	k, v, err := lr.ReadNextCopy()
	if err != nil || k == nil {
		return nil, nil, err
	}
	return memKey(k), memValue(v), nil
}

func (lr *etcdListReader) ReadNextCopy() (key []byte, value []byte, err error) {
	if lr.err != nil {
		return nil, nil, lr.err
	}
	if lr.idx >= len(lr.page) {
		if !lr.more {
			return nil, nil, nil
		}
		if err = lr.fetch(); err != nil {
			lr.err = err
			return nil, nil, err
		}
		if len(lr.page) == 0 {
			return nil, nil, nil
		}
	}
	kv := lr.page[lr.idx]
	lr.idx++
	return kv[0], kv[1], nil
}

func (lr *etcdListReader) fetch() error {
	ctx, cancel := context.WithTimeout(lr.ctx, lr.s.requestTimeout)
	defer cancel()
	opts := []clientv3.OpOption{
		clientv3.WithRange(string(lr.end)),
		clientv3.WithLimit(int64(lr.s.pageSize)),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	}
	if lr.rev > 0 {
		opts = append(opts, clientv3.WithRev(lr.rev))
	}
	resp, err := lr.s.client.Get(ctx, string(lr.next), opts...)
	if err != nil {
		return classifyEtcdError(err)
	}
	// keep following pages on the revision of the first one
	if lr.rev == 0 {
		lr.rev = resp.Header.Revision
	}
	lr.page = lr.page[:0]
	lr.idx = 0
	for _, kv := range resp.Kvs {
		lr.page = append(lr.page, [2][]byte{kv.Key[lr.trim:], kv.Value})
	}
	lr.more = resp.More
	if n := len(resp.Kvs); n > 0 {
		lr.next = append(append([]byte{}, resp.Kvs[n-1].Key...), 0)
	}
	return nil
}

func (lr *etcdListReader) Close() {
	lr.page = nil
}

func readRevision(readOpt ReadOption) int64 {
	if ro, ok := readOpt.(*etcdReadOption); ok {
		return ro.rev
	}
	return 0
}

func classifyEtcdError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return err
}
