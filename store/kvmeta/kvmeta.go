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
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/cubefs/namespacedb/common/kvstore"
	"github.com/cubefs/namespacedb/common/sessionpool"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/store"
)

type Config struct {
	Path     string             `json:"path"`
	KVType   kvstore.KVType     `json:"kv_type"`
	KVOption kvstore.Option     `json:"kv_option"`
	Session  sessionpool.Config `json:"session"`
}

// session carries the per-caller read and write options of the engine.
type session struct {
	id string
	ro kvstore.ReadOption
	wo kvstore.WriteOption
}

type sessionFactory struct {
	s *Store
}

func (f *sessionFactory) Create(ctx context.Context) (*session, error) {
	if atomic.LoadInt32(&f.s.closed) == 1 {
		return nil, apierrors.ErrClosed
	}
	wo := f.s.kv.NewWriteOption()
	wo.SetSync(f.s.sync)
	return &session{id: uuid.NewString(), ro: f.s.kv.NewReadOption(), wo: wo}, nil
}

func (f *sessionFactory) Validate(sess *session) bool {
	return atomic.LoadInt32(&f.s.closed) == 0
}

func (f *sessionFactory) Destroy(sess *session) {
	sess.ro.Close()
	sess.wo.Close()
}

// Store keeps the namespace in an ordered key-value engine. Writers are
// serialized by writeMu; the engine provides atomic batches but no
// conflict detection, so one process owns the keyspace.
type Store struct {
	kv     kvstore.Store
	kind   store.Kind
	sync   bool
	pool   *sessionpool.Pool[*session]
	closed int32

	writeMu sync.Mutex
	// advanced under writeMu
	marker uint64
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, cfg *Config) (*Store, error) {
	opt := cfg.KVOption
	opt.CreateIfMissing = true
	opt.ColumnFamily = append([]kvstore.CF(nil), allCFs...)
	engine, err := kvstore.NewKVStore(ctx, cfg.Path, cfg.KVType, &opt)
	if err != nil {
		return nil, apierrors.Wrapf(apierrors.ErrStoreUnavailable, err, string(cfg.KVType))
	}
	s, err := NewWithEngine(ctx, engine, cfg.Session)
	if err != nil {
		engine.Close()
		return nil, err
	}
	s.sync = opt.Sync
	return s, nil
}

// NewWithEngine builds a Store over an opened engine and takes ownership of it.
func NewWithEngine(ctx context.Context, engine kvstore.Store, sessionCfg sessionpool.Config) (*Store, error) {
	for _, col := range allCFs {
		if !engine.CheckColumns(col) {
			if err := engine.CreateColumn(col); err != nil {
				return nil, classify(err)
			}
		}
	}
	s := &Store{kv: engine, kind: kindOf(engine.Type())}
	if sessionCfg.Name == "" {
		sessionCfg.Name = string(s.kind)
	}
	s.pool = sessionpool.New[*session](sessionCfg, &sessionFactory{s: s})

	raw, err := engine.GetRaw(ctx, metaCF, markerKey, nil)
	switch {
	case err == nil:
		s.marker = decodeIno(raw)
	case errors.Is(err, kvstore.ErrNotFound):
	default:
		s.pool.Close()
		return nil, classify(err)
	}
	trace.SpanFromContextSafe(ctx).Infof("kv store opened, engine[%s] marker[%d]", engine.Type(), s.marker)
	return s, nil
}

func kindOf(t kvstore.KVType) store.Kind {
	switch t {
	case kvstore.RocksdbKVType:
		return store.KindRocksdb
	case kvstore.EtcdKVType:
		return store.KindEtcd
	default:
		return store.KindMemory
	}
}

func (s *Store) Kind() store.Kind {
	return s.kind
}

func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.pool.Close()
	s.writeMu.Lock()
	s.kv.Close()
	s.writeMu.Unlock()
	return nil
}

func (s *Store) SessionStats() sessionpool.Stats {
	return s.pool.Stats()
}

func (s *Store) Marker(ctx context.Context) (uint64, error) {
	return atomic.LoadUint64(&s.marker), nil
}

// withSession runs fn with a checked-out session and classifies its error.
func (s *Store) withSession(ctx context.Context, fn func(sess *session) error) error {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(sess)
	return classify(fn(sess))
}

// withWrite is withSession holding the writer lock.
func (s *Store) withWrite(ctx context.Context, fn func(sess *session) error) error {
	return s.withSession(ctx, func(sess *session) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if atomic.LoadInt32(&s.closed) == 1 {
			return apierrors.ErrClosed
		}
		return fn(sess)
	})
}

func (s *Store) get(ctx context.Context, sess *session, col kvstore.CF, key []byte) ([]byte, error) {
	return s.kv.GetRaw(ctx, col, key, sess.ro)
}

// list returns copies of every pair under prefix, starting at marker.
func (s *Store) list(ctx context.Context, ro kvstore.ReadOption, col kvstore.CF, prefix, marker []byte, fn func(key, value []byte) (bool, error)) error {
	lr := s.kv.List(ctx, col, prefix, marker, ro)
	defer lr.Close()
	for {
		key, value, err := lr.ReadNextCopy()
		if err != nil {
			return err
		}
		if key == nil {
			return nil
		}
		more, err := fn(key, value)
		if err != nil || !more {
			return err
		}
	}
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.Kind(err) != nil:
		return err
	case errors.Is(err, kvstore.ErrNotFound):
		return apierrors.Wrap(apierrors.ErrNotFound, err)
	case errors.Is(err, kvstore.ErrUnavailable):
		return apierrors.Wrap(apierrors.ErrStoreUnavailable, err)
	case errors.Is(err, kvstore.ErrClosed):
		return apierrors.Wrap(apierrors.ErrClosed, err)
	default:
		return err
	}
}
