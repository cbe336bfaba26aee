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

package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cubefs/namespacedb/common/sessionpool"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/store"
)

const defaultBusyTimeoutMs = 5000

type Config struct {
	Path          string             `json:"path"`
	BusyTimeoutMs int                `json:"busy_timeout_ms"`
	Session       sessionpool.Config `json:"session"`
}

// session is one SQLite connection checked out of the pool.
type session struct {
	id     string
	conn   *sqlite.Conn
	broken bool
}

// check classifies err and marks the session broken when the connection
// can no longer be trusted.
func (sess *session) check(err error) error {
	if err == nil || apierrors.Kind(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultConstraint:
		return apierrors.Wrap(apierrors.ErrAlreadyExists, err)
	case sqlite.ResultBusy, sqlite.ResultLocked, sqlite.ResultInterrupt:
		return apierrors.Wrap(apierrors.ErrStoreUnavailable, err)
	case sqlite.ResultIOErr, sqlite.ResultCantOpen, sqlite.ResultCorrupt,
		sqlite.ResultNotADB, sqlite.ResultFull, sqlite.ResultMisuse:
		sess.broken = true
		return apierrors.Wrap(apierrors.ErrStoreUnavailable, err)
	default:
		return err
	}
}

type sessionFactory struct {
	path          string
	busyTimeoutMs int
}

func (f *sessionFactory) Create(ctx context.Context) (*session, error) {
	conn, err := sqlite.OpenConn(f.path)
	if err != nil {
		return nil, apierrors.Wrapf(apierrors.ErrStoreUnavailable, err, "open "+f.path)
	}
	conn.SetInterrupt(ctx.Done())
	defer conn.SetInterrupt(nil)

	all := append([]string{fmt.Sprintf("PRAGMA busy_timeout=%d", f.busyTimeoutMs)}, pragmas...)
	for _, pragma := range all {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			conn.Close()
			return nil, apierrors.Wrapf(apierrors.ErrStoreUnavailable, err, pragma)
		}
	}
	return &session{id: uuid.NewString(), conn: conn}, nil
}

func (f *sessionFactory) Validate(sess *session) bool {
	return !sess.broken
}

func (f *sessionFactory) Destroy(sess *session) {
	sess.conn.Close()
}

// Store is the relational backend. Recursive deletes run as one recursive
// common table expression.
type Store struct {
	path string
	pool *sessionpool.Pool[*session]
}

var (
	_ store.Store            = (*Store)(nil)
	_ store.RecursiveDeleter = (*Store)(nil)
)

func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "sqlite path is empty")
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = defaultBusyTimeoutMs
	}
	sessionCfg := cfg.Session
	if sessionCfg.Name == "" {
		sessionCfg.Name = "sqlite"
	}

	s := &Store{
		path: cfg.Path,
		pool: sessionpool.New[*session](sessionCfg, &sessionFactory{path: cfg.Path, busyTimeoutMs: cfg.BusyTimeoutMs}),
	}
	if err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	}); err != nil {
		s.pool.Close()
		return nil, err
	}
	trace.SpanFromContextSafe(ctx).Infof("sqlite store opened at %s", cfg.Path)
	return s, nil
}

func (s *Store) Kind() store.Kind {
	return store.KindSQLite
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SessionStats() sessionpool.Stats {
	return s.pool.Stats()
}

func (s *Store) Marker(ctx context.Context) (marker uint64, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		marker, err = readMarker(conn)
		return err
	})
	return
}

func (s *Store) acquire(ctx context.Context) (*session, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	sess.conn.SetInterrupt(ctx.Done())
	return sess, nil
}

func (s *Store) release(sess *session) {
	sess.conn.SetInterrupt(nil)
	s.pool.Release(sess)
}

func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	sess, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release(sess)
	return sess.check(fn(sess.conn))
}

// withTxn runs fn inside an IMMEDIATE transaction that commits when fn
// returns nil.
func (s *Store) withTxn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer end(&err)
		return fn(conn)
	})
}

func bumpMarker(conn *sqlite.Conn) (uint64, error) {
	if err := sqlitex.Execute(conn, "UPDATE markers SET value = value + 1 WHERE id = 0", nil); err != nil {
		return 0, err
	}
	return readMarker(conn)
}

func readMarker(conn *sqlite.Conn) (marker uint64, err error) {
	err = sqlitex.Execute(conn, "SELECT value FROM markers WHERE id = 0", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			marker = uint64(stmt.ColumnInt64(0))
			return nil
		},
	})
	return
}
