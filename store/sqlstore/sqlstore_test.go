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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"

	"github.com/cubefs/namespacedb/common/sessionpool"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
	"github.com/cubefs/namespacedb/store/storetest"
	"github.com/cubefs/namespacedb/util"
)

func newTestStore(t *testing.T) (*Store, string) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "namespace.db")
	s, err := New(context.Background(), &Config{
		Path:    path,
		Session: sessionpool.Config{MaxSessions: 8, MinIdle: -1, MaxIdle: 4, AcquireTimeoutMs: 2000},
	})
	require.NoError(t, err)
	return s, path
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestStore_EmptyPath(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
}

func TestStore_MarkerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)
	storetest.Tree(t, s, "/a/", "/a/b")

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	marker, err := txn.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(ctx, &Config{Path: path, Session: sessionpool.Config{MinIdle: -1}})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Marker(ctx)
	require.NoError(t, err)
	require.Equal(t, marker, got)
	require.Equal(t, []string{"/", "/a", "/a/b"}, storetest.Paths(t, s))
}

func TestStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	defer s.Close()
	nodes := storetest.Tree(t, s, "/d/")

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.InsertInode(ctx, storetest.File(proto.Ino(100+i), nodes["/d"].ID, fmt.Sprintf("/d/f%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	children, err := s.ListChildren(ctx, "/d", "", 0)
	require.NoError(t, err)
	require.Len(t, children, 64)
	require.LessOrEqual(t, s.SessionStats().Idle, 4)
}

func TestStore_CanceledContext(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	storetest.Tree(t, s, "/a/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Lookup(ctx, proto.KeyOf("/a"))
	require.Error(t, err)
}

func TestSession_Check(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	sess, err := s.acquire(ctx)
	require.NoError(t, err)
	defer s.release(sess)

	err = sess.check(sqliteExec(sess.conn, "CREATE TABLE t (id INTEGER PRIMARY KEY)"))
	require.NoError(t, err)
	require.NoError(t, sqliteExec(sess.conn, "INSERT INTO t (id) VALUES (1)"))
	err = sess.check(sqliteExec(sess.conn, "INSERT INTO t (id) VALUES (1)"))
	require.ErrorIs(t, err, apierrors.ErrAlreadyExists)
	require.False(t, sess.broken)

	require.ErrorIs(t, sess.check(context.Canceled), context.Canceled)
	require.ErrorIs(t, sess.check(apierrors.ErrNotFound), apierrors.ErrNotFound)
}

func TestDeleteRecursive_Deep(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	defer s.Close()

	paths := []string{}
	p := ""
	for i := 0; i < 50; i++ {
		p = fmt.Sprintf("%s/l%d", p, i)
		paths = append(paths, p+"/", p+"/file")
	}
	nodes := storetest.Tree(t, s, paths...)

	ids, _, err := s.DeleteRecursive(ctx, nodes["/l0"].ID)
	require.NoError(t, err)
	require.Len(t, ids, 100)
	require.Equal(t, []string{"/"}, storetest.Paths(t, s))
}

func sqliteExec(conn *sqlite.Conn, query string) error {
	stmt, _, err := conn.PrepareTransient(query)
	if err != nil {
		return err
	}
	defer stmt.Finalize()
	_, err = stmt.Step()
	return err
}
