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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
)

var errRollback = errors.New("rollback")

// txn holds one session for its whole life inside an IMMEDIATE
// transaction, so concurrent structural operations are serialized by the
// database write lock.
type txn struct {
	s    *Store
	sess *session
	end  func(*error)
	done bool
}

func (s *Store) Begin(ctx context.Context) (store.Txn, error) {
	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	end, err := sqlitex.ImmediateTransaction(sess.conn)
	if err != nil {
		err = sess.check(err)
		s.release(sess)
		return nil, err
	}
	return &txn{s: s, sess: sess, end: end}, nil
}

func (t *txn) Get(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inode, err := getByKey(t.sess.conn, key)
	return inode, t.sess.check(err)
}

func (t *txn) GetByID(ctx context.Context, id proto.Ino) (*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inode, err := getByID(t.sess.conn, id)
	return inode, t.sess.check(err)
}

func (t *txn) ScanPrefix(ctx context.Context, root string) ([]*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	lo := proto.DescendantPrefix(root)
	hi := prefixEnd(lo)
	inodes, err := queryInodes(t.sess.conn,
		"SELECT "+inodeColumns+" FROM inodes WHERE parent_path = ? OR (parent_path >= ? AND parent_path < ?) ORDER BY parent_path, name",
		root, lo, hi)
	return inodes, t.sess.check(err)
}

func (t *txn) ScanChildren(ctx context.Context, parentPath string) ([]*proto.Inode, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	inodes, err := queryInodes(t.sess.conn,
		"SELECT "+inodeColumns+" FROM inodes WHERE parent_path = ? ORDER BY name", parentPath)
	return inodes, t.sess.check(err)
}

func (t *txn) BatchInsert(ctx context.Context, rows []*proto.Inode) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, row := range rows {
		if err := sqlitex.Execute(t.sess.conn, "INSERT OR REPLACE INTO inodes ("+inodeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: inodeArgs(row)}); err != nil {
			return t.sess.check(err)
		}
	}
	return nil
}

func (t *txn) BatchDelete(ctx context.Context, keys []proto.NaturalKey) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, key := range keys {
		if err := sqlitex.Execute(t.sess.conn, "DELETE FROM inodes WHERE parent_path = ? AND name = ?",
			&sqlitex.ExecOptions{Args: []any{key.ParentPath, key.Name}}); err != nil {
			return n, t.sess.check(err)
		}
		n += t.sess.conn.Changes()
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
	return t.sess.check(copySideRecords(t.sess.conn, ids, offset))
}

func (t *txn) PurgeSideRecords(ctx context.Context, ids []proto.Ino) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.sess.check(purgeSideRecords(t.sess.conn, ids))
}

func (t *txn) Commit(ctx context.Context) (marker proto.Marker, err error) {
	if err = t.check(); err != nil {
		return 0, err
	}
	defer t.finish()
	if marker, err = bumpMarker(t.sess.conn); err != nil {
		t.end(&err)
		return 0, t.sess.check(err)
	}
	t.end(&err)
	return marker, t.sess.check(err)
}

func (t *txn) Rollback() {
	if t.done {
		return
	}
	defer t.finish()
	err := errRollback
	t.end(&err)
}

func (t *txn) check() error {
	if t.done {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "transaction finished")
	}
	return nil
}

func (t *txn) finish() {
	t.done = true
	t.s.release(t.sess)
}

// DeleteRecursive collects the closure of id over parent edges with one
// recursive query and removes it together with its side records.
func (s *Store) DeleteRecursive(ctx context.Context, id proto.Ino) (ids []proto.Ino, marker proto.Marker, err error) {
	span := trace.SpanFromContextSafe(ctx)
	err = s.withTxn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, `
			CREATE TEMP TABLE IF NOT EXISTS doomed (id INTEGER PRIMARY KEY);
			DELETE FROM doomed;`, nil); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, `WITH RECURSIVE subtree(id) AS (
				SELECT id FROM inodes WHERE id = ?
				UNION
				SELECT c.id FROM inodes c JOIN subtree ON c.parent = subtree.id
			)
			INSERT OR IGNORE INTO doomed (id) SELECT id FROM subtree`,
			&sqlitex.ExecOptions{Args: []any{int64(id)}}); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "SELECT id FROM doomed", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, uint64(stmt.ColumnInt64(0)))
				return nil
			},
		}); err != nil {
			return err
		}
		if len(ids) == 0 {
			return apierrors.ErrNotFound
		}
		for _, table := range []string{"inodes", "inodeuc", "inodexattrs", "inode2block"} {
			if err := sqlitex.Execute(conn, "DELETE FROM "+table+" WHERE id IN (SELECT id FROM doomed)", nil); err != nil {
				return err
			}
		}
		if err := sqlitex.Execute(conn, "DELETE FROM doomed", nil); err != nil {
			return err
		}
		var err error
		marker, err = bumpMarker(conn)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	span.Debugf("recursive delete of %d removed %d rows", id, len(ids))
	return ids, marker, nil
}

func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return "\xff\xff\xff\xff"
}
