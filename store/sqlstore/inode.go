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
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
)

func (s *Store) GetInode(ctx context.Context, id proto.Ino) (inode *proto.Inode, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		inode, err = getByID(conn, id)
		return err
	})
	return
}

func (s *Store) Lookup(ctx context.Context, key proto.NaturalKey) (inode *proto.Inode, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		inode, err = getByKey(conn, key)
		return err
	})
	return
}

func (s *Store) GetAttribute(ctx context.Context, id proto.Ino, field proto.Field) (value proto.Value, err error) {
	if !field.Valid() {
		return value, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, field.String())
	}
	found := false
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+field.Column()+" FROM inodes WHERE id = ? LIMIT 1", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				switch field.Kind() {
				case proto.KindUint:
					value = proto.UintValue(uint64(stmt.ColumnInt64(0)))
				case proto.KindInt:
					value = proto.IntValue(stmt.ColumnInt64(0))
				default:
					value = proto.StringValue(stmt.ColumnText(0))
				}
				return nil
			},
		})
	})
	if err == nil && !found {
		err = apierrors.ErrNotFound
	}
	return
}

func (s *Store) SetAttributes(ctx context.Context, id proto.Ino, updates ...proto.Update) error {
	if len(updates) == 0 {
		return nil
	}
	sets := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates)+1)
	for _, u := range updates {
		if !u.Field.Valid() || u.Field.Structural() || u.Field.Kind() != u.Value.Kind() {
			return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, u.String())
		}
		sets = append(sets, u.Field.Column()+" = ?")
		args = append(args, bindValue(u.Value))
	}
	args = append(args, int64(id))
	query := "UPDATE inodes SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return apierrors.ErrNotFound
		}
		return nil
	})
}

func (s *Store) InsertInode(ctx context.Context, inode *proto.Inode) error {
	if !inode.ValidKey() {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "bad key "+inode.Key().String())
	}
	return s.withTxn(ctx, func(conn *sqlite.Conn) error {
		_, err := getByID(conn, inode.ID)
		if err == nil {
			return nil
		}
		if err != apierrors.ErrNotFound {
			return err
		}
		return sqlitex.Execute(conn, "INSERT INTO inodes ("+inodeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: inodeArgs(inode)})
	})
}

func (s *Store) DeleteByID(ctx context.Context, id proto.Ino) error {
	return s.withTxn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM inodes WHERE id = ?", &sqlitex.ExecOptions{Args: []any{int64(id)}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return apierrors.ErrNotFound
		}
		return purgeSideRecords(conn, []proto.Ino{id})
	})
}

func (s *Store) ListChildren(ctx context.Context, parentPath string, marker string, limit int) (children []*proto.Inode, err error) {
	if limit <= 0 {
		limit = -1
	}
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+inodeColumns+" FROM inodes WHERE parent_path = ? AND name > ? ORDER BY name LIMIT ?",
			&sqlitex.ExecOptions{
				Args: []any{parentPath, marker, int64(limit)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					children = append(children, scanInode(stmt))
					return nil
				},
			})
	})
	return
}

func getByID(conn *sqlite.Conn, id proto.Ino) (*proto.Inode, error) {
	return queryOne(conn, "SELECT "+inodeColumns+" FROM inodes WHERE id = ? LIMIT 1", int64(id))
}

func getByKey(conn *sqlite.Conn, key proto.NaturalKey) (*proto.Inode, error) {
	return queryOne(conn, "SELECT "+inodeColumns+" FROM inodes WHERE parent_path = ? AND name = ?", key.ParentPath, key.Name)
}

func queryOne(conn *sqlite.Conn, query string, args ...any) (inode *proto.Inode, err error) {
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			inode = scanInode(stmt)
			return nil
		},
	})
	if err == nil && inode == nil {
		err = apierrors.ErrNotFound
	}
	return
}

// queryInodes runs a query selecting inodeColumns.
func queryInodes(conn *sqlite.Conn, query string, args ...any) (inodes []*proto.Inode, err error) {
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			inodes = append(inodes, scanInode(stmt))
			return nil
		},
	})
	return
}

func scanInode(stmt *sqlite.Stmt) *proto.Inode {
	return &proto.Inode{
		ID:               uint64(stmt.ColumnInt64(0)),
		ParentID:         uint64(stmt.ColumnInt64(1)),
		ParentPath:       stmt.ColumnText(2),
		Name:             stmt.ColumnText(3),
		AccessTime:       stmt.ColumnInt64(4),
		ModificationTime: stmt.ColumnInt64(5),
		Permission:       proto.Permission(stmt.ColumnInt64(6)),
		Header:           proto.Header(stmt.ColumnInt64(7)),
	}
}

// Unsigned columns are stored as the int64 with the same bits.
func inodeArgs(inode *proto.Inode) []any {
	return []any{
		int64(inode.ID),
		int64(inode.ParentID),
		inode.ParentPath,
		inode.Name,
		inode.AccessTime,
		inode.ModificationTime,
		int64(inode.Permission),
		int64(inode.Header),
	}
}

func bindValue(v proto.Value) any {
	switch v.Kind() {
	case proto.KindUint:
		return int64(v.Uint())
	case proto.KindInt:
		return v.Int()
	default:
		return v.Str()
	}
}
