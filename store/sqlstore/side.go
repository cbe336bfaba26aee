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

const locationSeparator = "\n"

func (s *Store) PutUnderConstruction(ctx context.Context, id proto.Ino, uc *proto.UnderConstruction) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT OR REPLACE INTO inodeuc (id, client_name, client_machine) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{int64(id), uc.ClientName, uc.ClientMachine}})
	})
}

func (s *Store) GetUnderConstruction(ctx context.Context, id proto.Ino) (uc *proto.UnderConstruction, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT client_name, client_machine FROM inodeuc WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				uc = &proto.UnderConstruction{ClientName: stmt.ColumnText(0), ClientMachine: stmt.ColumnText(1)}
				return nil
			},
		})
	})
	if err == nil && uc == nil {
		err = apierrors.ErrNotFound
	}
	return
}

func (s *Store) DeleteUnderConstruction(ctx context.Context, id proto.Ino) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM inodeuc WHERE id = ?", &sqlitex.ExecOptions{Args: []any{int64(id)}})
	})
}

func (s *Store) PutXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error {
	if len(attrs) == 0 {
		return nil
	}
	return s.withTxn(ctx, func(conn *sqlite.Conn) error {
		var seq int64
		if err := sqlitex.Execute(conn, "SELECT COALESCE(MAX(seq), 0) FROM inodexattrs WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				seq = stmt.ColumnInt64(0)
				return nil
			},
		}); err != nil {
			return err
		}
		for _, attr := range attrs {
			seq++
			if err := sqlitex.Execute(conn, `INSERT INTO inodexattrs (id, namespace, name, value, seq) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (id, namespace, name) DO UPDATE SET value = excluded.value`,
				&sqlitex.ExecOptions{Args: []any{int64(id), int64(attr.Namespace), attr.Name, attr.Value, seq}}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetXAttrs(ctx context.Context, id proto.Ino) (attrs []proto.XAttr, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT namespace, name, value FROM inodexattrs WHERE id = ? ORDER BY seq", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, value)
				attrs = append(attrs, proto.XAttr{
					Namespace: proto.XAttrNamespace(stmt.ColumnInt64(0)),
					Name:      stmt.ColumnText(1),
					Value:     value,
				})
				return nil
			},
		})
	})
	return
}

func (s *Store) DeleteXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error {
	if len(attrs) == 0 {
		return s.withConn(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, "DELETE FROM inodexattrs WHERE id = ?", &sqlitex.ExecOptions{Args: []any{int64(id)}})
		})
	}
	return s.withTxn(ctx, func(conn *sqlite.Conn) error {
		for _, attr := range attrs {
			if err := sqlitex.Execute(conn, "DELETE FROM inodexattrs WHERE id = ? AND namespace = ? AND name = ?",
				&sqlitex.ExecOptions{Args: []any{int64(id), int64(attr.Namespace), attr.Name}}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) PutBlock(ctx context.Context, blk *proto.Block) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT OR REPLACE INTO blocks
			(id, num_bytes, generation_stamp, replication, ec_policy, locations) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				int64(blk.ID),
				blk.NumBytes,
				blk.GenerationStamp,
				int64(blk.Replication),
				int64(blk.ECPolicyID),
				strings.Join(blk.Locations, locationSeparator),
			}})
	})
}

func (s *Store) GetBlock(ctx context.Context, id proto.BlockID) (blk *proto.Block, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT num_bytes, generation_stamp, replication, ec_policy, locations
			FROM blocks WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blk = &proto.Block{
					ID:              id,
					NumBytes:        stmt.ColumnInt64(0),
					GenerationStamp: stmt.ColumnInt64(1),
					Replication:     uint16(stmt.ColumnInt64(2)),
					ECPolicyID:      uint8(stmt.ColumnInt64(3)),
				}
				if locations := stmt.ColumnText(4); locations != "" {
					blk.Locations = strings.Split(locations, locationSeparator)
				}
				return nil
			},
		})
	})
	if err == nil && blk == nil {
		err = apierrors.ErrNotFound
	}
	return
}

func (s *Store) DeleteBlocks(ctx context.Context, ids []proto.BlockID) error {
	return s.withTxn(ctx, func(conn *sqlite.Conn) error {
		for _, id := range ids {
			if err := sqlitex.Execute(conn, "DELETE FROM blocks WHERE id = ?", &sqlitex.ExecOptions{Args: []any{int64(id)}}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AppendBlocks(ctx context.Context, ino proto.Ino, ids []proto.BlockID) (first int, err error) {
	err = s.withTxn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "SELECT COALESCE(MAX(idx) + 1, 0) FROM inode2block WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{int64(ino)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				first = int(stmt.ColumnInt64(0))
				return nil
			},
		}); err != nil {
			return err
		}
		for i, id := range ids {
			if err := sqlitex.Execute(conn, "INSERT INTO inode2block (id, idx, block_id) VALUES (?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{int64(ino), int64(first + i), int64(id)}}); err != nil {
				return err
			}
		}
		return nil
	})
	return
}

func (s *Store) ListBlockIDs(ctx context.Context, ino proto.Ino) (ids []proto.BlockID, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		ids, err = listBlockIDs(conn, ino, 0)
		return err
	})
	return
}

func (s *Store) TruncateBlocks(ctx context.Context, ino proto.Ino, keep int) (removed []proto.BlockID, err error) {
	if keep < 0 {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "negative block count")
	}
	err = s.withTxn(ctx, func(conn *sqlite.Conn) error {
		if removed, err = listBlockIDs(conn, ino, keep); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "DELETE FROM inode2block WHERE id = ? AND idx >= ?",
			&sqlitex.ExecOptions{Args: []any{int64(ino), int64(keep)}})
	})
	return
}

func (s *Store) GetBlockOwner(ctx context.Context, id proto.BlockID) (owner proto.Ino, err error) {
	found := false
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id FROM inode2block WHERE block_id = ? LIMIT 1", &sqlitex.ExecOptions{
			Args: []any{int64(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				owner, found = uint64(stmt.ColumnInt64(0)), true
				return nil
			},
		})
	})
	if err == nil && !found {
		err = apierrors.ErrNotFound
	}
	return
}

func (s *Store) PutStrings(ctx context.Context, entries map[string]uint32) error {
	return s.withTxn(ctx, func(conn *sqlite.Conn) error {
		for str, code := range entries {
			existing, found := "", false
			if err := sqlitex.Execute(conn, "SELECT str FROM stringtable WHERE id = ?", &sqlitex.ExecOptions{
				Args: []any{int64(code)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					existing, found = stmt.ColumnText(0), true
					return nil
				},
			}); err != nil {
				return err
			}
			if found {
				if existing != str {
					return apierrors.Wrapf(apierrors.ErrAlreadyExists, nil, "string code taken by "+existing)
				}
				continue
			}
			if err := sqlitex.Execute(conn, "INSERT INTO stringtable (id, str) VALUES (?, ?)",
				&sqlitex.ExecOptions{Args: []any{int64(code), str}}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadStrings(ctx context.Context) (entries map[string]uint32, err error) {
	entries = make(map[string]uint32)
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, str FROM stringtable", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries[stmt.ColumnText(1)] = uint32(stmt.ColumnInt64(0))
				return nil
			},
		})
	})
	return
}

func listBlockIDs(conn *sqlite.Conn, ino proto.Ino, from int) (ids []proto.BlockID, err error) {
	err = sqlitex.Execute(conn, "SELECT block_id FROM inode2block WHERE id = ? AND idx >= ? ORDER BY idx", &sqlitex.ExecOptions{
		Args: []any{int64(ino), int64(from)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, uint64(stmt.ColumnInt64(0)))
			return nil
		},
	})
	return
}

func copySideRecords(conn *sqlite.Conn, ids []proto.Ino, offset uint64) error {
	for _, id := range ids {
		from, to := int64(id), int64(id+offset)
		for _, query := range []string{
			"INSERT OR REPLACE INTO inodeuc (id, client_name, client_machine) SELECT ?, client_name, client_machine FROM inodeuc WHERE id = ?",
			"INSERT OR REPLACE INTO inodexattrs (id, namespace, name, value, seq) SELECT ?, namespace, name, value, seq FROM inodexattrs WHERE id = ?",
			"INSERT OR REPLACE INTO inode2block (id, idx, block_id) SELECT ?, idx, block_id FROM inode2block WHERE id = ?",
		} {
			if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: []any{to, from}}); err != nil {
				return err
			}
		}
	}
	return nil
}

func purgeSideRecords(conn *sqlite.Conn, ids []proto.Ino) error {
	for _, id := range ids {
		for _, table := range []string{"inodeuc", "inodexattrs", "inode2block"} {
			if err := sqlitex.Execute(conn, "DELETE FROM "+table+" WHERE id = ?", &sqlitex.ExecOptions{Args: []any{int64(id)}}); err != nil {
				return err
			}
		}
	}
	return nil
}
