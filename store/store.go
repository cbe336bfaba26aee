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

package store

import (
	"context"

	"github.com/cubefs/namespacedb/proto"
)

type Kind string

const (
	KindSQLite  = Kind("sqlite")
	KindRocksdb = Kind("rocksdb")
	KindEtcd    = Kind("etcd")
	KindMemory  = Kind("memory")
)

type (
	// Store is the attribute store of one namespace backend. Every call
	// checks out its own session, errors are classified with the kinds in
	// the errors package.
	Store interface {
		InodeStore
		SideRecordStore
		BlockStore
		StringStore

		// Begin opens a transaction for structural mutations.
		Begin(ctx context.Context) (Txn, error)
		// Marker returns the durability marker of the last structural commit.
		Marker(ctx context.Context) (proto.Marker, error)
		Kind() Kind
		Close() error
	}

	InodeStore interface {
		GetInode(ctx context.Context, id proto.Ino) (*proto.Inode, error)
		Lookup(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error)
		GetAttribute(ctx context.Context, id proto.Ino, field proto.Field) (proto.Value, error)
		// SetAttributes applies non-structural updates to one row.
		SetAttributes(ctx context.Context, id proto.Ino, updates ...proto.Update) error
		// InsertInode succeeds without writing when the id already exists and
		// fails with ErrAlreadyExists when the natural key is taken.
		InsertInode(ctx context.Context, inode *proto.Inode) error
		// DeleteByID removes one row and its side records.
		DeleteByID(ctx context.Context, id proto.Ino) error
		// ListChildren returns up to limit children of the directory at
		// parentPath whose names sort after marker.
		ListChildren(ctx context.Context, parentPath string, marker string, limit int) ([]*proto.Inode, error)
	}

	SideRecordStore interface {
		PutUnderConstruction(ctx context.Context, id proto.Ino, uc *proto.UnderConstruction) error
		GetUnderConstruction(ctx context.Context, id proto.Ino) (*proto.UnderConstruction, error)
		DeleteUnderConstruction(ctx context.Context, id proto.Ino) error

		// PutXAttrs replaces attributes with the same namespace and name and
		// appends the rest.
		PutXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error
		GetXAttrs(ctx context.Context, id proto.Ino) ([]proto.XAttr, error)
		// DeleteXAttrs removes the named attributes, or all of them when attrs is empty.
		DeleteXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error
	}

	BlockStore interface {
		PutBlock(ctx context.Context, blk *proto.Block) error
		GetBlock(ctx context.Context, id proto.BlockID) (*proto.Block, error)
		DeleteBlocks(ctx context.Context, ids []proto.BlockID) error
		// AppendBlocks links ids to the end of the file and returns the index
		// of the first one.
		AppendBlocks(ctx context.Context, ino proto.Ino, ids []proto.BlockID) (int, error)
		ListBlockIDs(ctx context.Context, ino proto.Ino) ([]proto.BlockID, error)
		// TruncateBlocks keeps the first keep links and returns the unlinked block ids.
		TruncateBlocks(ctx context.Context, ino proto.Ino, keep int) ([]proto.BlockID, error)
		GetBlockOwner(ctx context.Context, id proto.BlockID) (proto.Ino, error)
	}

	StringStore interface {
		PutStrings(ctx context.Context, entries map[string]uint32) error
		LoadStrings(ctx context.Context) (map[string]uint32, error)
	}

	// Txn is the primitive set the subtree protocol is written against.
	// Reads observe the transaction's own writes.
	Txn interface {
		Get(ctx context.Context, key proto.NaturalKey) (*proto.Inode, error)
		GetByID(ctx context.Context, id proto.Ino) (*proto.Inode, error)
		// ScanPrefix returns every descendant of the directory at root, root
		// itself excluded, ordered by parent path and name.
		ScanPrefix(ctx context.Context, root string) ([]*proto.Inode, error)
		ScanChildren(ctx context.Context, parentPath string) ([]*proto.Inode, error)
		// BatchInsert writes rows keyed by natural key, overwriting.
		BatchInsert(ctx context.Context, rows []*proto.Inode) error
		// BatchDelete removes rows by natural key and returns how many existed.
		BatchDelete(ctx context.Context, keys []proto.NaturalKey) (int, error)
		// CopySideRecords copies under-construction, xattr and block link
		// records of each id to id+offset.
		CopySideRecords(ctx context.Context, ids []proto.Ino, offset uint64) error
		PurgeSideRecords(ctx context.Context, ids []proto.Ino) error
		Commit(ctx context.Context) (proto.Marker, error)
		Rollback()
	}

	// RecursiveDeleter is implemented by backends that can delete a subtree
	// with one recursive query.
	RecursiveDeleter interface {
		DeleteRecursive(ctx context.Context, id proto.Ino) ([]proto.Ino, proto.Marker, error)
	}
)
