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

// Package storetest holds the behaviour every store backend must share,
// plus tree builders for tests of the layers above.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
)

const fileHeader = proto.Header(128 << 20)

func Root() *proto.Inode {
	return &proto.Inode{ID: proto.RootID, Name: proto.RootName, Permission: proto.NewPermission(0, 0, 0o755)}
}

func Dir(id, parentID proto.Ino, path string) *proto.Inode {
	parentPath, name := proto.Split(path)
	return &proto.Inode{
		ID:               id,
		ParentID:         parentID,
		ParentPath:       parentPath,
		Name:             name,
		ModificationTime: int64(id),
		Permission:       proto.NewPermission(1, 1, 0o755),
	}
}

func File(id, parentID proto.Ino, path string) *proto.Inode {
	inode := Dir(id, parentID, path)
	inode.Header = fileHeader
	inode.Permission = proto.NewPermission(1, 1, 0o644)
	return inode
}

// Tree creates the root and then every path in order, numbering ids from 2.
// A path ending in "/" is a directory. The returned map is keyed by path.
func Tree(t testing.TB, s store.Store, paths ...string) map[string]*proto.Inode {
	ctx := context.Background()
	root := Root()
	require.NoError(t, s.InsertInode(ctx, root))
	nodes := map[string]*proto.Inode{"/": root}
	next := proto.RootID + 1
	for _, p := range paths {
		dir := len(p) > 1 && p[len(p)-1] == '/'
		if dir {
			p = p[:len(p)-1]
		}
		parentPath, _ := proto.Split(p)
		parent, ok := nodes[parentPath]
		require.True(t, ok, "parent of %s", p)
		var inode *proto.Inode
		if dir {
			inode = Dir(next, parent.ID, p)
		} else {
			inode = File(next, parent.ID, p)
		}
		next++
		require.NoError(t, s.InsertInode(ctx, inode))
		nodes[p] = inode
	}
	return nodes
}

// Paths lists the full path of every row reachable from the root.
func Paths(t testing.TB, s store.Store) []string {
	ctx := context.Background()
	var paths []string
	queue := []string{"/"}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		paths = append(paths, p)
		children, err := s.ListChildren(ctx, p, "", 0)
		require.NoError(t, err)
		for _, c := range children {
			queue = append(queue, c.Path())
		}
	}
	sort.Strings(paths)
	return paths
}

// Run exercises open against the store contract. Each subtest gets a fresh
// empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	for _, c := range []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndLookup", testInsertAndLookup},
		{"InsertIdempotent", testInsertIdempotent},
		{"InsertRejectsBadNames", testInsertRejectsBadNames},
		{"Attributes", testAttributes},
		{"ListChildren", testListChildren},
		{"DeleteByID", testDeleteByID},
		{"UnderConstruction", testUnderConstruction},
		{"XAttrs", testXAttrs},
		{"Blocks", testBlocks},
		{"Strings", testStrings},
		{"TxnScan", testTxnScan},
		{"TxnMoveRows", testTxnMoveRows},
		{"TxnRollback", testTxnRollback},
		{"TxnSideRecords", testTxnSideRecords},
		{"DeleteRecursive", testDeleteRecursive},
		{"DeleteBFS", testDeleteBFS},
	} {
		c := c
		t.Run(c.name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			c.fn(t, s)
		})
	}
}

func testInsertAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/a/", "/a/f")

	got, err := s.GetInode(ctx, nodes["/a/f"].ID)
	require.NoError(t, err)
	require.Equal(t, nodes["/a/f"], got)

	got, err = s.Lookup(ctx, proto.KeyOf("/a/f"))
	require.NoError(t, err)
	require.Equal(t, nodes["/a/f"].ID, got.ID)

	got, err = s.Lookup(ctx, proto.KeyOf("/"))
	require.NoError(t, err)
	require.Equal(t, proto.RootID, got.ID)

	_, err = s.GetInode(ctx, 999)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = s.Lookup(ctx, proto.KeyOf("/a/missing"))
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func testInsertIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/a/")

	again := nodes["/a"].Clone()
	again.Name = "renamed"
	require.NoError(t, s.InsertInode(ctx, again))
	got, err := s.GetInode(ctx, again.ID)
	require.NoError(t, err)
	require.Equal(t, "a", got.Name)

	clash := Dir(100, proto.RootID, "/a")
	require.ErrorIs(t, s.InsertInode(ctx, clash), apierrors.ErrAlreadyExists)
}

func testInsertRejectsBadNames(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/a/")

	for i, name := range []string{"", ".", "..", "b/f", "a\x00b"} {
		inode := File(proto.Ino(100+i), nodes["/a"].ID, "/a/x")
		inode.Name = name
		require.ErrorIs(t, s.InsertInode(ctx, inode), apierrors.ErrInvalidArgument, "%q", name)
	}
	// a name with a NUL would alias a child of /a/a in the row key order
	_, err := s.Lookup(ctx, proto.NaturalKey{ParentPath: "/a", Name: "a"})
	require.ErrorIs(t, err, apierrors.ErrNotFound)

	relative := File(110, nodes["/a"].ID, "/a/x")
	relative.ParentPath = "a"
	require.ErrorIs(t, s.InsertInode(ctx, relative), apierrors.ErrInvalidArgument)
	require.Equal(t, []string{"/", "/a"}, Paths(t, s))
}

func testAttributes(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/f")
	id := nodes["/f"].ID

	perm := proto.NewPermission(7, 8, 0o600)
	require.NoError(t, s.SetAttributes(ctx, id,
		proto.PermissionUpdate(perm),
		proto.AccessTimeUpdate(42),
		proto.ModificationTimeUpdate(-5)))

	v, err := s.GetAttribute(ctx, id, proto.FieldPermission)
	require.NoError(t, err)
	require.Equal(t, uint64(perm), v.Uint())
	v, err = s.GetAttribute(ctx, id, proto.FieldModificationTime)
	require.NoError(t, err)
	require.Equal(t, int64(-5), v.Int())
	v, err = s.GetAttribute(ctx, id, proto.FieldName)
	require.NoError(t, err)
	require.Equal(t, "f", v.Str())

	require.ErrorIs(t, s.SetAttributes(ctx, id, proto.NameUpdate("g")), apierrors.ErrInvalidArgument)
	require.ErrorIs(t, s.SetAttributes(ctx, id, proto.Update{Field: proto.FieldAccessTime, Value: proto.StringValue("x")}),
		apierrors.ErrInvalidArgument)
	require.ErrorIs(t, s.SetAttributes(ctx, 999, proto.AccessTimeUpdate(1)), apierrors.ErrNotFound)
	_, err = s.GetAttribute(ctx, 999, proto.FieldHeader)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func testListChildren(t *testing.T, s store.Store) {
	ctx := context.Background()
	paths := []string{"/d/", "/d/sub/", "/d/sub/deep", "/da"}
	for i := 0; i < 10; i++ {
		paths = append(paths, fmt.Sprintf("/d/f%02d", i))
	}
	Tree(t, s, paths...)

	all, err := s.ListChildren(ctx, "/d", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 11)
	for _, c := range all {
		require.Equal(t, "/d", c.ParentPath)
	}

	var names []string
	marker := ""
	for {
		page, err := s.ListChildren(ctx, "/d", marker, 4)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.LessOrEqual(t, len(page), 4)
		for _, c := range page {
			names = append(names, c.Name)
		}
		marker = page[len(page)-1].Name
	}
	require.Len(t, names, 11)
	require.True(t, sort.StringsAreSorted(names))
	require.Equal(t, "sub", names[len(names)-1])

	top, err := s.ListChildren(ctx, "/", "", 0)
	require.NoError(t, err)
	require.Len(t, top, 2)

	none, err := s.ListChildren(ctx, "/nothing", "", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func testDeleteByID(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/f")
	id := nodes["/f"].ID
	require.NoError(t, s.PutUnderConstruction(ctx, id, &proto.UnderConstruction{ClientName: "c", ClientMachine: "m"}))

	require.NoError(t, s.DeleteByID(ctx, id))
	_, err := s.GetInode(ctx, id)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = s.GetUnderConstruction(ctx, id)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	require.ErrorIs(t, s.DeleteByID(ctx, id), apierrors.ErrNotFound)
}

func testUnderConstruction(t *testing.T, s store.Store) {
	ctx := context.Background()
	uc := &proto.UnderConstruction{ClientName: "client-1", ClientMachine: "10.0.0.1"}
	require.NoError(t, s.PutUnderConstruction(ctx, 5, uc))
	got, err := s.GetUnderConstruction(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, uc, got)

	uc.ClientName = "client-2"
	require.NoError(t, s.PutUnderConstruction(ctx, 5, uc))
	got, err = s.GetUnderConstruction(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "client-2", got.ClientName)

	require.NoError(t, s.DeleteUnderConstruction(ctx, 5))
	_, err = s.GetUnderConstruction(ctx, 5)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func testXAttrs(t *testing.T, s store.Store) {
	ctx := context.Background()
	attrs, err := s.GetXAttrs(ctx, 9)
	require.NoError(t, err)
	require.Empty(t, attrs)

	require.NoError(t, s.PutXAttrs(ctx, 9, []proto.XAttr{
		{Namespace: proto.XAttrUser, Name: "a", Value: []byte("1")},
		{Namespace: proto.XAttrTrusted, Name: "a", Value: []byte("2")},
	}))
	require.NoError(t, s.PutXAttrs(ctx, 9, []proto.XAttr{
		{Namespace: proto.XAttrUser, Name: "a", Value: []byte("3")},
		{Namespace: proto.XAttrUser, Name: "b", Value: []byte("4")},
	}))
	attrs, err = s.GetXAttrs(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, []proto.XAttr{
		{Namespace: proto.XAttrUser, Name: "a", Value: []byte("3")},
		{Namespace: proto.XAttrTrusted, Name: "a", Value: []byte("2")},
		{Namespace: proto.XAttrUser, Name: "b", Value: []byte("4")},
	}, attrs)

	require.NoError(t, s.DeleteXAttrs(ctx, 9, []proto.XAttr{{Namespace: proto.XAttrTrusted, Name: "a"}}))
	attrs, err = s.GetXAttrs(ctx, 9)
	require.NoError(t, err)
	require.Len(t, attrs, 2)

	require.NoError(t, s.DeleteXAttrs(ctx, 9, nil))
	attrs, err = s.GetXAttrs(ctx, 9)
	require.NoError(t, err)
	require.Empty(t, attrs)
}

func testBlocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	blk := &proto.Block{ID: 100, NumBytes: 4096, GenerationStamp: 7, Replication: 3, Locations: []string{"dn1", "dn2"}}
	require.NoError(t, s.PutBlock(ctx, blk))
	got, err := s.GetBlock(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, blk, got)

	first, err := s.AppendBlocks(ctx, 3, []proto.BlockID{100, 101})
	require.NoError(t, err)
	require.Equal(t, 0, first)
	first, err = s.AppendBlocks(ctx, 3, []proto.BlockID{102, 103})
	require.NoError(t, err)
	require.Equal(t, 2, first)

	ids, err := s.ListBlockIDs(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []proto.BlockID{100, 101, 102, 103}, ids)
	owner, err := s.GetBlockOwner(ctx, 102)
	require.NoError(t, err)
	require.Equal(t, proto.Ino(3), owner)

	removed, err := s.TruncateBlocks(ctx, 3, 1)
	require.NoError(t, err)
	require.Equal(t, []proto.BlockID{101, 102, 103}, removed)
	ids, err = s.ListBlockIDs(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []proto.BlockID{100}, ids)
	_, err = s.GetBlockOwner(ctx, 102)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = s.TruncateBlocks(ctx, 3, -1)
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)

	require.NoError(t, s.DeleteBlocks(ctx, []proto.BlockID{100}))
	_, err = s.GetBlock(ctx, 100)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func testStrings(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutStrings(ctx, map[string]uint32{"root": 1, "hdfs": 2}))
	require.NoError(t, s.PutStrings(ctx, map[string]uint32{"hdfs": 2, "alice": 3}))
	require.ErrorIs(t, s.PutStrings(ctx, map[string]uint32{"bob": 3}), apierrors.ErrAlreadyExists)

	entries, err := s.LoadStrings(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]uint32{"root": 1, "hdfs": 2, "alice": 3}, entries)
}

func testTxnScan(t *testing.T, s store.Store) {
	ctx := context.Background()
	Tree(t, s, "/a/", "/a/b/", "/a/b/c", "/a/d", "/ab/", "/ab/x", "/z")

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	defer txn.Rollback()

	rows, err := txn.ScanPrefix(ctx, "/a")
	require.NoError(t, err)
	var got []string
	for _, r := range rows {
		got = append(got, r.Path())
	}
	require.ElementsMatch(t, []string{"/a/b", "/a/b/c", "/a/d"}, got)

	rows, err = txn.ScanPrefix(ctx, "/")
	require.NoError(t, err)
	require.Len(t, rows, 7)

	rows, err = txn.ScanChildren(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "b", rows[0].Name)
	require.Equal(t, "d", rows[1].Name)
}

func testTxnMoveRows(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/a/", "/a/f")
	before, err := s.Marker(ctx)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	moved := nodes["/a/f"].Clone()
	moved.ParentPath = "/"
	require.NoError(t, txn.BatchInsert(ctx, []*proto.Inode{moved}))
	got, err := txn.Get(ctx, moved.Key())
	require.NoError(t, err)
	require.Equal(t, moved.ID, got.ID)

	n, err := txn.BatchDelete(ctx, []proto.NaturalKey{proto.KeyOf("/a/f"), proto.KeyOf("/a/none")})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	marker, err := txn.Commit(ctx)
	require.NoError(t, err)
	require.Greater(t, marker, before)

	after, err := s.Marker(ctx)
	require.NoError(t, err)
	require.Equal(t, marker, after)

	got, err = s.GetInode(ctx, moved.ID)
	require.NoError(t, err)
	require.Equal(t, "/f", got.Path())
	_, err = s.Lookup(ctx, proto.KeyOf("/a/f"))
	require.ErrorIs(t, err, apierrors.ErrNotFound)

	_, err = txn.Commit(ctx)
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
}

func testTxnRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodes := Tree(t, s, "/a/")
	before, err := s.Marker(ctx)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.BatchInsert(ctx, []*proto.Inode{File(50, nodes["/a"].ID, "/a/new")}))
	_, err = txn.BatchDelete(ctx, []proto.NaturalKey{proto.KeyOf("/a")})
	require.NoError(t, err)
	txn.Rollback()
	txn.Rollback()

	_, err = s.Lookup(ctx, proto.KeyOf("/a/new"))
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = s.Lookup(ctx, proto.KeyOf("/a"))
	require.NoError(t, err)
	after, err := s.Marker(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func testTxnSideRecords(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutUnderConstruction(ctx, 10, &proto.UnderConstruction{ClientName: "c"}))
	require.NoError(t, s.PutXAttrs(ctx, 10, []proto.XAttr{{Name: "k", Value: []byte("v")}}))
	_, err := s.AppendBlocks(ctx, 10, []proto.BlockID{7, 8})
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.CopySideRecords(ctx, []proto.Ino{10}, 1000))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	uc, err := s.GetUnderConstruction(ctx, 1010)
	require.NoError(t, err)
	require.Equal(t, "c", uc.ClientName)
	attrs, err := s.GetXAttrs(ctx, 1010)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	ids, err := s.ListBlockIDs(ctx, 1010)
	require.NoError(t, err)
	require.Equal(t, []proto.BlockID{7, 8}, ids)

	txn, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.PurgeSideRecords(ctx, []proto.Ino{10}))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	_, err = s.GetUnderConstruction(ctx, 10)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
	ids, err = s.ListBlockIDs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
	ids, err = s.ListBlockIDs(ctx, 1010)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	owner, err := s.GetBlockOwner(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, proto.Ino(1010), owner)
}

func deleteCase(t *testing.T, s store.Store, del func(ctx context.Context, id proto.Ino) ([]proto.Ino, proto.Marker, error)) {
	ctx := context.Background()
	nodes := Tree(t, s, "/a/", "/a/b/", "/a/b/c", "/a/d", "/ab/", "/ab/x")
	require.NoError(t, s.PutXAttrs(ctx, nodes["/a/b/c"].ID, []proto.XAttr{{Name: "k"}}))

	ids, marker, err := del(ctx, nodes["/a"].ID)
	require.NoError(t, err)
	require.NotZero(t, marker)
	require.ElementsMatch(t, []proto.Ino{nodes["/a"].ID, nodes["/a/b"].ID, nodes["/a/b/c"].ID, nodes["/a/d"].ID}, ids)
	require.Equal(t, []string{"/", "/ab", "/ab/x"}, Paths(t, s))

	attrs, err := s.GetXAttrs(ctx, nodes["/a/b/c"].ID)
	require.NoError(t, err)
	require.Empty(t, attrs)

	_, _, err = del(ctx, nodes["/a"].ID)
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}

func testDeleteRecursive(t *testing.T, s store.Store) {
	deleteCase(t, s, func(ctx context.Context, id proto.Ino) ([]proto.Ino, proto.Marker, error) {
		return store.DeleteRecursive(ctx, s, id)
	})
}

func testDeleteBFS(t *testing.T, s store.Store) {
	deleteCase(t, s, func(ctx context.Context, id proto.Ino) ([]proto.Ino, proto.Marker, error) {
		return store.DeleteBFS(ctx, s, id)
	})
}
