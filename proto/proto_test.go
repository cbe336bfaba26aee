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

package proto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathHelpers(t *testing.T) {
	for _, c := range []struct {
		path, parent, name string
	}{
		{"/", "", "/"},
		{"/a", "/", "a"},
		{"/a/b", "/a", "b"},
		{"/a/b/c", "/a/b", "c"},
	} {
		parent, name := Split(c.path)
		require.Equal(t, c.parent, parent, c.path)
		require.Equal(t, c.name, name, c.path)
		require.Equal(t, c.path, Join(parent, name))
	}

	require.True(t, IsUnder("/a", "/a"))
	require.True(t, IsUnder("/a/b", "/a"))
	require.False(t, IsUnder("/ab", "/a"))
	require.True(t, IsUnder("/ab", "/"))

	require.Equal(t, "/x", Rebase("/a", "/a", "/x"))
	require.Equal(t, "/x/b/c", Rebase("/a/b/c", "/a", "/x"))
	require.Equal(t, "/b", Rebase("/a/b", "/a", "/"))

	p, ok := Clean("/a//b/")
	require.True(t, ok)
	require.Equal(t, "/a/b", p)
	_, ok = Clean("a/b")
	require.False(t, ok)
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"a", "a.b", "...", ".a", "a b", "日本"} {
		require.True(t, ValidName(name), name)
	}
	for _, name := range []string{"", ".", "..", "/", "a/f", "a/", "a\x00b"} {
		require.False(t, ValidName(name), name)
	}
}

func TestPermission(t *testing.T) {
	p := NewPermission(7, 9, 0o755)
	require.Equal(t, uint32(7), p.User())
	require.Equal(t, uint32(9), p.Group())
	require.Equal(t, uint16(0o755), p.Mode())

	q := p.WithMode(0o700)
	require.Equal(t, uint32(7), q.User())
	require.Equal(t, uint32(9), q.Group())
	require.Equal(t, uint16(0o700), q.Mode())
	require.Equal(t, q, q.WithMode(0o700))

	r := p.WithOwner(MaxStringCode, 1)
	require.Equal(t, uint32(MaxStringCode), r.User())
	require.Equal(t, uint16(0o755), r.Mode())
}

func TestHeader(t *testing.T) {
	h, err := NewFileHeader(128<<20, ReplicatedLayout(3), 2)
	require.NoError(t, err)
	require.False(t, h.IsDir())
	require.Equal(t, uint64(128<<20), h.PreferredBlockSize())
	require.Equal(t, uint16(3), h.Layout().Replication())
	require.False(t, h.Layout().IsStriped())
	require.Equal(t, uint8(2), h.StoragePolicy())

	h, err = NewFileHeader(1<<20, StripedLayout(4), 0)
	require.NoError(t, err)
	require.True(t, h.Layout().IsStriped())
	require.Equal(t, uint8(4), h.Layout().ECPolicyID())
	require.Equal(t, uint16(0), h.Layout().Replication())

	_, err = NewFileHeader(0, ReplicatedLayout(3), 0)
	require.True(t, errors.Is(err, ErrInvalidHeader))
	_, err = NewFileHeader(1, ReplicatedLayout(3), 16)
	require.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestInodeFields(t *testing.T) {
	ino := &Inode{ID: 2, ParentID: 1, ParentPath: "/", Name: "a"}
	require.True(t, ino.IsDir())
	require.Equal(t, "/a", ino.Path())

	require.NoError(t, ino.Apply(AccessTimeUpdate(100)))
	require.NoError(t, ino.Apply(PermissionUpdate(NewPermission(1, 1, 0o644))))
	v, err := ino.Get(FieldAccessTime)
	require.NoError(t, err)
	require.Equal(t, int64(100), v.Int())
	v, err = ino.Get(FieldPermission)
	require.NoError(t, err)
	require.Equal(t, uint16(0o644), Permission(v.Uint()).Mode())

	err = ino.Apply(Update{Field: FieldName, Value: UintValue(1)})
	require.True(t, errors.Is(err, ErrFieldKindMismatch))
	require.Error(t, ino.Apply(Update{Field: Field(99), Value: UintValue(1)}))

	var mask FieldMask
	mask |= FieldAccessTime.Mask() | FieldHeader.Mask()
	require.Equal(t, []Field{FieldAccessTime, FieldHeader}, mask.Fields())
	require.True(t, FieldParentPath.Structural())
	require.False(t, FieldPermission.Structural())
	require.Equal(t, "parent", FieldParentID.Column())
}

func TestRowCodec(t *testing.T) {
	ino := &Inode{
		ID: 42, ParentID: 2, ParentPath: "/a", Name: "file",
		AccessTime: -5, ModificationTime: 1700000000000,
		Permission: NewPermission(3, 4, 0o640), Header: 77,
	}
	var got Inode
	require.NoError(t, got.Unmarshal(ino.Marshal()))
	require.Equal(t, *ino, got)

	blk := &Block{ID: 9, NumBytes: 4096, GenerationStamp: 1001, Replication: 3, Locations: []string{"dn1", "dn2"}}
	var gotBlk Block
	require.NoError(t, gotBlk.Unmarshal(blk.Marshal()))
	require.Equal(t, *blk, gotBlk)

	attrs := []XAttr{
		{Namespace: XAttrUser, Name: "k1", Value: []byte("v1")},
		{Namespace: XAttrSystem, Name: "k2", Value: []byte{}},
	}
	gotAttrs, err := UnmarshalXAttrs(MarshalXAttrs(attrs))
	require.NoError(t, err)
	require.Len(t, gotAttrs, 2)
	require.Equal(t, "k1", gotAttrs[0].Name)
	require.Equal(t, XAttrSystem, gotAttrs[1].Namespace)

	require.Error(t, got.Unmarshal([]byte{0x0a, 0xff}))
}
