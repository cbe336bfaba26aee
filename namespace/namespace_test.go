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

package namespace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/namespacedb/common/kvstore"
	"github.com/cubefs/namespacedb/common/sessionpool"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
	"github.com/cubefs/namespacedb/store/kvmeta"
	"github.com/cubefs/namespacedb/store/sqlstore"
	"github.com/cubefs/namespacedb/subtree"
	"github.com/cubefs/namespacedb/util"
)

var testSession = sessionpool.Config{MaxSessions: 16, MinIdle: -1, MaxIdle: 4, AcquireTimeoutMs: 2000}

type backend struct {
	name string
	open func(t *testing.T) store.Store
}

var backends = []backend{
	{"kv", func(t *testing.T) store.Store {
		s, err := kvmeta.New(context.Background(), &kvmeta.Config{KVType: kvstore.MemoryKVType, Session: testSession})
		require.NoError(t, err)
		return s
	}},
	{"sqlite", func(t *testing.T) store.Store {
		dir, err := util.GenTmpPath()
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })
		s, err := sqlstore.New(context.Background(), &sqlstore.Config{Path: filepath.Join(dir, "ns.db"), Session: testSession})
		require.NoError(t, err)
		return s
	}},
}

// countingStore counts and slows down row reads by id.
type countingStore struct {
	store.Store
	gets  int64
	delay time.Duration
}

func (s *countingStore) GetInode(ctx context.Context, id proto.Ino) (*proto.Inode, error) {
	atomic.AddInt64(&s.gets, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.Store.GetInode(ctx, id)
}

// gatedStore parks the first read of id after the row was read.
type gatedStore struct {
	store.Store
	id   proto.Ino
	once sync.Once
	read chan struct{}
	gate chan struct{}
}

func newGatedStore(s store.Store, id proto.Ino) *gatedStore {
	return &gatedStore{Store: s, id: id, read: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedStore) GetInode(ctx context.Context, id proto.Ino) (*proto.Inode, error) {
	inode, err := s.Store.GetInode(ctx, id)
	if id == s.id {
		s.once.Do(func() {
			close(s.read)
			<-s.gate
		})
	}
	return inode, err
}

func newNamespace(t *testing.T, s store.Store) *Namespace {
	ctx := context.Background()
	ns, err := New(ctx, s, Config{})
	require.NoError(t, err)
	require.NoError(t, ns.InitRoot(ctx, proto.NewPermission(0, 0, 0o755)))
	return ns
}

func eachBackend(t *testing.T, fn func(t *testing.T, ns *Namespace)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()
			ns := newNamespace(t, s)
			defer ns.Close(context.Background())
			fn(t, ns)
		})
	}
}

func fileHeader(t *testing.T) proto.Header {
	h, err := proto.NewFileHeader(128<<20, proto.ReplicatedLayout(3), 0)
	require.NoError(t, err)
	return h
}

func TestNamespace_CreateAndGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		perm := proto.NewPermission(0, 0, 0o755)
		_, err := ns.Mkdir(ctx, 2, "/a", perm)
		require.NoError(t, err)

		got, err := ns.GetInode(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, "/", got.ParentPath)
		require.Equal(t, "a", got.Name)
		require.Equal(t, proto.RootID, got.ParentID)

		file, err := ns.CreateFile(ctx, 3, "/a/f", proto.NewPermission(0, 0, 0o644), fileHeader(t), nil)
		require.NoError(t, err)
		require.Equal(t, proto.Ino(2), file.ParentID)

		got, err = ns.Resolve(ctx, "/a/f")
		require.NoError(t, err)
		require.Equal(t, proto.Ino(3), got.ID)
		got, err = ns.Lookup(ctx, "/a", "f")
		require.NoError(t, err)
		require.Equal(t, proto.Ino(3), got.ID)

		// same id again is a no-op, a taken key is not
		_, err = ns.Mkdir(ctx, 2, "/a", perm)
		require.NoError(t, err)
		_, err = ns.Mkdir(ctx, 4, "/a", perm)
		require.ErrorIs(t, err, apierrors.ErrAlreadyExists)

		_, err = ns.Mkdir(ctx, 5, "/missing/x", perm)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		_, err = ns.Mkdir(ctx, 6, "/a/f/x", perm)
		require.ErrorIs(t, err, apierrors.ErrNotDirectory)
		_, err = ns.Mkdir(ctx, 7, "relative", perm)
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
		_, err = ns.CreateFile(ctx, 8, "/a/g", perm, 0, nil)
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)

		_, err = ns.GetInode(ctx, 99)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
	})
}

func TestNamespace_AcquireSingleton(t *testing.T) {
	ctx := context.Background()
	s := &countingStore{Store: backends[0].open(t)}
	defer s.Close()
	ns := newNamespace(t, s)
	defer ns.Close(ctx)
	_, err := ns.Mkdir(ctx, 5, "/d", 0)
	require.NoError(t, err)
	ns.forget([]proto.Ino{5, proto.RootID})
	atomic.StoreInt64(&s.gets, 0)
	s.delay = 20 * time.Millisecond

	const n = 16
	nodes := make([]*Node, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node, err := ns.Acquire(ctx, 5)
			if err == nil {
				nodes[i] = node
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&s.gets))
	for _, node := range nodes {
		require.NotNil(t, node)
		require.Same(t, nodes[0], node)
	}
	require.Equal(t, n, ns.dirs.Refs(5))
	for _, node := range nodes {
		ns.Release(node)
	}
	require.Equal(t, 0, ns.dirs.Refs(5))
	require.Equal(t, -1, ns.files.Refs(5))
}

func TestNamespace_LoadRacingDelete(t *testing.T) {
	for _, b := range backends {
		for _, dir := range []bool{false, true} {
			b, dir := b, dir
			t.Run(fmt.Sprintf("%s/dir=%v", b.name, dir), func(t *testing.T) {
				ctx := context.Background()
				s := newGatedStore(b.open(t), 3)
				defer s.Close()
				ns := newNamespace(t, s)
				defer ns.Close(ctx)
				var err error
				if dir {
					_, err = ns.Mkdir(ctx, 3, "/t", 0)
				} else {
					_, err = ns.CreateFile(ctx, 3, "/t", 0, fileHeader(t), nil)
				}
				require.NoError(t, err)
				ns.forget([]proto.Ino{3})

				errs := make(chan error, 1)
				go func() {
					_, err := ns.GetInode(ctx, 3)
					errs <- err
				}()
				<-s.read
				res, err := ns.Delete(ctx, "/t")
				require.NoError(t, err)
				require.Equal(t, []proto.Ino{3}, res.IDs)
				close(s.gate)

				require.ErrorIs(t, <-errs, apierrors.ErrNotFound)
				require.Equal(t, -1, ns.files.Refs(3))
				require.Equal(t, -1, ns.dirs.Refs(3))
				_, err = ns.Resolve(ctx, "/t")
				require.ErrorIs(t, err, apierrors.ErrNotFound)
			})
		}
	}
}

func TestNamespace_CreateRejectsBadNames(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.Mkdir(ctx, 2, "/a", 0)
		require.NoError(t, err)

		for i, name := range []string{"f/g", "a\x00b", ".", "..", "/", ""} {
			inode := &proto.Inode{ID: proto.Ino(10 + i), ParentPath: "/a", Name: name, Header: fileHeader(t)}
			require.ErrorIs(t, ns.CreateInode(ctx, inode), apierrors.ErrInvalidArgument, "%q", name)
		}
		children, err := ns.ListChildren(ctx, 2, "", 0)
		require.NoError(t, err)
		require.Empty(t, children)

		// dot components are cleaned away, this path names /a itself
		_, err = ns.Mkdir(ctx, 20, "/a/./b/..", 0)
		require.ErrorIs(t, err, apierrors.ErrAlreadyExists)
	})
}

func TestNamespace_WriteBack(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.CreateFile(ctx, 2, "/f", proto.NewPermission(0, 0, 0o644), fileHeader(t), nil)
		require.NoError(t, err)

		require.NoError(t, ns.SetTimes(ctx, 2, 1000, KeepTime))
		require.NoError(t, ns.SetPermission(ctx, 2, 0o600))
		h2, err := proto.NewFileHeader(64<<20, proto.ReplicatedLayout(2), 1)
		require.NoError(t, err)
		require.NoError(t, ns.SetHeader(ctx, 2, h2))

		// readers through the pool see the change at once
		got, err := ns.GetInode(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, int64(1000), got.AccessTime)
		require.Equal(t, uint16(0o600), got.Permission.Mode())
		require.Equal(t, h2, got.Header)

		require.NoError(t, ns.Flush(ctx))
		row, err := ns.Store().GetInode(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, int64(1000), row.AccessTime)
		require.Equal(t, uint16(0o600), row.Permission.Mode())
		require.Equal(t, h2, row.Header)

		require.ErrorIs(t, ns.SetHeader(ctx, proto.RootID, h2), apierrors.ErrInvalidArgument)
		require.ErrorIs(t, ns.SetHeader(ctx, 2, 0), apierrors.ErrInvalidArgument)
		require.ErrorIs(t, ns.SetTimes(ctx, 42, 1, 1), apierrors.ErrNotFound)
	})
}

func TestNamespace_Owner(t *testing.T) {
	ctx := context.Background()
	s := backends[0].open(t)
	defer s.Close()
	ns := newNamespace(t, s)

	perm, err := ns.Permission(ctx, "alice", "staff", 0o750)
	require.NoError(t, err)
	_, err = ns.Mkdir(ctx, 2, "/home", perm)
	require.NoError(t, err)
	require.NoError(t, ns.SetOwner(ctx, 2, "bob", "staff"))

	got, err := ns.GetInode(ctx, 2)
	require.NoError(t, err)
	user, group := ns.Owner(got.Permission)
	require.Equal(t, "bob", user)
	require.Equal(t, "staff", group)
	require.Equal(t, uint16(0o750), got.Permission.Mode())
	require.NoError(t, ns.Close(ctx))

	// names survive a restart
	ns, err = New(ctx, s, Config{})
	require.NoError(t, err)
	defer ns.Close(ctx)
	got, err = ns.GetInode(ctx, 2)
	require.NoError(t, err)
	user, group = ns.Owner(got.Permission)
	require.Equal(t, "bob", user)
	require.Equal(t, "staff", group)
	code, err := ns.strings.code(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, uint32(4), code)
}

func TestNamespace_RenameFlushesFirst(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.Mkdir(ctx, 2, "/a", 0)
		require.NoError(t, err)
		_, err = ns.Mkdir(ctx, 3, "/a/b", 0)
		require.NoError(t, err)
		_, err = ns.CreateFile(ctx, 4, "/a/c", 0, fileHeader(t), nil)
		require.NoError(t, err)
		require.NoError(t, ns.SetTimes(ctx, 4, 777, 888))

		held, err := ns.Acquire(ctx, 3)
		require.NoError(t, err)

		res, err := ns.Rename(ctx, subtree.RenameArgs{RootID: 2, Offset: 100, OldPath: "/a", NewPath: "/x", NewParentID: proto.RootID})
		require.NoError(t, err)
		require.ElementsMatch(t, []proto.Ino{2, 3, 4}, res.IDs)

		row, err := ns.Store().GetInode(ctx, 104)
		require.NoError(t, err)
		require.Equal(t, "/x", row.ParentPath)
		require.Equal(t, int64(777), row.AccessTime)
		require.Equal(t, int64(888), row.ModificationTime)

		for _, id := range []proto.Ino{2, 3, 4} {
			require.Equal(t, -1, ns.dirs.Refs(id))
			require.Equal(t, -1, ns.files.Refs(id))
			_, err = ns.GetInode(ctx, id)
			require.ErrorIs(t, err, apierrors.ErrNotFound)
		}
		_, err = ns.Resolve(ctx, "/a/b")
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		got, err := ns.Resolve(ctx, "/x/b")
		require.NoError(t, err)
		require.Equal(t, proto.Ino(103), got.ID)

		// the stale holder can still release
		ns.Release(held)
		_, err = ns.Rename(ctx, subtree.RenameArgs{OldPath: "/x", NewPath: "/x/y"})
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
	})
}

func TestNamespace_Chmod(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		owner, err := ns.Permission(ctx, "u", "g", 0o777)
		require.NoError(t, err)
		_, err = ns.Mkdir(ctx, 2, "/p", owner)
		require.NoError(t, err)
		_, err = ns.CreateFile(ctx, 3, "/p/f", owner, fileHeader(t), nil)
		require.NoError(t, err)
		_, err = ns.Mkdir(ctx, 4, "/p/q", owner)
		require.NoError(t, err)
		// a pending permission change must not overwrite the subtree chmod
		require.NoError(t, ns.SetPermission(ctx, 3, 0o600))

		for i := 0; i < 2; i++ {
			res, err := ns.Chmod(ctx, "/p", 0o700)
			require.NoError(t, err)
			require.ElementsMatch(t, []proto.Ino{2, 3, 4}, res.IDs)
		}
		require.NoError(t, ns.Flush(ctx))
		for _, id := range []proto.Ino{2, 3, 4} {
			got, err := ns.GetInode(ctx, id)
			require.NoError(t, err)
			require.Equal(t, uint16(0o700), got.Permission.Mode())
			user, group := ns.Owner(got.Permission)
			require.Equal(t, "u", user)
			require.Equal(t, "g", group)
		}
		root, err := ns.GetInode(ctx, proto.RootID)
		require.NoError(t, err)
		require.Equal(t, uint16(0o755), root.Permission.Mode())
	})
}

func TestNamespace_DeleteLeavesNothingPooled(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		ids := []proto.Ino{2, 3, 4, 5, 6}
		_, err := ns.Mkdir(ctx, 2, "/t", 0)
		require.NoError(t, err)
		_, err = ns.Mkdir(ctx, 3, "/t/d", 0)
		require.NoError(t, err)
		_, err = ns.CreateFile(ctx, 4, "/t/d/f", 0, fileHeader(t), &proto.UnderConstruction{ClientName: "c1"})
		require.NoError(t, err)
		_, err = ns.CreateFile(ctx, 5, "/t/g", 0, fileHeader(t), nil)
		require.NoError(t, err)
		_, err = ns.Mkdir(ctx, 6, "/tt", 0)
		require.NoError(t, err)
		_, err = ns.AppendBlock(ctx, 4, &proto.Block{ID: 900, NumBytes: 1})
		require.NoError(t, err)
		for _, id := range ids {
			_, err = ns.GetInode(ctx, id)
			require.NoError(t, err)
		}
		require.NoError(t, ns.SetTimes(ctx, 5, 1, 1))

		res, err := ns.Delete(ctx, "/t")
		require.NoError(t, err)
		require.ElementsMatch(t, []proto.Ino{2, 3, 4, 5}, res.IDs)

		for _, id := range res.IDs {
			require.Equal(t, -1, ns.dirs.Refs(id))
			require.Equal(t, -1, ns.files.Refs(id))
			_, err = ns.Store().GetInode(ctx, id)
			require.ErrorIs(t, err, apierrors.ErrNotFound)
		}
		_, err = ns.Store().GetUnderConstruction(ctx, 4)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		_, err = ns.Store().GetBlockOwner(ctx, 900)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		got, err := ns.Resolve(ctx, "/tt")
		require.NoError(t, err)
		require.Equal(t, proto.Ino(6), got.ID)

		require.NoError(t, ns.Flush(ctx))
		_, err = ns.Delete(ctx, "/")
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
		_, err = ns.Delete(ctx, "/t")
		require.ErrorIs(t, err, apierrors.ErrNotFound)
	})
}

func TestNamespace_Construction(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.CreateFile(ctx, 2, "/f", 0, fileHeader(t), &proto.UnderConstruction{ClientName: "c1", ClientMachine: "m1"})
		require.NoError(t, err)

		uc, err := ns.GetClient(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, "c1", uc.ClientName)

		require.NoError(t, ns.SetClient(ctx, 2, &proto.UnderConstruction{ClientName: "c2", ClientMachine: "m2"}))
		uc, err = ns.GetClient(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, "c2", uc.ClientName)
		require.NoError(t, ns.Flush(ctx))
		uc, err = ns.Store().GetUnderConstruction(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, "c2", uc.ClientName)
		require.Equal(t, "m2", uc.ClientMachine)

		require.NoError(t, ns.CompleteConstruction(ctx, 2))
		require.NoError(t, ns.Flush(ctx))
		_, err = ns.Store().GetUnderConstruction(ctx, 2)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		_, err = ns.GetClient(ctx, 2)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		require.ErrorIs(t, ns.SetClient(ctx, 2, &proto.UnderConstruction{ClientName: "c3"}), apierrors.ErrNotFound)

		require.ErrorIs(t, ns.StartConstruction(ctx, proto.RootID, &proto.UnderConstruction{}), apierrors.ErrInvalidArgument)
	})
}

func TestNamespace_Blocks(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.CreateFile(ctx, 2, "/f", 0, fileHeader(t), nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			idx, err := ns.AppendBlock(ctx, 2, &proto.Block{ID: proto.BlockID(100 + i), NumBytes: int64(i + 1), Locations: []string{"dn1"}})
			require.NoError(t, err)
			require.Equal(t, i, idx)
		}
		blocks, err := ns.GetBlocks(ctx, 2)
		require.NoError(t, err)
		require.Len(t, blocks, 3)
		require.Equal(t, proto.BlockID(101), blocks[1].ID)
		require.Equal(t, []string{"dn1"}, blocks[1].Locations)

		removed, err := ns.TruncateBlocks(ctx, 2, 1)
		require.NoError(t, err)
		require.ElementsMatch(t, []proto.BlockID{101, 102}, removed)
		_, err = ns.Store().GetBlock(ctx, 102)
		require.ErrorIs(t, err, apierrors.ErrNotFound)
		blocks, err = ns.GetBlocks(ctx, 2)
		require.NoError(t, err)
		require.Len(t, blocks, 1)

		_, err = ns.AppendBlock(ctx, proto.RootID, &proto.Block{ID: 1})
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
		_, err = ns.TruncateBlocks(ctx, 2, -1)
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
	})
}

func TestNamespace_XAttrs(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.Mkdir(ctx, 2, "/x", 0)
		require.NoError(t, err)

		require.NoError(t, ns.SetXAttrs(ctx, 2, []proto.XAttr{
			{Namespace: proto.XAttrUser, Name: "a", Value: []byte("1")},
			{Namespace: proto.XAttrTrusted, Name: "b", Value: []byte("2")},
		}))
		require.NoError(t, ns.SetXAttrs(ctx, 2, []proto.XAttr{{Namespace: proto.XAttrUser, Name: "a", Value: []byte("3")}}))
		attrs, err := ns.GetXAttrs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, attrs, 2)
		require.Equal(t, []byte("3"), attrs[0].Value)

		require.NoError(t, ns.RemoveXAttrs(ctx, 2, []proto.XAttr{{Namespace: proto.XAttrTrusted, Name: "b"}}))
		attrs, err = ns.GetXAttrs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, attrs, 1)

		require.ErrorIs(t, ns.SetXAttrs(ctx, 2, []proto.XAttr{{Name: ""}}), apierrors.ErrInvalidArgument)
		require.ErrorIs(t, ns.SetXAttrs(ctx, 77, nil), apierrors.ErrNotFound)
	})
}

func TestNamespace_ListChildren(t *testing.T) {
	eachBackend(t, func(t *testing.T, ns *Namespace) {
		ctx := context.Background()
		_, err := ns.Mkdir(ctx, 2, "/d", 0)
		require.NoError(t, err)
		for i, name := range []string{"c", "a", "b"} {
			_, err = ns.CreateFile(ctx, proto.Ino(10+i), "/d/"+name, 0, fileHeader(t), nil)
			require.NoError(t, err)
		}
		require.NoError(t, ns.SetTimes(ctx, 11, 5, 5))

		children, err := ns.ListChildren(ctx, 2, "", 0)
		require.NoError(t, err)
		require.Len(t, children, 3)
		require.Equal(t, "a", children[0].Name)
		// the pooled value is reported before it is flushed
		require.Equal(t, int64(5), children[0].AccessTime)

		children, err = ns.ListChildren(ctx, 2, "a", 1)
		require.NoError(t, err)
		require.Len(t, children, 1)
		require.Equal(t, "b", children[0].Name)

		_, err = ns.ListChildren(ctx, 10, "", 0)
		require.ErrorIs(t, err, apierrors.ErrNotDirectory)

		// creating entries touched the directory
		dir, err := ns.GetInode(ctx, 2)
		require.NoError(t, err)
		require.NotZero(t, dir.ModificationTime)
	})
}

func TestNamespace_CloseFlushes(t *testing.T) {
	ctx := context.Background()
	s := backends[0].open(t)
	defer s.Close()
	ns := newNamespace(t, s)
	_, err := ns.Mkdir(ctx, 2, "/d", 0)
	require.NoError(t, err)
	require.NoError(t, ns.SetTimes(ctx, 2, 4242, KeepTime))
	require.NoError(t, ns.Close(ctx))

	row, err := s.GetInode(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(4242), row.AccessTime)
}
