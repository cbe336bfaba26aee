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
	"bytes"
	"context"
	"errors"

	"github.com/cubefs/namespacedb/common/kvstore"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
)

// read runs fn with a writer that never flushes, so lookups share the
// id-index checks of the write path.
func (s *Store) read(ctx context.Context, fn func(w *writer) error) error {
	return s.withSession(ctx, func(sess *session) error {
		return fn(s.newWriter(sess))
	})
}

func (s *Store) GetInode(ctx context.Context, id proto.Ino) (inode *proto.Inode, err error) {
	err = s.read(ctx, func(w *writer) error {
		inode, err = w.getByID(ctx, id)
		return err
	})
	return
}

func (s *Store) Lookup(ctx context.Context, key proto.NaturalKey) (inode *proto.Inode, err error) {
	err = s.read(ctx, func(w *writer) error {
		inode, err = w.getByKey(ctx, key)
		return err
	})
	return
}

func (s *Store) GetAttribute(ctx context.Context, id proto.Ino, field proto.Field) (proto.Value, error) {
	if !field.Valid() {
		return proto.Value{}, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, field.String())
	}
	inode, err := s.GetInode(ctx, id)
	if err != nil {
		return proto.Value{}, err
	}
	return inode.Get(field)
}

func (s *Store) SetAttributes(ctx context.Context, id proto.Ino, updates ...proto.Update) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if !u.Field.Valid() || u.Field.Structural() || u.Field.Kind() != u.Value.Kind() {
			return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, u.String())
		}
	}
	return s.update(ctx, func(w *writer) error {
		inode, err := w.getByID(ctx, id)
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := inode.Apply(u); err != nil {
				return apierrors.Wrap(apierrors.ErrInvalidArgument, err)
			}
		}
		w.ws.put(inodeCF, encodeRowKey(inode.Key()), inode.Marshal())
		return nil
	})
}

func (s *Store) InsertInode(ctx context.Context, inode *proto.Inode) error {
	if !inode.ValidKey() {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "bad key "+inode.Key().String())
	}
	return s.update(ctx, func(w *writer) error {
		_, err := w.getByID(ctx, inode.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kvstore.ErrNotFound) {
			return err
		}
		_, err = w.getByKey(ctx, inode.Key())
		if err == nil {
			return apierrors.Wrapf(apierrors.ErrAlreadyExists, nil, inode.Path())
		}
		if !errors.Is(err, kvstore.ErrNotFound) {
			return err
		}
		w.putInode(inode)
		return nil
	})
}

func (s *Store) DeleteByID(ctx context.Context, id proto.Ino) error {
	return s.update(ctx, func(w *writer) error {
		inode, err := w.getByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := w.deleteInode(ctx, inode.Key()); err != nil {
			return err
		}
		return w.purgeSideRecords(ctx, id)
	})
}

func (s *Store) ListChildren(ctx context.Context, parentPath string, marker string, limit int) (children []*proto.Inode, err error) {
	prefix := childrenPrefix(parentPath)
	var start []byte
	if marker != "" {
		start = encodeRowKey(proto.NaturalKey{ParentPath: parentPath, Name: marker})
	}
	err = s.withSession(ctx, func(sess *session) error {
		return s.list(ctx, sess.ro, inodeCF, prefix, start, func(key, value []byte) (bool, error) {
			if start != nil && bytes.Equal(key, start) {
				return true, nil
			}
			inode, err := decodeInode(value)
			if err != nil {
				return false, err
			}
			children = append(children, inode)
			return limit <= 0 || len(children) < limit, nil
		})
	})
	return
}
