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

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/namespacedb/proto"
)

// DeleteRecursive removes the row id and everything reachable from it
// through parent edges, and returns the removed ids. Backends that
// implement RecursiveDeleter run their single-query strategy, the rest are
// walked breadth first.
func DeleteRecursive(ctx context.Context, s Store, id proto.Ino) ([]proto.Ino, proto.Marker, error) {
	if d, ok := s.(RecursiveDeleter); ok {
		return d.DeleteRecursive(ctx, id)
	}
	return DeleteBFS(ctx, s, id)
}

// DeleteBFS collects the subtree level by level inside one transaction and
// deletes it with a single batch.
func DeleteBFS(ctx context.Context, s Store, id proto.Ino) (ids []proto.Ino, marker proto.Marker, err error) {
	span, ctx := trace.StartSpanFromContext(ctx, "delete-bfs")
	defer span.Finish()

	txn, err := s.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err != nil {
			txn.Rollback()
		}
	}()

	root, err := txn.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	processed := []*proto.Inode{root}
	for i := 0; i < len(processed); i++ {
		node := processed[i]
		if !node.IsDir() {
			continue
		}
		children, err := txn.ScanChildren(ctx, node.Path())
		if err != nil {
			span.Warnf("scan children of %s failed: %s", node.Path(), err)
			return nil, 0, err
		}
		processed = append(processed, children...)
	}

	keys := make([]proto.NaturalKey, len(processed))
	ids = make([]proto.Ino, len(processed))
	for i, node := range processed {
		keys[i] = node.Key()
		ids[i] = node.ID
	}
	if _, err = txn.BatchDelete(ctx, keys); err != nil {
		return nil, 0, err
	}
	if err = txn.PurgeSideRecords(ctx, ids); err != nil {
		return nil, 0, err
	}
	if marker, err = txn.Commit(ctx); err != nil {
		return nil, 0, err
	}
	span.Debugf("deleted %d rows under %s", len(ids), root.Path())
	return ids, marker, nil
}
