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

// Package subtree rewrites whole subtrees of a path-keyed store. Every
// operation writes new rows before it removes old ones, so an interrupted
// operation leaves duplicated rows behind, never missing ones.
package subtree

import (
	"context"
	"errors"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/metrics"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
)

const (
	opRename = "rename"
	opChmod  = "chmod"
	opDelete = "delete"
)

type Config struct {
	// Retry bounds the retries of steps that are safe to repeat.
	Retry store.RetryConfig `json:"retry"`
}

// RenameArgs moves the subtree rooted at OldPath to NewPath. Offset is
// added to every id of the subtree and is chosen by the caller; zero
// keeps ids unchanged.
type RenameArgs struct {
	// RootID, when set, must match the row at OldPath.
	RootID      proto.Ino `json:"root_id"`
	Offset      uint64    `json:"offset"`
	OldPath     string    `json:"old_path"`
	NewPath     string    `json:"new_path"`
	NewParentID proto.Ino `json:"new_parent_id"`
}

// Moved records one rewritten row.
type Moved struct {
	OldID   proto.Ino
	NewID   proto.Ino
	OldPath string
	NewPath string
}

type Result struct {
	Marker proto.Marker
	// IDs lists every affected id as it was before the operation.
	IDs   []proto.Ino
	Moved []Moved
}

type Protocol struct {
	store store.Store
	cfg   Config
}

func New(s store.Store, cfg Config) *Protocol {
	return &Protocol{store: s, cfg: cfg}
}

func observe(op string, start time.Time, rows int, err error) {
	metrics.SubtreeDuration.WithLabelValues(op, metrics.Result(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.SubtreeRows.WithLabelValues(op).Observe(float64(rows))
	}
}

func cleanPath(p string) (string, error) {
	cleaned, ok := proto.Clean(p)
	if !ok {
		return "", apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+p)
	}
	return cleaned, nil
}

// Rename runs in two transactions. The first writes the rewritten rows and
// copies side records; the second removes the old rows and is retried on
// StoreUnavailable since deleting the old keys again is harmless.
func (p *Protocol) Rename(ctx context.Context, args RenameArgs) (res *Result, err error) {
	span, ctx := trace.StartSpanFromContext(ctx, "subtree-rename")
	defer span.Finish()
	start := time.Now()
	defer func() {
		rows := 0
		if res != nil {
			rows = len(res.IDs)
		}
		observe(opRename, start, rows, err)
	}()

	if args.OldPath, err = cleanPath(args.OldPath); err != nil {
		return nil, err
	}
	if args.NewPath, err = cleanPath(args.NewPath); err != nil {
		return nil, err
	}
	if args.OldPath == "/" || args.NewPath == "/" {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "cannot rename the root")
	}
	if args.OldPath == args.NewPath && args.Offset == 0 {
		marker, err := p.store.Marker(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Marker: marker}, nil
	}
	if proto.IsUnder(args.NewPath, args.OldPath) {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil,
			"cannot move "+args.OldPath+" into its own subtree "+args.NewPath)
	}

	var plan *renamePlan
	err = store.Retry(ctx, p.cfg.Retry, "rename insert phase", func() error {
		var err error
		plan, err = p.insertPhase(ctx, args)
		return err
	})
	if err != nil {
		span.Warnf("rename %s -> %s aborted before delete phase: %s", args.OldPath, args.NewPath, err)
		return nil, err
	}

	attempt := 0
	var marker proto.Marker
	err = store.Retry(ctx, p.cfg.Retry, "rename delete phase", func() error {
		attempt++
		var err error
		marker, err = p.deletePhase(ctx, args, plan, attempt > 1)
		return err
	})
	if err != nil {
		span.Errorf("rename %s -> %s left old rows behind: %s", args.OldPath, args.NewPath, err)
		return nil, err
	}

	res = &Result{Marker: marker, IDs: make([]proto.Ino, len(plan.old)), Moved: make([]Moved, len(plan.old))}
	for i, row := range plan.old {
		res.IDs[i] = row.ID
		res.Moved[i] = Moved{OldID: row.ID, NewID: plan.rewritten[i].ID, OldPath: row.Path(), NewPath: plan.rewritten[i].Path()}
	}
	span.Debugf("renamed %s -> %s, %d rows, marker %d", args.OldPath, args.NewPath, len(plan.old), marker)
	return res, nil
}

type renamePlan struct {
	old       []*proto.Inode
	rewritten []*proto.Inode
}

func (p *Protocol) insertPhase(ctx context.Context, args RenameArgs) (plan *renamePlan, err error) {
	txn, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			txn.Rollback()
		}
	}()

	root, err := txn.Get(ctx, proto.KeyOf(args.OldPath))
	if err != nil {
		return nil, err
	}
	if args.RootID != 0 && root.ID != args.RootID {
		return nil, apierrors.Wrapf(apierrors.ErrConflict, nil, "row at "+args.OldPath+" is "+root.String())
	}

	newParentPath, newName := proto.Split(args.NewPath)
	parent, err := txn.Get(ctx, proto.KeyOf(newParentPath))
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, apierrors.Wrapf(apierrors.ErrNotDirectory, nil, newParentPath)
	}
	if args.NewParentID == 0 {
		args.NewParentID = parent.ID
	}

	dest, err := txn.Get(ctx, proto.KeyOf(args.NewPath))
	switch {
	case err == nil:
		// a previous attempt committed its insert phase
		if dest.ID != root.ID+args.Offset {
			return nil, apierrors.Wrapf(apierrors.ErrAlreadyExists, nil, args.NewPath)
		}
	case !errors.Is(err, apierrors.ErrNotFound):
		return nil, err
	}

	plan = &renamePlan{old: []*proto.Inode{root}}
	if root.IsDir() {
		descendants, err := txn.ScanPrefix(ctx, args.OldPath)
		if err != nil {
			return nil, err
		}
		plan.old = append(plan.old, descendants...)
	}

	plan.rewritten = make([]*proto.Inode, len(plan.old))
	ids := make([]proto.Ino, len(plan.old))
	for i, row := range plan.old {
		n := row.Clone()
		n.ID += args.Offset
		if i == 0 {
			n.ParentPath, n.Name, n.ParentID = newParentPath, newName, args.NewParentID
		} else {
			n.ParentID += args.Offset
			n.ParentPath = proto.Rebase(row.ParentPath, args.OldPath, args.NewPath)
		}
		plan.rewritten[i] = n
		ids[i] = row.ID
	}

	if err = txn.BatchInsert(ctx, plan.rewritten); err != nil {
		return nil, err
	}
	if err = txn.CopySideRecords(ctx, ids, args.Offset); err != nil {
		return nil, err
	}
	_, err = txn.Commit(ctx)
	return plan, err
}

// deletePhase removes the pre-rename rows. Rows found under the old path
// that the insert phase did not copy mean a concurrent writer raced the
// rename and are reported instead of dropped.
func (p *Protocol) deletePhase(ctx context.Context, args RenameArgs, plan *renamePlan, retried bool) (marker proto.Marker, err error) {
	txn, err := p.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			txn.Rollback()
		}
	}()

	expected := make(map[proto.NaturalKey]proto.Ino, len(plan.old))
	keys := make([]proto.NaturalKey, len(plan.old))
	ids := make([]proto.Ino, len(plan.old))
	for i, row := range plan.old {
		expected[row.Key()] = row.ID
		keys[i] = row.Key()
		ids[i] = row.ID
	}
	remaining, err := txn.ScanPrefix(ctx, args.OldPath)
	if err != nil {
		return 0, err
	}
	for _, row := range remaining {
		if id, ok := expected[row.Key()]; !ok || id != row.ID {
			return 0, apierrors.Wrapf(apierrors.ErrInconsistent, nil, "unexpected row "+row.String()+" under "+args.OldPath)
		}
	}

	n, err := txn.BatchDelete(ctx, keys)
	if err != nil {
		return 0, err
	}
	// a retry may follow an attempt whose commit landed without an ack
	if n != len(keys) && !retried {
		return 0, apierrors.Wrapf(apierrors.ErrInconsistent, nil,
			"delete phase of "+args.OldPath+" removed a different number of rows than were copied")
	}
	if args.Offset != 0 {
		if err = txn.PurgeSideRecords(ctx, ids); err != nil {
			return 0, err
		}
	}
	return txn.Commit(ctx)
}

// Chmod replaces the mode bits of the row at path and of every row below
// it in one transaction. User and group codes are kept.
func (p *Protocol) Chmod(ctx context.Context, path string, mode uint16) (res *Result, err error) {
	span, ctx := trace.StartSpanFromContext(ctx, "subtree-chmod")
	defer span.Finish()
	start := time.Now()
	defer func() {
		rows := 0
		if res != nil {
			rows = len(res.IDs)
		}
		observe(opChmod, start, rows, err)
	}()

	if path, err = cleanPath(path); err != nil {
		return nil, err
	}
	err = store.Retry(ctx, p.cfg.Retry, "chmod", func() error {
		res, err = p.chmod(ctx, path, mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.Debugf("chmod %s to %o, %d rows", path, mode, len(res.IDs))
	return res, nil
}

func (p *Protocol) chmod(ctx context.Context, path string, mode uint16) (res *Result, err error) {
	txn, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			txn.Rollback()
		}
	}()

	root, err := txn.Get(ctx, proto.KeyOf(path))
	if err != nil {
		return nil, err
	}
	rows := []*proto.Inode{root}
	if root.IsDir() {
		descendants, err := txn.ScanPrefix(ctx, path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, descendants...)
	}

	res = &Result{IDs: make([]proto.Ino, 0, len(rows))}
	changed := make([]*proto.Inode, 0, len(rows))
	for _, row := range rows {
		res.IDs = append(res.IDs, row.ID)
		if row.Permission.Mode() == mode {
			continue
		}
		n := row.Clone()
		n.Permission = n.Permission.WithMode(mode)
		changed = append(changed, n)
	}
	if err = txn.BatchInsert(ctx, changed); err != nil {
		return nil, err
	}
	if res.Marker, err = txn.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// Delete removes the row at path and everything below it.
func (p *Protocol) Delete(ctx context.Context, path string) (res *Result, err error) {
	if path, err = cleanPath(path); err != nil {
		return nil, err
	}
	if path == "/" {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "cannot delete the root")
	}
	root, err := p.store.Lookup(ctx, proto.KeyOf(path))
	if err != nil {
		return nil, err
	}
	return p.DeleteByID(ctx, root.ID)
}

// DeleteByID removes id and every row reachable from it through parent
// edges, using the backend's recursive strategy when it has one.
func (p *Protocol) DeleteByID(ctx context.Context, id proto.Ino) (res *Result, err error) {
	span, ctx := trace.StartSpanFromContext(ctx, "subtree-delete")
	defer span.Finish()
	start := time.Now()
	defer func() {
		rows := 0
		if res != nil {
			rows = len(res.IDs)
		}
		observe(opDelete, start, rows, err)
	}()

	if id == proto.RootID {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "cannot delete the root")
	}
	res = &Result{}
	err = store.Retry(ctx, p.cfg.Retry, "recursive delete", func() error {
		var err error
		res.IDs, res.Marker, err = store.DeleteRecursive(ctx, p.store, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.Debugf("deleted %d rows from %d", len(res.IDs), id)
	return res, nil
}
