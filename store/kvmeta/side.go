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
	"context"
	"errors"
	"fmt"

	"github.com/cubefs/namespacedb/common/kvstore"
	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/util"
)

func (s *Store) PutUnderConstruction(ctx context.Context, id proto.Ino, uc *proto.UnderConstruction) error {
	return s.update(ctx, func(w *writer) error {
		w.ws.put(ucCF, encodeIno(id), uc.Marshal())
		return nil
	})
}

func (s *Store) GetUnderConstruction(ctx context.Context, id proto.Ino) (uc *proto.UnderConstruction, err error) {
	err = s.withSession(ctx, func(sess *session) error {
		raw, err := s.get(ctx, sess, ucCF, encodeIno(id))
		if err != nil {
			return err
		}
		uc = &proto.UnderConstruction{}
		return uc.Unmarshal(raw)
	})
	return
}

func (s *Store) DeleteUnderConstruction(ctx context.Context, id proto.Ino) error {
	return s.update(ctx, func(w *writer) error {
		w.ws.del(ucCF, encodeIno(id))
		return nil
	})
}

func (w *writer) getXAttrs(ctx context.Context, id proto.Ino) ([]proto.XAttr, error) {
	raw, err := w.get(ctx, xattrCF, encodeIno(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return proto.UnmarshalXAttrs(raw)
}

func (w *writer) putXAttrs(id proto.Ino, attrs []proto.XAttr) {
	if len(attrs) == 0 {
		w.ws.del(xattrCF, encodeIno(id))
		return
	}
	w.ws.put(xattrCF, encodeIno(id), proto.MarshalXAttrs(attrs))
}

func (s *Store) PutXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error {
	if len(attrs) == 0 {
		return nil
	}
	return s.update(ctx, func(w *writer) error {
		current, err := w.getXAttrs(ctx, id)
		if err != nil {
			return err
		}
	next:
		for _, attr := range attrs {
			for i := range current {
				if current[i].Namespace == attr.Namespace && current[i].Name == attr.Name {
					current[i].Value = attr.Value
					continue next
				}
			}
			current = append(current, attr)
		}
		w.putXAttrs(id, current)
		return nil
	})
}

func (s *Store) GetXAttrs(ctx context.Context, id proto.Ino) (attrs []proto.XAttr, err error) {
	err = s.read(ctx, func(w *writer) error {
		attrs, err = w.getXAttrs(ctx, id)
		return err
	})
	return
}

func (s *Store) DeleteXAttrs(ctx context.Context, id proto.Ino, attrs []proto.XAttr) error {
	return s.update(ctx, func(w *writer) error {
		if len(attrs) == 0 {
			w.putXAttrs(id, nil)
			return nil
		}
		current, err := w.getXAttrs(ctx, id)
		if err != nil {
			return err
		}
		kept := current[:0]
		for _, attr := range current {
			drop := false
			for _, d := range attrs {
				if d.Namespace == attr.Namespace && d.Name == attr.Name {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, attr)
			}
		}
		w.putXAttrs(id, kept)
		return nil
	})
}

func (s *Store) PutBlock(ctx context.Context, blk *proto.Block) error {
	return s.update(ctx, func(w *writer) error {
		w.ws.put(blockCF, encodeIno(blk.ID), blk.Marshal())
		return nil
	})
}

func (s *Store) GetBlock(ctx context.Context, id proto.BlockID) (blk *proto.Block, err error) {
	err = s.withSession(ctx, func(sess *session) error {
		raw, err := s.get(ctx, sess, blockCF, encodeIno(id))
		if err != nil {
			return err
		}
		blk = &proto.Block{}
		return blk.Unmarshal(raw)
	})
	return
}

func (s *Store) DeleteBlocks(ctx context.Context, ids []proto.BlockID) error {
	return s.update(ctx, func(w *writer) error {
		for _, id := range ids {
			w.ws.del(blockCF, encodeIno(id))
		}
		return nil
	})
}

func (s *Store) AppendBlocks(ctx context.Context, ino proto.Ino, ids []proto.BlockID) (first int, err error) {
	err = s.update(ctx, func(w *writer) error {
		links, err := w.list(ctx, linkCF, encodeIno(ino))
		if err != nil {
			return err
		}
		if n := len(links); n > 0 {
			_, last := decodeLinkKey(links[n-1].key)
			first = last + 1
		}
		for i, id := range ids {
			w.ws.put(linkCF, encodeLinkKey(ino, first+i), encodeIno(id))
			w.ws.put(ownerCF, encodeIno(id), encodeIno(ino))
		}
		return nil
	})
	return
}

func (s *Store) ListBlockIDs(ctx context.Context, ino proto.Ino) (ids []proto.BlockID, err error) {
	err = s.withSession(ctx, func(sess *session) error {
		return s.list(ctx, sess.ro, linkCF, encodeIno(ino), nil, func(key, value []byte) (bool, error) {
			ids = append(ids, decodeIno(value))
			return true, nil
		})
	})
	return
}

// TruncateBlocks keeps the first keep links of ino. The tail is removed
// with one range delete.
func (s *Store) TruncateBlocks(ctx context.Context, ino proto.Ino, keep int) (removed []proto.BlockID, err error) {
	if keep < 0 {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "negative block count")
	}
	start := encodeLinkKey(ino, keep)
	err = s.withWrite(ctx, func(sess *session) error {
		w := s.newWriter(sess)
		err := s.list(ctx, sess.ro, linkCF, encodeIno(ino), start, func(key, value []byte) (bool, error) {
			id := decodeIno(value)
			removed = append(removed, id)
			owner, err := s.get(ctx, sess, ownerCF, value)
			if err == nil && decodeIno(owner) == ino {
				w.ws.del(ownerCF, value)
			} else if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
				return false, err
			}
			return true, nil
		})
		if err != nil || len(removed) == 0 {
			return err
		}
		return w.flush(ctx, func(batch kvstore.WriteBatch) {
			batch.DeleteRange(linkCF, start, kvstore.PrefixEnd(encodeIno(ino)))
		})
	})
	return
}

func (s *Store) GetBlockOwner(ctx context.Context, id proto.BlockID) (owner proto.Ino, err error) {
	err = s.withSession(ctx, func(sess *session) error {
		raw, err := s.get(ctx, sess, ownerCF, encodeIno(id))
		if err != nil {
			return err
		}
		owner = decodeIno(raw)
		return nil
	})
	return
}

// PutStrings records code assignments in both directions. Reassigning a
// code to another string is refused.
func (s *Store) PutStrings(ctx context.Context, entries map[string]uint32) error {
	return s.update(ctx, func(w *writer) error {
		for str, code := range entries {
			existing, err := w.get(ctx, codeCF, encodeCode(code))
			switch {
			case err == nil:
				if util.BytesToString(existing) != str {
					return apierrors.Wrapf(apierrors.ErrAlreadyExists, nil, "string code taken by "+string(existing))
				}
				continue
			case !errors.Is(err, kvstore.ErrNotFound):
				return err
			}
			assigned, err := w.get(ctx, stringCF, []byte(str))
			switch {
			case err == nil:
				return apierrors.Wrapf(apierrors.ErrAlreadyExists, nil, fmt.Sprintf("string %q has code %d", str, decodeCode(assigned)))
			case !errors.Is(err, kvstore.ErrNotFound):
				return err
			}
			w.ws.put(codeCF, encodeCode(code), []byte(str))
			w.ws.put(stringCF, []byte(str), encodeCode(code))
		}
		return nil
	})
}

func (s *Store) LoadStrings(ctx context.Context) (entries map[string]uint32, err error) {
	entries = make(map[string]uint32)
	err = s.withSession(ctx, func(sess *session) error {
		return s.list(ctx, sess.ro, codeCF, nil, nil, func(key, value []byte) (bool, error) {
			entries[string(value)] = decodeCode(key)
			return true, nil
		})
	})
	return
}
