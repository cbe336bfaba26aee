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
	"errors"
	"sync"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/store"
)

// maxStringCode is the largest code that fits the user and group fields of
// a permission.
const maxStringCode = 1<<24 - 1

// stringTable interns user and group names. Code 0 is the empty name.
type stringTable struct {
	store store.StringStore

	mu    sync.RWMutex
	codes map[string]uint32
	names map[uint32]string
	next  uint32
}

func newStringTable(s store.StringStore) *stringTable {
	return &stringTable{
		store: s,
		codes: map[string]uint32{"": 0},
		names: map[uint32]string{0: ""},
		next:  1,
	}
}

func (t *stringTable) load(ctx context.Context) error {
	entries, err := t.store.LoadStrings(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.merge(entries)
	t.mu.Unlock()
	return nil
}

func (t *stringTable) merge(entries map[string]uint32) {
	for name, code := range entries {
		t.codes[name] = code
		t.names[code] = name
		if code >= t.next {
			t.next = code + 1
		}
	}
}

func (t *stringTable) name(code uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.names[code]
	return name, ok
}

// code returns the code of name, persisting a new one on first use.
func (t *stringTable) code(ctx context.Context, name string) (uint32, error) {
	t.mu.RLock()
	code, ok := t.codes[name]
	t.mu.RUnlock()
	if ok {
		return code, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		if code, ok := t.codes[name]; ok {
			return code, nil
		}
		if t.next > maxStringCode {
			return 0, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "string table full")
		}
		code = t.next
		err := t.store.PutStrings(ctx, map[string]uint32{name: code})
		if err == nil {
			t.codes[name] = code
			t.names[code] = name
			t.next++
			return code, nil
		}
		if !errors.Is(err, apierrors.ErrAlreadyExists) {
			return 0, err
		}
		// another process took the code or the name, reload and retry
		entries, err := t.store.LoadStrings(ctx)
		if err != nil {
			return 0, err
		}
		t.merge(entries)
	}
	return 0, apierrors.Wrapf(apierrors.ErrConflict, nil, "intern "+name)
}
