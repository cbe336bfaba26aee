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

// Package mount maps client paths to the namespace backend that owns them.
package mount

import (
	"context"
	"sort"
	"strings"
	"sync"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/namespace"
	"github.com/cubefs/namespacedb/proto"
)

// Handle is a resolved backend together with the path inside it.
type Handle struct {
	Mount     string
	Path      string
	Namespace *namespace.Namespace
}

// Resolver routes a client path to a backend. Routing policy lives outside
// this module; the namespace only consumes resolved handles.
type Resolver interface {
	Resolve(ctx context.Context, path string) (*Handle, error)
}

type entry struct {
	mount string
	ns    *namespace.Namespace
}

// Static is a fixed mount table matched by longest mount point.
type Static struct {
	mu      sync.RWMutex
	entries []entry
}

// NewStatic returns a table with ns mounted at "/".
func NewStatic(ns *namespace.Namespace) *Static {
	s := &Static{}
	if ns != nil {
		s.entries = []entry{{mount: "/", ns: ns}}
	}
	return s
}

func (s *Static) Mount(mount string, ns *namespace.Namespace) error {
	cleaned, ok := proto.Clean(mount)
	if !ok {
		return apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "mount point must be absolute: "+mount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.mount == cleaned {
			return apierrors.Wrapf(apierrors.ErrAlreadyExists, nil, "mount point "+cleaned)
		}
	}
	s.entries = append(s.entries, entry{mount: cleaned, ns: ns})
	sort.Slice(s.entries, func(i, j int) bool {
		return len(s.entries[i].mount) > len(s.entries[j].mount)
	})
	return nil
}

func (s *Static) Mounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mounts := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		mounts = append(mounts, e.mount)
	}
	return mounts
}

func (s *Static) Resolve(ctx context.Context, path string) (*Handle, error) {
	cleaned, ok := proto.Clean(path)
	if !ok {
		return nil, apierrors.Wrapf(apierrors.ErrInvalidArgument, nil, "path must be absolute: "+path)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if !proto.IsUnder(cleaned, e.mount) {
			continue
		}
		rel := cleaned
		if e.mount != "/" {
			rel = "/" + strings.TrimPrefix(cleaned[len(e.mount):], "/")
		}
		return &Handle{Mount: e.mount, Path: rel, Namespace: e.ns}, nil
	}
	return nil, apierrors.Wrapf(apierrors.ErrNotFound, nil, "no mount point for "+cleaned)
}
