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

package server

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/namespacedb/common/sessionpool"
	"github.com/cubefs/namespacedb/mount"
	"github.com/cubefs/namespacedb/namespace"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/store"
	"github.com/cubefs/namespacedb/store/kvmeta"
	"github.com/cubefs/namespacedb/store/sqlstore"
)

type sessionStater interface {
	SessionStats() sessionpool.Stats
}

type Server struct {
	cfg      *Config
	store    store.Store
	ns       *namespace.Namespace
	resolver *mount.Static
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	span := trace.SpanFromContextSafe(ctx)
	if err := cfg.fillDefault(); err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, errors.Info(err, "open", cfg.Backend, "backend")
	}
	ns, err := namespace.New(ctx, s, cfg.Namespace)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err = ns.InitRoot(ctx, proto.NewPermission(0, 0, cfg.RootMode)); err != nil {
		ns.Close(ctx)
		s.Close()
		return nil, errors.Info(err, "init root")
	}

	resolver := mount.NewStatic(ns)
	for _, m := range cfg.Mounts {
		if err = resolver.Mount(m, ns); err != nil {
			ns.Close(ctx)
			s.Close()
			return nil, err
		}
	}
	span.Infof("server started with %s backend, mounts %v", s.Kind(), resolver.Mounts())
	return &Server{cfg: cfg, store: s, ns: ns, resolver: resolver}, nil
}

func openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch store.Kind(cfg.Backend) {
	case store.KindSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, err
		}
		return sqlstore.New(ctx, &cfg.SQLite)
	case store.KindRocksdb:
		if err := os.MkdirAll(cfg.KV.Path, 0o755); err != nil {
			return nil, err
		}
		return kvmeta.New(ctx, &cfg.KV)
	default:
		return kvmeta.New(ctx, &cfg.KV)
	}
}

func (s *Server) Namespace() *namespace.Namespace {
	return s.ns
}

func (s *Server) Resolver() mount.Resolver {
	return s.resolver
}

func (s *Server) Close(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	if err := s.ns.Close(ctx); err != nil {
		span.Errorf("close namespace: %s", errors.Detail(err))
	}
	return s.store.Close()
}
