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
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/cubefs/namespacedb/common/kvstore"
	"github.com/cubefs/namespacedb/namespace"
	"github.com/cubefs/namespacedb/store"
	"github.com/cubefs/namespacedb/store/kvmeta"
	"github.com/cubefs/namespacedb/store/sqlstore"
	"github.com/cubefs/namespacedb/util"
)

const (
	EnvDatabase      = "DATABASE"
	EnvMaxConnection = "MAXCONNECTION"
	EnvEtcdEndpoints = "ETCD_ENDPOINTS"

	defaultDataDir  = "./run/data"
	defaultRootMode = 0o755
)

type Config struct {
	// Backend is one of sqlite, rocksdb, etcd and memory.
	Backend string `json:"backend"`
	DataDir string `json:"data_dir"`

	SQLite    sqlstore.Config  `json:"sqlite"`
	KV        kvmeta.Config    `json:"kv"`
	Namespace namespace.Config `json:"namespace"`

	RootMode uint16 `json:"root_mode"`
	// Mounts lists extra mount points served by the same backend.
	Mounts []string `json:"mounts"`
}

// ApplyEnv overrides the backend selection and connection parameters from
// the environment.
func (cfg *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvDatabase); v != "" {
		cfg.Backend = v
	}
	if v := getenv(EnvMaxConnection); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q", EnvMaxConnection, v)
		}
		cfg.SQLite.Session.MaxSessions = n
		cfg.KV.Session.MaxSessions = n
	}
	if v := getenv(EnvEtcdEndpoints); v != "" {
		cfg.KV.KVOption.Etcd.Endpoints = util.SplitList(v)
	}
	return nil
}

func (cfg *Config) fillDefault() error {
	if cfg.Backend == "" {
		cfg.Backend = string(store.KindSQLite)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.RootMode == 0 {
		cfg.RootMode = defaultRootMode
	}

	switch store.Kind(cfg.Backend) {
	case store.KindSQLite:
		if cfg.SQLite.Path == "" {
			cfg.SQLite.Path = filepath.Join(cfg.DataDir, "namespace.db")
		}
	case store.KindRocksdb:
		cfg.KV.KVType = kvstore.RocksdbKVType
		if cfg.KV.Path == "" {
			cfg.KV.Path = filepath.Join(cfg.DataDir, "kv")
		}
	case store.KindEtcd:
		cfg.KV.KVType = kvstore.EtcdKVType
		if len(cfg.KV.KVOption.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd backend needs endpoints, set %s", EnvEtcdEndpoints)
		}
	case store.KindMemory:
		cfg.KV.KVType = kvstore.MemoryKVType
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}
