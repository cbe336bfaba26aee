// Copyright 2023 The Cuber Authors.
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

package kvstore

import (
	"context"
	"errors"
)

const (
	defaultCF = "default"

	RocksdbKVType = KVType("rocksdb")
	EtcdKVType    = KVType("etcd")
	MemoryKVType  = KVType("memory")

	FIFOStyle      = CompactionStyle("fifo")
	LevelStyle     = CompactionStyle("level")
	UniversalStyle = CompactionStyle("universal")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
	ErrUnavailable    = errors.New("kv engine unavailable")
	ErrClosed         = errors.New("kv engine closed")
)

type (
	CF              string
	KVType          string
	CompactionStyle string

	// Store is an ordered key-value engine with column families. Write applies
	// a batch atomically when the engine supports it; see each engine for the
	// limits of that guarantee.
	Store interface {
		NewSnapshot() Snapshot
		CreateColumn(col CF) error
		CheckColumns(col CF) bool
		Get(ctx context.Context, col CF, key []byte, readOpt ReadOption) (value ValueGetter, err error)
		GetRaw(ctx context.Context, col CF, key []byte, readOpt ReadOption) (value []byte, err error)
		SetRaw(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) error
		Delete(ctx context.Context, col CF, key []byte, writeOpt WriteOption) error
		List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader
		Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error
		NewReadOption() (readOption ReadOption)
		NewWriteOption() (writeOption WriteOption)
		NewWriteBatch() (writeBatch WriteBatch)
		Type() KVType
		Close()
	}
	// ListReader returns nil key and value once the range is exhausted.
	ListReader interface {
		ReadNext() (key KeyGetter, val ValueGetter, err error)
		ReadNextCopy() (key []byte, value []byte, err error)
		Close()
	}
	KeyGetter interface {
		Key() []byte
		Close()
	}
	ValueGetter interface {
		Value() []byte
		Size() int
		Close()
	}
	Snapshot interface {
		Close()
	}
	ReadOption interface {
		SetSnapShot(snap Snapshot)
		Close()
	}
	WriteOption interface {
		SetSync(value bool)
		Close()
	}
	WriteBatch interface {
		Put(col CF, key, value []byte)
		Delete(col CF, key []byte)
		DeleteRange(col CF, startKey, endKey []byte)
		Count() int
		Close()
	}

	Option struct {
		Sync                 bool            `json:"sync"`
		ColumnFamily         []CF            `json:"column_family"`
		CreateIfMissing      bool            `json:"create_if_missing"`
		BlockSize            int             `json:"block_size"`
		BlockCache           uint64          `json:"block_cache"`
		MaxOpenFiles         int             `json:"max_open_files"`
		MaxBackgroundJobs    int             `json:"max_background_jobs"`
		MaxWriteBufferNumber int             `json:"max_write_buffer_number"`
		WriteBufferSize      int             `json:"write_buffer_size"`
		CompactionStyle      CompactionStyle `json:"compaction_style"`
		Etcd                 EtcdOption      `json:"etcd"`
	}
	EtcdOption struct {
		Endpoints        []string `json:"endpoints"`
		Username         string   `json:"username"`
		Password         string   `json:"password"`
		DialTimeoutMs    int      `json:"dial_timeout_ms"`
		RequestTimeoutMs int      `json:"request_timeout_ms"`
		// KeyPrefix isolates one namespace inside a shared etcd cluster.
		KeyPrefix string `json:"key_prefix"`
		// MaxTxnOps must not exceed the server's --max-txn-ops.
		MaxTxnOps int `json:"max_txn_ops"`
		PageSize  int `json:"page_size"`
	}
)

func NewKVStore(ctx context.Context, path string, kvType KVType, option *Option) (Store, error) {
	switch kvType {
	case RocksdbKVType:
		return newRocksdb(ctx, path, option)
	case EtcdKVType:
		return newEtcd(ctx, option)
	case MemoryKVType:
		return newMemory(ctx, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}

func (cf CF) String() string {
	return string(cf)
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
