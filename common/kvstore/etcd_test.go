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

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// newEtcdEngine connects to the cluster in ETCD_ENDPOINTS under a fresh key
// prefix, or skips the test.
func newEtcdEngine(t *testing.T, opt *Option) Store {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	if opt == nil {
		opt = new(Option)
	}
	opt.Etcd.Endpoints = strings.Split(endpoints, ",")
	opt.Etcd.KeyPrefix = "/namespacedb-test/" + uuid.NewString()
	engine, err := NewKVStore(context.TODO(), "", EtcdKVType, opt)
	require.NoError(t, err)
	return engine
}

func TestEtcd_Engine(t *testing.T) {
	engine := newEtcdEngine(t, &Option{ColumnFamily: []CF{"c1"}})
	defer engine.Close()
	require.Equal(t, EtcdKVType, engine.Type())

	engineCases(t, engine)
}

func TestEtcd_ChunkedWriteAndPagedList(t *testing.T) {
	ctx := context.TODO()
	engine := newEtcdEngine(t, &Option{Etcd: EtcdOption{MaxTxnOps: 16, PageSize: 7}})
	defer engine.Close()

	batch := engine.NewWriteBatch()
	for i := 0; i < 100; i++ {
		batch.Put("", []byte(fmt.Sprintf("row/%03d", i)), []byte("v"))
	}
	require.NoError(t, engine.Write(ctx, batch, nil))

	ls := engine.List(ctx, "", []byte("row/"), nil, nil)
	defer ls.Close()
	n := 0
	for {
		k, _, err := ls.ReadNextCopy()
		require.NoError(t, err)
		if k == nil {
			break
		}
		require.Equal(t, fmt.Sprintf("row/%03d", n), string(k))
		n++
	}
	require.Equal(t, 100, n)
}

func TestEtcd_NoEndpoints(t *testing.T) {
	_, err := NewKVStore(context.TODO(), "", EtcdKVType, &Option{})
	require.Error(t, err)
}

func TestClassifyEtcdError(t *testing.T) {
	require.NoError(t, classifyEtcdError(nil))
	err := classifyEtcdError(status.Error(codes.Unavailable, "no leader"))
	require.ErrorIs(t, err, ErrUnavailable)
	err = classifyEtcdError(context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrUnavailable)
	plain := errors.New("etcdserver: duplicate key given in txn request")
	require.Equal(t, plain, classifyEtcdError(plain))
}

func TestEtcd_CommitChunksInOrder(t *testing.T) {
	ctx := context.TODO()
	ops := make([]clientv3.Op, 10)
	for i := range ops {
		ops[i] = clientv3.OpPut(fmt.Sprintf("k%d", i), "v")
	}

	var committed [][]string
	record := func(fail int) func(ctx context.Context, chunk []clientv3.Op) error {
		return func(ctx context.Context, chunk []clientv3.Op) error {
			if len(committed) == fail {
				return ErrUnavailable
			}
			var keys []string
			for _, op := range chunk {
				keys = append(keys, string(op.KeyBytes()))
			}
			committed = append(committed, keys)
			return nil
		}
	}

	require.NoError(t, commitChunks(ctx, ops, 4, record(-1)))
	require.Equal(t, [][]string{{"k0", "k1", "k2", "k3"}, {"k4", "k5", "k6", "k7"}, {"k8", "k9"}}, committed)

	// a failed chunk stops the write, the tail never lands
	committed = nil
	err := commitChunks(ctx, ops, 4, record(1))
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "4 of 10 ops applied")
	require.Len(t, committed, 1)

	committed = nil
	err = commitChunks(ctx, ops, 4, record(0))
	require.Equal(t, ErrUnavailable, err)
	require.Empty(t, committed)
}
