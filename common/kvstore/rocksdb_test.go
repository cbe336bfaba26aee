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
	"os"
	"testing"

	"github.com/cubefs/namespacedb/util"
	"github.com/stretchr/testify/require"
)

type testEg struct {
	engine Store
	path   string
	opt    *Option
}

func newEngine(ctx context.Context, opt *Option) (*testEg, error) {
	path, err := util.GenTmpPath()
	if err != nil {
		return nil, err
	}
	if opt == nil {
		opt = new(Option)
	}
	opt.CreateIfMissing = true
	opt.Sync = true
	engine, err := newRocksdb(ctx, path, opt)
	if err != nil {
		return nil, err
	}
	return &testEg{
		engine: engine,
		path:   path,
		opt:    opt,
	}, nil
}

func (eg *testEg) close() {
	eg.engine.Close()
	os.RemoveAll(eg.path)
}

func Test_openRocksdb(t *testing.T) {
	ctx := context.TODO()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)
	opt := new(Option)
	opt.CreateIfMissing = true
	opt.BlockSize = 1 << 20
	opt.BlockCache = 1 << 20
	opt.MaxBackgroundJobs = 8
	opt.ColumnFamily = []CF{"a", "b", "c"}
	opt.CompactionStyle = LevelStyle
	eg, err := newRocksdb(ctx, path, opt)
	require.NoError(t, err)
	require.Equal(t, RocksdbKVType, eg.Type())
	eg.Close()

	// open with empty path
	_, err = newRocksdb(ctx, "", opt)
	require.Equal(t, errors.New("path is empty"), err)
	// reopen db
	eg, err = newRocksdb(ctx, path, opt)
	require.NoError(t, err)
	eg.Close()
	// open with wrong cf
	opt.ColumnFamily = []CF{"a", "b"}
	_, err = newRocksdb(ctx, path, opt)
	require.Error(t, err)
}

func TestRocksdb_CreateColumn(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	require.False(t, eg.engine.CheckColumns("colA"))
	require.NoError(t, eg.engine.CreateColumn("colA"))
	require.NoError(t, eg.engine.CreateColumn("colA"))
	require.True(t, eg.engine.CheckColumns("colA"))
	require.True(t, eg.engine.CheckColumns(""))
}

func TestRocksdb_Engine(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, &Option{ColumnFamily: []CF{"c1"}})
	require.NoError(t, err)
	defer eg.close()

	engineCases(t, eg.engine)
}

func TestRocksdb_DeleteRange(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	keys := [][]byte{[]byte("/k1/a"), []byte("/k1/b"), []byte("/k1/c"), []byte("/k10"), []byte("/k1012"), []byte("/k11")}
	for _, key := range keys {
		require.NoError(t, eg.engine.SetRaw(ctx, defaultCF, key, []byte("1"), nil))
	}

	start := []byte("/k1/")
	batch := eg.engine.NewWriteBatch()
	batch.DeleteRange(defaultCF, start, PrefixEnd(start))
	require.NoError(t, eg.engine.Write(ctx, batch, nil))
	batch.Close()

	for _, key := range keys[:3] {
		_, err := eg.engine.Get(ctx, defaultCF, key, nil)
		require.Equal(t, ErrNotFound, err)
	}
	for _, key := range keys[3:] {
		value, err := eg.engine.Get(ctx, defaultCF, key, nil)
		require.NoError(t, err)
		require.Equal(t, []byte("1"), value.Value())
		value.Close()
	}
}

func TestRocksdb_WriteOption(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	wo := eg.engine.NewWriteOption()
	wo.SetSync(false)
	k := []byte("key1")
	v := []byte("value1")
	require.NoError(t, eg.engine.SetRaw(ctx, defaultCF, k, v, wo))
	v1, err := eg.engine.Get(ctx, defaultCF, k, nil)
	require.NoError(t, err)
	require.Equal(t, v, v1.Value())
	v1.Close()
	wo.Close()
}
