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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_Engine(t *testing.T) {
	engine, err := NewKVStore(context.TODO(), "", MemoryKVType, &Option{ColumnFamily: []CF{"c1"}})
	require.NoError(t, err)
	defer engine.Close()
	require.Equal(t, MemoryKVType, engine.Type())

	engineCases(t, engine)
}

func TestMemory_ListWhileWriting(t *testing.T) {
	ctx := context.TODO()
	engine, err := newMemory(ctx, nil)
	require.NoError(t, err)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, engine.SetRaw(ctx, "", []byte(fmt.Sprintf("p/%02d", i)), []byte("v"), nil))
	}
	ls := engine.List(ctx, "", []byte("p/"), nil, nil)
	defer ls.Close()
	n := 0
	for {
		k, _, err := ls.ReadNextCopy()
		require.NoError(t, err)
		if k == nil {
			break
		}
		require.NoError(t, engine.Delete(ctx, "", k, nil))
		n++
	}
	require.Equal(t, 10, n)
	ls2 := engine.List(ctx, "", []byte("p/"), nil, nil)
	k, _, err := ls2.ReadNext()
	require.NoError(t, err)
	require.Nil(t, k)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.TODO()
	engine, err := newMemory(ctx, nil)
	require.NoError(t, err)
	defer engine.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := []byte(fmt.Sprintf("g%d/%d", g, i))
				require.NoError(t, engine.SetRaw(ctx, "", key, key, nil))
				snap := engine.NewSnapshot()
				ro := engine.NewReadOption()
				ro.SetSnapShot(snap)
				v, err := engine.GetRaw(ctx, "", key, ro)
				require.NoError(t, err)
				require.Equal(t, key, v)
				ro.Close()
				snap.Close()
			}
		}(g)
	}
	wg.Wait()
}

func TestMemory_Closed(t *testing.T) {
	ctx := context.TODO()
	engine, err := newMemory(ctx, nil)
	require.NoError(t, err)
	engine.Close()
	_, err = engine.GetRaw(ctx, "", []byte("k"), nil)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, engine.SetRaw(ctx, "", []byte("k"), nil, nil), ErrClosed)
}
