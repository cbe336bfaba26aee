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
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// engineCases runs the behaviour every engine must share. The engine must be
// empty and have the column "c1".
func engineCases(t *testing.T, engine Store) {
	ctx := context.TODO()
	col1 := CF("c1")

	t.Run("SetGetRaw", func(t *testing.T) {
		k := []byte("key1")
		v := []byte("value1")
		require.NoError(t, engine.SetRaw(ctx, defaultCF, k, v, nil))
		v1, err := engine.GetRaw(ctx, defaultCF, k, nil)
		require.NoError(t, err)
		v2, err := engine.Get(ctx, defaultCF, k, nil)
		require.NoError(t, err)
		require.Equal(t, v, v1)
		require.Equal(t, v, v2.Value())
		require.Equal(t, len(v), v2.Size())
		v2.Close()
		require.NoError(t, engine.Delete(ctx, defaultCF, k, nil))
		_, err = engine.GetRaw(ctx, defaultCF, k, nil)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("WriteBatch", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, engine.SetRaw(ctx, col1, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)), nil))
		}
		batch := engine.NewWriteBatch()
		defer batch.Close()
		batch.DeleteRange(col1, []byte("k0"), []byte("k3"))
		batch.Put(col1, []byte("k9"), []byte("v9"))
		batch.Delete(col1, []byte("k4"))
		require.Equal(t, 3, batch.Count())
		require.NoError(t, engine.Write(ctx, batch, nil))
		for i := 0; i < 5; i++ {
			_, err := engine.GetRaw(ctx, col1, []byte(fmt.Sprintf("k%d", i)), nil)
			if i == 3 {
				require.NoError(t, err)
				continue
			}
			require.ErrorIs(t, err, ErrNotFound)
		}
		v, err := engine.GetRaw(ctx, col1, []byte("k9"), nil)
		require.NoError(t, err)
		require.Equal(t, []byte("v9"), v)
	})

	t.Run("List", func(t *testing.T) {
		for _, kv := range [][2]string{
			{"key1", "value1"}, {"word1", "w1"}, {"key2", "value2"}, {"check", "0"},
			{"word2", "w2"}, {"key3", "value3"}, {"word3", "w3"}, {"xyz", "zyx"}, {"key4", "value4"},
		} {
			require.NoError(t, engine.SetRaw(ctx, defaultCF, []byte(kv[0]), []byte(kv[1]), nil))
		}

		ls := engine.List(ctx, defaultCF, []byte("key"), nil, nil)
		i := 0
		for {
			kg, vg, err := ls.ReadNext()
			require.NoError(t, err)
			if kg == nil {
				break
			}
			i++
			require.Equal(t, []byte("key"+strconv.Itoa(i)), kg.Key())
			require.Equal(t, []byte("value"+strconv.Itoa(i)), vg.Value())
			kg.Close()
			vg.Close()
		}
		require.Equal(t, 4, i)
		ls.Close()

		// marker read
		ls = engine.List(ctx, defaultCF, []byte("key"), []byte("key3"), nil)
		k, v, err := ls.ReadNextCopy()
		require.NoError(t, err)
		require.Equal(t, []byte("key3"), k)
		require.Equal(t, []byte("value3"), v)
		ls.Close()

		// nil prefix reads the whole column in order
		ls = engine.List(ctx, defaultCF, nil, nil, nil)
		var last []byte
		n := 0
		for {
			k, _, err := ls.ReadNextCopy()
			require.NoError(t, err)
			if k == nil {
				break
			}
			require.True(t, string(last) < string(k))
			last = k
			n++
		}
		require.Equal(t, 9, n)
		require.Equal(t, []byte("xyz"), last)
		ls.Close()
	})

	t.Run("Snapshot", func(t *testing.T) {
		k := []byte("snap")
		require.NoError(t, engine.SetRaw(ctx, defaultCF, k, []byte("old"), nil))
		snap := engine.NewSnapshot()
		defer snap.Close()
		ro := engine.NewReadOption()
		defer ro.Close()
		ro.SetSnapShot(snap)

		require.NoError(t, engine.SetRaw(ctx, defaultCF, k, []byte("new"), nil))
		require.NoError(t, engine.SetRaw(ctx, defaultCF, []byte("snap2"), []byte("x"), nil))

		v, err := engine.GetRaw(ctx, defaultCF, k, ro)
		require.NoError(t, err)
		require.Equal(t, []byte("old"), v)
		_, err = engine.GetRaw(ctx, defaultCF, []byte("snap2"), ro)
		require.ErrorIs(t, err, ErrNotFound)

		ls := engine.List(ctx, defaultCF, []byte("snap"), nil, ro)
		cnt := 0
		for {
			k, _, err := ls.ReadNextCopy()
			require.NoError(t, err)
			if k == nil {
				break
			}
			cnt++
		}
		ls.Close()
		require.Equal(t, 1, cnt)

		v, err = engine.GetRaw(ctx, defaultCF, k, nil)
		require.NoError(t, err)
		require.Equal(t, []byte("new"), v)
	})
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte("/k2"), PrefixEnd([]byte("/k1")))
	require.Equal(t, []byte{0x01}, PrefixEnd([]byte{0x00, 0xff}))
	require.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
}

func TestNewKVStore_UnknownType(t *testing.T) {
	_, err := NewKVStore(context.TODO(), "", KVType("leveldb"), &Option{})
	require.ErrorIs(t, err, ErrKVTypeNotFound)
}
