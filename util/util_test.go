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

package util

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenTmpPath(t *testing.T) {
	path, err := GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestStringsToBytes(t *testing.T) {
	require.Equal(t, []byte("test"), StringsToBytes("test"))
	require.Empty(t, StringsToBytes(""))
	require.Equal(t, "test", BytesToString([]byte("test")))
	require.Equal(t, "", BytesToString(nil))
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a:2379", "b:2379"}, SplitList(" a:2379, ,b:2379,"))
	require.Nil(t, SplitList(""))
}

func TestGetLocalIP(t *testing.T) {
	ip, err := GetLocalIP()
	if err != nil {
		t.Skip(err)
	}
	t.Log(ip)
}
