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

package mount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/namespace"
)

func TestStatic_Resolve(t *testing.T) {
	ctx := context.Background()
	root, data := &namespace.Namespace{}, &namespace.Namespace{}
	r := NewStatic(root)
	require.NoError(t, r.Mount("/data/", data))
	require.ErrorIs(t, r.Mount("/data", data), apierrors.ErrAlreadyExists)
	require.ErrorIs(t, r.Mount("data", data), apierrors.ErrInvalidArgument)
	require.Equal(t, []string{"/data", "/"}, r.Mounts())

	cases := []struct {
		path  string
		mount string
		rel   string
		ns    *namespace.Namespace
	}{
		{"/", "/", "/", root},
		{"/a/b", "/", "/a/b", root},
		{"/data", "/data", "/", data},
		{"/data/x/y/", "/data", "/x/y", data},
		{"/database", "/", "/database", root},
	}
	for _, c := range cases {
		h, err := r.Resolve(ctx, c.path)
		require.NoError(t, err, c.path)
		require.Equal(t, c.mount, h.Mount, c.path)
		require.Equal(t, c.rel, h.Path, c.path)
		require.Same(t, c.ns, h.Namespace, c.path)
	}

	_, err := r.Resolve(ctx, "relative")
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
	_, err = NewStatic(nil).Resolve(ctx, "/a")
	require.ErrorIs(t, err, apierrors.ErrNotFound)
}
