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

package errors

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapClassification(t *testing.T) {
	err := Wrap(ErrStoreUnavailable, io.ErrUnexpectedEOF)
	require.True(t, errors.Is(err, ErrStoreUnavailable))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	require.False(t, errors.Is(err, ErrNotFound))
	require.True(t, IsRetryable(err))

	nested := fmt.Errorf("rename: %w", Wrapf(ErrAlreadyExists, nil, "/a/b"))
	require.Equal(t, ErrAlreadyExists, Kind(nested))
	require.False(t, IsRetryable(nested))
	require.Equal(t, "inode already exists: /a/b", errors.Unwrap(nested).Error())

	require.Nil(t, Kind(io.EOF))
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusNotFound, HTTPStatus(ErrNotFound))
	require.Equal(t, http.StatusConflict, HTTPStatus(Wrap(ErrAlreadyExists, nil)))
	require.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrPoolExhausted))
	require.Equal(t, http.StatusBadRequest, HTTPStatus(ErrInvalidArgument))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrInconsistent))
}
