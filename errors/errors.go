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
	"net/http"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPoolExhausted    = errors.New("session pool exhausted")
	ErrNotFound         = errors.New("inode does not exist")
	ErrAlreadyExists    = errors.New("inode already exists")
	ErrInconsistent     = errors.New("namespace inconsistent")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("transaction conflict")
	ErrNotDirectory     = errors.New("not a directory")
	ErrClosed           = errors.New("closed")
)

// Error carries one of the sentinel kinds above together with the backend cause.
type Error struct {
	Kind  error
	Cause error
	Msg   string
}

func Wrap(kind error, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func Wrapf(kind error, cause error, msg string) *Error {
	return &Error{Kind: kind, Cause: cause, Msg: msg}
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Kind returns the sentinel kind of err, or nil when err is not classified.
func Kind(err error) error {
	for _, kind := range []error{
		ErrStoreUnavailable, ErrPoolExhausted, ErrNotFound, ErrAlreadyExists,
		ErrInconsistent, ErrInvalidArgument, ErrConflict, ErrNotDirectory, ErrClosed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// HTTPStatus maps err to the status code used by the admin server.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists, ErrConflict:
		return http.StatusConflict
	case ErrInvalidArgument, ErrNotDirectory:
		return http.StatusBadRequest
	case ErrStoreUnavailable, ErrPoolExhausted, ErrClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
