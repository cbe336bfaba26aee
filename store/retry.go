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

package store

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/retry"

	apierrors "github.com/cubefs/namespacedb/errors"
)

type RetryConfig struct {
	Attempts int    `json:"attempts"`
	DelayMs  uint32 `json:"delay_ms"`
}

var DefaultRetry = RetryConfig{Attempts: 3, DelayMs: 100}

func (c RetryConfig) orDefault() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultRetry.Attempts
	}
	if c.DelayMs == 0 {
		c.DelayMs = DefaultRetry.DelayMs
	}
	return c
}

// Retry runs fn until it succeeds, fails with a kind other than
// ErrStoreUnavailable, ctx is done, or the attempts are used up.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	span := trace.SpanFromContextSafe(ctx)
	cfg = cfg.orDefault()
	attempt := 0
	return retry.Timed(cfg.Attempts, cfg.DelayMs).RuptOn(func() (bool, error) {
		attempt++
		err := fn()
		if err == nil {
			return false, nil
		}
		if !apierrors.IsRetryable(err) || ctx.Err() != nil {
			return true, err
		}
		span.Warnf("%s attempt %d of %d failed: %s", op, attempt, cfg.Attempts, err)
		return false, err
	})
}
