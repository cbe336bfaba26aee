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

package sessionpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/namespacedb/errors"
)

type session struct {
	id     int64
	broken atomic.Bool
}

type factory struct {
	created   int64
	destroyed int64
	fail      atomic.Bool
}

func (f *factory) Create(ctx context.Context) (*session, error) {
	if f.fail.Load() {
		return nil, errors.New("dial refused")
	}
	return &session{id: atomic.AddInt64(&f.created, 1)}, nil
}

func (f *factory) Validate(s *session) bool { return !s.broken.Load() }
func (f *factory) Destroy(s *session)       { atomic.AddInt64(&f.destroyed, 1) }

func newTestPool(cfg Config) (*Pool[*session], *factory) {
	f := new(factory)
	if cfg.MinIdle == 0 {
		cfg.MinIdle = -1
	}
	return New[*session](cfg, f), f
}

func TestPool_ReuseIdle(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 4})
	defer p.Close()
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(s1)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.created))
	require.Equal(t, Stats{Active: 1, Idle: 0}, p.Stats())
	p.Release(s2)
	require.Equal(t, Stats{Active: 0, Idle: 1}, p.Stats())
}

func TestPool_Exhausted(t *testing.T) {
	p, _ := newTestPool(Config{MaxSessions: 2, AcquireTimeoutMs: 200})
	defer p.Close()
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, apierrors.ErrPoolExhausted)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	// a waiter is served as soon as a session comes back
	done := make(chan error, 1)
	go func() {
		s, err := p.Acquire(ctx)
		if err == nil {
			p.Release(s)
		}
		done <- err
	}()
	p.Release(s1)
	require.NoError(t, <-done)
	p.Release(s2)
}

func TestPool_ParentContextCanceled(t *testing.T) {
	p, _ := newTestPool(Config{MaxSessions: 1})
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, apierrors.ErrPoolExhausted)
}

func TestPool_InvalidSessions(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 4})
	defer p.Close()
	ctx := context.Background()

	// broken on release: destroyed, never pooled
	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	s1.broken.Store(true)
	p.Release(s1)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.destroyed))
	require.Equal(t, 0, p.Stats().Idle)

	// broken while idle: skipped and destroyed on acquire
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, s1, s2)
	p.Release(s2)
	s2.broken.Store(true)
	s3, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, s2, s3)
	require.Equal(t, int64(2), atomic.LoadInt64(&f.destroyed))
	p.Release(s3)
}

func TestPool_MaxIdle(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 8, MaxIdle: 2})
	defer p.Close()
	ctx := context.Background()

	var ss []*session
	for i := 0; i < 5; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		ss = append(ss, s)
	}
	for _, s := range ss {
		p.Release(s)
	}
	require.Equal(t, 2, p.Stats().Idle)
	require.Equal(t, int64(3), atomic.LoadInt64(&f.destroyed))
}

func TestPool_MinIdleFill(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 16, MinIdle: 4, MaxIdle: 8})
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Idle == 4 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(5), atomic.LoadInt64(&f.created))
	p.Release(s)
	require.Equal(t, 5, p.Stats().Idle)
}

func TestPool_CreateFailure(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 1})
	defer p.Close()
	f.fail.Store(true)

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, apierrors.ErrStoreUnavailable)

	// the slot is returned on failure
	f.fail.Store(false)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(s)
}

func TestPool_Close(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 4})
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(s1)

	p.Close()
	require.Equal(t, int64(1), atomic.LoadInt64(&f.destroyed))
	p.Release(s2)
	require.Equal(t, int64(2), atomic.LoadInt64(&f.destroyed))

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, apierrors.ErrClosed)
}

func TestPool_Concurrent(t *testing.T) {
	p, f := newTestPool(Config{MaxSessions: 8, MaxIdle: 8})
	defer p.Close()

	var inUse, failed int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := p.Do(context.Background(), func(s *session) error {
					n := atomic.AddInt64(&inUse, 1)
					defer atomic.AddInt64(&inUse, -1)
					if n > 8 {
						return errors.New("too many sessions checked out")
					}
					return nil
				})
				if err != nil {
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}
	wg.Wait()
	require.Zero(t, atomic.LoadInt64(&failed))
	require.LessOrEqual(t, atomic.LoadInt64(&f.created), int64(8))
	require.Equal(t, 0, p.Stats().Active)
}
