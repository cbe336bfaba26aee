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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/semaphore"

	apierrors "github.com/cubefs/namespacedb/errors"
	"github.com/cubefs/namespacedb/metrics"
)

const (
	defaultMaxSessions    = 2000
	defaultMinIdle        = 16
	defaultMaxIdle        = 500
	defaultAcquireTimeout = 30 * time.Second
	fillTimeout           = 10 * time.Second
)

// Factory creates, checks and disposes the sessions held by a Pool.
type Factory[S any] interface {
	Create(ctx context.Context) (S, error)
	// Validate reports whether the session transport is still open.
	Validate(s S) bool
	Destroy(s S)
}

type Config struct {
	Name        string `json:"name"`
	MaxSessions int    `json:"max_sessions"`
	// MinIdle < 0 disables idle maintenance.
	MinIdle          int `json:"min_idle"`
	MaxIdle          int `json:"max_idle"`
	AcquireTimeoutMs int `json:"acquire_timeout_ms"`
}

func (c *Config) fillDefault() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = defaultMaxIdle
	}
	if c.MaxIdle > c.MaxSessions {
		c.MaxIdle = c.MaxSessions
	}
	if c.MinIdle < 0 {
		c.MinIdle = 0
	} else if c.MinIdle == 0 {
		c.MinIdle = defaultMinIdle
	}
	if c.MinIdle > c.MaxIdle {
		c.MinIdle = c.MaxIdle
	}
	if c.AcquireTimeoutMs <= 0 {
		c.AcquireTimeoutMs = int(defaultAcquireTimeout / time.Millisecond)
	}
	if c.Name == "" {
		c.Name = "default"
	}
}

type Stats struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// Pool is a bounded set of backend sessions. A session checked out by
// Acquire is used by one caller only until it is handed back with Release.
type Pool[S any] struct {
	cfg     Config
	factory Factory[S]
	sem     *semaphore.Weighted
	timeout time.Duration

	lock    sync.Mutex
	idle    []S
	closed  bool
	active  int64
	filling int32
}

func New[S any](cfg Config, factory Factory[S]) *Pool[S] {
	cfg.fillDefault()
	return &Pool[S]{
		cfg:     cfg,
		factory: factory,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSessions)),
		timeout: time.Duration(cfg.AcquireTimeoutMs) * time.Millisecond,
	}
}

// Acquire checks out a session, blocking up to the configured timeout.
func (p *Pool[S]) Acquire(ctx context.Context) (s S, err error) {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err = p.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		metrics.SessionExhausted.WithLabelValues(p.cfg.Name).Inc()
		return s, apierrors.Wrapf(apierrors.ErrPoolExhausted, err, p.cfg.Name)
	}
	metrics.SessionAcquireDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())

	s, ok, err := p.popIdle()
	if err != nil {
		p.sem.Release(1)
		return s, err
	}
	if !ok {
		if s, err = p.factory.Create(ctx); err != nil {
			p.sem.Release(1)
			if apierrors.Kind(err) == nil {
				err = apierrors.Wrap(apierrors.ErrStoreUnavailable, err)
			}
			return s, err
		}
	}
	atomic.AddInt64(&p.active, 1)
	p.report()
	p.maybeFill()
	return s, nil
}

// Release hands s back. Sessions whose transport is gone, or that exceed
// the idle limit, are destroyed.
func (p *Pool[S]) Release(s S) {
	defer p.sem.Release(1)
	atomic.AddInt64(&p.active, -1)

	if !p.factory.Validate(s) {
		p.factory.Destroy(s)
		p.report()
		return
	}
	p.lock.Lock()
	if p.closed || len(p.idle) >= p.cfg.MaxIdle {
		p.lock.Unlock()
		p.factory.Destroy(s)
		p.report()
		return
	}
	p.idle = append(p.idle, s)
	p.lock.Unlock()
	p.report()
}

// Do runs fn with a checked-out session.
func (p *Pool[S]) Do(ctx context.Context, fn func(s S) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	return fn(s)
}

func (p *Pool[S]) Stats() Stats {
	p.lock.Lock()
	idle := len(p.idle)
	p.lock.Unlock()
	return Stats{Active: int(atomic.LoadInt64(&p.active)), Idle: idle}
}

// Close destroys idle sessions. Sessions still checked out are destroyed
// when they are released.
func (p *Pool[S]) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.lock.Unlock()

	for _, s := range idle {
		p.factory.Destroy(s)
	}
	p.report()
}

func (p *Pool[S]) popIdle() (s S, ok bool, err error) {
	for {
		p.lock.Lock()
		if p.closed {
			p.lock.Unlock()
			return s, false, apierrors.ErrClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.lock.Unlock()
			return s, false, nil
		}
		s = p.idle[n-1]
		var zero S
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.lock.Unlock()

		if p.factory.Validate(s) {
			return s, true, nil
		}
		p.factory.Destroy(s)
	}
}

// maybeFill tops the idle list up to MinIdle in the background, replacing
// sessions dropped since the last fill.
func (p *Pool[S]) maybeFill() {
	p.lock.Lock()
	need := p.cfg.MinIdle - len(p.idle)
	p.lock.Unlock()
	if need <= 0 || !atomic.CompareAndSwapInt32(&p.filling, 0, 1) {
		return
	}

	go func() {
		defer atomic.StoreInt32(&p.filling, 0)
		span, ctx := trace.StartSpanFromContext(context.Background(), "sessionpool-fill")
		ctx, cancel := context.WithTimeout(ctx, fillTimeout)
		defer cancel()

		for i := 0; i < need; i++ {
			s, err := p.factory.Create(ctx)
			if err != nil {
				if !errors.Is(err, context.DeadlineExceeded) {
					span.Warnf("pool[%s] fill idle session failed: %s", p.cfg.Name, err)
				}
				return
			}
			p.lock.Lock()
			if p.closed || len(p.idle) >= p.cfg.MinIdle {
				p.lock.Unlock()
				p.factory.Destroy(s)
				return
			}
			p.idle = append(p.idle, s)
			p.lock.Unlock()
		}
		p.report()
	}()
}

func (p *Pool[S]) report() {
	st := p.Stats()
	metrics.SessionGauge.WithLabelValues(p.cfg.Name, "active").Set(float64(st.Active))
	metrics.SessionGauge.WithLabelValues(p.cfg.Name, "idle").Set(float64(st.Idle))
}
