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

// Package objpool keeps at most one live object per inode id. Objects are
// reference counted and indexed by id and by natural key; an object whose
// count drops to zero stays resident until the pool runs over capacity.
package objpool

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	"github.com/cubefs/namespacedb/metrics"
	"github.com/cubefs/namespacedb/proto"
)

const (
	eventHit          = "hit"
	eventMiss         = "miss"
	eventHydrate      = "hydrate"
	eventEvict        = "evict"
	eventInvalidate   = "invalidate"
	eventFlushFailure = "flush_failure"
	eventStale        = "stale"
)

// Object is what a pool holds. Dirty objects are flushed before they leave
// the pool.
type Object interface {
	comparable
	ID() proto.Ino
	Key() proto.NaturalKey
	Dirty() bool
}

type (
	Loader[T Object]  func(ctx context.Context, id proto.Ino) (T, error)
	Flusher[T Object] func(ctx context.Context, obj T) error
)

// Fence orders loads against invalidations. A load that started before an
// invalidation is not published, the pool loads again. Pools sharing a fence
// are invalidated together.
type Fence struct {
	mu    sync.Mutex
	epoch uint64
}

func (f *Fence) Epoch() uint64 {
	return atomic.LoadUint64(&f.epoch)
}

// Bump discards every load that started earlier.
func (f *Fence) Bump() {
	f.mu.Lock()
	atomic.AddUint64(&f.epoch, 1)
	f.mu.Unlock()
}

// publish runs fn unless the fence moved past epoch.
func (f *Fence) publish(epoch uint64, fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if atomic.LoadUint64(&f.epoch) != epoch {
		return false
	}
	fn()
	return true
}

type Option func(o *options)

type options struct {
	fence *Fence
}

// WithFence shares f with other pools.
func WithFence(f *Fence) Option {
	return func(o *options) { o.fence = f }
}

type Config struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	// LowWater is the size an over-capacity sweep evicts down to.
	LowWater int `json:"low_water"`
}

func (c *Config) fillDefault() {
	if c.Name == "" {
		c.Name = "objects"
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.LowWater <= 0 || c.LowWater > c.Capacity {
		c.LowWater = c.Capacity * 9 / 10
	}
}

// slot colocates an object with its reference count. refs is -1 while the
// slot is leaving the pool; gone is closed once the slot is no longer
// published.
type slot[T Object] struct {
	refs int32
	obj  T
	key  proto.NaturalKey
	gone chan struct{}
}

func (s *slot[T]) acquire() bool {
	for {
		r := atomic.LoadInt32(&s.refs)
		if r < 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.refs, r, r+1) {
			return true
		}
	}
}

// release returns the remaining count, or -1 when the slot was not held.
func (s *slot[T]) release() int32 {
	for {
		r := atomic.LoadInt32(&s.refs)
		if r <= 0 {
			return -1
		}
		if atomic.CompareAndSwapInt32(&s.refs, r, r-1) {
			return r - 1
		}
	}
}

type Pool[T Object] struct {
	cfg   Config
	load  Loader[T]
	flush Flusher[T]

	slots sync.Map // proto.Ino -> *slot[T]
	keys  sync.Map // proto.NaturalKey -> proto.Ino
	size  int64
	group singleflight.Group
	fence *Fence

	sweeping int32
}

func New[T Object](cfg Config, load Loader[T], flush Flusher[T], opts ...Option) *Pool[T] {
	cfg.fillDefault()
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.fence == nil {
		o.fence = &Fence{}
	}
	return &Pool[T]{cfg: cfg, load: load, flush: flush, fence: o.fence}
}

func (p *Pool[T]) Name() string {
	return p.cfg.Name
}

func (p *Pool[T]) Len() int {
	return int(atomic.LoadInt64(&p.size))
}

func (p *Pool[T]) event(e string) {
	metrics.ObjectPoolEvents.WithLabelValues(p.cfg.Name, e).Inc()
}

func (p *Pool[T]) resize(delta int64) {
	n := atomic.AddInt64(&p.size, delta)
	metrics.ObjectPoolSize.WithLabelValues(p.cfg.Name).Set(float64(n))
}

// Acquire returns the pooled object for id with its count raised by one,
// hydrating it through the loader on first touch. Concurrent first touches
// share one load.
func (p *Pool[T]) Acquire(ctx context.Context, id proto.Ino) (obj T, err error) {
	for {
		if v, ok := p.slots.Load(id); ok {
			s := v.(*slot[T])
			if s.acquire() {
				p.event(eventHit)
				return s.obj, nil
			}
			select {
			case <-s.gone:
			case <-ctx.Done():
				return obj, ctx.Err()
			}
			continue
		}

		p.event(eventMiss)
		_, err, _ = p.group.Do(strconv.FormatUint(id, 10), func() (interface{}, error) {
			for {
				if _, ok := p.slots.Load(id); ok {
					return nil, nil
				}
				epoch := p.fence.Epoch()
				loaded, err := p.load(ctx, id)
				if err != nil {
					return nil, err
				}
				if p.fence.publish(epoch, func() { p.insert(loaded) }) {
					p.event(eventHydrate)
					return nil, nil
				}
				p.event(eventStale)
			}
		})
		if err != nil {
			return obj, err
		}
	}
}

func (p *Pool[T]) insert(obj T) (*slot[T], bool) {
	s := &slot[T]{obj: obj, key: obj.Key(), gone: make(chan struct{})}
	v, loaded := p.slots.LoadOrStore(obj.ID(), s)
	if loaded {
		return v.(*slot[T]), false
	}
	p.keys.Store(s.key, obj.ID())
	p.resize(1)
	return s, true
}

// Release drops one reference taken by Acquire. Releasing an object the
// pool no longer holds is a no-op.
func (p *Pool[T]) Release(obj T) {
	v, ok := p.slots.Load(obj.ID())
	if !ok {
		return
	}
	s := v.(*slot[T])
	if s.obj != obj {
		return
	}
	if s.release() == 0 && p.Len() > p.cfg.Capacity {
		p.sweep()
	}
}

// Get returns the resident object for id without taking a reference.
func (p *Pool[T]) Get(id proto.Ino) (obj T, ok bool) {
	v, ok := p.slots.Load(id)
	if !ok {
		return obj, false
	}
	s := v.(*slot[T])
	if atomic.LoadInt32(&s.refs) < 0 {
		return obj, false
	}
	return s.obj, true
}

// Lookup resolves a natural key through the secondary index only.
func (p *Pool[T]) Lookup(key proto.NaturalKey) (proto.Ino, bool) {
	v, ok := p.keys.Load(key)
	if !ok {
		return 0, false
	}
	return v.(proto.Ino), true
}

// Range calls fn for every resident object until fn returns false.
func (p *Pool[T]) Range(fn func(obj T) bool) {
	p.slots.Range(func(_, v interface{}) bool {
		s := v.(*slot[T])
		if atomic.LoadInt32(&s.refs) < 0 {
			return true
		}
		return fn(s.obj)
	})
}

// Refs reports the reference count of id, -1 when it is not pooled.
func (p *Pool[T]) Refs(id proto.Ino) int {
	v, ok := p.slots.Load(id)
	if !ok {
		return -1
	}
	return int(atomic.LoadInt32(&v.(*slot[T]).refs))
}

// Invalidate drops id from the pool whatever its count. Holders keep their
// object, the next Acquire hydrates a fresh one. Loads in flight are not
// published.
func (p *Pool[T]) Invalidate(id proto.Ino) (obj T, ok bool) {
	p.fence.Bump()
	return p.invalidate(id)
}

func (p *Pool[T]) invalidate(id proto.Ino) (obj T, ok bool) {
	v, ok := p.slots.Load(id)
	if !ok {
		return obj, false
	}
	s := v.(*slot[T])
	if atomic.SwapInt32(&s.refs, -1) < 0 {
		return obj, false
	}
	p.remove(id, s)
	p.event(eventInvalidate)
	return s.obj, true
}

// InvalidateUnder drops every object whose path is root or lies below it.
func (p *Pool[T]) InvalidateUnder(root string) []T {
	p.fence.Bump()
	var dropped []T
	p.keys.Range(func(k, v interface{}) bool {
		key := k.(proto.NaturalKey)
		if proto.IsUnder(key.Path(), root) {
			if obj, ok := p.invalidate(v.(proto.Ino)); ok {
				dropped = append(dropped, obj)
			}
		}
		return true
	})
	return dropped
}

func (p *Pool[T]) remove(id proto.Ino, s *slot[T]) {
	if p.slots.CompareAndDelete(id, s) {
		p.keys.CompareAndDelete(s.key, id)
		p.resize(-1)
	}
	close(s.gone)
}

// Evict removes unreferenced objects until at most target remain, flushing
// dirty ones first. An object whose flush fails is published again in a
// fresh slot, unless it was invalidated meanwhile, and callers waiting on
// the old slot retry.
func (p *Pool[T]) Evict(ctx context.Context, target int) int {
	span := trace.SpanFromContextSafe(ctx)
	evicted := 0
	p.slots.Range(func(k, v interface{}) bool {
		if p.Len() <= target {
			return false
		}
		s := v.(*slot[T])
		if !atomic.CompareAndSwapInt32(&s.refs, 0, -1) {
			return true
		}
		if s.obj.Dirty() && p.flush != nil {
			epoch := p.fence.Epoch()
			if err := p.flush(ctx, s.obj); err != nil {
				span.Warnf("pool %s keeps %d, flush failed: %s", p.cfg.Name, k.(proto.Ino), err)
				p.event(eventFlushFailure)
				fresh := &slot[T]{obj: s.obj, key: s.key, gone: make(chan struct{})}
				if p.fence.publish(epoch, func() { p.slots.CompareAndSwap(k, s, fresh) }) {
					close(s.gone)
				} else {
					p.remove(k.(proto.Ino), s)
				}
				return true
			}
		}
		p.remove(k.(proto.Ino), s)
		p.event(eventEvict)
		evicted++
		return true
	})
	return evicted
}

func (p *Pool[T]) sweep() {
	if !atomic.CompareAndSwapInt32(&p.sweeping, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreInt32(&p.sweeping, 0)
		span, ctx := trace.StartSpanFromContext(context.Background(), "objpool-sweep")
		defer span.Finish()
		n := p.Evict(ctx, p.cfg.LowWater)
		span.Debugf("pool %s evicted %d, %d left", p.cfg.Name, n, p.Len())
	}()
}

// Close flushes every dirty object and empties the pool.
func (p *Pool[T]) Close(ctx context.Context) error {
	var firstErr error
	p.slots.Range(func(k, v interface{}) bool {
		s := v.(*slot[T])
		if s.obj.Dirty() && p.flush != nil {
			if err := p.flush(ctx, s.obj); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if atomic.SwapInt32(&s.refs, -1) >= 0 {
			p.remove(k.(proto.Ino), s)
		}
		return true
	})
	return firstErr
}
