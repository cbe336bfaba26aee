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

// Package writeback propagates leaf attribute changes of pooled objects to
// the store in the background. An object is queued at most once while it is
// dirty; changes made before its flush runs are written together.
package writeback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"golang.org/x/time/rate"

	"github.com/cubefs/namespacedb/metrics"
	"github.com/cubefs/namespacedb/proto"
)

const (
	eventQueued   = "queued"
	eventMerged   = "merged"
	eventDeferred = "deferred"
	eventFlushed  = "flushed"
	eventDropped  = "dropped"
)

// Object is a pooled object with a dirty field mask.
type Object interface {
	ID() proto.Ino
	DirtyFields() proto.FieldMask
	// Flush writes the dirty fields and clears them. A failed flush leaves
	// the object dirty.
	Flush(ctx context.Context) error
}

// DirtyMask is an atomic field mask embedded by write-back objects.
type DirtyMask struct {
	mask uint32
}

func (d *DirtyMask) Mark(m proto.FieldMask) {
	for {
		old := atomic.LoadUint32(&d.mask)
		if atomic.CompareAndSwapUint32(&d.mask, old, old|uint32(m)) {
			return
		}
	}
}

// Take clears the mask and returns what was set.
func (d *DirtyMask) Take() proto.FieldMask {
	return proto.FieldMask(atomic.SwapUint32(&d.mask, 0))
}

func (d *DirtyMask) Fields() proto.FieldMask {
	return proto.FieldMask(atomic.LoadUint32(&d.mask))
}

type Config struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	// FlushRate caps flushes per second, zero is unlimited.
	FlushRate float64 `json:"flush_rate"`
}

func (c *Config) fillDefault() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type Queue struct {
	cfg     Config
	pool    taskpool.TaskPool
	limiter *rate.Limiter

	queued sync.Map // proto.Ino -> struct{}

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
	closed   bool
}

func New(cfg Config) *Queue {
	cfg.fillDefault()
	q := &Queue{
		cfg:  cfg,
		pool: taskpool.New(cfg.Workers, cfg.QueueSize),
		idle: make(chan struct{}),
	}
	close(q.idle)
	if cfg.FlushRate > 0 {
		burst := int(cfg.FlushRate)
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.FlushRate), burst)
	}
	return q
}

// Submit schedules a flush of obj and never blocks. It returns false when
// the task could not be queued; the object then stays dirty until its next
// submit, its eviction or an explicit flush.
func (q *Queue) Submit(ctx context.Context, obj Object) bool {
	span := trace.SpanFromContextSafe(ctx)
	id := obj.ID()
	if _, loaded := q.queued.LoadOrStore(id, struct{}{}); loaded {
		metrics.WriteBackEvents.WithLabelValues(eventMerged).Inc()
		return true
	}
	if !q.begin() {
		q.queued.Delete(id)
		metrics.WriteBackEvents.WithLabelValues(eventDeferred).Inc()
		return false
	}

	traceID := span.TraceID()
	if !q.pool.TryRun(func() { q.run(traceID, obj) }) {
		q.queued.Delete(id)
		q.end()
		span.Debugf("write-back queue full, inode %d deferred", id)
		metrics.WriteBackEvents.WithLabelValues(eventDeferred).Inc()
		return false
	}
	metrics.WriteBackEvents.WithLabelValues(eventQueued).Inc()
	return true
}

func (q *Queue) run(traceID string, obj Object) {
	defer q.end()
	span, ctx := trace.StartSpanFromContextWithTraceID(context.Background(), "writeback", traceID)
	defer span.Finish()

	// changes made from here on need a new task
	q.queued.Delete(obj.ID())
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			span.Warnf("write-back limiter: %s", err)
		}
	}
	q.flush(ctx, obj)
}

func (q *Queue) flush(ctx context.Context, obj Object) {
	mask := obj.DirtyFields()
	if mask == 0 {
		return
	}
	if err := obj.Flush(ctx); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("write-back of inode %d fields %v dropped: %s", obj.ID(), mask.Fields(), err)
		metrics.WriteBackEvents.WithLabelValues(eventDropped).Inc()
		return
	}
	metrics.WriteBackEvents.WithLabelValues(eventFlushed).Inc()
}

// FlushNow writes obj in the caller's goroutine. It always calls Flush so
// that an object can wait for a write already in flight.
func (q *Queue) FlushNow(ctx context.Context, obj Object) error {
	return obj.Flush(ctx)
}

func (q *Queue) begin() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.inflight == 0 {
		q.idle = make(chan struct{})
	}
	q.inflight++
	return true
}

func (q *Queue) end() {
	q.mu.Lock()
	q.inflight--
	if q.inflight == 0 {
		close(q.idle)
	}
	q.mu.Unlock()
}

// Pending returns the number of queued or running flushes.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Drain waits until every task submitted so far has finished.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, drains the queue and stops the workers.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	if err := q.Drain(ctx); err != nil {
		return err
	}
	q.pool.Close()
	return nil
}
