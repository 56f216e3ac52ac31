// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package buf implements the shared buffer cache of spec.md §4.2: a fixed
// pool of fixed-size buffers keyed by (device, id), with LRU replacement,
// per-buffer sleeplocks, and an allocation hint that lets a caller avoid
// evicting hot data with a large cold scan (spec.md §4.2's rationale for
// NO_CACHE).
//
// LOCK ORDERING (spec.md §5, position 4): the cache's list lock is taken
// with no other lock held except a buffer's own sleeplock, which is always
// acquired after the list lock is released.
package buf

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/ksync"
	"github.com/xv6kernel/core/internal/metrics"
)

// BSIZE is the fixed size of a cached block, matching spec.md §3.
const BSIZE = 1024

// NBUF is the default size of the shared pool. spec.md §8 scenario (d)
// exercises exhaustion directly against whatever pool size a Cache is
// constructed with.
const NBUF = 64

// Hint selects where a released buffer re-enters the LRU list.
type Hint int

const (
	// HintDefault re-enters at the MRU head.
	HintDefault Hint = iota
	// HintNoCache re-enters at the LRU tail, so it is evicted before any
	// default-hint buffer. Used by the object cache's padding window (see
	// spec.md §4.6).
	HintNoCache
)

// Key uniquely identifies a cached block. Native-fs buffers set Block and
// leave Object empty; obj-cache buffers set Object/Idx and leave Block
// zero. The two id shapes share one flat struct so a single pool (per
// spec.md §2 row 2: "a shared buffer cache") backs both backends.
type Key struct {
	Dev    device.ID
	Block  uint32
	Object string
	Idx    uint32
}

// Buffer is one fixed-size cached block.
type Buffer struct {
	mu ksync.Sleeplock

	key   Key
	valid bool
	dirty bool
	hint  Hint

	// GUARDED_BY(cache.mu)
	refcount int
	elem     *list.Element

	Data [BSIZE]byte
}

// Key returns the buffer's (device, id).
func (b *Buffer) Key() Key { return b.key }

// Valid reports whether Data reflects the backing store.
func (b *Buffer) Valid() bool { return b.valid }

// SetValid marks the buffer as reflecting the backing store, after a
// driver has populated Data.
func (b *Buffer) SetValid(v bool) { b.valid = v }

// Dirty reports whether Data has been modified since it was last written
// through to the backing store or the log.
func (b *Buffer) Dirty() bool { return b.dirty }

// MarkDirty marks the buffer modified, e.g. after a log_write.
func (b *Buffer) MarkDirty() { b.dirty = true }

// ClearDirty marks the buffer clean, e.g. after a successful write-back.
func (b *Buffer) ClearDirty() { b.dirty = false }

// Cache is the fixed pool of NBUF buffers.
type Cache struct {
	mu      sync.Mutex // the list lock; spec.md §5 lock-order position 4
	list    *list.List // front = MRU, back = LRU
	index   map[Key]*Buffer
	enabled bool

	metrics *metrics.BufMetrics
}

// NewCache allocates a pool of n buffers. If m is non-nil, cache hit/miss
// counters are reported through it.
func NewCache(n int, m *metrics.BufMetrics) *Cache {
	c := &Cache{
		list:    list.New(),
		index:   make(map[Key]*Buffer, n),
		enabled: true,
		metrics: m,
	}
	for i := 0; i < n; i++ {
		b := &Buffer{}
		b.elem = c.list.PushBack(b)
	}
	return c
}

// Get returns a locked buffer for key, either a cache hit or a freshly
// recycled buffer, per spec.md §4.2. It panics if the pool has no buffer
// with refcount 0 and !dirty to recycle (spec.md §7 resource exhaustion:
// "no buffers" is fatal; spec.md §8 scenario (d)).
func (c *Cache) Get(key Key, hint Hint) *Buffer {
	c.mu.Lock()

	if b, ok := c.index[key]; ok {
		b.refcount++
		c.list.MoveToFront(b.elem)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.MinorFault()
		}
		b.mu.Acquire()
		return b
	}

	// Scan LRU -> MRU for a buffer with refcount 0 and !dirty.
	var victim *Buffer
	for e := c.list.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buffer)
		if b.refcount == 0 && !b.dirty {
			victim = b
			break
		}
	}

	if victim == nil {
		c.mu.Unlock()
		panic("buf: no free buffers")
	}

	if victim.valid {
		delete(c.index, victim.key)
	}

	victim.key = key
	victim.valid = false
	victim.dirty = false
	victim.hint = hint
	victim.refcount = 1
	c.index[key] = victim
	c.list.MoveToFront(victim.elem)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.MajorFault()
	}
	victim.mu.Acquire()
	return victim
}

// Release drops the sleeplock and the refcount on b. When the refcount
// hits zero, b is invalidated (if the cache is disabled and b isn't
// dirty) and reinserted at the MRU head or LRU tail according to its
// allocation hint.
func (c *Cache) Release(b *Buffer) {
	b.mu.Release()

	c.mu.Lock()
	defer c.mu.Unlock()

	b.refcount--
	if b.refcount < 0 {
		panic("buf: refcount underflow")
	}
	if b.refcount != 0 {
		return
	}

	if !c.enabled && !b.dirty {
		if b.valid {
			delete(c.index, b.key)
		}
		b.valid = false
	}

	if b.hint == HintNoCache || !c.enabled {
		c.list.MoveToBack(b.elem)
	} else {
		c.list.MoveToFront(b.elem)
	}
}

// InvalidateBlocks clears VALID and DIRTY on every buffer belonging to
// dev, e.g. when the device is about to be destroyed.
func (c *Cache) InvalidateBlocks(dev device.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.list.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buffer)
		if b.valid && b.key.Dev == dev {
			b.valid = false
			b.dirty = false
			delete(c.index, b.key)
		}
	}
}

// InvalidateObjectBlock clears VALID|DIRTY on the single buffer caching
// block bn of object name on dev, if present.
func (c *Cache) InvalidateObjectBlock(dev device.ID, name string, bn uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key{Dev: dev, Object: name, Idx: bn}
	if b, ok := c.index[key]; ok {
		b.valid = false
		b.dirty = false
		delete(c.index, key)
	}
}

// InvalidateObject clears VALID|DIRTY on every buffer caching a block of
// object name on dev, e.g. after the object is deleted.
func (c *Cache) InvalidateObject(dev device.ID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.list.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buffer)
		if b.valid && b.key.Dev == dev && b.key.Object == name {
			b.valid = false
			b.dirty = false
			delete(c.index, b.key)
		}
	}
}

// EnableCache re-enables normal caching behavior.
func (c *Cache) EnableCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// DisableCache turns off caching: idle clean buffers are invalidated
// immediately so subsequent reads observe cold-cache behavior, and any
// buffer released while disabled is invalidated (if clean) and pushed to
// the LRU tail.
func (c *Cache) DisableCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false

	for e := c.list.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buffer)
		if b.refcount == 0 && b.valid && !b.dirty {
			b.valid = false
			delete(c.index, b.key)
			c.list.MoveToBack(b.elem)
		}
	}
}

// Len returns the number of buffers in the pool, mostly for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

func (k Key) String() string {
	if k.Object != "" {
		return fmt.Sprintf("obj(%d,%s,%d)", k.Dev, k.Object, k.Idx)
	}
	return fmt.Sprintf("blk(%d,%d)", k.Dev, k.Block)
}
