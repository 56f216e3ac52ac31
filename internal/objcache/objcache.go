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

// Package objcache implements the object cache of spec.md §4.6: it sits
// between objfs and objdisk, presenting random access to variable-length
// objects while memoising block-sized slices in the shared buffer cache
// under keys (object name, block index).
package objcache

import (
	"fmt"

	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/metrics"
	"github.com/xv6kernel/core/internal/objdisk"
)

// Padding is the number of blocks around a requested range that are
// fetched with the default (cache-retaining) hint; blocks outside that
// window are fetched NO_CACHE so a large sequential scan cannot evict
// hot buffers (spec.md §4.6).
const Padding = 4

// Cache wraps a shared buf.Cache and an objdisk.Storage for one obj
// device.
type Cache struct {
	bufs    *buf.Cache
	storage *objdisk.Storage
	dev     device.ID
	metrics *metrics.ObjCacheMetrics
}

// New builds an object cache for dev's storage, sharing the buffer pool
// bufs with the native filesystem (spec.md §2 row 2: "a shared buffer
// cache").
func New(bufs *buf.Cache, storage *objdisk.Storage, dev device.ID, m *metrics.ObjCacheMetrics) *Cache {
	return &Cache{bufs: bufs, storage: storage, dev: dev, metrics: m}
}

func blockRange(off, n int64) (first, last uint32) {
	first = uint32(off / buf.BSIZE)
	last = uint32((off + n - 1) / buf.BSIZE)
	return
}

// fetchBlocks ensures every block in [first,last] is a valid buffer,
// fetching the whole object body once on a miss and scattering it across
// buffers. Blocks within Padding of [wantFirst,wantLast] are cached with
// the default hint; blocks outside that window use NO_CACHE.
func (c *Cache) fetchBlocks(name string, first, last, wantFirst, wantLast uint32) ([]*buf.Buffer, error) {
	var body []byte
	var bodyLoaded bool

	bufs := make([]*buf.Buffer, 0, last-first+1)
	for bn := first; bn <= last; bn++ {
		hint := buf.HintNoCache
		if bn+Padding >= wantFirst && bn <= wantLast+Padding {
			hint = buf.HintDefault
		}

		b := c.bufs.Get(buf.Key{Dev: c.dev, Object: name, Idx: bn}, hint)
		if b.Valid() {
			if c.metrics != nil {
				c.metrics.Hit()
			}
			bufs = append(bufs, b)
			continue
		}

		if c.metrics != nil {
			c.metrics.Miss()
		}
		if !bodyLoaded {
			var err error
			body, err = c.storage.GetObject(name)
			if err != nil {
				for _, rb := range bufs {
					c.bufs.Release(rb)
				}
				c.bufs.Release(b)
				return nil, err
			}
			bodyLoaded = true
		}

		start := int(bn) * buf.BSIZE
		if start < len(body) {
			end := start + buf.BSIZE
			if end > len(body) {
				end = len(body)
			}
			copy(b.Data[:], body[start:end])
		}
		b.SetValid(true)
		bufs = append(bufs, b)
	}
	return bufs, nil
}

// Add creates a new object and seeds the cache with its initial contents.
func (c *Cache) Add(name string, data []byte) error {
	if err := c.storage.AddObject(name, data); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	first, last := blockRange(0, int64(len(data)))
	bufs, err := c.fetchBlocks(name, first, last, first, last)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		c.bufs.Release(b)
	}
	return nil
}

// Read copies len(dst) bytes starting at off out of name's cached blocks,
// per spec.md §4.6's "caller supplies (offset, len)".
func (c *Cache) Read(name string, dst []byte, off int64) (int, error) {
	size, ok := c.storage.ObjectSize(name)
	if !ok {
		return 0, fmt.Errorf("objcache: object %q does not exist", name)
	}
	if off < 0 || off > size {
		return 0, fmt.Errorf("objcache: read offset %d out of range for size %d", off, size)
	}
	n := int64(len(dst))
	if off+n > size {
		n = size - off
	}
	if n <= 0 {
		return 0, nil
	}

	first, last := blockRange(off, n)
	bufs, err := c.fetchBlocks(name, first, last, first, last)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, b := range bufs {
			c.bufs.Release(b)
		}
	}()

	total := int64(0)
	for i, b := range bufs {
		bn := first + uint32(i)
		blockStart := int64(bn) * buf.BSIZE
		srcLo := int64(0)
		if off > blockStart {
			srcLo = off - blockStart
		}
		srcHi := int64(buf.BSIZE)
		if blockStart+srcHi > off+n {
			srcHi = off + n - blockStart
		}
		if srcLo >= srcHi {
			continue
		}
		copied := int64(copy(dst[total:total+(srcHi-srcLo)], b.Data[srcLo:srcHi]))
		total += copied
	}
	return int(total), nil
}

// Write is write-through: it updates both the cached blocks and objdisk,
// per spec.md §4.6.
func (c *Cache) Write(name string, src []byte, off int64) (int, error) {
	size, ok := c.storage.ObjectSize(name)
	if !ok {
		return 0, fmt.Errorf("objcache: object %q does not exist", name)
	}

	newSize := size
	if off+int64(len(src)) > newSize {
		newSize = off + int64(len(src))
	}

	body, err := c.storage.GetObject(name)
	if err != nil {
		return 0, err
	}
	if int64(len(body)) < newSize {
		grown := make([]byte, newSize)
		copy(grown, body)
		body = grown
	}
	copy(body[off:off+int64(len(src))], src)
	if err := c.storage.WriteObject(name, body); err != nil {
		return 0, err
	}

	if len(src) > 0 {
		first, last := blockRange(off, int64(len(src)))
		// Invalidate affected buffers so the next fetch reflects the new
		// write-through contents (cheaper than re-copying into place here
		// since object sizes may have shifted block boundaries).
		c.invalidateRange(name, first, last)
		bufs, err := c.fetchBlocks(name, first, last, first, last)
		if err != nil {
			return 0, err
		}
		for _, b := range bufs {
			c.bufs.Release(b)
		}
	}
	return len(src), nil
}

func (c *Cache) invalidateRange(name string, first, last uint32) {
	for bn := first; bn <= last; bn++ {
		c.bufs.InvalidateObjectBlock(c.dev, name, bn)
	}
}

// Delete removes name from objdisk and drops any cached blocks for it.
func (c *Cache) Delete(name string) error {
	if err := c.storage.DeleteObject(name); err != nil {
		return err
	}
	c.bufs.InvalidateObject(c.dev, name)
	return nil
}

// ObjectSize reports name's current size.
func (c *Cache) ObjectSize(name string) (int64, bool) {
	return c.storage.ObjectSize(name)
}

// Exists reports whether name currently names a live object.
func (c *Cache) Exists(name string) bool {
	return c.storage.Exists(name)
}
