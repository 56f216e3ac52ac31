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

package blockio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/blockio"
	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
)

type noopInvalidator struct{}

func (noopInvalidator) InvalidateBlocks(dev device.ID) {}

func TestReadWriteRoundTripsThroughIDEDriver(t *testing.T) {
	registry := device.NewRegistry(noopInvalidator{})
	dev := registry.CreateIDEDevice(0)

	cache := buf.NewCache(4, nil)
	io := blockio.NewIO(cache, blockio.NewIDEDriver(), nil)

	b := io.Read(dev, 3, buf.HintDefault)
	b.Data[0] = 0xAB
	b.MarkDirty()
	io.Write(dev, b)
	io.Release(b)

	// Invalidate the cache entry directly to force a genuine re-read from
	// the simulated disk rather than a cache hit.
	cache.InvalidateBlocks(dev.ID())

	b2 := io.Read(dev, 3, buf.HintDefault)
	assert.EqualValues(t, 0xAB, b2.Data[0], "Write must persist to the backing IDE disk, not just the cache")
	io.Release(b2)
}

func TestZeroClearsBlock(t *testing.T) {
	registry := device.NewRegistry(noopInvalidator{})
	dev := registry.CreateIDEDevice(0)

	cache := buf.NewCache(4, nil)
	io := blockio.NewIO(cache, blockio.NewIDEDriver(), nil)

	b := io.Read(dev, 1, buf.HintDefault)
	b.Data[0] = 0xFF
	io.Write(dev, b)
	io.Release(b)

	io.Zero(dev, 1)
	cache.InvalidateBlocks(dev.ID())

	b2 := io.Read(dev, 1, buf.HintDefault)
	assert.EqualValues(t, 0, b2.Data[0])
	io.Release(b2)
}

type fakeBacking struct {
	data [4096]byte
}

func (f *fakeBacking) ReadAt(dst []byte, off int64) (int, error) {
	return copy(dst, f.data[off:]), nil
}
func (f *fakeBacking) WriteAt(src []byte, off int64) (int, error) {
	return copy(f.data[off:], src), nil
}
func (f *fakeBacking) Dup() device.BackingFile { return f }
func (f *fakeBacking) Release()                {}

func TestLoopDriverReadsAndWritesBackingFile(t *testing.T) {
	registry := device.NewRegistry(noopInvalidator{})
	backing := &fakeBacking{}
	dev := registry.CreateLoopDevice(backing)

	cache := buf.NewCache(4, nil)
	io := blockio.NewIO(cache, nil, blockio.NewLoopDriver(registry))

	b := io.Read(dev, 0, buf.HintDefault)
	b.Data[5] = 0x7A
	io.Write(dev, b)
	io.Release(b)

	require.EqualValues(t, 0x7A, backing.data[5])
}

func TestReadForUnsupportedKindPanics(t *testing.T) {
	registry := device.NewRegistry(noopInvalidator{})
	dev := registry.CreateObjDevice()

	cache := buf.NewCache(4, nil)
	io := blockio.NewIO(cache, blockio.NewIDEDriver(), blockio.NewLoopDriver(registry))

	assert.Panics(t, func() { io.Read(dev, 0, buf.HintDefault) })
}
