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

package walog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/blockio"
	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/walog"
)

type noopInvalidator struct{}

func (noopInvalidator) InvalidateBlocks(dev device.ID) {}

func newFixture(t *testing.T) (*blockio.IO, *device.Device, *walog.Log) {
	t.Helper()
	registry := device.NewRegistry(noopInvalidator{})
	dev := registry.CreateIDEDevice(0)
	cache := buf.NewCache(64, nil)
	io := blockio.NewIO(cache, blockio.NewIDEDriver(), nil)

	const logStart, logSize = 1, walog.LogSize + 1
	log := walog.Open(io, dev, logStart, logSize, nil)
	return io, dev, log
}

func TestCommitInstallsHomeBlocks(t *testing.T) {
	io, dev, log := newFixture(t)

	log.BeginOp()
	b := io.Read(dev, 100, buf.HintDefault)
	b.Data[0] = 0x11
	log.LogWrite(b)
	io.Release(b)
	log.EndOp()

	b2 := io.Read(dev, 100, buf.HintDefault)
	assert.EqualValues(t, 0x11, b2.Data[0], "EndOp's commit must install the transaction into its home block")
	io.Release(b2)
}

func TestLogWriteOutsideTransactionPanics(t *testing.T) {
	io, dev, log := newFixture(t)
	b := io.Read(dev, 0, buf.HintDefault)
	assert.Panics(t, func() { log.LogWrite(b) })
	io.Release(b)
}

func TestEndOpWithoutBeginOpPanics(t *testing.T) {
	_, _, log := newFixture(t)
	assert.Panics(t, func() { log.EndOp() })
}

func TestLogWriteAbsorbsRepeatWritesToSameBlock(t *testing.T) {
	io, dev, log := newFixture(t)

	log.BeginOp()
	b := io.Read(dev, 5, buf.HintDefault)
	b.Data[0] = 1
	log.LogWrite(b)
	b.Data[0] = 2
	log.LogWrite(b)
	io.Release(b)
	log.EndOp()

	require.Contains(t, log.String(), "n=0", "after commit the header must be cleared")

	b2 := io.Read(dev, 5, buf.HintDefault)
	assert.EqualValues(t, 2, b2.Data[0])
	io.Release(b2)
}

func TestNestedBeginEndOpOnlyCommitsOnLast(t *testing.T) {
	io, dev, log := newFixture(t)

	log.BeginOp()
	log.BeginOp()

	b := io.Read(dev, 7, buf.HintDefault)
	b.Data[0] = 9
	log.LogWrite(b)
	io.Release(b)

	log.EndOp() // outstanding drops to 1, no commit yet

	b2 := io.Read(dev, 7, buf.HintDefault)
	// Not yet installed to its home block necessarily (it's the same block,
	// cache-coherent either way), so check via the log's own bookkeeping
	// instead of block content.
	io.Release(b2)
	assert.Contains(t, log.String(), "outstanding=1")

	log.EndOp() // final EndOp commits
	assert.Contains(t, log.String(), "outstanding=0")
}

func TestOpenRecoversCommittedTransactionAfterCrash(t *testing.T) {
	registry := device.NewRegistry(noopInvalidator{})
	dev := registry.CreateIDEDevice(0)
	driver := blockio.NewIDEDriver()
	cache := buf.NewCache(64, nil)
	io := blockio.NewIO(cache, driver, nil)

	const logStart, logSize = 1, walog.LogSize + 1

	// Simulate a crash that landed after the header+log-slot writes of a
	// commit but before installTransaction copied the slot into its home
	// block 42: write the header (n=1, block[0]=42) and the log's first
	// data slot directly, bypassing Log entirely, and leave block 42 at its
	// old value.
	hdr := io.Read(dev, logStart, buf.HintDefault)
	hdr.Data[0] = 1 // n = 1 (little-endian uint32, low byte only needed here)
	var blockNoBytes [4]byte
	blockNoBytes[0] = 42
	copy(hdr.Data[4:8], blockNoBytes[:])
	io.Write(dev, hdr)
	io.Release(hdr)

	slot := io.Read(dev, logStart+1, buf.HintDefault)
	slot.Data[0] = 0x55
	io.Write(dev, slot)
	io.Release(slot)

	home := io.Read(dev, 42, buf.HintDefault)
	home.Data[0] = 0 // stale: the crash happened before installation
	io.Write(dev, home)
	io.Release(home)

	// Open must replay the committed-but-not-installed transaction.
	log := walog.Open(io, dev, logStart, logSize, nil)
	assert.Contains(t, log.String(), "n=0", "recovery must clear the header once replayed")

	cache.InvalidateBlocks(dev.ID())
	got := io.Read(dev, 42, buf.HintDefault)
	assert.EqualValues(t, 0x55, got.Data[0], "Open must install the recovered transaction into its home block")
	io.Release(got)
}
