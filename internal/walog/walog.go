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

// Package walog implements the write-ahead log of spec.md §4.4: a bounded
// number of buffer writes grouped into one atomic transaction on native-fs
// devices. Loop-device writes bypass the log entirely (the file backing a
// loop device is itself journalled by its own filesystem).
package walog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/xv6kernel/core/internal/blockio"
	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/ksync"
	"github.com/xv6kernel/core/internal/metrics"
)

// MaxOpBlocks bounds the number of distinct blocks one begin_op/end_op
// transaction may write.
const MaxOpBlocks = 10

// LogSize bounds the in-memory and on-disk log, per spec.md §4.4.
const LogSize = MaxOpBlocks * 3

// header mirrors the on-disk log header block: a count and a flat block
// array, per spec.md §4.4.
type header struct {
	n     int
	block [LogSize]uint32
}

func (h *header) encode() [buf.BSIZE]byte {
	var data [buf.BSIZE]byte
	binary.LittleEndian.PutUint32(data[0:4], uint32(h.n))
	for i := 0; i < h.n; i++ {
		binary.LittleEndian.PutUint32(data[4+4*i:8+4*i], h.block[i])
	}
	return data
}

func (h *header) decode(data [buf.BSIZE]byte) {
	h.n = int(binary.LittleEndian.Uint32(data[0:4]))
	if h.n > LogSize {
		panic("walog: corrupt header, n exceeds LogSize")
	}
	for i := 0; i < h.n; i++ {
		h.block[i] = binary.LittleEndian.Uint32(data[4+4*i : 8+4*i])
	}
}

// Log is the in-memory state of spec.md §4.4: {outstanding, committing,
// lh.n} guarded by a single spinlock, plus the wait queue begin_op sleeps
// on.
type Log struct {
	mu sync.Mutex // spinlock, spec.md §5 lock-order position 6
	wq ksync.WaitQueue

	io    *blockio.IO
	dev   *device.Device
	start uint32 // sb.logstart: first block of the log region
	size  uint32 // sb.nlog: number of blocks in the log region

	// GUARDED_BY(mu)
	outstanding int
	committing  bool
	lh          header

	metrics *metrics.KernelMetrics
}

// Open attaches a Log to the log region [start, start+size) of dev,
// replaying any committed-but-not-installed transaction left by a prior
// crash (what spec.md §4.4 calls the log's atomicity guarantee).
func Open(io *blockio.IO, dev *device.Device, start, size uint32, m *metrics.KernelMetrics) *Log {
	if size < 1 {
		panic("walog: log region must hold at least the header block")
	}
	l := &Log{io: io, dev: dev, start: start, size: size, metrics: m}
	l.wq.Bind(&l.mu)
	l.recover()
	return l
}

func (l *Log) readHeader() header {
	b := l.io.Read(l.dev, l.start, buf.HintDefault)
	var h header
	h.decode(b.Data)
	l.io.Release(b)
	return h
}

func (l *Log) writeHeader(h *header) {
	b := l.io.Read(l.dev, l.start, buf.HintDefault)
	b.Data = h.encode()
	l.io.Write(l.dev, b)
	l.io.Release(b)
}

// recover installs any transaction that committed before a (simulated)
// crash, then clears the header. If the header is empty this is a no-op.
func (l *Log) recover() {
	h := l.readHeader()
	if h.n == 0 {
		return
	}
	l.installTransaction(&h)
	var empty header
	l.writeHeader(&empty)
}

// BeginOp must be called before any log_write in a transaction. It blocks
// while a commit is in progress or while admitting one more operation's
// worth of blocks would overflow the log.
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.committing || l.lh.n+(l.outstanding+1)*MaxOpBlocks > LogSize {
			l.wq.Sleep()
			continue
		}
		l.outstanding++
		return
	}
}

// EndOp closes out one BeginOp. The last outstanding operation triggers a
// commit, run with the spinlock released (spec.md §4.4: "commit runs with
// outstanding==0 && committing==1").
func (l *Log) EndOp() {
	l.mu.Lock()
	l.outstanding--
	if l.outstanding < 0 {
		l.mu.Unlock()
		panic("walog: EndOp without matching BeginOp")
	}

	doCommit := l.outstanding == 0
	if doCommit {
		l.committing = true
	} else {
		// Wake other waiters: the log may have room now even though this
		// transaction is not yet committing.
		l.wq.Wakeup()
	}
	l.mu.Unlock()

	if !doCommit {
		return
	}

	l.commit()

	l.mu.Lock()
	l.committing = false
	l.wq.Wakeup()
	l.mu.Unlock()
}

// LogWrite records that b must be included in the current transaction,
// absorbing repeat writes to the same block so one transaction never logs
// the same block twice.
func (l *Log) LogWrite(b *buf.Buffer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.outstanding < 1 {
		panic("walog: LogWrite outside of BeginOp/EndOp")
	}

	blockno := b.Key().Block
	for i := 0; i < l.lh.n; i++ {
		if l.lh.block[i] == blockno {
			b.MarkDirty()
			return
		}
	}

	if l.lh.n >= LogSize {
		panic("walog: transaction too big for the log")
	}

	l.lh.block[l.lh.n] = blockno
	l.lh.n++
	b.MarkDirty()
}

// commit copies every logged buffer into its log slot, persists the
// header (the true commit point), installs the transaction into its home
// blocks, then clears and re-persists the header.
func (l *Log) commit() {
	l.mu.Lock()
	h := l.lh
	l.mu.Unlock()

	if h.n == 0 {
		return
	}

	for i := 0; i < h.n; i++ {
		src := l.io.Read(l.dev, h.block[i], buf.HintDefault)
		dst := l.io.Read(l.dev, l.start+1+uint32(i), buf.HintDefault)
		dst.Data = src.Data
		l.io.Write(l.dev, dst)
		l.io.Release(dst)
		l.io.Release(src)
	}

	l.writeHeader(&h)
	l.installTransaction(&h)

	var empty header
	l.writeHeader(&empty)

	l.mu.Lock()
	l.lh = header{}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.LogCommit()
	}
}

// installTransaction copies every logged block from its log slot to its
// home block.
func (l *Log) installTransaction(h *header) {
	for i := 0; i < h.n; i++ {
		src := l.io.Read(l.dev, l.start+1+uint32(i), buf.HintDefault)
		dst := l.io.Read(l.dev, h.block[i], buf.HintDefault)
		dst.Data = src.Data
		l.io.Write(l.dev, dst)
		dst.ClearDirty()
		l.io.Release(dst)
		l.io.Release(src)
	}
}

func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("walog{n=%d outstanding=%d committing=%v}", l.lh.n, l.outstanding, l.committing)
}
