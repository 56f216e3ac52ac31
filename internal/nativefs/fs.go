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

// Package nativefs implements the block-based filesystem of spec.md §4.3:
// a superblock-described layout of [boot | super | log | inodes | bitmap |
// data], an inode cache of fixed size, and direct+singly-indirect block
// mapping, all built on top of internal/buf, internal/blockio, and
// internal/walog. It satisfies vfs.SuperblockOps the way the teacher's
// inode.InodeManager satisfies fuseutil's inode contract: one ops vtable
// wrapping a concrete backend.
package nativefs

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/xv6kernel/core/clock"
	"github.com/xv6kernel/core/internal/blockio"
	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/extiface"
	"github.com/xv6kernel/core/internal/metrics"
	"github.com/xv6kernel/core/internal/vfs"
	"github.com/xv6kernel/core/internal/walog"
)

const (
	// SBBlock is the fixed block number of the on-disk superblock.
	SBBlock = 1

	// NDIRECT/NINDIRECT/MAXFILE bound an inode's addressable data, matching
	// spec.md §4.3's "direct or singly-indirect blocks".
	NDIRECT   = 12
	NINDIRECT = buf.BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT

	// NINODE is the size of the in-memory inode cache.
	NINODE = 50

	// ROOTINO is the native filesystem's root inode number (spec.md §6:
	// "native fs starts at 1 (root)").
	ROOTINO = 1

	// dinodeSize is the on-disk size of one inode record: 4 uint16 fields,
	// one uint32, and NDIRECT+1 uint32 block addresses.
	dinodeSize = 2 + 2 + 2 + 2 + 4 + (NDIRECT+1)*4

	// sbMagic tags a block as a formatted native superblock.
	sbMagic = 0x10203040

	// bitsPerBlock is the number of free-block-bitmap bits one block holds.
	bitsPerBlock = buf.BSIZE * 8
)

// dinode is the on-disk inode record.
type dinode struct {
	Type  uint16
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

func (d *dinode) encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], d.Type)
	binary.LittleEndian.PutUint16(dst[2:4], d.Major)
	binary.LittleEndian.PutUint16(dst[4:6], d.Minor)
	binary.LittleEndian.PutUint16(dst[6:8], d.Nlink)
	binary.LittleEndian.PutUint32(dst[8:12], d.Size)
	for i, a := range d.Addrs {
		binary.LittleEndian.PutUint32(dst[12+4*i:16+4*i], a)
	}
}

func (d *dinode) decode(src []byte) {
	d.Type = binary.LittleEndian.Uint16(src[0:2])
	d.Major = binary.LittleEndian.Uint16(src[2:4])
	d.Minor = binary.LittleEndian.Uint16(src[4:6])
	d.Nlink = binary.LittleEndian.Uint16(src[6:8])
	d.Size = binary.LittleEndian.Uint32(src[8:12])
	for i := range d.Addrs {
		d.Addrs[i] = binary.LittleEndian.Uint32(src[12+4*i : 16+4*i])
	}
}

// ipb is the number of dinode records per block.
const ipb = buf.BSIZE / dinodeSize

// layout holds the derived positions of each on-disk region, computed
// once from the requested device size and persisted into the superblock
// block so a later Start call can confirm the device is already
// formatted.
type layout struct {
	size       uint32 // total blocks on the device
	nblocks    uint32 // data blocks
	ninodes    uint32 // inode slots
	nlog       uint32
	logStart   uint32
	inodeStart uint32
	bmapStart  uint32
	dataStart  uint32
}

func computeLayout(totalBlocks, ninodes uint32, nlog uint32) layout {
	ninodeBlocks := (ninodes + uint32(ipb) - 1) / uint32(ipb)
	logStart := uint32(SBBlock + 1)
	inodeStart := logStart + nlog
	bitmapBlocks := (totalBlocks + bitsPerBlock - 1) / bitsPerBlock
	bmapStart := inodeStart + ninodeBlocks
	dataStart := bmapStart + bitmapBlocks
	nblocks := uint32(0)
	if totalBlocks > dataStart {
		nblocks = totalBlocks - dataStart
	}
	return layout{
		size:       totalBlocks,
		nblocks:    nblocks,
		ninodes:    ninodes,
		nlog:       nlog,
		logStart:   logStart,
		inodeStart: inodeStart,
		bmapStart:  bmapStart,
		dataStart:  dataStart,
	}
}

func (l layout) encode(dst *[buf.BSIZE]byte) {
	binary.LittleEndian.PutUint32(dst[0:4], sbMagic)
	binary.LittleEndian.PutUint32(dst[4:8], l.size)
	binary.LittleEndian.PutUint32(dst[8:12], l.nblocks)
	binary.LittleEndian.PutUint32(dst[12:16], l.ninodes)
	binary.LittleEndian.PutUint32(dst[16:20], l.nlog)
	binary.LittleEndian.PutUint32(dst[20:24], l.logStart)
	binary.LittleEndian.PutUint32(dst[24:28], l.inodeStart)
	binary.LittleEndian.PutUint32(dst[28:32], l.bmapStart)
	binary.LittleEndian.PutUint32(dst[32:36], l.dataStart)
}

func decodeLayout(src *[buf.BSIZE]byte) (layout, bool) {
	if binary.LittleEndian.Uint32(src[0:4]) != sbMagic {
		return layout{}, false
	}
	var l layout
	l.size = binary.LittleEndian.Uint32(src[4:8])
	l.nblocks = binary.LittleEndian.Uint32(src[8:12])
	l.ninodes = binary.LittleEndian.Uint32(src[12:16])
	l.nlog = binary.LittleEndian.Uint32(src[16:20])
	l.logStart = binary.LittleEndian.Uint32(src[20:24])
	l.inodeStart = binary.LittleEndian.Uint32(src[24:28])
	l.bmapStart = binary.LittleEndian.Uint32(src[28:32])
	l.dataStart = binary.LittleEndian.Uint32(src[32:36])
	return l, true
}

// FS is one mounted native filesystem instance: the superblock handle,
// its log, its inode cache, and the device it's built on. It implements
// vfs.SuperblockOps.
type FS struct {
	io       *blockio.IO
	log      *walog.Log
	dev      *device.Device
	registry *device.Registry
	devsw    extiface.DevSwitch

	requestedInodes uint32
	lo              layout

	icMu   sync.Mutex // GUARDED: icache refcounts/valid flags, position 3 in spec.md §5
	icache [NINODE]*Inode

	root *Inode
	clk  clock.Clock
}

// SetClock overrides the filesystem's time source (real by default), e.g.
// with clock.SimulatedClock in tests that assert on mtimes.
func (fs *FS) SetClock(c clock.Clock) { fs.clk = c }

// NewFS builds (but does not format or start) a native filesystem over
// dev. totalBlocks/ninodes size a freshly formatted device; they are
// ignored if dev already carries a formatted superblock.
func NewFS(io *blockio.IO, registry *device.Registry, dev *device.Device, totalBlocks, ninodes uint32, m *metrics.KernelMetrics) *FS {
	lo := computeLayout(totalBlocks, ninodes, walog.LogSize)
	fs := &FS{
		io:              io,
		dev:             dev,
		registry:        registry,
		requestedInodes: ninodes,
		lo:              lo,
		clk:             clock.RealClock{},
	}
	fs.log = walog.Open(io, dev, lo.logStart, lo.nlog, m)
	for i := range fs.icache {
		fs.icache[i] = &Inode{fs: fs}
	}
	return fs
}

// SetDevSwitch installs the device-driver dispatch table used for T_DEV
// inodes (spec.md §6 devsw table).
func (fs *FS) SetDevSwitch(d extiface.DevSwitch) { fs.devsw = d }

// Start reads the on-disk superblock, formatting the device on first use
// (spec.md §4.9 step 3: "call native_fs_init ... invoke the backend's
// start(), which reads the on-disk super and root inode").
func (fs *FS) Start() error {
	b := fs.io.Read(fs.dev, SBBlock, buf.HintDefault)
	lo, ok := decodeLayout(&b.Data)
	fs.io.Release(b)

	if ok {
		fs.lo = lo
	} else {
		if err := fs.format(); err != nil {
			return fmt.Errorf("nativefs: format: %w", err)
		}
	}

	root, err := fs.IGet(ROOTINO)
	if err != nil {
		return fmt.Errorf("nativefs: load root inode: %w", err)
	}
	ri := root.(*Inode)
	ri.ILock()
	if ri.dtype != vfs.TypeDir {
		ri.IUnlock()
		return fmt.Errorf("nativefs: root inode is not a directory")
	}
	ri.IUnlock()
	fs.root = ri
	return nil
}

// format lays out a fresh superblock and root directory. Data and bitmap
// blocks are left at their zero value, which already means "free"/"hole".
func (fs *FS) format() error {
	var sbData [buf.BSIZE]byte
	fs.lo.encode(&sbData)
	b := fs.io.Read(fs.dev, SBBlock, buf.HintDefault)
	b.Data = sbData
	fs.io.Write(fs.dev, b)
	fs.io.Release(b)

	fs.log.BeginOp()
	root, err := fs.ialloc(vfs.TypeDir)
	if err != nil {
		fs.log.EndOp()
		return err
	}
	root.ILock()
	if err := root.dirlinkLocked(".", root.inum); err != nil {
		root.IUnlock()
		fs.log.EndOp()
		return err
	}
	if err := root.dirlinkLocked("..", root.inum); err != nil {
		root.IUnlock()
		fs.log.EndOp()
		return err
	}
	root.iupdateLocked()
	root.IUnlock()
	fs.log.EndOp()

	if root.inum != ROOTINO {
		return fmt.Errorf("nativefs: first allocated inode was %d, want %d", root.inum, ROOTINO)
	}
	return nil
}

// Destroy releases the root inode and drops the device reference,
// mirroring spec.md §4.9's umount path: "release superblock (which runs
// backend destroy -> releases the root inode -> device_put)".
func (fs *FS) Destroy() {
	if fs.root != nil {
		fs.root.IPut()
	}
	fs.registry.Put(fs.dev)
}

// Root returns the filesystem's root inode.
func (fs *FS) Root() vfs.Inode { return fs.root }

// balloc scans the bitmap for a free data block, claims it through the
// log, zeroes it, and returns its block number. Panics if the device is
// full, per spec.md §4.3.
func (fs *FS) balloc() uint32 {
	for bn := uint32(0); bn < fs.lo.nblocks; bn += bitsPerBlock {
		bitmapBlock := fs.lo.bmapStart + bn/bitsPerBlock
		b := fs.io.Read(fs.dev, bitmapBlock, buf.HintDefault)
		for bi := uint32(0); bi < bitsPerBlock && bn+bi < fs.lo.nblocks; bi++ {
			byteIdx := bi / 8
			mask := byte(1 << (bi % 8))
			if b.Data[byteIdx]&mask == 0 {
				b.Data[byteIdx] |= mask
				fs.log.LogWrite(b)
				fs.io.Release(b)
				blockno := fs.lo.dataStart + bn + bi
				fs.io.Zero(fs.dev, blockno)
				return blockno
			}
		}
		fs.io.Release(b)
	}
	panic("nativefs: balloc: out of data blocks")
}

// bfree clears bn's bit in the bitmap.
func (fs *FS) bfree(bn uint32) {
	rel := bn - fs.lo.dataStart
	bitmapBlock := fs.lo.bmapStart + rel/bitsPerBlock
	bi := rel % bitsPerBlock
	b := fs.io.Read(fs.dev, bitmapBlock, buf.HintDefault)
	byteIdx := bi / 8
	mask := byte(1 << (bi % 8))
	b.Data[byteIdx] &^= mask
	fs.log.LogWrite(b)
	fs.io.Release(b)
}

func (fs *FS) inodeBlockFor(inum uint32) uint32 {
	return fs.lo.inodeStart + inum/uint32(ipb)
}

// ialloc scans the inode region for a free (type==0) slot, stamps its
// type, and returns an unlocked in-memory handle with one reference. The
// new inode is stamped Nlink=1 immediately, mirroring xv6 create()'s
// "ilock; ip->nlink = 1; iupdate" ordering, before any dirent ever points
// at it (unlink, once the dirent is cleared, is what brings it back to
// zero). REQUIRES a log transaction is open.
func (fs *FS) ialloc(stype int) (*Inode, error) {
	for inum := uint32(1); inum < fs.lo.ninodes; inum++ {
		blockno := fs.inodeBlockFor(inum)
		b := fs.io.Read(fs.dev, blockno, buf.HintDefault)
		off := (inum % uint32(ipb)) * dinodeSize
		var d dinode
		d.decode(b.Data[off : off+dinodeSize])
		if d.Type == vfs.TypeFree {
			d.Type = uint16(stype)
			d.Nlink = 1
			d.encode(b.Data[off : off+dinodeSize])
			fs.log.LogWrite(b)
			fs.io.Release(b)
			return fs.iget(inum), nil
		}
		fs.io.Release(b)
	}
	panic("nativefs: ialloc: out of inodes")
}

// IAlloc implements vfs.SuperblockOps.
func (fs *FS) IAlloc(ctx context.Context, stype int) (vfs.Inode, error) {
	fs.log.BeginOp()
	defer fs.log.EndOp()
	return fs.ialloc(stype)
}

// iget returns the cached in-memory inode for inum, bumping its
// reference count, allocating a cache slot on first reference.
func (fs *FS) iget(inum uint32) *Inode {
	fs.icMu.Lock()
	defer fs.icMu.Unlock()

	var free *Inode
	for _, ip := range fs.icache {
		if ip.ref > 0 && ip.inum == inum {
			ip.ref++
			return ip
		}
		if free == nil && ip.ref == 0 {
			free = ip
		}
	}
	if free == nil {
		panic("nativefs: iget: inode cache exhausted")
	}
	free.inum = inum
	free.ref = 1
	free.valid = false
	return free
}

// IGet implements vfs.SuperblockOps.
func (fs *FS) IGet(inum uint32) (vfs.Inode, error) {
	if inum == 0 || inum >= fs.lo.ninodes {
		return nil, fmt.Errorf("nativefs: inode number %d out of range", inum)
	}
	return fs.iget(inum), nil
}
