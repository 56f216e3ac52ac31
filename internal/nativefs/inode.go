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

package nativefs

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/ksync"
	"github.com/xv6kernel/core/internal/vfs"
)

// Inode is one in-memory native-fs inode cache slot. It implements
// vfs.Inode and, so that a regular file can back a loop device,
// device.BackingFile.
type Inode struct {
	fs *FS
	mu ksync.Sleeplock

	// GUARDED_BY fs.icMu
	inum uint32
	ref  int

	// GUARDED_BY mu; meaningful only once valid is true (lazy ilock, spec.md
	// §4.3).
	valid bool
	dtype int
	major uint16
	minor uint16
	nlink uint16
	size  uint32
	addrs [NDIRECT + 1]uint32

	// mtime is in-memory only: spec.md §3's dinode record has no timestamp
	// field, so it does not survive a restart.
	mtime time.Time

	mountPoint any
}

// Num returns the inode number.
func (ip *Inode) Num() uint32 { return ip.inum }

// Type returns the on-disk type. REQUIRES ILock.
func (ip *Inode) Type() int { return ip.dtype }

// ILock loads the on-disk record on first use, per spec.md §4.3's "lazy"
// ilock.
func (ip *Inode) ILock() {
	ip.mu.Acquire()
	if ip.valid {
		return
	}

	blockno := ip.fs.inodeBlockFor(ip.inum)
	b := ip.fs.io.Read(ip.fs.dev, blockno, buf.HintDefault)
	off := (ip.inum % uint32(ipb)) * dinodeSize
	var d dinode
	d.decode(b.Data[off : off+dinodeSize])
	ip.fs.io.Release(b)

	if d.Type == vfs.TypeFree {
		panic(fmt.Sprintf("nativefs: ilock: inode %d has no content", ip.inum))
	}

	ip.dtype = int(d.Type)
	ip.major = d.Major
	ip.minor = d.Minor
	ip.nlink = d.Nlink
	ip.mtime = ip.fs.clk.Now()
	ip.size = d.Size
	ip.addrs = d.Addrs
	ip.valid = true
}

// IUnlock releases the sleeplock acquired by ILock.
func (ip *Inode) IUnlock() { ip.mu.Release() }

// IDup returns a new reference to ip.
func (ip *Inode) IDup() vfs.Inode {
	ip.fs.icMu.Lock()
	defer ip.fs.icMu.Unlock()
	ip.ref++
	return ip
}

// Dup implements device.BackingFile for loop devices backed by a native
// file.
func (ip *Inode) Dup() device.BackingFile { ip.IDup(); return ip }

// IPut drops one reference. If this was the last reference to an unlinked
// inode, its data is reclaimed before the slot is freed, per spec.md
// §4.3.
func (ip *Inode) IPut() {
	ip.ILock()
	ip.fs.icMu.Lock()
	soleRef := ip.ref == 1
	ip.fs.icMu.Unlock()

	if ip.valid && ip.nlink == 0 && soleRef {
		ip.fs.log.BeginOp()
		ip.itruncLocked()
		ip.dtype = vfs.TypeFree
		ip.iupdateLocked()
		ip.fs.log.EndOp()
		ip.valid = false
	}
	ip.IUnlock()

	ip.fs.icMu.Lock()
	ip.ref--
	if ip.ref < 0 {
		ip.fs.icMu.Unlock()
		panic("nativefs: inode refcount underflow")
	}
	ip.fs.icMu.Unlock()
}

// Release implements device.BackingFile.
func (ip *Inode) Release() { ip.IPut() }

// IUnlockPut is IUnlock followed by IPut.
func (ip *Inode) IUnlockPut() {
	ip.IUnlock()
	ip.IPut()
}

func (ip *Inode) iupdateLocked() {
	blockno := ip.fs.inodeBlockFor(ip.inum)
	b := ip.fs.io.Read(ip.fs.dev, blockno, buf.HintDefault)
	off := (ip.inum % uint32(ipb)) * dinodeSize
	d := dinode{
		Type:  uint16(ip.dtype),
		Major: ip.major,
		Minor: ip.minor,
		Nlink: ip.nlink,
		Size:  ip.size,
		Addrs: ip.addrs,
	}
	d.encode(b.Data[off : off+dinodeSize])
	ip.fs.log.LogWrite(b)
	ip.fs.io.Release(b)
}

// IUpdate writes the in-memory metadata back to disk in its own
// transaction. LOCKS_REQUIRED (sleeplock).
func (ip *Inode) IUpdate() {
	ip.fs.log.BeginOp()
	ip.iupdateLocked()
	ip.fs.log.EndOp()
}

// bmap returns the block number holding file offset block bn, allocating
// a direct or singly-indirect block as needed. REQUIRES an open log
// transaction and the sleeplock held.
func (ip *Inode) bmap(bn uint32) uint32 {
	if bn < NDIRECT {
		addr := ip.addrs[bn]
		if addr == 0 {
			addr = ip.fs.balloc()
			ip.addrs[bn] = addr
		}
		return addr
	}

	bn -= NDIRECT
	if bn >= NINDIRECT {
		panic("nativefs: bmap: offset beyond MAXFILE")
	}

	indirect := ip.addrs[NDIRECT]
	if indirect == 0 {
		indirect = ip.fs.balloc()
		ip.addrs[NDIRECT] = indirect
	}

	b := ip.fs.io.Read(ip.fs.dev, indirect, buf.HintDefault)
	off := bn * 4
	addr := binary.LittleEndian.Uint32(b.Data[off : off+4])
	if addr == 0 {
		addr = ip.fs.balloc()
		binary.LittleEndian.PutUint32(b.Data[off:off+4], addr)
		ip.fs.log.LogWrite(b)
	}
	ip.fs.io.Release(b)
	return addr
}

// readiLocked implements Readi without opening a log transaction (reads
// never allocate).
func (ip *Inode) readiLocked(ctx context.Context, dst []byte, off int64) (int, error) {
	if ip.dtype == vfs.TypeDev {
		if ip.fs.devsw == nil {
			return 0, fmt.Errorf("nativefs: no device switch configured for major %d", ip.major)
		}
		return ip.fs.devsw.Read(uint32(ip.minor), len(dst), [][]byte{dst})
	}

	if off < 0 || uint64(off) > uint64(ip.size) {
		return 0, vfs.ErrInvalidArg
	}

	n := len(dst)
	if off+int64(n) > int64(ip.size) {
		n = int(int64(ip.size) - off)
	}

	total := 0
	for total < n {
		bn := uint32((off + int64(total)) / buf.BSIZE)
		boff := uint32((off + int64(total)) % buf.BSIZE)
		blockno := ip.bmap(bn)

		b := ip.fs.io.Read(ip.fs.dev, blockno, buf.HintDefault)
		m := copy(dst[total:n], b.Data[boff:])
		ip.fs.io.Release(b)
		total += m
	}
	return total, nil
}

// Readi reads up to len(dst) bytes starting at off. LOCKS_REQUIRED.
func (ip *Inode) Readi(ctx context.Context, dst []byte, off int64) (int, error) {
	return ip.readiLocked(ctx, dst, off)
}

// ReadAt implements device.BackingFile.
func (ip *Inode) ReadAt(dst []byte, off int64) (int, error) {
	ip.ILock()
	defer ip.IUnlock()
	return ip.readiLocked(context.Background(), dst, off)
}

// writeiLocked implements Writei's body, assuming the caller already holds
// an open log transaction bounding how many distinct blocks this call may
// touch (spec.md §4.4: exceeding that is fatal).
func (ip *Inode) writeiLocked(ctx context.Context, src []byte, off int64) (int, error) {
	if ip.dtype == vfs.TypeDev {
		if ip.fs.devsw == nil {
			return 0, fmt.Errorf("nativefs: no device switch configured for major %d", ip.major)
		}
		return ip.fs.devsw.Write(uint32(ip.minor), src)
	}

	if off < 0 {
		return 0, vfs.ErrInvalidArg
	}
	if off+int64(len(src)) > int64(MAXFILE)*buf.BSIZE {
		return 0, fmt.Errorf("nativefs: write would exceed maximum file size")
	}

	total := 0
	for total < len(src) {
		bn := uint32((off + int64(total)) / buf.BSIZE)
		boff := uint32((off + int64(total)) % buf.BSIZE)
		blockno := ip.bmap(bn)

		b := ip.fs.io.Read(ip.fs.dev, blockno, buf.HintDefault)
		m := copy(b.Data[boff:], src[total:])
		ip.fs.log.LogWrite(b)
		ip.fs.io.Release(b)
		total += m
	}

	if off+int64(total) > int64(ip.size) {
		ip.size = uint32(off + int64(total))
	}
	ip.mtime = ip.fs.clk.Now()
	ip.iupdateLocked()
	return total, nil
}

// Writei writes src starting at off in one log transaction, growing the
// inode if necessary. LOCKS_REQUIRED.
func (ip *Inode) Writei(ctx context.Context, src []byte, off int64) (int, error) {
	ip.fs.log.BeginOp()
	defer ip.fs.log.EndOp()
	return ip.writeiLocked(ctx, src, off)
}

// WriteAt implements device.BackingFile.
func (ip *Inode) WriteAt(src []byte, off int64) (int, error) {
	ip.ILock()
	defer ip.IUnlock()
	ip.fs.log.BeginOp()
	defer ip.fs.log.EndOp()
	return ip.writeiLocked(context.Background(), src, off)
}

// itruncLocked frees every data block reachable from ip, including the
// singly-indirect block and its entries (spec.md §4.3 itrunc). REQUIRES
// an open log transaction.
func (ip *Inode) itruncLocked() {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			ip.fs.bfree(ip.addrs[i])
			ip.addrs[i] = 0
		}
	}

	if ip.addrs[NDIRECT] != 0 {
		b := ip.fs.io.Read(ip.fs.dev, ip.addrs[NDIRECT], buf.HintDefault)
		for i := 0; i < NINDIRECT; i++ {
			addr := binary.LittleEndian.Uint32(b.Data[i*4 : i*4+4])
			if addr != 0 {
				ip.fs.bfree(addr)
			}
		}
		ip.fs.io.Release(b)
		ip.fs.bfree(ip.addrs[NDIRECT])
		ip.addrs[NDIRECT] = 0
	}

	ip.size = 0
}

func modeFor(t int) os.FileMode {
	switch t {
	case vfs.TypeDir:
		return os.ModeDir | 0o755
	case vfs.TypeDev:
		return os.ModeDevice | 0o644
	default:
		return 0o644
	}
}

// Stati reports current metadata. LOCKS_REQUIRED.
func (ip *Inode) Stati() vfs.Stat {
	return vfs.Stat{
		Ino: vfs.Ino(ip.inum),
		Attributes: fuseops.InodeAttributes{
			Size:  uint64(ip.size),
			Nlink: uint32(ip.nlink),
			Mode:  modeFor(ip.dtype),
			Atime: ip.mtime,
			Mtime: ip.mtime,
			Ctime: ip.mtime,
		},
		Major: uint32(ip.major),
		Minor: uint32(ip.minor),
	}
}

// MountPoint/SetMountPoint carry the optional *mount.Mount pointer.
func (ip *Inode) MountPoint() any     { return ip.mountPoint }
func (ip *Inode) SetMountPoint(m any) { ip.mountPoint = m }
