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

package objfs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/ksync"
	"github.com/xv6kernel/core/internal/vfs"
)

// Inode is one in-memory objfs inode cache slot. Its bytes live in two
// objects: inodeObjectName(inum) for the {type,major,minor,nlink} record
// and dataObjectName(inum) for file contents (spec.md §4.7).
type Inode struct {
	fs *FS
	mu ksync.Sleeplock

	// GUARDED_BY fs.icMu
	inum uint32
	ref  int

	// GUARDED_BY mu; meaningful once valid.
	valid bool
	dtype int
	major uint16
	minor uint16
	nlink uint16
	size  uint32
	mtime time.Time

	mountPoint any
}

// Num returns the inode number.
func (ip *Inode) Num() uint32 { return ip.inum }

// Type returns the on-disk type. REQUIRES ILock.
func (ip *Inode) Type() int { return ip.dtype }

// ILock loads the inode object on first use (spec.md §4.7: "same
// discipline as native (cache-then-lazy-load)").
func (ip *Inode) ILock() {
	ip.mu.Acquire()
	if ip.valid {
		return
	}

	name := inodeObjectName(ip.inum)
	size, ok := ip.fs.cache.ObjectSize(name)
	if !ok || size < baseDinodeSize {
		panic(fmt.Sprintf("objfs: ilock: inode %d has no content", ip.inum))
	}
	raw := make([]byte, size)
	if _, err := ip.fs.cache.Read(name, raw, 0); err != nil {
		panic(fmt.Sprintf("objfs: ilock: inode %d: %v", ip.inum, err))
	}
	var d baseDinode
	d.decode(raw)
	if d.Type == vfs.TypeFree {
		panic(fmt.Sprintf("objfs: ilock: inode %d has no content", ip.inum))
	}

	ip.dtype = int(d.Type)
	ip.major = d.Major
	ip.minor = d.Minor
	ip.nlink = d.Nlink
	ip.mtime = ip.fs.clk.Now()
	ip.size = 0
	if d.Type != vfs.TypeDev {
		if size, ok := ip.fs.cache.ObjectSize(dataObjectName(ip.inum)); ok {
			ip.size = uint32(size)
		}
	}
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

// Dup implements device.BackingFile.
func (ip *Inode) Dup() device.BackingFile { ip.IDup(); return ip }

// IPut drops one reference, reclaiming the backing objects if this was
// the last reference to an unlinked inode.
func (ip *Inode) IPut() {
	ip.ILock()
	ip.fs.icMu.Lock()
	soleRef := ip.ref == 1
	ip.fs.icMu.Unlock()

	if ip.valid && ip.nlink == 0 && soleRef {
		if ip.dtype != vfs.TypeDev {
			_ = ip.fs.cache.Delete(dataObjectName(ip.inum))
		}
		_ = ip.fs.cache.Delete(inodeObjectName(ip.inum))
		ip.dtype = vfs.TypeFree
		ip.valid = false
	}
	ip.IUnlock()

	ip.fs.icMu.Lock()
	ip.ref--
	if ip.ref < 0 {
		ip.fs.icMu.Unlock()
		panic("objfs: inode refcount underflow")
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

// IUpdate writes the in-memory {type,major,minor,nlink} record back to
// its inode object. LOCKS_REQUIRED.
func (ip *Inode) IUpdate() {
	d := baseDinode{Type: uint16(ip.dtype), Major: ip.major, Minor: ip.minor, Nlink: ip.nlink}
	if _, err := ip.fs.cache.Write(inodeObjectName(ip.inum), d.encode(), 0); err != nil {
		panic(fmt.Sprintf("objfs: iupdate: %v", err))
	}
}

// Readi reads up to len(dst) bytes starting at off. LOCKS_REQUIRED.
func (ip *Inode) Readi(ctx context.Context, dst []byte, off int64) (int, error) {
	if ip.dtype == vfs.TypeDev {
		if ip.fs.devsw == nil {
			return 0, fmt.Errorf("objfs: no device switch configured for major %d", ip.major)
		}
		return ip.fs.devsw.Read(uint32(ip.minor), len(dst), [][]byte{dst})
	}
	return ip.fs.cache.Read(dataObjectName(ip.inum), dst, off)
}

// ReadAt implements device.BackingFile.
func (ip *Inode) ReadAt(dst []byte, off int64) (int, error) {
	ip.ILock()
	defer ip.IUnlock()
	return ip.Readi(context.Background(), dst, off)
}

// Writei writes src starting at off, growing the inode's data object if
// necessary. LOCKS_REQUIRED.
func (ip *Inode) Writei(ctx context.Context, src []byte, off int64) (int, error) {
	if ip.dtype == vfs.TypeDev {
		if ip.fs.devsw == nil {
			return 0, fmt.Errorf("objfs: no device switch configured for major %d", ip.major)
		}
		return ip.fs.devsw.Write(uint32(ip.minor), src)
	}
	if off+int64(len(src)) > MaxInodeObjectData {
		return 0, fmt.Errorf("objfs: write would exceed max inode object data size")
	}

	n, err := ip.fs.cache.Write(dataObjectName(ip.inum), src, off)
	if err != nil {
		return 0, err
	}
	if newSize := off + int64(n); newSize > int64(ip.size) {
		ip.size = uint32(newSize)
	}
	ip.mtime = ip.fs.clk.Now()
	return n, nil
}

// WriteAt implements device.BackingFile.
func (ip *Inode) WriteAt(src []byte, off int64) (int, error) {
	ip.ILock()
	defer ip.IUnlock()
	return ip.Writei(context.Background(), src, off)
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
