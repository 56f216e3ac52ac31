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

// Package objfs implements the object filesystem of spec.md §4.7: inodes
// are themselves named objects in an objdisk.Storage, addressed through
// internal/objcache, with a second data object per non-device inode
// holding its bytes. It satisfies vfs.SuperblockOps exactly as nativefs
// does, so the VFS layer (and the mount table) cannot tell the two
// backends apart.
package objfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/xv6kernel/core/clock"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/extiface"
	"github.com/xv6kernel/core/internal/ksync"
	"github.com/xv6kernel/core/internal/objcache"
	"github.com/xv6kernel/core/internal/vfs"
)

// ROOTINO is objfs's reserved root inode number (spec.md §6:
// "objfs reserves OBJ_ROOTINO for the root and counts up").
const ROOTINO = 1

// MaxInodeObjectData bounds a file's data object, per spec.md §4.7.
const MaxInodeObjectData = 32 << 20 // 32 MiB

// NINODE is the size of the in-memory inode cache, matching nativefs's
// convention.
const NINODE = 50

// baseDinode is the inode object's encoded payload: {type, major, minor,
// nlink}, per spec.md §4.7.
type baseDinode struct {
	Type  uint16
	Major uint16
	Minor uint16
	Nlink uint16
}

const baseDinodeSize = 8

func (d *baseDinode) encode() []byte {
	buf := make([]byte, baseDinodeSize)
	binary.LittleEndian.PutUint16(buf[0:2], d.Type)
	binary.LittleEndian.PutUint16(buf[2:4], d.Major)
	binary.LittleEndian.PutUint16(buf[4:6], d.Minor)
	binary.LittleEndian.PutUint16(buf[6:8], d.Nlink)
	return buf
}

func (d *baseDinode) decode(buf []byte) {
	d.Type = binary.LittleEndian.Uint16(buf[0:2])
	d.Major = binary.LittleEndian.Uint16(buf[2:4])
	d.Minor = binary.LittleEndian.Uint16(buf[4:6])
	d.Nlink = binary.LittleEndian.Uint16(buf[6:8])
}

func inodeObjectName(inum uint32) string {
	return fmt.Sprintf("inode.%d", inum)
}

func dataObjectName(inum uint32) string {
	return fmt.Sprintf("data.%d", inum)
}

// FS is one mounted object filesystem instance.
type FS struct {
	cache    *objcache.Cache
	dev      *device.Device
	registry *device.Registry
	devsw    extiface.DevSwitch

	icMu   sync.Mutex
	icache [NINODE]*Inode

	root *Inode
	clk  clock.Clock
}

// SetClock overrides the filesystem's time source (real by default).
func (fs *FS) SetClock(c clock.Clock) { fs.clk = c }

// NewFS builds (but does not start) an object filesystem over dev's
// in-memory storage.
func NewFS(cache *objcache.Cache, registry *device.Registry, dev *device.Device) *FS {
	fs := &FS{cache: cache, dev: dev, registry: registry, clk: clock.RealClock{}}
	for i := range fs.icache {
		fs.icache[i] = &Inode{fs: fs}
	}
	return fs
}

// SetDevSwitch installs the device-driver dispatch table for T_DEV inodes.
func (fs *FS) SetDevSwitch(d extiface.DevSwitch) { fs.devsw = d }

// Start creates the root directory object if absent (spec.md §4.7's
// obj_fs_init: "creates the root directory object, writes its '.' and
// '..' entries, and installs it as the superblock's root_ip").
func (fs *FS) Start() error {
	rootName := inodeObjectName(ROOTINO)
	if !fs.cache.Exists(rootName) {
		if err := fs.initRoot(); err != nil {
			return fmt.Errorf("objfs: init root: %w", err)
		}
	}

	root, err := fs.IGet(ROOTINO)
	if err != nil {
		return fmt.Errorf("objfs: load root inode: %w", err)
	}
	ri := root.(*Inode)
	ri.ILock()
	if ri.dtype != vfs.TypeDir {
		ri.IUnlock()
		return fmt.Errorf("objfs: root inode is not a directory")
	}
	ri.IUnlock()
	fs.root = ri
	return nil
}

func (fs *FS) initRoot() error {
	d := baseDinode{Type: vfs.TypeDir, Nlink: 1}
	if err := fs.cache.Add(inodeObjectName(ROOTINO), d.encode()); err != nil {
		return err
	}
	if err := fs.cache.Add(dataObjectName(ROOTINO), nil); err != nil {
		return err
	}

	root, err := fs.IGet(ROOTINO)
	if err != nil {
		return err
	}
	ri := root.(*Inode)
	ri.ILock()
	if err := ri.dirlinkLocked(".", ROOTINO); err != nil {
		ri.IUnlock()
		return err
	}
	if err := ri.dirlinkLocked("..", ROOTINO); err != nil {
		ri.IUnlock()
		return err
	}
	ri.IUnlock()
	ri.IPut()
	return nil
}

// Destroy releases the root inode and drops the device reference.
func (fs *FS) Destroy() {
	if fs.root != nil {
		fs.root.IPut()
	}
	fs.registry.Put(fs.dev)
}

// Root returns the filesystem's root inode.
func (fs *FS) Root() vfs.Inode { return fs.root }

// IAlloc allocates a fresh inode number, composes its inode and (for
// non-device types) data object names, writes both through the object
// cache, and returns an unlocked handle. The inode object is stamped
// Nlink=1 up front, the same "nlink set before any dirent exists" order
// nativefs's ialloc follows, so the inode survives the IPut of whatever
// reference created it once it has been linked into a directory. Per
// spec.md §4.7.
func (fs *FS) IAlloc(ctx context.Context, stype int) (vfs.Inode, error) {
	inum := uint32(fs.dev.Obj().NewInodeNumber())
	for inum <= ROOTINO {
		// initRoot creates ROOTINO without drawing from the counter.
		inum = uint32(fs.dev.Obj().NewInodeNumber())
	}

	d := baseDinode{Type: uint16(stype), Nlink: 1}
	if err := fs.cache.Add(inodeObjectName(inum), d.encode()); err != nil {
		return nil, err
	}
	if stype != vfs.TypeDev {
		if err := fs.cache.Add(dataObjectName(inum), nil); err != nil {
			return nil, err
		}
	}
	return fs.iget(inum), nil
}

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
		panic("objfs: iget: inode cache exhausted")
	}
	free.inum = inum
	free.ref = 1
	free.valid = false
	return free
}

// IGet implements vfs.SuperblockOps.
func (fs *FS) IGet(inum uint32) (vfs.Inode, error) {
	return fs.iget(inum), nil
}
