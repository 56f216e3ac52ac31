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

// Package vfs defines the uniform inode/superblock abstraction of spec.md
// §3/§4.8: a polymorphic Inode interface and a refcounted Superblock
// handle that plug in the native and object filesystem backends
// identically, the way the teacher's fs/inode.Inode interface plugs file,
// directory, and symlink inodes into one fuseutil.FileSystem. Inode
// numbers and attributes reuse github.com/jacobsa/fuse/fuseops's
// InodeID/InodeAttributes — they are, as that package's own doc comment
// notes, exactly "struct inode::i_no in the VFS layer".
package vfs

import (
	"context"
	"errors"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// Ino is a VFS inode number.
type Ino = fuseops.InodeID

// On-disk inode types, matching spec.md §3's native/objfs dinode "type"
// field.
const (
	TypeFree = 0
	TypeDir  = 1
	TypeFile = 2
	TypeDev  = 3
)

// DIRSIZ bounds one path component's stored length. A component exactly
// DIRSIZ bytes long is copied without a null terminator (spec.md §9 open
// question); all name comparisons in this module are therefore bounded,
// never relying on termination.
const DIRSIZ = 14

// Stat is what fstat-family calls report. Major/Minor are meaningful only
// when Attributes.Mode has the device bits set.
type Stat struct {
	Ino        Ino
	Attributes fuseops.InodeAttributes
	Major      uint32
	Minor      uint32
}

// Errors surfaced to callers (spec.md §7 "Argument faults" -> plain error,
// never panic).
var (
	ErrNotExist     = errors.New("vfs: no such file or directory")
	ErrExist        = errors.New("vfs: file exists")
	ErrNotDir       = errors.New("vfs: not a directory")
	ErrIsDir        = errors.New("vfs: is a directory")
	ErrNotEmpty     = errors.New("vfs: directory not empty")
	ErrNameTooLong  = errors.New("vfs: name too long")
	ErrInvalidArg   = errors.New("vfs: invalid argument")
	ErrCrossDevice  = errors.New("vfs: cross-device link")
	ErrTooManyLinks = errors.New("vfs: too many links")
)

// Inode is the polymorphic handle described in spec.md §3: refcounted,
// with a sleeplock separate from the refcount lock, backed by either the
// native or the object filesystem. All methods below require the
// sleeplock to be held via ILock unless documented otherwise.
type Inode interface {
	// Num returns the inode number. Does not require the lock.
	Num() uint32

	// Type returns the on-disk type (TypeDir/TypeFile/TypeDev); valid only
	// once ILock has loaded the inode, i.e. LOCKS_REQUIRED.
	Type() int

	// ILock loads on-disk metadata into memory if not already valid
	// (spec.md §4.3's "lazy" ilock), panicking if the on-disk type is
	// TypeFree (a use-after-free).
	ILock()

	// IUnlock releases the sleeplock acquired by ILock.
	IUnlock()

	// IDup returns a new reference to the same inode, bumping its refcount.
	// Does not require the lock.
	IDup() Inode

	// IPut drops one reference. If this was the last reference to an
	// unlinked (Nlink==0) inode, its data is truncated and the inode freed
	// before the reference is dropped. Does not require the lock to be
	// held by the caller (it acquires it internally, per spec.md §4.3).
	IPut()

	// IUnlockPut is IUnlock followed by IPut.
	IUnlockPut()

	// IUpdate writes the in-memory metadata back to disk. LOCKS_REQUIRED.
	IUpdate()

	// Readi reads up to len(dst) bytes starting at off. LOCKS_REQUIRED.
	Readi(ctx context.Context, dst []byte, off int64) (int, error)

	// Writei writes src starting at off, growing the inode if necessary.
	// LOCKS_REQUIRED.
	Writei(ctx context.Context, src []byte, off int64) (int, error)

	// Stati reports current metadata. LOCKS_REQUIRED.
	Stati() Stat

	// DirLookup scans a directory's entries for name, returning the child
	// inode (with one new reference) and the byte offset of its dirent, or
	// ErrNotExist. LOCKS_REQUIRED; REQUIRES Type()==TypeDir.
	DirLookup(name string) (child Inode, offset int64, err error)

	// DirLink adds a (name, inum) dirent, reusing the first free slot or
	// appending. Fails with ErrExist if name is already present.
	// LOCKS_REQUIRED; REQUIRES Type()==TypeDir.
	DirLink(name string, inum uint32) error

	// DirUnlink clears name's dirent and decrements the linked inode's
	// Nlink by one. It does not itself free anything: reclamation happens
	// the next time that inode's last reference is dropped via IPut, once
	// Nlink has reached zero. Fails with ErrNotExist if name is absent.
	// LOCKS_REQUIRED; REQUIRES Type()==TypeDir.
	DirUnlink(name string) error

	// IsDirEmpty reports whether a directory has only "." and "..".
	// LOCKS_REQUIRED; REQUIRES Type()==TypeDir.
	IsDirEmpty() bool

	// MountPoint/SetMountPoint carry the optional mount pointer from
	// spec.md §3 ("an optional mount pointer, set when this inode is a
	// mount point"). The concrete type is *mount.Mount; vfs stores it
	// opaquely to avoid an import cycle with the mount package, which
	// itself depends on vfs.
	MountPoint() any
	SetMountPoint(any)
}

// SuperblockOps is the ops vtable of spec.md §3's Superblock: {ialloc,
// iget, start, destroy}.
type SuperblockOps interface {
	// IAlloc allocates a fresh inode of the given type.
	IAlloc(ctx context.Context, stype int) (Inode, error)

	// IGet returns the (possibly already cached) in-memory inode for inum,
	// unlocked, with one new reference.
	IGet(inum uint32) (Inode, error)

	// Start reads the on-disk superblock and root inode, making Root()
	// valid. Called once, when a filesystem is mounted.
	Start() error

	// Destroy releases the root inode and any device reference. Called
	// when the superblock's refcount reaches zero.
	Destroy()

	// Root returns the filesystem's root inode (no new reference).
	Root() Inode
}

// Superblock is the refcounted handle of spec.md §3, wrapping whichever
// backend implements SuperblockOps.
type Superblock struct {
	ops SuperblockOps

	// ref is guarded by refMu: the superblock's lifetime is otherwise
	// managed by the mount table (spec.md §4.9), which already serializes
	// mount/umount under its own lock, so a plain mutex is enough here.
	refMu sync.Mutex
	ref   int
}

// NewSuperblock wraps ops in a Superblock with a refcount of zero; Get must
// be called before use.
func NewSuperblock(ops SuperblockOps) *Superblock {
	return &Superblock{ops: ops}
}

// Get bumps the refcount, calling Start on the first reference.
func (sb *Superblock) Get() error {
	sb.refMu.Lock()
	defer sb.refMu.Unlock()
	if sb.ref == 0 {
		if err := sb.ops.Start(); err != nil {
			return err
		}
	}
	sb.ref++
	return nil
}

// Put drops the refcount, calling Destroy and reporting true when the last
// reference is released.
func (sb *Superblock) Put() (destroyed bool) {
	sb.refMu.Lock()
	defer sb.refMu.Unlock()
	sb.ref--
	if sb.ref < 0 {
		panic("vfs: Superblock refcount underflow")
	}
	if sb.ref == 0 {
		sb.ops.Destroy()
		return true
	}
	return false
}

// Root returns the filesystem's root inode.
func (sb *Superblock) Root() Inode { return sb.ops.Root() }

// IAlloc allocates a fresh inode of the given type.
func (sb *Superblock) IAlloc(ctx context.Context, stype int) (Inode, error) {
	return sb.ops.IAlloc(ctx, stype)
}

// IGet returns the in-memory inode for inum, unlocked, with one new
// reference.
func (sb *Superblock) IGet(inum uint32) (Inode, error) {
	return sb.ops.IGet(inum)
}
