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

package mount

import (
	"context"
	"strings"

	"github.com/xv6kernel/core/internal/vfs"
)

// skipelem returns the next bounded path component of path and the
// remainder after it, with leading and trailing slashes stripped. A
// component longer than vfs.DIRSIZ is truncated, matching the on-disk
// bounded-name comparisons used throughout native-fs and objfs.
func skipelem(path string) (name, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		name, rest = path, ""
	} else {
		name, rest = path[:i], path[i+1:]
	}
	if len(name) > vfs.DIRSIZ {
		name = name[:vfs.DIRSIZ]
	}
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return name, rest
}

// namex is the shared core of Namei and NameiParent (spec.md §4.8): it
// walks path component by component starting from either the namespace
// root (absolute paths) or (cwdIP, cwdMnt) (relative paths), descending
// into child mounts as it crosses a mountpoint and ascending out of a
// mount when ".." is looked up at a mount's root inode. If parentOnly is
// set, it stops one component short and returns the parent directory
// (locked is never returned locked) plus the final component's name.
func (ns *MountNamespace) namex(ctx context.Context, path string, parentOnly bool, cwdIP vfs.Inode, cwdMnt *Mount) (vfs.Inode, *Mount, string, error) {
	var cur vfs.Inode
	var curMnt *Mount

	if strings.HasPrefix(path, "/") {
		root := ns.Root()
		if root == nil {
			return nil, nil, "", ErrNotMountpoint
		}
		cur = root.Root().IDup()
		curMnt = root
	} else {
		if cwdIP == nil {
			return nil, nil, "", vfs.ErrInvalidArg
		}
		cur = cwdIP.IDup()
		curMnt = cwdMnt
	}

	name, rest := skipelem(path)
	for name != "" {
		cur.ILock()
		if cur.Type() != vfs.TypeDir {
			cur.IUnlockPut()
			return nil, nil, "", vfs.ErrNotDir
		}

		if parentOnly && rest == "" {
			cur.IUnlock()
			return cur, curMnt, name, nil
		}

		var next vfs.Inode
		nextMnt := curMnt

		if name == ".." && curMnt.parent != nil && cur == curMnt.Root() {
			// Crossing back out of this mount: resolve ".." against the
			// directory this mount is attached to, in the parent mount.
			mp := curMnt.mountpoint.IDup()
			nextMnt = curMnt.parent
			cur.IUnlockPut()
			mp.ILock()
			up, _, err := mp.DirLookup("..")
			mp.IUnlockPut()
			if err != nil {
				return nil, nil, "", err
			}
			next = up
		} else {
			child, _, err := cur.DirLookup(name)
			cur.IUnlockPut()
			if err != nil {
				return nil, nil, "", err
			}
			if m := ns.MntLookup(child, curMnt); m != nil {
				child.IPut()
				next = m.Root().IDup()
				nextMnt = m
			} else {
				next = child
			}
		}

		cur = next
		curMnt = nextMnt
		name, rest = skipelem(rest)
	}

	if parentOnly {
		cur.IPut()
		return nil, nil, "", vfs.ErrInvalidArg
	}
	return cur, curMnt, "", nil
}

// Namei resolves path to its target inode and the mount it lives in, with
// one new reference on the inode. Relative paths are resolved against
// (cwdIP, cwdMnt).
func (ns *MountNamespace) Namei(ctx context.Context, path string, cwdIP vfs.Inode, cwdMnt *Mount) (vfs.Inode, *Mount, error) {
	ip, m, _, err := ns.namex(ctx, path, false, cwdIP, cwdMnt)
	return ip, m, err
}

// NameiParent resolves path's parent directory and returns it (with one
// new reference), the mount it lives in, and the final path component's
// bounded name, without looking that component up.
func (ns *MountNamespace) NameiParent(ctx context.Context, path string, cwdIP vfs.Inode, cwdMnt *Mount) (vfs.Inode, *Mount, string, error) {
	return ns.namex(ctx, path, true, cwdIP, cwdMnt)
}

// NameiMount and NameiParentMount are spec.md §4.8's mount-aware variants
// of namei/nameiparent. In this implementation pathname resolution is
// always mount-aware (it has to cross mount boundaries to work at all),
// so they coincide exactly with Namei/NameiParent; both names are kept so
// callers can spell out which guarantee they rely on.
func (ns *MountNamespace) NameiMount(ctx context.Context, path string, cwdIP vfs.Inode, cwdMnt *Mount) (vfs.Inode, *Mount, error) {
	return ns.Namei(ctx, path, cwdIP, cwdMnt)
}

func (ns *MountNamespace) NameiParentMount(ctx context.Context, path string, cwdIP vfs.Inode, cwdMnt *Mount) (vfs.Inode, *Mount, string, error) {
	return ns.NameiParent(ctx, path, cwdIP, cwdMnt)
}
