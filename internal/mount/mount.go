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
	"github.com/google/uuid"

	"github.com/xv6kernel/core/internal/vfs"
)

// Mount attaches a new mount at mountpointIP under parent (spec.md §4.9).
// Exactly one of sb (a real filesystem mount) or bind (a bind mount) must
// be non-nil. mountpointIP is dup'd on success; the caller retains its own
// reference and should IPut it as usual.
func (ns *MountNamespace) Mount(parent *Mount, mountpointIP vfs.Inode, sb *vfs.Superblock, bind vfs.Inode) (*Mount, error) {
	if (sb == nil) == (bind == nil) {
		return nil, ErrBadArgs
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	for _, m := range ns.mounts {
		if m.parent == parent && m.mountpoint == mountpointIP {
			return nil, ErrMountExists
		}
	}

	if bind != nil {
		bind.IDup()
	} else if err := sb.Get(); err != nil {
		return nil, err
	}

	m := &Mount{
		parent:     parent,
		mountpoint: mountpointIP.IDup(),
		sb:         sb,
		bind:       bind,
		ref:        1,
	}
	if parent != nil {
		parent.ref++
	}
	mountpointIP.SetMountPoint(m)
	ns.mounts = append([]*Mount{m}, ns.mounts...)

	if ns.metrics != nil {
		ns.metrics.MountAdded()
	}
	return m, nil
}

// Umount detaches m from ns. Per spec.md §4.9's refcount invariant (1 at
// creation plus one per live pointer), m must have no other live pointers:
// no child mount's parent is m, and it is not a namespace root. That
// invariant is exactly ref==1.
func (ns *MountNamespace) Umount(m *Mount) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	idx := -1
	for i, cand := range ns.mounts {
		if cand == m {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotMountpoint
	}
	if m.ref != 1 {
		return ErrMountBusy
	}

	ns.mounts = append(ns.mounts[:idx], ns.mounts[idx+1:]...)

	if m.mountpoint != nil {
		m.mountpoint.SetMountPoint(nil)
		m.mountpoint.IPut()
	}
	if m.bind != nil {
		m.bind.IPut()
	} else {
		m.sb.Put()
	}
	if m.parent != nil {
		m.parent.ref--
	}
	if ns.root == m {
		ns.root = nil
	}

	if ns.metrics != nil {
		ns.metrics.MountRemoved()
	}
	return nil
}

// MntLookup returns the child mount whose mountpoint is ip, with the same
// parent mount, or (for bind mounts, which may be attached under any
// parent) regardless of parent. Returns nil if no such mount is active.
func (ns *MountNamespace) MntLookup(ip vfs.Inode, parent *Mount) *Mount {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for _, m := range ns.mounts {
		if m.mountpoint != ip {
			continue
		}
		if m.parent == parent || m.bind != nil {
			return m
		}
	}
	return nil
}

// IsChildOf reports whether candidate is ancestorMount itself or a
// descendant of it by following parent links.
func IsChildOf(ancestorMount, candidate *Mount) bool {
	for m := candidate; m != nil; m = m.parent {
		if m == ancestorMount {
			return true
		}
	}
	return false
}

// PivotRoot makes newRootMount (rooted at newRootIP) the namespace's root
// mount, moving the previous root to be mounted at putOldIP within
// putOldMount (spec.md §4.9's pivot_root). newRootIP must be the root
// inode of newRootMount, and putOldMount must be newRootMount or a
// descendant of it (the conventional put_old-under-new-root constraint).
func (ns *MountNamespace) PivotRoot(newRootIP vfs.Inode, newRootMount *Mount, putOldIP vfs.Inode, putOldMount *Mount) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	oldRoot := ns.root
	if newRootMount == oldRoot {
		return ErrSameMount
	}
	if newRootIP != newRootMount.Root() {
		return ErrNotRootOfMnt
	}
	if !IsChildOf(newRootMount, putOldMount) {
		return ErrNotAncestor
	}

	oldRoot.parent = putOldMount
	oldRoot.mountpoint = putOldIP.IDup()
	putOldIP.SetMountPoint(oldRoot)
	putOldMount.ref++

	if newRootMount.parent != nil {
		newRootMount.parent.ref--
	}
	if newRootMount.mountpoint != nil {
		newRootMount.mountpoint.SetMountPoint(nil)
		newRootMount.mountpoint.IPut()
	}
	newRootMount.parent = nil
	newRootMount.mountpoint = nil
	ns.root = newRootMount

	return nil
}

// CopyActiveMounts produces a new namespace holding a dup of every mount
// in ns (spec.md §4.9: "used when unsharing the mount namespace"). It
// bumps reference counts on every mountpoint/bind inode and superblock
// rather than building a new filesystem, and preserves inter-mount parent
// relationships. If cwd was mounted at some *Mount in ns, the
// corresponding *Mount in the new namespace is returned as the second
// result so a caller can retarget a process's cwd mount; otherwise nil.
func (t *Table) CopyActiveMounts(ns *MountNamespace, cwd *Mount) (*MountNamespace, *Mount, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	clone := make(map[*Mount]*Mount, len(ns.mounts))
	newMounts := make([]*Mount, len(ns.mounts))

	// First pass: dup references and shallow-copy, without wiring parent
	// pointers yet (a child may be copied before its parent).
	for i, m := range ns.mounts {
		nm := &Mount{ref: 1}
		if m.bind != nil {
			nm.bind = m.bind.IDup()
		} else {
			if err := m.sb.Get(); err != nil {
				return nil, nil, err
			}
			nm.sb = m.sb
		}
		if m.mountpoint != nil {
			nm.mountpoint = m.mountpoint.IDup()
		}
		clone[m] = nm
		newMounts[i] = nm
	}

	// Second pass: wire parent pointers and bump the new parent's ref to
	// account for the new child -> parent link, mirroring Mount's
	// bookkeeping. nm.mountpoint is the *same* in-memory inode as
	// m.mountpoint (IDup returns the identical handle, not a copy), so it
	// is shared with the namespace being copied; leave its MountPoint()
	// pointing at the original namespace's *Mount rather than clobbering
	// it with nm, which would make the source namespace's own mount
	// resolution observe the wrong namespace's copy.
	for _, m := range ns.mounts {
		nm := clone[m]
		if m.parent != nil {
			nm.parent = clone[m.parent]
			nm.parent.ref++
		}
	}

	newNS := &MountNamespace{id: uuid.New(), mounts: newMounts, metrics: t.metrics}
	if ns.root != nil {
		newNS.root = clone[ns.root]
	}
	t.registerNamespace(newNS)

	var newCwd *Mount
	if cwd != nil {
		newCwd = clone[cwd]
	}
	return newNS, newCwd, nil
}
