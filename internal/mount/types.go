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

// Package mount implements the mount table, namespaces, and pathname
// resolution of spec.md §4.8/§4.9. Pathname resolution lives here rather
// than in internal/vfs because it is inherently mount-table-aware (mount
// descent, ".." ascent across mount boundaries, bind redirection);
// keeping internal/vfs a dependency-free leaf and giving mount ownership
// of namex avoids a vfs<->mount import cycle.
package mount

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/xv6kernel/core/internal/metrics"
	"github.com/xv6kernel/core/internal/vfs"
)

// NNAMESPACE bounds the fixed table of mount namespaces, one per
// container (spec.md §4.9).
const NNAMESPACE = 16

var (
	ErrMountExists   = errors.New("mount: a mount already exists at this parent/mountpoint")
	ErrMountBusy     = errors.New("mount: busy, other mounts still refer to it")
	ErrNotMountpoint = errors.New("mount: path is not a mount's mountpoint")
	ErrBadArgs       = errors.New("mount: exactly one of target superblock or bind target must be set")
	ErrSameMount     = errors.New("pivot_root: new root must differ from the current root mount")
	ErrNotRootOfMnt  = errors.New("pivot_root: new root inode is not the root of new root mount")
	ErrNotAncestor   = errors.New("pivot_root: new root is not an ancestor of put_old")
)

// Mount is one entry in a namespace's active_mounts list: either a real
// filesystem mount (sb set) or a bind mount (bind set), per spec.md §3.
type Mount struct {
	parent     *Mount     // nil only for a namespace's root mount
	mountpoint vfs.Inode  // nil only for a namespace's root mount
	sb         *vfs.Superblock
	bind       vfs.Inode

	// ref follows spec.md §4.9's invariant: 1 at creation, plus one per
	// live pointer (a child mount's parent link, or a namespace's root).
	// GUARDED_BY owning MountNamespace.mu
	ref int
}

// Superblock returns the mount's backing superblock, or nil for a bind
// mount.
func (m *Mount) Superblock() *vfs.Superblock { return m.sb }

// Bind returns the mount's bind target, or nil for a real fs mount.
func (m *Mount) Bind() vfs.Inode { return m.bind }

// Parent returns the parent mount, or nil for a namespace root.
func (m *Mount) Parent() *Mount { return m.parent }

// Root returns the inode this mount presents as "/": the bind target for
// a bind mount, or the backend superblock's root inode otherwise.
func (m *Mount) Root() vfs.Inode {
	if m.bind != nil {
		return m.bind
	}
	return m.sb.Root()
}

// MountNamespace is a container's private view of the mount table
// (spec.md §3): a list of active mounts and a current root.
type MountNamespace struct {
	id      uuid.UUID // stable identity for logging/diagnostics across unshare
	mu      sync.Mutex // spec.md §5 lock-order position 1
	mounts  []*Mount   // most recently added first
	root    *Mount
	metrics *metrics.KernelMetrics
}

// ID returns the namespace's stable identifier, assigned once at creation
// (by NewRootNamespace or CopyActiveMounts) so log lines and CLI output can
// refer to a namespace without exposing its internal pointer identity.
func (ns *MountNamespace) ID() uuid.UUID { return ns.id }

// Root returns the namespace's current root mount.
func (ns *MountNamespace) Root() *Mount {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.root
}

// Table is the fixed-size pool of mount namespaces (spec.md §4.9).
type Table struct {
	mu         sync.Mutex
	namespaces []*MountNamespace
	metrics    *metrics.KernelMetrics
}

// NewTable creates an empty namespace table.
func NewTable(m *metrics.KernelMetrics) *Table {
	return &Table{metrics: m}
}

// NewRootNamespace creates the initial namespace with rootSB mounted at
// its root (no parent, no mountpoint), for use at kernel start-up.
func (t *Table) NewRootNamespace(rootSB *vfs.Superblock) (*MountNamespace, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.namespaces) >= NNAMESPACE {
		panic("mount: no free namespace slots")
	}

	root := &Mount{sb: rootSB, ref: 1}
	ns := &MountNamespace{id: uuid.New(), mounts: []*Mount{root}, root: root, metrics: t.metrics}
	t.namespaces = append(t.namespaces, ns)
	if t.metrics != nil {
		t.metrics.MountAdded()
	}
	return ns, nil
}

func (t *Table) registerNamespace(ns *MountNamespace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.namespaces) >= NNAMESPACE {
		panic("mount: no free namespace slots")
	}
	t.namespaces = append(t.namespaces, ns)
}
