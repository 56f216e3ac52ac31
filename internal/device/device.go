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

// Package device implements the device registry of spec.md §4.1: a
// reference-counted table of opaque "devices" — IDE disks, loop devices
// backed by a file inode, and in-memory objfs backing stores. Devices are
// created on demand and destroyed when their refcount drops to zero.
package device

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/xv6kernel/core/internal/objdisk"
)

// ID is a stable numeric device identifier, unique within a Kind.
type ID uint32

// Kind tags the three device backends spec.md §3 describes.
type Kind int

const (
	KindIDE Kind = iota
	KindLoop
	KindObj
)

func (k Kind) String() string {
	switch k {
	case KindIDE:
		return "ide"
	case KindLoop:
		return "loop"
	case KindObj:
		return "obj"
	default:
		return "unknown"
	}
}

// Per-kind bounds; _getNewDevice fails (panics, per spec.md §7 resource
// exhaustion policy) when exhausted.
const (
	MaxIDEDevices  = 4
	MaxLoopDevices = 16
	MaxObjDevices  = 16
)

// BackingFile is the minimal surface a loop device needs from the file
// whose bytes back it. nativefs.Inode and objfs.Inode satisfy this
// structurally; naming either type here would create an import cycle,
// since both packages import device.
type BackingFile interface {
	ReadAt(dst []byte, off int64) (int, error)
	WriteAt(src []byte, off int64) (int, error)
	// Dup returns a new reference to the same backing file.
	Dup() BackingFile
	// Release drops the reference obtained via Create/Dup.
	Release()
}

// BufInvalidator is the subset of buf.Cache the registry needs in order to
// invalidate a device's cached buffers on destruction, expressed as an
// interface to keep device free of a dependency on buf.
type BufInvalidator interface {
	InvalidateBlocks(dev ID)
}

// Device is a tagged variant over {ide, loop, obj}, refcounted and
// destroyed when the refcount drops to zero.
type Device struct {
	mu syncutil.InvariantMutex // GUARDED_BY(mu): refcount, destroyed

	id   ID
	kind Kind

	// GUARDED_BY(mu)
	refcount int
	// GUARDED_BY(mu)
	destroyed bool

	// kind == KindIDE
	idePort int

	// kind == KindLoop: a strong reference to the backing inode, dup'd at
	// creation and released on destruction.
	backing BackingFile

	// kind == KindObj
	obj *objdisk.Storage

	registry *Registry
}

func (d *Device) checkInvariants() {
	if d.destroyed && d.refcount != 0 {
		panic(fmt.Sprintf("device %d: destroyed with refcount %d", d.id, d.refcount))
	}
}

// ID returns the device's stable numeric identifier.
func (d *Device) ID() ID { return d.id }

// Kind returns which backend this device is.
func (d *Device) Kind() Kind { return d.kind }

// IDEPort returns the port number for an IDE device. REQUIRES Kind()==KindIDE.
func (d *Device) IDEPort() int {
	if d.kind != KindIDE {
		panic("IDEPort on non-IDE device")
	}
	return d.idePort
}

// Obj returns the in-memory object storage for an obj device. REQUIRES
// Kind()==KindObj.
func (d *Device) Obj() *objdisk.Storage {
	if d.kind != KindObj {
		panic("Obj on non-obj device")
	}
	return d.obj
}

// Registry is the device table: one fixed-size slice of live devices per
// kind, guarded by a single lock (lock-order position 5 in spec.md §5).
type Registry struct {
	mu syncutil.InvariantMutex // GUARDED_BY(mu): ide, loop, obj, nextID

	bufs BufInvalidator

	// GUARDED_BY(mu)
	ide  []*Device
	loop []*Device
	obj  []*Device

	// GUARDED_BY(mu)
	nextID ID
}

// NewRegistry creates an empty device registry. bufs is used to invalidate
// a device's cached buffers when its last reference is dropped.
func NewRegistry(bufs BufInvalidator) *Registry {
	r := &Registry{bufs: bufs}
	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)
	return r
}

func (r *Registry) checkInvariants() {
	if len(r.ide) > MaxIDEDevices || len(r.loop) > MaxLoopDevices || len(r.obj) > MaxObjDevices {
		panic("device registry: kind bound exceeded")
	}
}

func (r *Registry) newID() ID {
	r.nextID++
	return r.nextID
}

// GetIDEDevice returns the existing IDE device registered for port, or nil
// if none exists.
func (r *Registry) GetIDEDevice(port int) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.ide {
		if d.idePort == port {
			return d
		}
	}
	return nil
}

// CreateIDEDevice registers and returns a new IDE device for port. The
// returned device has refcount 1.
func (r *Registry) CreateIDEDevice(port int) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ide) >= MaxIDEDevices {
		panic("device: no free IDE device slots")
	}

	d := &Device{id: r.newID(), kind: KindIDE, idePort: port, refcount: 1, registry: r}
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	r.ide = append(r.ide, d)
	return d
}

// CreateLoopDevice registers a loop device over a file. backing is dup'd;
// the registry holds the dup, and the caller retains its own reference.
func (r *Registry) CreateLoopDevice(backing BackingFile) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.loop) >= MaxLoopDevices {
		panic("device: no free loop device slots")
	}

	d := &Device{id: r.newID(), kind: KindLoop, backing: backing.Dup(), refcount: 1, registry: r}
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	r.loop = append(r.loop, d)
	return d
}

// CreateObjDevice allocates a fresh in-memory object device.
func (r *Registry) CreateObjDevice() *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.obj) >= MaxObjDevices {
		panic("device: no free obj device slots")
	}

	d := &Device{id: r.newID(), kind: KindObj, obj: objdisk.NewStorage(), refcount: 1, registry: r}
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	r.obj = append(r.obj, d)
	return d
}

// Get bumps dev's refcount.
func (r *Registry) Get(dev *Device) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.destroyed {
		panic("device: Get on destroyed device")
	}
	dev.refcount++
}

// Put drops dev's refcount. When it reaches zero, the device's cached
// buffers are invalidated and its backend-private state released before
// the device is removed from the registry.
func (r *Registry) Put(dev *Device) {
	dev.mu.Lock()
	dev.refcount--
	if dev.refcount < 0 {
		dev.mu.Unlock()
		panic("device: refcount underflow")
	}
	destroy := dev.refcount == 0
	if destroy {
		dev.destroyed = true
	}
	dev.mu.Unlock()

	if !destroy {
		return
	}

	r.bufs.InvalidateBlocks(dev.id)

	switch dev.kind {
	case KindLoop:
		dev.backing.Release()
	case KindObj:
		// In-memory storage is garbage collected; nothing to release.
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch dev.kind {
	case KindIDE:
		r.ide = removeDevice(r.ide, dev)
	case KindLoop:
		r.loop = removeDevice(r.loop, dev)
	case KindObj:
		r.obj = removeDevice(r.obj, dev)
	}
}

// GetInodeForDevice returns the backing file of a loop device without
// changing its refcount. REQUIRES dev.Kind()==KindLoop.
func (r *Registry) GetInodeForDevice(dev *Device) BackingFile {
	if dev.kind != KindLoop {
		panic("GetInodeForDevice on non-loop device")
	}
	return dev.backing
}

func removeDevice(s []*Device, d *Device) []*Device {
	for i, v := range s {
		if v == d {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
