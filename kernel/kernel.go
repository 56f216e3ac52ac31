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

// Package kernel wires the core's pieces together into one runnable
// instance: device registry, shared buffer cache, block I/O, native and
// object filesystems, the VFS layer, and the mount table. Kernel holds no
// locks of its own; the components' locks follow the six-level order of
// spec.md §5 (namespace -> mount list -> inode cache -> buffer cache list
// -> device registry -> log), as their own comments note.
package kernel

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/xv6kernel/core/internal/blockio"
	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/device"
	"github.com/xv6kernel/core/internal/extiface"
	"github.com/xv6kernel/core/internal/kconfig"
	"github.com/xv6kernel/core/internal/metrics"
	"github.com/xv6kernel/core/internal/mount"
	"github.com/xv6kernel/core/internal/nativefs"
	"github.com/xv6kernel/core/internal/objcache"
	"github.com/xv6kernel/core/internal/objfs"
	"github.com/xv6kernel/core/internal/vfs"
	"github.com/xv6kernel/core/internal/walog"
)

// Kernel is one running instance of the core: everything a CLI or test
// harness needs to resolve paths and drive the filesystem backends.
type Kernel struct {
	cfg *kconfig.Config

	Registry *device.Registry
	Bufs     *buf.Cache
	IO       *blockio.IO

	Metrics struct {
		Buf      *metrics.BufMetrics
		ObjCache *metrics.ObjCacheMetrics
		Kernel   *metrics.KernelMetrics
	}

	nativeDev *device.Device
	nativeFS  *nativefs.FS
	objDev    *device.Device
	objFS     *objfs.FS
	objStore  *objcache.Cache

	RootSuperblock *vfs.Superblock
	Mounts         *mount.Table
	RootNamespace  *mount.MountNamespace
}

// New builds a Kernel from cfg but does not mount anything yet.
func New(cfg *kconfig.Config, reg prometheus.Registerer) *Kernel {
	k := &Kernel{cfg: cfg}

	k.Metrics.Buf = metrics.NewBufMetrics(reg)
	k.Metrics.ObjCache = metrics.NewObjCacheMetrics(reg)
	k.Metrics.Kernel = metrics.NewKernelMetrics(reg)

	nbuf := cfg.Cache.BufBuffers
	if nbuf <= 0 {
		nbuf = buf.NBUF
	}
	k.Bufs = buf.NewCache(nbuf, k.Metrics.Buf)
	k.Registry = device.NewRegistry(k.Bufs)

	ide := blockio.NewIDEDriver()
	loop := blockio.NewLoopDriver(k.Registry)
	k.IO = blockio.NewIO(k.Bufs, ide, loop)

	return k
}

// Start creates (or opens) the native and object filesystems and mounts
// the one selected by cfg.Device.RootMode as the root namespace's root.
func (k *Kernel) Start(devsw extiface.DevSwitch) error {
	nBlocks := k.cfg.Device.NativeDiskBlocks
	if nBlocks == 0 {
		nBlocks = 8192
	}
	nInodes := k.cfg.Device.NativeInodes
	if nInodes == 0 {
		nInodes = 200
	}
	k.nativeDev = k.Registry.CreateIDEDevice(0)
	k.objDev = k.Registry.CreateObjDevice()

	// The native and object backends sit on independent devices and share
	// only the already-synchronized buffer cache and device registry, so
	// building them (which replays each one's on-disk/in-memory state) can
	// run concurrently.
	var g errgroup.Group
	g.Go(func() error {
		k.nativeFS = nativefs.NewFS(k.IO, k.Registry, k.nativeDev, nBlocks, nInodes, k.Metrics.Kernel)
		k.nativeFS.SetDevSwitch(devsw)
		return nil
	})
	g.Go(func() error {
		k.objStore = objcache.New(k.Bufs, k.objDev.Obj(), k.objDev.ID(), k.Metrics.ObjCache)
		k.objFS = objfs.NewFS(k.objStore, k.Registry, k.objDev)
		k.objFS.SetDevSwitch(devsw)
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("kernel: build filesystems: %w", err)
	}

	nativeSB := vfs.NewSuperblock(k.nativeFS)
	objSB := vfs.NewSuperblock(k.objFS)

	var rootSB *vfs.Superblock
	switch k.cfg.Device.RootMode {
	case "obj":
		rootSB = objSB
	case "native", "":
		rootSB = nativeSB
	default:
		return fmt.Errorf("kernel: unknown root-mode %q", k.cfg.Device.RootMode)
	}

	if err := rootSB.Get(); err != nil {
		return fmt.Errorf("kernel: mount root: %w", err)
	}
	k.RootSuperblock = rootSB

	k.Mounts = mount.NewTable(k.Metrics.Kernel)
	ns, err := k.Mounts.NewRootNamespace(rootSB)
	if err != nil {
		return err
	}
	k.RootNamespace = ns
	return nil
}

// NativeFS returns the native filesystem backend, for operations (like
// mount(2) of a second native device) that need it directly.
func (k *Kernel) NativeFS() *nativefs.FS { return k.nativeFS }

// ObjFS returns the object filesystem backend.
func (k *Kernel) ObjFS() *objfs.FS { return k.objFS }
