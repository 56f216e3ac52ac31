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

package mount_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/mount"
	"github.com/xv6kernel/core/internal/vfs"
)

// fakeInode is a minimal vfs.Inode fake: no real data, just refcounting and
// the mount-point slot that the mount package itself manipulates.
type fakeInode struct {
	ref int
	mp  any
}

func newFakeInode() *fakeInode { return &fakeInode{ref: 1} }

func (f *fakeInode) Num() uint32                                         { return 0 }
func (f *fakeInode) Type() int                                           { return vfs.TypeDir }
func (f *fakeInode) ILock()                                              {}
func (f *fakeInode) IUnlock()                                            {}
func (f *fakeInode) IDup() vfs.Inode                                     { f.ref++; return f }
func (f *fakeInode) IPut()                                               { f.ref-- }
func (f *fakeInode) IUnlockPut()                                         { f.IPut() }
func (f *fakeInode) IUpdate()                                            {}
func (f *fakeInode) Readi(context.Context, []byte, int64) (int, error)   { return 0, nil }
func (f *fakeInode) Writei(context.Context, []byte, int64) (int, error)  { return 0, nil }
func (f *fakeInode) Stati() vfs.Stat                                     { return vfs.Stat{} }
func (f *fakeInode) DirLookup(string) (vfs.Inode, int64, error)          { return nil, 0, vfs.ErrNotExist }
func (f *fakeInode) DirLink(string, uint32) error                        { return nil }
func (f *fakeInode) DirUnlink(string) error                              { return nil }
func (f *fakeInode) IsDirEmpty() bool                                    { return true }
func (f *fakeInode) MountPoint() any                                     { return f.mp }
func (f *fakeInode) SetMountPoint(m any)                                 { f.mp = m }

type fakeOps struct {
	root vfs.Inode
}

func (o *fakeOps) IAlloc(context.Context, int) (vfs.Inode, error) { return nil, nil }
func (o *fakeOps) IGet(uint32) (vfs.Inode, error)                 { return nil, nil }
func (o *fakeOps) Start() error                                   { return nil }
func (o *fakeOps) Destroy()                                       {}
func (o *fakeOps) Root() vfs.Inode                                { return o.root }

func newSB() *vfs.Superblock {
	return vfs.NewSuperblock(&fakeOps{root: newFakeInode()})
}

func TestMountThenUmount(t *testing.T) {
	table := mount.NewTable(nil)
	rootSB := newSB()
	ns, err := table.NewRootNamespace(rootSB)
	require.NoError(t, err)

	mountpoint := newFakeInode()
	childSB := newSB()
	m, err := ns.Mount(ns.Root(), mountpoint, childSB, nil)
	require.NoError(t, err)
	assert.Same(t, m, ns.MntLookup(mountpoint, ns.Root()))

	require.NoError(t, ns.Umount(m))
	assert.Nil(t, ns.MntLookup(mountpoint, ns.Root()))
}

func TestMountDuplicateAtSameParentMountpointFails(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)

	mountpoint := newFakeInode()
	_, err = ns.Mount(ns.Root(), mountpoint, newSB(), nil)
	require.NoError(t, err)

	_, err = ns.Mount(ns.Root(), mountpoint, newSB(), nil)
	assert.ErrorIs(t, err, mount.ErrMountExists)
}

func TestMountRequiresExactlyOneOfSbOrBind(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)

	_, err = ns.Mount(ns.Root(), newFakeInode(), nil, nil)
	assert.ErrorIs(t, err, mount.ErrBadArgs)

	_, err = ns.Mount(ns.Root(), newFakeInode(), newSB(), newFakeInode())
	assert.ErrorIs(t, err, mount.ErrBadArgs)
}

func TestUmountBusyWhenStillParentOfAnotherMount(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)

	mpA := newFakeInode()
	mA, err := ns.Mount(ns.Root(), mpA, newSB(), nil)
	require.NoError(t, err)

	mpB := newFakeInode()
	_, err = ns.Mount(mA, mpB, newSB(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, ns.Umount(mA), mount.ErrMountBusy)
}

func TestIsChildOf(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)

	mA, err := ns.Mount(ns.Root(), newFakeInode(), newSB(), nil)
	require.NoError(t, err)
	mB, err := ns.Mount(mA, newFakeInode(), newSB(), nil)
	require.NoError(t, err)

	assert.True(t, mount.IsChildOf(ns.Root(), mB))
	assert.True(t, mount.IsChildOf(mA, mB))
	assert.False(t, mount.IsChildOf(mB, mA))
}

func TestPivotRootSwapsRootAndStashesOld(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)
	oldRoot := ns.Root()

	putOldIP := newFakeInode()
	newRootIP := newFakeInode()
	newRootSB := vfs.NewSuperblock(&fakeOps{root: newRootIP})
	newRootMount, err := ns.Mount(oldRoot, putOldIP, newRootSB, nil)
	require.NoError(t, err)

	require.NoError(t, ns.PivotRoot(newRootIP, newRootMount, putOldIP, newRootMount))
	assert.Same(t, newRootMount, ns.Root())
}

func TestPivotRootSameMountErrors(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)
	root := ns.Root()

	err = ns.PivotRoot(root.Root(), root, newFakeInode(), root)
	assert.ErrorIs(t, err, mount.ErrSameMount)
}

func TestCopyActiveMountsPreservesParentLinksAndBumpsRefs(t *testing.T) {
	table := mount.NewTable(nil)
	ns, err := table.NewRootNamespace(newSB())
	require.NoError(t, err)

	mA, err := ns.Mount(ns.Root(), newFakeInode(), newSB(), nil)
	require.NoError(t, err)
	_, err = ns.Mount(mA, newFakeInode(), newSB(), nil)
	require.NoError(t, err)

	newNS, newCwd, err := table.CopyActiveMounts(ns, mA)
	require.NoError(t, err)
	require.NotNil(t, newCwd)
	assert.NotEqual(t, ns.ID(), newNS.ID(), "each namespace must carry a distinct identity")

	// The cloned child mount must resolve under the cloned root, not the
	// original namespace's mounts.
	assert.Same(t, newNS.Root(), newCwd.Parent())
}
