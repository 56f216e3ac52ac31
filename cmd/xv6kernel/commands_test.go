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

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/kconfig"
	"github.com/xv6kernel/core/internal/vfs"
	"github.com/xv6kernel/core/kernel"
)

// newTestKernel builds a real Kernel (in-memory backends only) and installs
// it as the package-level k, the way rootCmd's PersistentPreRunE does.
func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	cfg := &kconfig.Config{
		Device: kconfig.DeviceConfig{
			NativeDiskBlocks: 2048,
			NativeInodes:     200,
			RootMode:         "native",
		},
		Cache: kconfig.CacheConfig{BufBuffers: 256},
	}
	inst := kernel.New(cfg, nil)
	require.NoError(t, inst.Start(nil))
	k = inst
	return inst
}

// putFile creates name under the root directory with contents, bypassing
// writeCmd (which reads from the real /dev/stdin and so can't be driven from
// a unit test).
func putFile(t *testing.T, k *kernel.Kernel, name string, contents []byte) {
	t.Helper()
	ctx := context.Background()
	root := k.RootNamespace.Root()

	sb := root.Superblock()
	require.NotNil(t, sb)
	ip, err := sb.IAlloc(ctx, vfs.TypeFile)
	require.NoError(t, err)

	ip.ILock()
	_, err = ip.Writei(ctx, contents, 0)
	require.NoError(t, err)
	ip.IUnlock()

	rootIP := root.Root()
	rootIP.ILock()
	require.NoError(t, rootIP.DirLink(name, ip.Num()))
	rootIP.IUnlock()
	ip.IPut()
}

func TestCatPrintsFileContents(t *testing.T) {
	k := newTestKernel(t)
	putFile(t, k, "greeting.txt", []byte("hello from the kernel\n"))

	var out bytes.Buffer
	catCmd.SetOut(&out)
	require.NoError(t, catCmd.RunE(catCmd, []string{"/greeting.txt"}))
	assert.Equal(t, "hello from the kernel\n", out.String())
}

func TestLsListsWrittenFile(t *testing.T) {
	k := newTestKernel(t)
	putFile(t, k, "a.txt", []byte("x"))

	var out bytes.Buffer
	lsCmd.SetOut(&out)
	require.NoError(t, lsCmd.RunE(lsCmd, []string{"/"}))
	assert.True(t, strings.Contains(out.String(), "a.txt"))
}

func TestCatOnDirectoryErrors(t *testing.T) {
	newTestKernel(t)

	var out bytes.Buffer
	catCmd.SetOut(&out)
	err := catCmd.RunE(catCmd, []string{"/"})
	assert.Error(t, err)
}

func TestLsOnMissingPathErrors(t *testing.T) {
	newTestKernel(t)

	var out bytes.Buffer
	lsCmd.SetOut(&out)
	err := lsCmd.RunE(lsCmd, []string{"/does-not-exist"})
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestRmThenCatOnSameFileErrors(t *testing.T) {
	k := newTestKernel(t)
	putFile(t, k, "b.txt", []byte("bye"))

	var rmOut bytes.Buffer
	rmCmd.SetOut(&rmOut)
	require.NoError(t, rmCmd.RunE(rmCmd, []string{"/b.txt"}))

	var out bytes.Buffer
	lsCmd.SetOut(&out)
	require.NoError(t, lsCmd.RunE(lsCmd, []string{"/"}))
	assert.False(t, strings.Contains(out.String(), "b.txt"), "rm must remove the dirent")

	catCmd.SetOut(&out)
	err := catCmd.RunE(catCmd, []string{"/b.txt"})
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestRmOnMissingPathErrors(t *testing.T) {
	newTestKernel(t)

	var out bytes.Buffer
	rmCmd.SetOut(&out)
	err := rmCmd.RunE(rmCmd, []string{"/does-not-exist"})
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestLsAnnotatesActiveMountpoint(t *testing.T) {
	k := newTestKernel(t)

	ctx := context.Background()
	root := k.RootNamespace.Root()
	sb := root.Superblock()
	dir, err := sb.IAlloc(ctx, vfs.TypeDir)
	require.NoError(t, err)
	dir.ILock()
	require.NoError(t, dir.DirLink(".", dir.Num()))
	require.NoError(t, dir.DirLink("..", root.Root().Num()))
	dir.IUnlock()
	rootIP := root.Root()
	rootIP.ILock()
	require.NoError(t, rootIP.DirLink("mnt", dir.Num()))
	rootIP.IUnlock()
	dir.IPut()

	var mountOut bytes.Buffer
	mountCmd.SetOut(&mountOut)
	require.NoError(t, mountCmd.RunE(mountCmd, []string{"/mnt"}))

	var out bytes.Buffer
	lsCmd.SetOut(&out)
	require.NoError(t, lsCmd.RunE(lsCmd, []string{"/"}))
	assert.True(t, strings.Contains(out.String(), "mnt (mountpoint)"))
}

func TestMountCreatesNewMountpointThenUmountRemovesIt(t *testing.T) {
	k := newTestKernel(t)

	ctx := context.Background()
	root := k.RootNamespace.Root()
	sb := root.Superblock()
	dir, err := sb.IAlloc(ctx, vfs.TypeDir)
	require.NoError(t, err)
	dir.ILock()
	require.NoError(t, dir.DirLink(".", dir.Num()))
	require.NoError(t, dir.DirLink("..", root.Root().Num()))
	dir.IUnlock()
	rootIP := root.Root()
	rootIP.ILock()
	require.NoError(t, rootIP.DirLink("mnt", dir.Num()))
	rootIP.IUnlock()
	dir.IPut()

	var mountOut bytes.Buffer
	mountCmd.SetOut(&mountOut)
	require.NoError(t, mountCmd.RunE(mountCmd, []string{"/mnt"}))
	assert.True(t, strings.Contains(mountOut.String(), "mounted fresh objfs at /mnt"))

	var umountOut bytes.Buffer
	umountCmd.SetOut(&umountOut)
	require.NoError(t, umountCmd.RunE(umountCmd, []string{"/mnt"}))
}

func TestUmountOnNonMountpointErrors(t *testing.T) {
	newTestKernel(t)

	var out bytes.Buffer
	umountCmd.SetOut(&out)
	err := umountCmd.RunE(umountCmd, []string{"/"})
	assert.Error(t, err)
}

func TestUnshareReportsNewNamespace(t *testing.T) {
	newTestKernel(t)

	var out bytes.Buffer
	unshareCmd.SetOut(&out)
	require.NoError(t, unshareCmd.RunE(unshareCmd, nil))
	assert.True(t, strings.Contains(out.String(), "new namespace"))
}

func TestPivotRootSamePathErrors(t *testing.T) {
	newTestKernel(t)

	var out bytes.Buffer
	pivotRootCmd.SetOut(&out)
	err := pivotRootCmd.RunE(pivotRootCmd, []string{"/", "/"})
	assert.Error(t, err, "pivoting new_root and put_old to the same mount must be rejected")
}
