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

package vfs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/vfs"
)

// fakeOps is a minimal vfs.SuperblockOps fake that counts Start/Destroy
// calls, standing in for either filesystem backend.
type fakeOps struct {
	starts    int
	destroys  int
	startErr  error
	rootInode vfs.Inode
}

func (f *fakeOps) IAlloc(ctx context.Context, stype int) (vfs.Inode, error) { return nil, nil }
func (f *fakeOps) IGet(inum uint32) (vfs.Inode, error)                     { return nil, nil }
func (f *fakeOps) Start() error {
	f.starts++
	return f.startErr
}
func (f *fakeOps) Destroy() { f.destroys++ }
func (f *fakeOps) Root() vfs.Inode { return f.rootInode }

func TestSuperblockGetPutRefcounting(t *testing.T) {
	ops := &fakeOps{}
	sb := vfs.NewSuperblock(ops)

	require.NoError(t, sb.Get())
	assert.Equal(t, 1, ops.starts, "Start must run exactly once, on the first Get")

	require.NoError(t, sb.Get())
	assert.Equal(t, 1, ops.starts, "a second Get must not re-run Start")

	assert.False(t, sb.Put())
	assert.Equal(t, 0, ops.destroys)

	assert.True(t, sb.Put(), "the last Put must report destroyed")
	assert.Equal(t, 1, ops.destroys)
}

func TestSuperblockPutUnderflowPanics(t *testing.T) {
	sb := vfs.NewSuperblock(&fakeOps{})
	assert.Panics(t, func() { sb.Put() })
}

func TestSuperblockGetPropagatesStartError(t *testing.T) {
	ops := &fakeOps{startErr: assertErr}
	sb := vfs.NewSuperblock(ops)
	err := sb.Get()
	assert.ErrorIs(t, err, assertErr)
}

var assertErr = vfsTestErr("boom")

type vfsTestErr string

func (e vfsTestErr) Error() string { return string(e) }
