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

package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/device"
)

type fakeInvalidator struct {
	invalidated []device.ID
}

func (f *fakeInvalidator) InvalidateBlocks(dev device.ID) {
	f.invalidated = append(f.invalidated, dev)
}

type fakeBackingFile struct {
	dups     int
	released int
}

func (f *fakeBackingFile) ReadAt(dst []byte, off int64) (int, error)  { return len(dst), nil }
func (f *fakeBackingFile) WriteAt(src []byte, off int64) (int, error) { return len(src), nil }
func (f *fakeBackingFile) Dup() device.BackingFile {
	f.dups++
	return f
}
func (f *fakeBackingFile) Release() { f.released++ }

func TestCreateIDEDeviceAssignsDistinctIDs(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	d0 := r.CreateIDEDevice(0)
	d1 := r.CreateIDEDevice(1)

	assert.NotEqual(t, d0.ID(), d1.ID())
	assert.Equal(t, device.KindIDE, d0.Kind())
	assert.Equal(t, 0, d0.IDEPort())
	assert.Same(t, d0, r.GetIDEDevice(0))
}

func TestCreateIDEDevicePanicsWhenExhausted(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	for i := 0; i < device.MaxIDEDevices; i++ {
		r.CreateIDEDevice(i)
	}
	assert.Panics(t, func() { r.CreateIDEDevice(device.MaxIDEDevices) })
}

func TestCreateLoopDeviceDupsBacking(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	backing := &fakeBackingFile{}

	d := r.CreateLoopDevice(backing)
	assert.Equal(t, 1, backing.dups, "CreateLoopDevice must take its own reference via Dup")
	assert.Equal(t, device.KindLoop, d.Kind())
	assert.Same(t, backing, r.GetInodeForDevice(d))
}

func TestCreateObjDeviceHasWorkingStorage(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	d := r.CreateObjDevice()
	require.Equal(t, device.KindObj, d.Kind())
	require.NotNil(t, d.Obj())
}

func TestPutReleasesLoopBackingOnLastReference(t *testing.T) {
	inv := &fakeInvalidator{}
	r := device.NewRegistry(inv)
	backing := &fakeBackingFile{}
	d := r.CreateLoopDevice(backing)

	r.Get(d)
	r.Put(d)
	assert.Equal(t, 0, backing.released, "a non-last Put must not release the backing file")

	r.Put(d)
	assert.Equal(t, 1, backing.released, "the last Put must release the backing file")
	assert.Contains(t, inv.invalidated, d.ID())
}

func TestPutUnderflowPanics(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	d := r.CreateIDEDevice(0)
	r.Put(d)
	assert.Panics(t, func() { r.Put(d) })
}

func TestGetOnDestroyedDevicePanics(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	d := r.CreateIDEDevice(0)
	r.Put(d)
	assert.Panics(t, func() { r.Get(d) })
}

func TestIDEPortOnWrongKindPanics(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	d := r.CreateObjDevice()
	assert.Panics(t, func() { d.IDEPort() })
}

func TestObjOnWrongKindPanics(t *testing.T) {
	r := device.NewRegistry(&fakeInvalidator{})
	d := r.CreateIDEDevice(0)
	assert.Panics(t, func() { d.Obj() })
}
