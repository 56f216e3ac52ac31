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

// Package objdisk implements the object disk of spec.md §4.5: an in-memory
// backing store of variable-length named objects, laid out as a
// superblock, an object table, and a free region where object bodies live.
//
// This kernel's non-goal explicitly waives any specific on-disk byte
// layout for objfs beyond what's needed to reproduce the semantics (see
// spec.md §1), so the table and body region are kept as Go slices rather
// than hand-serialized into one flat byte array; every operation and
// invariant spec.md §4.5 describes is still implemented, including the
// allocator's tail/gap/shrink search order and the byte-identity property
// from spec.md §8.
package objdisk

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xv6kernel/core/internal/ksync"
)

// MaxObjectNameLength bounds an object name, matching
// MAX_OBJECT_NAME_LENGTH in spec.md §6.
const MaxObjectNameLength = 32

// StorageDeviceSize is the total size of an obj device's backing region.
const StorageDeviceSize = 64 << 20 // 64 MiB

// Reserved object names, always present.
const (
	SuperBlockID   = "$superblock"
	ObjectTableID  = "$objecttable"
)

// entry mirrors spec.md §4.5's `objects_table_entry`: (name, disk_offset,
// size, occupied).
type entry struct {
	name       string
	diskOffset int64
	size       int64
	occupied   bool
}

// Storage is the in-memory device backing for one objfs mount.
type Storage struct {
	mu ksync.Sleeplock // serializes all mutations, per spec.md §4.5

	size            int64
	objectsTableOff int64
	storeOff        int64 // GUARDED_BY(mu): start of the free region
	bytesOccupied   int64 // GUARDED_BY(mu)
	occupiedObjects int   // GUARDED_BY(mu)
	lastInode       uint64

	// GUARDED_BY(mu). table[0] and table[1] are the reserved superblock and
	// object-table entries; real objects start at index 2.
	table []entry

	// GUARDED_BY(mu). bodies[name] holds an object's bytes, keyed the same
	// way the table keys its disk_offset.
	bodies map[string][]byte
}

// NewStorage allocates a fresh, empty object device.
func NewStorage() *Storage {
	s := &Storage{
		size:            StorageDeviceSize,
		objectsTableOff: 0,
		bodies:          make(map[string][]byte),
	}
	s.table = []entry{
		{name: SuperBlockID, diskOffset: 0, size: 0, occupied: true},
		{name: ObjectTableID, diskOffset: 0, size: 0, occupied: true},
	}
	s.storeOff = int64(len(s.table)) * 64
	return s
}

// SuperBlockSnapshot reports the superblock fields of spec.md §4.5, for
// diagnostics and tests.
type SuperBlockSnapshot struct {
	StorageDeviceSize int64
	ObjectsTableOff   int64
	StoreOffset       int64
	BytesOccupied     int64
	OccupiedObjects   int
	LastInode         uint64
}

// SuperBlock returns a snapshot of the superblock fields.
func (s *Storage) SuperBlock() SuperBlockSnapshot {
	s.mu.Acquire()
	defer s.mu.Release()
	return SuperBlockSnapshot{
		StorageDeviceSize: s.size,
		ObjectsTableOff:   s.objectsTableOff,
		StoreOffset:       s.storeOff,
		BytesOccupied:     s.bytesOccupied,
		OccupiedObjects:   s.occupiedObjects,
		LastInode:         s.lastInode,
	}
}

// NewInodeNumber returns a fresh, monotonically increasing inode number,
// starting at 1 (0 is reserved, as with the native fs's root at inode 1).
func (s *Storage) NewInodeNumber() uint64 {
	s.mu.Acquire()
	defer s.mu.Release()
	s.lastInode++
	return s.lastInode
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > MaxObjectNameLength {
		return fmt.Errorf("objdisk: invalid object name length %d", len(name))
	}
	if name == SuperBlockID || name == ObjectTableID {
		return fmt.Errorf("objdisk: %q is a reserved object name", name)
	}
	return nil
}

func (s *Storage) findEntry(name string) int {
	for i, e := range s.table {
		if e.occupied && e.name == name {
			return i
		}
	}
	return -1
}

func (s *Storage) findFreeTableSlot() int {
	for i, e := range s.table {
		if i < 2 {
			continue
		}
		if !e.occupied {
			return i
		}
	}
	return -1
}

// findEmptySpace implements spec.md §4.5's find_empty_space(size): try the
// tail of the free region first, then the gaps between adjacent occupied
// entries (sorted by offset, rightmost gap that fits), then attempt to
// shrink the table region into a freed slot, else report no space.
//
// GUARDED_BY(mu)
func (s *Storage) findEmptySpace(size int64) (int64, bool) {
	var occupied []entry
	for i, e := range s.table {
		if i < 2 || !e.occupied {
			continue
		}
		occupied = append(occupied, e)
	}

	// Tail of the device.
	if len(occupied) == 0 {
		if s.size-s.storeOff >= size {
			return s.storeOff, true
		}
	} else {
		sort.Slice(occupied, func(i, j int) bool { return occupied[i].diskOffset < occupied[j].diskOffset })
		last := occupied[len(occupied)-1]
		tailStart := last.diskOffset + last.size
		if s.size-tailStart >= size {
			return tailStart, true
		}

		// Rightmost gap between adjacent occupied entries that fits.
		for i := len(occupied) - 1; i > 0; i-- {
			gapStart := occupied[i-1].diskOffset + occupied[i-1].size
			gapEnd := occupied[i].diskOffset
			if gapEnd-gapStart >= size {
				return gapStart, true
			}
		}
	}

	// Attempt to shrink the table region leftward into the last entry's
	// freed slot, if that entry is unoccupied and large enough.
	if len(s.table) > 2 {
		last := s.table[len(s.table)-1]
		if !last.occupied && last.size >= size {
			return last.diskOffset, true
		}
	}

	return 0, false
}

// AddObject creates a new named object with the given contents.
//
// The freed table slot of a deleted object is reused, but its disk offset
// is not looked up directly: findEmptySpace tries the tail first. After
// add; delete; add(size <= previous), the new object lands at the old
// offset only when the deleted object was the highest-placed one (the
// tail then starts at its offset); otherwise it goes to the tail or a gap.
func (s *Storage) AddObject(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Acquire()
	defer s.mu.Release()

	if s.findEntry(name) >= 0 {
		return fmt.Errorf("objdisk: object %q already exists", name)
	}

	size := int64(len(data))
	off, ok := s.findEmptySpace(size)
	if !ok {
		return fmt.Errorf("objdisk: no space for object %q of size %d", name, size)
	}

	slot := s.findFreeTableSlot()
	e := entry{name: name, diskOffset: off, size: size, occupied: true}
	if slot >= 0 {
		s.table[slot] = e
	} else {
		s.table = append(s.table, e)
	}

	body := make([]byte, size)
	copy(body, data)
	s.bodies[name] = body

	s.bytesOccupied += size
	s.occupiedObjects++
	return nil
}

// WriteObject replaces name's contents, growing or shrinking it. If the
// new size fits in the existing slot it is overwritten in place without
// zeroing trailing tail bytes beyond the new size (spec.md §9 open
// question, preserved deliberately); otherwise a new slot is found exactly
// as AddObject would, possibly reusing the vacated one.
func (s *Storage) WriteObject(name string, data []byte) error {
	s.mu.Acquire()
	defer s.mu.Release()

	idx := s.findEntry(name)
	if idx < 0 {
		return fmt.Errorf("objdisk: object %q does not exist", name)
	}

	newSize := int64(len(data))
	old := s.table[idx]

	if newSize <= old.size {
		body := s.bodies[name]
		if int64(len(body)) < old.size {
			grown := make([]byte, old.size)
			copy(grown, body)
			body = grown
		}
		copy(body, data)
		s.bodies[name] = body
		s.bytesOccupied += newSize - old.size
		s.table[idx].size = newSize
		return nil
	}

	// Doesn't fit: vacate, then allocate fresh (may reuse the same slot).
	s.table[idx].occupied = false
	s.bytesOccupied -= old.size
	s.occupiedObjects--
	oldBody := s.bodies[name]
	delete(s.bodies, name)

	off, ok := s.findEmptySpace(newSize)
	if !ok {
		// Restore so the object isn't silently lost.
		s.table[idx] = old
		s.bodies[name] = oldBody
		s.bytesOccupied += old.size
		s.occupiedObjects++
		return fmt.Errorf("objdisk: no space to grow object %q to size %d", name, newSize)
	}

	slot := s.findFreeTableSlot()
	e := entry{name: name, diskOffset: off, size: newSize, occupied: true}
	if slot >= 0 {
		s.table[slot] = e
	} else {
		s.table = append(s.table, e)
	}

	body := make([]byte, newSize)
	copy(body, data)
	s.bodies[name] = body
	s.bytesOccupied += newSize
	s.occupiedObjects++
	return nil
}

// DeleteObject marks name's table entry free. Its body bytes remain until
// overwritten, per spec.md §4.5.
func (s *Storage) DeleteObject(name string) error {
	s.mu.Acquire()
	defer s.mu.Release()

	idx := s.findEntry(name)
	if idx < 0 {
		return fmt.Errorf("objdisk: object %q does not exist", name)
	}

	s.table[idx].occupied = false
	s.bytesOccupied -= s.table[idx].size
	s.occupiedObjects--
	return nil
}

// GetObject copies name's full body out.
func (s *Storage) GetObject(name string) ([]byte, error) {
	s.mu.Acquire()
	defer s.mu.Release()

	idx := s.findEntry(name)
	if idx < 0 {
		return nil, fmt.Errorf("objdisk: object %q does not exist", name)
	}

	out := make([]byte, s.table[idx].size)
	copy(out, s.bodies[name])
	return out, nil
}

// ObjectSize reports an object's current size.
func (s *Storage) ObjectSize(name string) (int64, bool) {
	s.mu.Acquire()
	defer s.mu.Release()

	idx := s.findEntry(name)
	if idx < 0 {
		return 0, false
	}
	return s.table[idx].size, true
}

// Exists reports whether name currently names a live object.
func (s *Storage) Exists(name string) bool {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.findEntry(name) >= 0
}

// Equal reports whether name's stored contents equal want; used by tests
// exercising spec.md §8 property 7 (objfs byte-identity).
func (s *Storage) Equal(name string, want []byte) bool {
	got, err := s.GetObject(name)
	if err != nil {
		return false
	}
	return bytes.Equal(got, want)
}
