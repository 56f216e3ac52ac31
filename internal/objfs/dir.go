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

package objfs

import (
	"context"
	"encoding/binary"

	"github.com/xv6kernel/core/internal/vfs"
)

// direntSize mirrors nativefs's on-disk directory entry shape: a uint16
// inode number and a bounded, unterminated name (spec.md §4.7: "Directory
// lookup/link ... mirror native-fs semantics").
const direntSize = 2 + vfs.DIRSIZ

func encodeDirent(dst []byte, inum uint16, name string) {
	binary.LittleEndian.PutUint16(dst[0:2], inum)
	var nameField [vfs.DIRSIZ]byte
	copy(nameField[:], name)
	copy(dst[2:2+vfs.DIRSIZ], nameField[:])
}

func decodeDirentName(src []byte) string {
	n := 0
	for n < vfs.DIRSIZ && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

func boundedNameEqual(stored []byte, name string) bool {
	if len(name) > vfs.DIRSIZ {
		name = name[:vfs.DIRSIZ]
	}
	return decodeDirentName(stored) == name
}

// dirlookupLocked scans a directory's entries for name. REQUIRES the
// sleeplock held and Type()==TypeDir.
func (ip *Inode) dirlookupLocked(name string) (*Inode, int64, error) {
	if ip.dtype != vfs.TypeDir {
		return nil, 0, vfs.ErrNotDir
	}

	var entry [direntSize]byte
	for off := int64(0); off < int64(ip.size); off += direntSize {
		n, err := ip.Readi(context.Background(), entry[:], off)
		if err != nil {
			return nil, 0, err
		}
		if n != direntSize {
			break
		}
		inum := binary.LittleEndian.Uint16(entry[0:2])
		if inum == 0 {
			continue
		}
		if boundedNameEqual(entry[2:2+vfs.DIRSIZ], name) {
			return ip.fs.iget(uint32(inum)), off, nil
		}
	}
	return nil, 0, vfs.ErrNotExist
}

// DirLookup implements vfs.Inode.
func (ip *Inode) DirLookup(name string) (vfs.Inode, int64, error) {
	child, off, err := ip.dirlookupLocked(name)
	if err != nil {
		return nil, 0, err
	}
	return child, off, nil
}

// dirlinkLocked appends (name, inum), reusing the first free slot.
// REQUIRES the sleeplock held and Type()==TypeDir.
func (ip *Inode) dirlinkLocked(name string, inum uint32) error {
	if ip.dtype != vfs.TypeDir {
		return vfs.ErrNotDir
	}
	if len(name) > vfs.DIRSIZ {
		return vfs.ErrNameTooLong
	}

	if existing, _, err := ip.dirlookupLocked(name); err == nil {
		existing.IPut()
		return vfs.ErrExist
	}

	var entry [direntSize]byte
	var off int64
	for off = 0; off < int64(ip.size); off += direntSize {
		n, err := ip.Readi(context.Background(), entry[:], off)
		if err != nil {
			return err
		}
		if n != direntSize {
			break
		}
		if binary.LittleEndian.Uint16(entry[0:2]) == 0 {
			break
		}
	}

	encodeDirent(entry[:], uint16(inum), name)
	_, err := ip.Writei(context.Background(), entry[:], off)
	return err
}

// DirLink implements vfs.Inode.
func (ip *Inode) DirLink(name string, inum uint32) error {
	return ip.dirlinkLocked(name, inum)
}

// dirunlinkLocked clears name's dirent and drops the linked inode's
// Nlink by one, leaving reclamation to the next IPut of its last
// reference (spec.md §8 property 6). REQUIRES the sleeplock held and
// Type()==TypeDir.
func (ip *Inode) dirunlinkLocked(name string) error {
	if ip.dtype != vfs.TypeDir {
		return vfs.ErrNotDir
	}

	var entry [direntSize]byte
	var off int64
	var inum uint16
	found := false
	for off = 0; off < int64(ip.size); off += direntSize {
		n, err := ip.Readi(context.Background(), entry[:], off)
		if err != nil {
			return err
		}
		if n != direntSize {
			break
		}
		if candidate := binary.LittleEndian.Uint16(entry[0:2]); candidate != 0 && boundedNameEqual(entry[2:2+vfs.DIRSIZ], name) {
			inum = candidate
			found = true
			break
		}
	}
	if !found {
		return vfs.ErrNotExist
	}

	var cleared [direntSize]byte
	if _, err := ip.Writei(context.Background(), cleared[:], off); err != nil {
		return err
	}

	// A self-referential link (".") drops the same inode we already hold
	// locked; go through it directly rather than re-entering ILock, which
	// would deadlock on the non-reentrant sleeplock.
	if uint32(inum) == ip.inum {
		if ip.nlink > 0 {
			ip.nlink--
		}
		ip.IUpdate()
		return nil
	}

	child := ip.fs.iget(uint32(inum))
	child.ILock()
	if child.nlink > 0 {
		child.nlink--
	}
	child.IUpdate()
	child.IUnlockPut()
	return nil
}

// DirUnlink implements vfs.Inode.
func (ip *Inode) DirUnlink(name string) error {
	return ip.dirunlinkLocked(name)
}

// IsDirEmpty reports whether a directory holds only "." and "..".
// REQUIRES the sleeplock held and Type()==TypeDir.
func (ip *Inode) IsDirEmpty() bool {
	var entry [direntSize]byte
	for off := int64(2 * direntSize); off < int64(ip.size); off += direntSize {
		n, err := ip.Readi(context.Background(), entry[:], off)
		if err != nil || n != direntSize {
			break
		}
		if binary.LittleEndian.Uint16(entry[0:2]) != 0 {
			return false
		}
	}
	return true
}
