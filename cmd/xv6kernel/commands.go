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
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/xv6kernel/core/internal/mount"
	"github.com/xv6kernel/core/internal/objcache"
	"github.com/xv6kernel/core/internal/objfs"
	"github.com/xv6kernel/core/internal/vfs"
)

// direntSize/decodeDirent mirror the bounded on-disk directory entry
// shape that both native-fs and objfs implement internally (spec.md §3);
// the CLI has no privileged access to either backend's package-private
// dirent helpers, so it decodes the same convention itself, the way an
// xv6 userspace "ls" reads raw directory bytes rather than calling back
// into the kernel for a Readdir primitive that spec.md never defines.
const direntSize = 2 + vfs.DIRSIZ

func decodeDirent(entry []byte) (inum uint16, name string) {
	inum = binary.LittleEndian.Uint16(entry[0:2])
	n := 0
	for n < vfs.DIRSIZ && entry[2+n] != 0 {
		n++
	}
	return inum, string(entry[2 : 2+n])
}

var lsCmd = &cobra.Command{
	Use:   "ls PATH",
	Short: "List a directory's entries.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()
		ip, _, err := k.RootNamespace.Namei(ctx, args[0], root.Root(), root)
		if err != nil {
			return err
		}
		defer ip.IPut()

		ip.ILock()
		defer ip.IUnlock()
		if ip.Type() != vfs.TypeDir {
			return fmt.Errorf("%s: not a directory", args[0])
		}

		var entry [direntSize]byte
		st := ip.Stati()
		for off := int64(0); off < int64(st.Attributes.Size); off += direntSize {
			n, err := ip.Readi(ctx, entry[:], off)
			if err != nil {
				return err
			}
			if n != direntSize {
				break
			}
			inum, name := decodeDirent(entry[:])
			if inum == 0 {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%6d %s%s\n", inum, name, entrySuffix(ip, name))
		}
		return nil
	},
}

// entrySuffix reports " (rdev N)" for a device-file child of dir, using the
// Linux dev_t encoding (golang.org/x/sys/unix.Mkdev) so a device's
// major/minor pair prints the same combined number a host "ls -l" would
// show, and " (mountpoint)" when the child currently has a filesystem
// mounted on it (vfs.Inode.MountPoint(), set by MountNamespace.Mount);
// empty for an entry that is neither.
func entrySuffix(dir vfs.Inode, name string) string {
	// "." (and ".." at a filesystem root) resolve to dir itself, which the
	// caller holds locked; the sleeplock is not reentrant, so neither name
	// is looked up.
	if name == "." || name == ".." {
		return ""
	}
	child, _, err := dir.DirLookup(name)
	if err != nil {
		return ""
	}
	defer child.IPut()

	child.ILock()
	defer child.IUnlock()

	suffix := ""
	if child.Type() == vfs.TypeDev {
		st := child.Stati()
		suffix += fmt.Sprintf(" (rdev %d)", unix.Mkdev(st.Major, st.Minor))
	}
	if mp, ok := child.MountPoint().(*mount.Mount); ok && mp != nil {
		suffix += " (mountpoint)"
	}
	return suffix
}

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Print a file's contents.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()
		ip, _, err := k.RootNamespace.Namei(ctx, args[0], root.Root(), root)
		if err != nil {
			return err
		}
		defer ip.IPut()

		ip.ILock()
		defer ip.IUnlock()
		if ip.Type() != vfs.TypeFile {
			return fmt.Errorf("%s: not a regular file", args[0])
		}

		st := ip.Stati()
		buf := make([]byte, st.Attributes.Size)
		if _, err := ip.Readi(ctx, buf, 0); err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(buf)
		return err
	},
}

var writeCmd = &cobra.Command{
	Use:   "write PATH",
	Short: "Create (or truncate) PATH with stdin's contents.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()

		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return err
		}

		ip, _, err := k.RootNamespace.Namei(ctx, args[0], root.Root(), root)
		if err == vfs.ErrNotExist {
			parent, pmnt, name, perr := k.RootNamespace.NameiParent(ctx, args[0], root.Root(), root)
			if perr != nil {
				return perr
			}
			defer parent.IPut()

			sb := pmnt.Superblock()
			if sb == nil {
				return fmt.Errorf("write: %s's parent is a bind mount, cannot allocate a new inode there", args[0])
			}
			newIP, aerr := sb.IAlloc(ctx, vfs.TypeFile)
			if aerr != nil {
				return aerr
			}
			parent.ILock()
			lerr := parent.DirLink(name, newIP.Num())
			parent.IUnlock()
			if lerr != nil {
				newIP.IPut()
				return lerr
			}
			ip = newIP
		} else if err != nil {
			return err
		}
		defer ip.IPut()

		ip.ILock()
		defer ip.IUnlock()
		_, err = ip.Writei(ctx, data, 0)
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Unlink PATH from its parent directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()

		parent, _, name, err := k.RootNamespace.NameiParent(ctx, args[0], root.Root(), root)
		if err != nil {
			return err
		}
		defer parent.IPut()

		parent.ILock()
		defer parent.IUnlock()
		return parent.DirUnlink(name)
	},
}

var mountCmd = &cobra.Command{
	Use:   "mount PATH",
	Short: "Mount a fresh in-memory object filesystem at PATH (demonstration only: backends are in-memory and do not outlive the process).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()
		parentMnt, mountpointIP, err := resolveMountpoint(ctx, args[0], root)
		if err != nil {
			return err
		}
		defer mountpointIP.IPut()

		dev := k.Registry.CreateObjDevice()
		cache := objcache.New(k.Bufs, dev.Obj(), dev.ID(), k.Metrics.ObjCache)
		fs := objfs.NewFS(cache, k.Registry, dev)
		sb := vfs.NewSuperblock(fs)

		if _, err := k.RootNamespace.Mount(parentMnt, mountpointIP, sb, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mounted fresh objfs at %s\n", args[0])
		return nil
	},
}

var umountCmd = &cobra.Command{
	Use:   "umount PATH",
	Short: "Unmount the mount whose mountpoint is PATH.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()
		// Look the last component up in its parent directory directly, so
		// the mountpoint inode itself is found rather than the root of the
		// filesystem mounted on it.
		parent, parentMnt, name, err := k.RootNamespace.NameiParent(ctx, args[0], root.Root(), root)
		if err != nil {
			return err
		}
		parent.ILock()
		mountpointIP, _, err := parent.DirLookup(name)
		parent.IUnlockPut()
		if err != nil {
			return err
		}
		defer mountpointIP.IPut()

		m := k.RootNamespace.MntLookup(mountpointIP, parentMnt)
		if m == nil {
			return fmt.Errorf("%s: not a mountpoint", args[0])
		}
		return k.RootNamespace.Umount(m)
	},
}

var pivotRootCmd = &cobra.Command{
	Use:   "pivot-root NEW_ROOT PUT_OLD",
	Short: "Make NEW_ROOT the namespace's root, stashing the old root at PUT_OLD.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := k.RootNamespace.Root()

		newRootIP, newRootMnt, err := k.RootNamespace.Namei(ctx, args[0], root.Root(), root)
		if err != nil {
			return err
		}
		defer newRootIP.IPut()

		putOldIP, putOldMnt, err := k.RootNamespace.Namei(ctx, args[1], root.Root(), root)
		if err != nil {
			return err
		}
		defer putOldIP.IPut()

		return k.RootNamespace.PivotRoot(newRootIP, newRootMnt, putOldIP, putOldMnt)
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare",
	Short: "Copy the active mount table into a new namespace and report its mount count.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		newNS, _, err := k.Mounts.CopyActiveMounts(k.RootNamespace, k.RootNamespace.Root())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "new namespace %s: root superblock present=%v\n", newNS.ID(), newNS.Root().Superblock() != nil)
		return nil
	},
}

// resolveMountpoint resolves path to its target inode and the mount it
// currently lives in (the "parent" mount a new mount would attach under).
func resolveMountpoint(ctx context.Context, path string, root *mount.Mount) (*mount.Mount, vfs.Inode, error) {
	ip, mnt, err := k.RootNamespace.Namei(ctx, path, root.Root(), root)
	if err != nil {
		return nil, nil, err
	}
	return mnt, ip, nil
}
