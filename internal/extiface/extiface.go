// Package extiface defines the thin interfaces through which the VFS core
// talks to components that this module treats as external collaborators:
// the process/scheduler layer, the device-driver table, and the
// sleep/wakeup primitive. Real kernels wire concrete implementations; tests
// wire fakes.
package extiface

import "github.com/jacobsa/fuse/fuseops"

// DevStat is what a character/block device reports for fstat on a T_DEV
// inode.
type DevStat struct {
	Major uint32
	Minor uint32
	Size  int64
}

// DevSwitch is the devsw table from spec.md §6: a set of driver callbacks
// indexed by major number, dispatched to for any inode of device type.
type DevSwitch interface {
	// Read reads up to n bytes for the device behind minor, scattering them
	// into dst. Returns the number of bytes read.
	Read(minor uint32, n int, dst [][]byte) (int, error)

	// Write writes buf to the device behind minor.
	Write(minor uint32, buf []byte) (int, error)

	// Stat reports device metadata.
	Stat(minor uint32) (DevStat, error)
}

// ProcView is the slice of process-visible state the core reads, per
// spec.md §3 "Process-visible state consumed by the core". The core never
// constructs one; it is supplied by the (out of scope) process layer.
type ProcView interface {
	// Killed reports whether the calling process has been marked for
	// termination; sleep loops poll it and unwind without completing.
	Killed() bool

	// CWDInode is the inode number of the process's current working
	// directory.
	CWDInode() fuseops.InodeID
}

// WaitChan is an opaque wait-channel identity for the sleep/wakeup
// primitive of spec.md §5; any comparable value works. No package in this
// module uses it: the log waits on an internal/ksync.WaitQueue.
type WaitChan = any
