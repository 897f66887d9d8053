// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import "golang.org/x/sys/unix"

// procStat tracks the identity of a process between resolver calls through
// the inode of its /proc exe entry. A reused pid gets a fresh inode, which is
// how pid reuse is told apart from a live process. It is an identity token
// only, never a handle to process memory.
type procStat struct {
	exePath string
	inode   uint64
}

func newProcStat(exePath string) procStat {
	return procStat{exePath: exePath}
}

func (s *procStat) currentInode() uint64 {
	var st unix.Stat_t
	if err := unix.Stat(s.exePath, &st); err != nil {
		return 0
	}
	return st.Ino
}

// stale reports whether the recorded identity no longer matches the live
// process. A vanished process (inode 0) counts as stale.
func (s *procStat) stale() bool {
	return s.inode != s.currentInode()
}

func (s *procStat) reset() {
	s.inode = s.currentInode()
}
