// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package mountns temporarily moves the calling thread into another
// process's mount namespace, so that files of containerized targets can be
// opened by their in-container paths. Usage is strictly scoped: Enter
// returns a Guard and every exit path must run Guard.Exit, normally via
// defer. Nested or concurrent switches on one thread are not supported.
package mountns

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// ErrSameNamespace is returned when the target already shares the caller's
// mount namespace. The kernel rejects switching into an identical namespace
// with EPERM, so the comparison happens up front and no state is changed.
var ErrSameNamespace = errors.New("mount namespace identical to caller's")

// Guard holds the saved original namespace handle and the target handle for
// the duration of a switch. The zero Guard is inert.
type Guard struct {
	orig   netns.NsHandle
	target netns.NsHandle
	active bool
}

// Enter locks the calling goroutine to its OS thread and switches that
// thread into pid's mount namespace. On any failure nothing is changed: both
// handles are closed, the thread is unlocked, and the caller's namespace is
// untouched. On success the returned Guard must be released with Exit.
func Enter(pid int) (*Guard, error) {
	runtime.LockOSThread()

	orig, err := netns.GetFromPath("/proc/self/ns/mnt")
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("open own mount namespace: %w", err)
	}

	target, err := netns.GetFromPath("/proc/" + strconv.Itoa(pid) + "/ns/mnt")
	if err != nil {
		orig.Close()
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("open mount namespace of pid %d: %w", pid, err)
	}

	if orig.Equal(target) {
		orig.Close()
		target.Close()
		runtime.UnlockOSThread()
		return nil, ErrSameNamespace
	}

	if err := unix.Setns(int(target), unix.CLONE_NEWNS); err != nil {
		orig.Close()
		target.Close()
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("setns into pid %d mount namespace: %w", pid, err)
	}

	return &Guard{orig: orig, target: target, active: true}, nil
}

// Exit switches the thread back to the saved namespace and releases both
// handles. Safe to call more than once; only the first call acts.
func (g *Guard) Exit() {
	if g == nil || !g.active {
		return
	}
	g.active = false

	// Best-effort restoration; the handles are closed either way.
	_ = unix.Setns(int(g.orig), unix.CLONE_NEWNS)
	g.orig.Close()
	g.target.Close()
	runtime.UnlockOSThread()
}
