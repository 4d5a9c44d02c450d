//go:build linux

package rootless

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// childNamespaceAttr unshares user, mount, and PID namespaces in the
// forked map-assert child before it execs, matching spec.md §4.3 step 3.
func childNamespaceAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Unshareflags: unix.CLONE_NEWUSER | unix.CLONE_NEWNS | unix.CLONE_NEWPID,
	}
}

// brokerNamespaceAttr unshares the namespace set the broker sub-action
// needs to mount proc/sys/dev/devpts/shm/run/tmp and overlay roots.
func brokerNamespaceAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Unshareflags: unix.CLONE_NEWNS,
	}
}

// unshareMountNS unshares only the mount namespace, for the broker
// sub-action which runs after the user/PID namespaces are already set
// up by map-assert.
func unshareMountNS() error {
	return unix.Unshare(unix.CLONE_NEWNS)
}

// unshareUserMountPID unshares the namespace triple the map-assert child
// sets up before the parent installs its id maps.
func unshareUserMountPID() error {
	return unix.Unshare(unix.CLONE_NEWUSER | unix.CLONE_NEWNS | unix.CLONE_NEWPID)
}
