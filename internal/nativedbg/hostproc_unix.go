//go:build unix

package nativedbg

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SuspendHost stops a host process with SIGSTOP. Drivers use it to hold a
// freshly created debuggee before the runtime starts.
func SuspendHost(pid int) error {
	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("suspend pid %d: %w", pid, err)
	}
	return nil
}

// ResumeHost releases a SIGSTOPped host process.
func ResumeHost(pid int) error {
	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("resume pid %d: %w", pid, err)
	}
	return nil
}

// KillHost force-kills a host process. Used when the launch handshake times
// out and the half-started debuggee must not be left behind.
func KillHost(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// HostAlive reports whether the PID refers to a live process.
func HostAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
