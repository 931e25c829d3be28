//go:build !unix

package nativedbg

// Non-unix hosts have no signal-based process control; drivers there manage
// suspension through their own debug APIs.

func SuspendHost(pid int) error { return ErrUnsupported }

func ResumeHost(pid int) error { return ErrUnsupported }

func KillHost(pid int) error { return ErrUnsupported }

func HostAlive(pid int) bool { return false }
